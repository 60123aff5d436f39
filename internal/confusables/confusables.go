// Package confusables loads UTS #39 confusables data and computes skeleton
// strings. The skeleton maps visually confusable characters to a common
// representative so detectors can match homoglyph-obfuscated text
// (e.g. Cyrillic "ignоre" and Latin "ignore" share a skeleton).
package confusables

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

//go:embed data/confusables.txt
var embeddedData []byte

// Table is an immutable confusables mapping indexed by source rune sequence.
type Table struct {
	version   string
	mapping   map[string]string
	maxSrcLen int // longest source sequence, in runes
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
	defaultErr   error
)

// Default returns the process-wide table parsed from the embedded asset.
// The parse happens once; subsequent calls return the cached table.
func Default() (*Table, error) {
	defaultOnce.Do(func() {
		defaultTable, defaultErr = Parse(embeddedData)
	})
	return defaultTable, defaultErr
}

// LoadFile parses a confusables.txt-format file from disk, overriding the
// embedded asset.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: caller controls path
	if err != nil {
		return nil, fmt.Errorf("reading confusables data: %w", err)
	}
	return Parse(data)
}

// Parse reads UTS #39 "confusables.txt" format: #-prefixed comments with a
// "# Version: X.Y.Z" header, and body lines "src-hex-seq ; dst-hex-seq ; type".
// Malformed body lines are skipped silently per the format contract.
func Parse(data []byte) (*Table, error) {
	t := &Table{mapping: make(map[string]string)}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if v, ok := strings.CutPrefix(line, "# Version:"); ok {
				t.version = strings.TrimSpace(v)
			}
			continue
		}
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Split(line, ";")
		if len(fields) < 2 {
			continue
		}
		src, ok := parseHexSeq(fields[0])
		if !ok || src == "" {
			continue
		}
		dst, ok := parseHexSeq(fields[1])
		if !ok {
			continue
		}
		t.mapping[src] = dst
		if n := len([]rune(src)); n > t.maxSrcLen {
			t.maxSrcLen = n
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scanning confusables data: %w", err)
	}
	if len(t.mapping) == 0 {
		return nil, fmt.Errorf("confusables data contains no mappings")
	}
	return t, nil
}

// parseHexSeq decodes a whitespace-separated sequence of hex code points.
func parseHexSeq(s string) (string, bool) {
	var b strings.Builder
	for _, tok := range strings.Fields(s) {
		cp, err := strconv.ParseUint(tok, 16, 32)
		if err != nil || cp > 0x10FFFF {
			return "", false
		}
		b.WriteRune(rune(cp))
	}
	return b.String(), true
}

// Version returns the version string from the data header, if present.
func (t *Table) Version() string { return t.version }

// Len returns the number of source sequences in the table.
func (t *Table) Len() int { return len(t.mapping) }

// Skeleton computes the UTS #39 skeleton of s: NFKC normalization followed by
// a left-to-right longest-match substitution pass through the mapping. At
// each position the longest window (up to the table's maximum source length)
// matching a source sequence is replaced; otherwise one code point is copied.
func (t *Table) Skeleton(s string) string {
	s = norm.NFKC.String(s)
	runes := []rune(s)

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(runes); {
		matched := false
		maxLen := t.maxSrcLen
		if rem := len(runes) - i; rem < maxLen {
			maxLen = rem
		}
		for w := maxLen; w >= 1; w-- {
			if dst, ok := t.mapping[string(runes[i:i+w])]; ok {
				b.WriteString(dst)
				i += w
				matched = true
				break
			}
		}
		if !matched {
			b.WriteRune(runes[i])
			i++
		}
	}
	return b.String()
}
