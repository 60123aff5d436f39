// Package normalize builds the NormalizedInput threaded through the scanner
// chain: canonical string forms, feature flags, and the four parallel text
// views (raw, sanitized, revealed, skeleton) of every audited surface.
//
// The Unicode pipelines here are the single source of truth for stripping
// evasion carriers. All views and all scanning paths derive from them.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// InvisibleRanges defines the Unicode ranges removed when building the
// sanitized view. Covers zero-width characters, bidi controls, the Tags
// block (hidden-ASCII steganography vector), and variation selectors.
var InvisibleRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x00AD, Hi: 0x00AD, Stride: 1}, // soft hyphen
		{Lo: 0x200B, Hi: 0x200F, Stride: 1}, // zero-width space through RTL mark
		{Lo: 0x202A, Hi: 0x202E, Stride: 1}, // bidi embedding controls (LRE/RLE/PDF/LRO/RLO)
		{Lo: 0x2060, Hi: 0x2064, Stride: 1}, // word joiner through invisible plus
		{Lo: 0x2066, Hi: 0x2069, Stride: 1}, // bidi isolate controls (LRI/RLI/FSI/PDI)
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors 1-16
		{Lo: 0xFEFF, Hi: 0xFEFF, Stride: 1}, // BOM / ZWNBSP
		{Lo: 0xFFF9, Hi: 0xFFFB, Stride: 1}, // interlinear annotation anchors
	},
	R32: []unicode.Range32{
		{Lo: 0xE0000, Hi: 0xE007F, Stride: 1}, // Tags block
		{Lo: 0xE0100, Hi: 0xE01EF, Stride: 1}, // variation selectors supplement
	},
}

// BidiRanges is the subset of InvisibleRanges carrying bidirectional
// override semantics, counted separately by the Unicode sanitizer.
var BidiRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200E, Hi: 0x200F, Stride: 1},
		{Lo: 0x202A, Hi: 0x202E, Stride: 1},
		{Lo: 0x2066, Hi: 0x2069, Stride: 1},
	},
}

// Tag-range bounds for hidden-ASCII recovery. U+E0020..U+E007E shadow the
// printable ASCII range U+0020..U+007E.
const (
	tagLow     = 0xE0020
	tagHigh    = 0xE007E
	tagToASCII = 0xE0000
)

// IsTag reports whether r falls in the printable Unicode-TAG range.
func IsTag(r rune) bool { return r >= tagLow && r <= tagHigh }

// StripInvisible removes invisible and bidi-control characters, plus C0/C1
// controls and DEL. Only tab, newline, and carriage return survive so \s+ in
// detection regexes keeps matching; \v, \f, and NEL are removed.
func StripInvisible(s string) string {
	return strings.Map(func(r rune) rune {
		if r <= 0x1F && r != '\t' && r != '\n' && r != '\r' {
			return -1
		}
		if r == 0x7F {
			return -1
		}
		if r >= 0x80 && r <= 0x9F {
			return -1
		}
		if unicode.Is(InvisibleRanges, r) {
			return -1
		}
		return r
	}, s)
}

// CountInvisible returns how many invisible characters StripInvisible would
// remove and how many of them are bidi controls.
func CountInvisible(s string) (invisible, bidi int) {
	for _, r := range s {
		switch {
		case unicode.Is(BidiRanges, r):
			invisible++
			bidi++
		case unicode.Is(InvisibleRanges, r),
			r <= 0x1F && r != '\t' && r != '\n' && r != '\r',
			r == 0x7F,
			r >= 0x80 && r <= 0x9F:
			invisible++
		}
	}
	return invisible, bidi
}

// Sanitize builds the sanitized view: invisible/bidi carriers removed, then
// NFKC compatibility normalization.
func Sanitize(s string) string {
	return norm.NFKC.String(StripInvisible(s))
}

// DecodeTags converts printable Unicode-TAG code points to their ASCII
// shadows inline at their original positions, so downstream regexes see the
// hidden payload in natural context. Other characters pass through.
func DecodeTags(s string) string {
	return strings.Map(func(r rune) rune {
		if IsTag(r) {
			return r - tagToASCII
		}
		return r
	}, s)
}

// HasTags reports whether s contains any printable Unicode-TAG code point.
func HasTags(s string) bool {
	return strings.ContainsFunc(s, IsTag)
}

// Reveal builds the revealed view: hidden-TAG payloads decoded inline,
// then the standard sanitize pass.
func Reveal(s string) string {
	if HasTags(s) {
		s = DecodeTags(s)
	}
	return Sanitize(s)
}

// separator classes recognized by CollapseSeparators.
func isSeparatorRune(r rune) bool {
	switch r {
	case '|', '.', '_', '-', '+':
		return true
	}
	return false
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// CollapseSeparators removes inter-letter separator obfuscation such as
// "h.t.t.p" or "i|g|n|o|r|e". A run collapses only when it is a chain of
// single-character tokens joined by one uniform separator with at least
// three separator occurrences, which keeps ordinary punctuation, domains,
// and version strings intact.
func CollapseSeparators(s string) string {
	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(runes); {
		if !isWordRune(runes[i]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		// Candidate chain start: single word rune followed by separator+word
		// pairs. A preceding word rune means the first token is not single.
		if i > 0 && isWordRune(runes[i-1]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		if i+1 >= len(runes) || !isSeparatorRune(runes[i+1]) {
			b.WriteRune(runes[i])
			i++
			continue
		}
		sep := runes[i+1]
		j := i
		seps := 0
		for j+2 < len(runes) && runes[j+1] == sep && isWordRune(runes[j+2]) {
			// Tokens must stay single characters: the rune after the pair must
			// not extend the word (e.g. "a.bc" is not a chain).
			if j+3 < len(runes) && isWordRune(runes[j+3]) {
				break
			}
			j += 2
			seps++
		}
		if seps >= 3 {
			for k := i; k <= j; k += 2 {
				b.WriteRune(runes[k])
			}
			i = j + 1
			continue
		}
		b.WriteRune(runes[i])
		i++
	}
	return b.String()
}

// CollapseSchemeSeparators collapses separator obfuscation only in a URL
// scheme prefix (e.g. "h.t.t.p://…" → "http://…"), leaving the rest of the
// string untouched. Used by the tool-boundary SSRF detector, where full
// collapse would corrupt hostnames.
func CollapseSchemeSeparators(s string) string {
	idx := strings.Index(s, "://")
	if idx <= 0 {
		return s
	}
	prefix := CollapseSeparators(s[:idx])
	return prefix + s[idx:]
}
