package evidence

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Store persists evidence packages on disk, one file per audited turn,
// named <requestId>.<generatedAtMs>.json.
type Store struct {
	dir string
}

// NewStore creates the evidence directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating evidence directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save atomically writes the package in canonical JSON form: temp file,
// restrictive permissions, then rename. Returns the final path.
func (s *Store) Save(pkg *Package) (string, error) {
	name := safeName(pkg.RequestID) + "." + strconv.FormatInt(pkg.GeneratedAtMs, 10) + ".json"
	path := filepath.Join(s.dir, name)

	data := append(pkg.Canonical(), '\n')

	tmp, err := os.CreateTemp(s.dir, ".evidence-*.tmp")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck,gosec // cleanup
		os.Remove(tmpName) //nolint:errcheck,gosec // cleanup
		return "", fmt.Errorf("writing evidence: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()        //nolint:errcheck,gosec // cleanup
		os.Remove(tmpName) //nolint:errcheck,gosec // cleanup
		return "", fmt.Errorf("setting evidence permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // cleanup
		return "", fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck,gosec // cleanup
		return "", fmt.Errorf("writing evidence: %w", err)
	}
	return path, nil
}

// safeName keeps request ids from escaping the evidence directory.
func safeName(requestID string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, requestID)
}
