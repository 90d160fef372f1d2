package compress

import (
	"path"
	"strings"
)

// SkipFunc returns true when an entry should be stored uncompressed.
// It is called once per entry and should be inexpensive.
type SkipFunc func(entryPath string, size int) bool

// DefaultSkip returns a SkipFunc that skips empty payloads, payloads smaller
// than minSize and known already-compressed extensions.
func DefaultSkip(minSize int) SkipFunc {
	return func(entryPath string, size int) bool {
		if size == 0 || (minSize > 0 && size < minSize) {
			return true
		}
		_, ok := defaultSkipExts[strings.ToLower(path.Ext(entryPath))]
		return ok
	}
}

// SkipTables returns a SkipFunc that keeps DB tables uncompressed. Engines of
// earlier revisions cannot read compressed tables.
func SkipTables() SkipFunc {
	return func(entryPath string, _ int) bool {
		return strings.HasPrefix(strings.ToLower(entryPath), "db/")
	}
}

// ShouldSkip checks if any predicate returns true for the given entry.
func ShouldSkip(entryPath string, size int, predicates []SkipFunc) bool {
	for _, fn := range predicates {
		if fn == nil {
			continue
		}
		if fn(entryPath, size) {
			return true
		}
	}
	return false
}

var defaultSkipExts = map[string]struct{}{
	".7z":     {},
	".bik":    {},
	".bk2":    {},
	".ca_vp8": {},
	".gz":     {},
	".jpg":    {},
	".jpeg":   {},
	".mp4":    {},
	".ogg":    {},
	".png":    {},
	".wem":    {},
	".webm":   {},
	".zip":    {},
	".zst":    {},
}
