package pack

import (
	"fmt"
	"strings"
)

// NormalizePath converts a user-provided path to entry path form.
//
// It performs the following transformations:
//   - Converts backslashes to slashes: `db\units_tables\data` → "db/units_tables/data"
//   - Strips leading and trailing slashes: "/db/x/" → "db/x"
//   - Collapses consecutive slashes: "db//x" → "db/x"
//
// Case is preserved. The result may still be rejected by ValidatePath.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	p = strings.Trim(p, "/")

	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" {
			result = append(result, part)
		}
	}
	return strings.Join(result, "/")
}

// ValidatePath reports whether p is usable as an entry path: non-empty,
// slash-separated, relative, without empty, "." or ".." segments and
// without NUL or backslash characters.
func ValidatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsAny(p, "\x00\\") {
		return fmt.Errorf("%w: %q contains a NUL or backslash", ErrInvalidPath, p)
	}
	for seg := range strings.SplitSeq(p, "/") {
		switch seg {
		case "", ".", "..":
			return fmt.Errorf("%w: %q has an empty or relative segment", ErrInvalidPath, p)
		}
	}
	return nil
}
