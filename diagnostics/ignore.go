package diagnostics

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidIgnoreList is returned for ignore list lines that do not parse.
var ErrInvalidIgnoreList = errors.New("diagnostics: invalid ignore list")

// IgnoreList suppresses findings. Each line has the form
//
//	path;field1,field2;rule1,rule2
//
// where path matches every entry path it prefixes. A line with neither
// fields nor rules ignores the matching tables entirely; fields alone
// silence every field-scoped rule for those columns; rules alone silence
// those rules for the whole table; both silence the rules for the fields
// only. Blank lines and lines starting with '#' are skipped.
//
// Rules disabled with Disable are skipped everywhere.
type IgnoreList struct {
	entries  []ignoreEntry
	disabled map[Rule]bool
}

type ignoreEntry struct {
	prefix string
	fields []string
	rules  []Rule
}

// ParseIgnoreList parses the textual ignore list format.
func ParseIgnoreList(data []byte) (*IgnoreList, error) {
	l := &IgnoreList{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ";")
		if len(parts) > 3 {
			return nil, fmt.Errorf("%w: line %d: too many sections", ErrInvalidIgnoreList, n)
		}
		e := ignoreEntry{prefix: strings.TrimSpace(parts[0])}
		if e.prefix == "" {
			return nil, fmt.Errorf("%w: line %d: empty path", ErrInvalidIgnoreList, n)
		}
		if len(parts) > 1 {
			e.fields = splitList(parts[1])
		}
		if len(parts) > 2 {
			for _, r := range splitList(parts[2]) {
				e.rules = append(e.rules, Rule(r))
			}
		}
		l.entries = append(l.entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIgnoreList, err)
	}
	return l, nil
}

func splitList(s string) []string {
	var out []string
	for item := range strings.SplitSeq(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Disable skips rules for every path. It returns l for chaining; a nil l
// allocates a new list.
func (l *IgnoreList) Disable(rules ...Rule) *IgnoreList {
	if l == nil {
		l = &IgnoreList{}
	}
	if l.disabled == nil {
		l.disabled = make(map[Rule]bool, len(rules))
	}
	for _, r := range rules {
		l.disabled[r] = true
	}
	return l
}

// Disabled reports whether rule is disabled everywhere.
func (l *IgnoreList) Disabled(rule Rule) bool {
	return l != nil && l.disabled[rule]
}

// Ignored reports whether findings of rule for field of the table at path
// are suppressed. An empty field asks about table-wide findings.
func (l *IgnoreList) Ignored(path string, rule Rule, field string) bool {
	s := l.scope(path)
	return s.skip || s.ignored(rule, field)
}

// scope collects the entries that apply to one path.
type scope struct {
	skip       bool
	disabled   map[Rule]bool
	fields     map[string]bool
	rules      map[Rule]bool
	fieldRules map[string]map[Rule]bool
}

func (l *IgnoreList) scope(path string) *scope {
	s := &scope{}
	if l == nil {
		return s
	}
	s.disabled = l.disabled
	for _, e := range l.entries {
		if !strings.HasPrefix(path, e.prefix) {
			continue
		}
		switch {
		case len(e.fields) == 0 && len(e.rules) == 0:
			s.skip = true
		case len(e.fields) > 0 && len(e.rules) > 0:
			if s.fieldRules == nil {
				s.fieldRules = make(map[string]map[Rule]bool)
			}
			for _, f := range e.fields {
				if s.fieldRules[f] == nil {
					s.fieldRules[f] = make(map[Rule]bool)
				}
				for _, r := range e.rules {
					s.fieldRules[f][r] = true
				}
			}
		case len(e.fields) > 0:
			if s.fields == nil {
				s.fields = make(map[string]bool)
			}
			for _, f := range e.fields {
				s.fields[f] = true
			}
		default:
			if s.rules == nil {
				s.rules = make(map[Rule]bool)
			}
			for _, r := range e.rules {
				s.rules[r] = true
			}
		}
	}
	return s
}

func (s *scope) ignored(rule Rule, field string) bool {
	if s.disabled[rule] || s.rules[rule] {
		return true
	}
	if field == "" {
		return false
	}
	return s.fields[field] || s.fieldRules[field][rule]
}
