// Package diagnostics checks decoded tables, the archive holding them and
// the dependency cache they are validated against.
//
// The rule catalogue is fixed and ordered. Every rule runs independently: a
// rule that fails internally is replaced by one RuleExecutionFailed finding
// and the remaining rules still run. Engine.Run spreads tables over a worker
// pool, one table per unit, and returns findings ordered by input table and
// then by catalogue position.
package diagnostics

import (
	"fmt"
	"strings"
)

// Severity grades a finding.
type Severity uint8

const (
	Info Severity = iota
	Warning
	Error
)

var severityNames = [...]string{
	Info:    "info",
	Warning: "warning",
	Error:   "error",
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity(%d)", uint8(s))
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if int(s) >= len(severityNames) {
		return nil, fmt.Errorf("diagnostics: unknown severity %d", uint8(s))
	}
	return []byte(severityNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(text []byte) error {
	for i, name := range severityNames {
		if strings.EqualFold(name, string(text)) {
			*s = Severity(i)
			return nil
		}
	}
	return fmt.Errorf("diagnostics: unknown severity %q", text)
}

// Rule identifies a check. Identifiers appear in ignore lists and in the
// disabled-rule configuration.
type Rule string

const (
	OutdatedTable          Rule = "OutdatedTable"
	BannedTable            Rule = "BannedTable"
	TableNameEndsInNumber  Rule = "TableNameEndsInNumber"
	TableNameHasSpace      Rule = "TableNameHasSpace"
	TableIsDataCoring      Rule = "TableIsDataCoring"
	FieldWithPathNotFound  Rule = "FieldWithPathNotFound"
	InvalidReference       Rule = "InvalidReference"
	NoReferenceTableFound  Rule = "NoReferenceTableFound"
	NoReferenceColumnFound Rule = "NoReferenceColumnFound"
	EmptyRow               Rule = "EmptyRow"
	EmptyKeyField          Rule = "EmptyKeyField"
	EmptyKeyFields         Rule = "EmptyKeyFields"
	ValueCannotBeEmpty     Rule = "ValueCannotBeEmpty"
	DuplicatedCombinedKeys Rule = "DuplicatedCombinedKeys"
	DuplicatedRow          Rule = "DuplicatedRow"
	InvalidLocKey          Rule = "InvalidLocKey"
	InvalidEscape          Rule = "InvalidEscape"

	InvalidPackName           Rule = "InvalidPackName"
	InvalidDependencyPackName Rule = "InvalidDependencyPackName"

	DependenciesCacheNotGenerated Rule = "DependenciesCacheNotGenerated"
	DependenciesCacheOutdated     Rule = "DependenciesCacheOutdated"

	// RuleExecutionFailed replaces the findings of a rule that failed
	// internally.
	RuleExecutionFailed Rule = "RuleExecutionFailed"
)

// Rules returns every built-in rule in catalogue order.
func Rules() []Rule {
	out := make([]Rule, 0, len(tableRules)+len(locRules)+4)
	seen := make(map[Rule]bool)
	for _, set := range [][]tableRule{tableRules, locRules} {
		for _, r := range set {
			if !seen[r.id] {
				seen[r.id] = true
				out = append(out, r.id)
			}
		}
	}
	return append(out,
		InvalidPackName,
		InvalidDependencyPackName,
		DependenciesCacheNotGenerated,
		DependenciesCacheOutdated,
	)
}

// Cell locates a finding within a table. A Row or Column of -1 covers the
// whole column or row.
type Cell struct {
	Row    int `json:"row" yaml:"row"`
	Column int `json:"column" yaml:"column"`
}

// Finding is one reported problem.
type Finding struct {
	Severity Severity `json:"severity" yaml:"severity"`
	Rule     Rule     `json:"rule" yaml:"rule"`

	// Path is the entry path of the checked table, the archive name for
	// archive rules, and empty for dependency cache rules.
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Cells   []Cell `json:"cells,omitempty" yaml:"cells,omitempty,flow"`
	Message string `json:"message" yaml:"message"`
}

func (f Finding) String() string {
	var b strings.Builder
	b.WriteString(f.Severity.String())
	b.WriteString(" ")
	b.WriteString(string(f.Rule))
	if f.Path != "" {
		b.WriteString(" ")
		b.WriteString(f.Path)
	}
	for _, c := range f.Cells {
		fmt.Fprintf(&b, " (%d,%d)", c.Row, c.Column)
	}
	b.WriteString(": ")
	b.WriteString(f.Message)
	return b.String()
}
