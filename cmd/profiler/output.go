package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/meigma/pack/diagnostics"
)

// formats are the accepted values of --format.
var formats = []string{"text", "json", "yaml"}

func writeFindings(w io.Writer, format string, findings []diagnostics.Finding) error {
	if findings == nil {
		findings = []diagnostics.Finding{}
	}
	switch strings.ToLower(format) {
	case "text":
		for _, f := range findings {
			if _, err := fmt.Fprintln(w, f.String()); err != nil {
				return err
			}
		}
		return nil
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(findings)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(findings); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q, want one of %s", format, strings.Join(formats, ", "))
	}
}

// filterSeverity keeps findings at or above least.
func filterSeverity(findings []diagnostics.Finding, least diagnostics.Severity) []diagnostics.Finding {
	return slices.DeleteFunc(findings, func(f diagnostics.Finding) bool {
		return f.Severity < least
	})
}

func countSeverity(findings []diagnostics.Finding, s diagnostics.Severity) int {
	n := 0
	for _, f := range findings {
		if f.Severity == s {
			n++
		}
	}
	return n
}
