package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meigma/pack"
	"github.com/meigma/pack/diagnostics"
)

var (
	diagFormat      string
	diagMinSeverity string
	diagFailOnError bool
	diagNoStore     bool
)

var diagnosticsCmd = &cobra.Command{
	Use:   "diagnostics <archive>",
	Short: "Run diagnostics over the tables of an archive",
	Long: `Decode the tables of an archive, build the dependency cache for it and
run every diagnostic rule not disabled by the configuration or ignore file.
The findings of the last run are written to stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runDiagnostics,
}

func init() {
	f := diagnosticsCmd.Flags()
	f.StringVar(&diagFormat, "format", "text", "output format: text, json or yaml")
	f.StringVar(&diagMinSeverity, "min-severity", "info", "lowest severity written: info, warning or error")
	f.BoolVar(&diagFailOnError, "fail-on-error", false, "exit non-zero when an error finding is reported")
	f.BoolVar(&diagNoStore, "no-store", false, "neither read nor write persisted cache tiers")
}

func runDiagnostics(cmd *cobra.Command, args []string) (err error) {
	var minSeverity diagnostics.Severity
	if err := minSeverity.UnmarshalText([]byte(diagMinSeverity)); err != nil {
		return err
	}
	ctx := cmd.Context()

	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	bulk, err := loadBulk()
	if err != nil {
		return err
	}
	ignore, err := loadIgnoreList()
	if err != nil {
		return err
	}

	path := args[0]
	a, err := pack.OpenFile(path, openOptions()...)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	res, err := decodeTables(ctx, a, schemas)
	if err != nil {
		return err
	}
	for _, u := range res.undecoded {
		state.logger.Warn("table not decoded", "entry", u.Path, "err", u.Err)
	}

	in := archiveSet(a, path, bulk).Input(state.cfg.Game)
	m, err := newManager(!diagNoStore)
	if err != nil {
		return err
	}
	cache, err := m.Rebuild(ctx, schemas, in)
	if err != nil {
		return err
	}
	fp := in.Fingerprint()

	dc := state.cfg.Diagnostics
	engine := diagnostics.New(
		diagnostics.WithCache(cache),
		diagnostics.WithSchemas(schemas),
		diagnostics.WithIgnoreList(ignore),
		diagnostics.WithBannedTables(dc.BannedTables...),
		diagnostics.WithVanillaTableName(dc.VanillaTableName),
		diagnostics.WithWorkers(state.cfg.Workers),
		diagnostics.WithLogger(state.logger),
	)
	input := diagnostics.Input{
		Tables:      res.targets,
		Name:        filepath.Base(path),
		Archive:     a,
		Fingerprint: fp,
	}

	var findings []diagnostics.Finding
	err = measure(ctx, "diagnostics", func(ctx context.Context) (int64, error) {
		var err error
		findings, err = engine.Run(ctx, input)
		return res.bytes, err
	})
	if err != nil {
		return err
	}

	errs := countSeverity(findings, diagnostics.Error)
	state.logger.Info("diagnostics",
		"archive", path,
		"tables", len(res.targets),
		"findings", len(findings),
		"errors", errs)
	if err := writeFindings(os.Stdout, diagFormat, filterSeverity(findings, minSeverity)); err != nil {
		return err
	}
	if diagFailOnError && errs > 0 {
		return fmt.Errorf("%d error findings", errs)
	}
	return nil
}

// loadIgnoreList reads the configured ignore file and disables the
// configured rules globally.
func loadIgnoreList() (*diagnostics.IgnoreList, error) {
	dc := state.cfg.Diagnostics
	var ignore *diagnostics.IgnoreList
	if dc.IgnoreFile != "" {
		data, err := os.ReadFile(dc.IgnoreFile)
		if err != nil {
			return nil, fmt.Errorf("read ignore file: %w", err)
		}
		if ignore, err = diagnostics.ParseIgnoreList(data); err != nil {
			return nil, err
		}
	}
	rules := make([]diagnostics.Rule, len(dc.DisabledRules))
	for i, r := range dc.DisabledRules {
		rules[i] = diagnostics.Rule(r)
	}
	return ignore.Disable(rules...), nil
}
