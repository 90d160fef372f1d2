package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/meigma/pack"
	"github.com/meigma/pack/schema"
)

var openDecode bool

var openCmd = &cobra.Command{
	Use:   "open <archive>...",
	Short: "Open archives and read or decode every entry",
	Long: `Open each archive and read every entry. With a configured schema the
DB and Loc tables are decoded too; --decode=false only reads payloads.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runOpen,
}

func init() {
	openCmd.Flags().BoolVar(&openDecode, "decode", true, "decode tables with the configured schema")
}

func runOpen(cmd *cobra.Command, args []string) error {
	var schemas *schema.Store
	if openDecode {
		var err error
		if schemas, err = loadSchemas(); err != nil {
			return err
		}
	}
	return measure(cmd.Context(), "open", func(ctx context.Context) (int64, error) {
		var total int64
		for _, p := range args {
			n, err := openOne(ctx, p, schemas)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	})
}

func openOne(ctx context.Context, path string, schemas *schema.Store) (n int64, err error) {
	a, err := pack.OpenFile(path, openOptions()...)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, a.Close())
	}()

	for _, p := range a.Problems() {
		state.logger.Warn("entry problem", "archive", path, "err", &p)
	}

	if schemas == nil {
		for _, p := range pack.ListEntries(a) {
			data, err := pack.GetEntry(a, p)
			if err != nil {
				state.logger.Warn("entry not read", "archive", path, "entry", p, "err", err)
				continue
			}
			n += int64(len(data))
		}
		state.logger.Debug("read archive", "archive", path, "entries", a.Len(), "bytes", n)
		return n, nil
	}

	res, err := decodeTables(ctx, a, schemas)
	if err != nil {
		return 0, err
	}
	for _, u := range res.undecoded {
		state.logger.Debug("table not decoded", "archive", path, "entry", u.Path, "err", u.Err)
	}
	state.logger.Debug("decoded archive",
		"archive", path,
		"entries", a.Len(),
		"tables", len(res.targets),
		"undecoded", len(res.undecoded))
	return res.bytes, nil
}
