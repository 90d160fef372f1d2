package main

import (
	"context"
	"errors"
	"slices"

	"github.com/spf13/cobra"

	"github.com/meigma/pack"
)

var depsNoStore bool

var depsCmd = &cobra.Command{
	Use:   "deps [archive]",
	Short: "Build the dependency cache",
	Long: `Build the dependency cache from the configured vanilla archives and bulk
data. When an archive is given it becomes the current tier and the archives
it depends on the parent tier.

Every run after the first reuses the persisted vanilla and bulk tiers unless
--no-store is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeps,
}

func init() {
	depsCmd.Flags().BoolVar(&depsNoStore, "no-store", false, "neither read nor write persisted tiers")
}

func runDeps(cmd *cobra.Command, args []string) (err error) {
	schemas, err := loadSchemas()
	if err != nil {
		return err
	}
	bulk, err := loadBulk()
	if err != nil {
		return err
	}

	var current *pack.Archive
	var currentPath string
	if len(args) == 1 {
		currentPath = args[0]
		if current, err = pack.OpenFile(currentPath, openOptions()...); err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, current.Close())
		}()
	}

	set := archiveSet(current, currentPath, bulk)
	in := set.Input(state.cfg.Game)
	size := fileSizes(slices.Concat(set.Vanilla, set.Parents)...)

	m, err := newManager(!depsNoStore)
	if err != nil {
		return err
	}
	state.logger.Debug("dependency cache", "stale", m.Stale(in))

	err = measure(cmd.Context(), "deps", func(ctx context.Context) (int64, error) {
		if _, err := m.Rebuild(ctx, schemas, in); err != nil {
			return 0, err
		}
		return size, nil
	})
	if err != nil {
		return err
	}
	logCache(m.Current())
	return nil
}
