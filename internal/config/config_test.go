package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	p := filepath.Join(dir, ConfigFileName+"."+ConfigFileExt)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: t.TempDir()})
	require.NoError(t, err)
	assert.Empty(t, path)

	want := DefaultConfig()
	assert.Equal(t, want.Game, cfg.Game)
	assert.Equal(t, want.Cache, cfg.Cache)
	assert.True(t, cfg.LazyLoad)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "data__", cfg.Diagnostics.VanillaTableName)
	assert.Empty(t, cfg.VanillaPacks)
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeConfig(t, dir, `
game = "three_kingdoms"
game_path = "/games/tk"
vanilla_packs = ["data.pack", "/abs/patch.pack"]
workers = 4
lazy_load = false
log_level = "debug"

[cache]
max_bytes = 1048576

[diagnostics]
disabled_rules = ["TableIsDataCoring", "DuplicatedRow"]
banned_tables = ["start_pos"]
`)
	cfg, path, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "pack.toml"), path)

	assert.Equal(t, "three_kingdoms", cfg.Game)
	assert.Equal(t, 4, cfg.Workers)
	assert.False(t, cfg.LazyLoad)
	assert.Equal(t, int64(1048576), cfg.Cache.MaxBytes)
	assert.Equal(t, DefaultConfig().Cache.Dir, cfg.Cache.Dir, "unset keys keep their defaults")
	assert.Equal(t, []string{"TableIsDataCoring", "DuplicatedRow"}, cfg.Diagnostics.DisabledRules)
	assert.Equal(t, []string{"start_pos"}, cfg.Diagnostics.BannedTables)
	assert.Equal(t, []string{filepath.Join("/games/tk", "data", "data.pack"), "/abs/patch.pack"}, cfg.VanillaPaths())
}

func TestLoadExplicitFile(t *testing.T) {
	t.Parallel()

	p := writeConfig(t, t.TempDir(), `game = "attila"`)
	cfg, path, err := Load(context.Background(), LoadOptions{ConfigFilePath: p})
	require.NoError(t, err)
	assert.Equal(t, p, path)
	assert.Equal(t, "attila", cfg.Game)

	_, _, err = Load(context.Background(), LoadOptions{ConfigFilePath: p + ".missing"})
	require.Error(t, err)
}

func TestLoadRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"bad toml", "game = "},
		{"bad log level", `log_level = "loud"`},
		{"empty game", `game = ""`},
		{"negative cache size", "[cache]\nmax_bytes = -1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := writeConfig(t, t.TempDir(), tc.body)
			_, _, err := Load(context.Background(), LoadOptions{ConfigFilePath: p})
			require.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	cfg.LogLevel = "WARN"
	require.NoError(t, cfg.Validate())
	cfg.LogLevel = "trace"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()})
	require.ErrorIs(t, err, context.Canceled)
}

// Environment overrides cannot run in parallel with other tests.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PACK_GAME", "pharaoh")
	t.Setenv("PACK_CACHE_MAX_BYTES", "4096")
	t.Setenv("PACK_DIAGNOSTICS_IGNORE_FILE", "/tmp/ignore.txt")

	dir := t.TempDir()
	writeConfig(t, dir, `game = "three_kingdoms"`)
	cfg, _, err := Load(context.Background(), LoadOptions{ConfigDirPath: dir})
	require.NoError(t, err)
	assert.Equal(t, "pharaoh", cfg.Game)
	assert.Equal(t, int64(4096), cfg.Cache.MaxBytes)
	assert.Equal(t, "/tmp/ignore.txt", cfg.Diagnostics.IgnoreFile)
}
