package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadNodeConfig_Valid(t *testing.T) {
	path := writeFile(t, `{
		"group": 2,
		"name": "ExA",
		"address": "127.0.0.1",
		"port": 9001,
		"directoryAddress": "127.0.0.1",
		"directoryPort": 9000,
		"cataloguePath": "funds.json",
		"preCommitDir": "/tmp/exA",
		"initialStock": {"AAPL": 100}
	}`)

	cfg, err := LoadNodeConfig(path)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Group)
	require.Equal(t, "ExA", cfg.Name)
	require.Equal(t, 9001, cfg.Port)
	require.Equal(t, 100, cfg.InitialStock["AAPL"])
}

func TestLoadNodeConfig_MissingFile(t *testing.T) {
	_, err := LoadNodeConfig(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadDirectoryConfig_Valid(t *testing.T) {
	path := writeFile(t, `{
		"address": "127.0.0.1",
		"port": 9000,
		"initialYear": 2016,
		"initialMonth": 1,
		"initialDay": 4,
		"initialHour": 8
	}`)

	cfg, err := LoadDirectoryConfig(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Port)
	require.Equal(t, 2016, cfg.InitialYear)
}
