package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mnemex/mnemex/internal/config"
)

func TestLoadAppliesDefaultsWhenFileAbsent(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, 384, cfg.EmbeddingDim)
	require.Equal(t, 1, cfg.WriteLockMaxConcurrent)
	require.Equal(t, 30*time.Second, cfg.EmbeddingWorkerInterval)
}

func TestLoadReadsTOMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemex.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path = "/var/lib/mnemex/memories.db"
embedding_dim = 768
project_id = "demo"
`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/mnemex/memories.db", cfg.DBPath)
	require.Equal(t, 768, cfg.EmbeddingDim)
	require.Equal(t, "demo", cfg.ProjectID)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemex.toml")
	require.NoError(t, os.WriteFile(path, []byte(`project_id = "from-file"`), 0o644))
	t.Setenv("MNEMEX_PROJECT_ID", "from-env")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.ProjectID)
}

func TestLoadClampsWriteLockMaxConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mnemex.toml")
	require.NoError(t, os.WriteFile(path, []byte(`write_lock_max_concurrent = 0`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, cfg.WriteLockMaxConcurrent)
}

func TestDetectProjectIDFindsGitRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	id := config.DetectProjectID(nested)
	require.Equal(t, filepath.Base(root), id)
}

func TestDetectProjectIDPrefersPackageJSONName(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "package.json"), []byte(`{"name":"My-Cool-App"}`), 0o644))

	id := config.DetectProjectID(root)
	require.Equal(t, "my-cool-app", id)
}

func TestDetectProjectIDRejectsReservedNames(t *testing.T) {
	root := t.TempDir()
	global := filepath.Join(root, "global")
	require.NoError(t, os.Mkdir(global, 0o755))
	require.NoError(t, os.Mkdir(filepath.Join(global, ".git"), 0o755))

	id := config.DetectProjectID(global)
	require.Equal(t, "", id)
}

func TestDetectProjectIDReturnsEmptyWithNoMarker(t *testing.T) {
	id := config.DetectProjectID(t.TempDir())
	require.Equal(t, "", id)
}
