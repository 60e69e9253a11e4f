package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/enclave/pkg/config"
)

func writeDeployFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "enclave.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileUsesFileValues(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("ATTESTATION_ROOT_PATH", "")
	t.Setenv("SCRATCH_DIR", "")
	t.Setenv("POOL_BLOB_ROOT", "")
	t.Setenv("DEBUG_VIEW_ENABLED", "")

	path := writeDeployFile(t, `
listen_addr: ":9999"
log_level: "DEBUG"
scratch_dir: "/tmp/from-file"
debug_view_enabled: true
`)

	cfg, err := config.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "/tmp/from-file", cfg.ScratchDir)
	assert.True(t, cfg.DebugViewEnabled)
	// Fields the file left unset still fall back to the reference defaults.
	assert.Equal(t, "/dev/attestation/keys/_sgx_mrenclave", cfg.AttestationRootPath)
}

func TestLoadWithFileEnvOverridesFile(t *testing.T) {
	t.Setenv("LISTEN_ADDR", ":7777")

	path := writeDeployFile(t, `listen_addr: ":9999"`)

	cfg, err := config.LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.ListenAddr)
}

func TestLoadWithFileMissingPath(t *testing.T) {
	_, err := config.LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
