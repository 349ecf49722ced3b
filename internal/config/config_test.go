package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, uint32(16), cfg.ClusterBits)
	require.Equal(t, "sha256", cfg.RecoveryHash)
	require.False(t, cfg.VerboseChecks)
}

func TestLoadEnvOverride(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	t.Setenv("QCOW2CTL_CLUSTER_BITS", "20")
	t.Setenv("QCOW2CTL_VERBOSE_CHECKS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, uint32(20), cfg.ClusterBits)
	require.True(t, cfg.VerboseChecks)
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(cwd) })

	require.NoError(t, os.WriteFile("qcow2ctl.yaml", []byte("cluster_bits: 18\nrecovery_hash: sha512\n"), 0644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, uint32(18), cfg.ClusterBits)
	require.Equal(t, "sha512", cfg.RecoveryHash)
}
