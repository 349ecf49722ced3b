package subcmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPrintInfoOnFreshImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.qcow2")
	require.NoError(t, createImage(path, 2<<20, 0))
	require.NoError(t, printInfo(path))
}

func TestPrintInfoRejectsMissingFile(t *testing.T) {
	require.Error(t, printInfo(filepath.Join(t.TempDir(), "missing.qcow2")))
}
