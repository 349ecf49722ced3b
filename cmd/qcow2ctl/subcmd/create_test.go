package subcmd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreimg/qcow2engine/qcow2"
)

func TestCreateImageProducesOpenableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.qcow2")
	require.NoError(t, createImage(path, 4<<20, 0))

	device, err := openDevice(path, false)
	require.NoError(t, err)
	defer device.Disconnect()

	engine, err := qcow2.Connect(device)
	require.NoError(t, err)
	require.Equal(t, uint64(4<<20), engine.Header().Size)
}
