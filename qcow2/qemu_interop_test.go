package qcow2

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreimg/qcow2engine/blockdev"
	"github.com/coreimg/qcow2engine/testutil"
)

// TestQemuImgAcceptsCreatedImage checks that a real qemu-img binary considers
// an image this engine created to be well-formed, catching header/layout
// mistakes a purely self-consistent Check() pass can't.
func TestQemuImgAcceptsCreatedImage(t *testing.T) {
	testutil.RequireQemu(t)

	path := filepath.Join(t.TempDir(), "interop.qcow2")
	device, err := blockdev.OpenFile(path, true, true)
	require.NoError(t, err)

	engine, err := Create(device, CreateOptions{Size: 4 << 20, ClusterBits: 16})
	require.NoError(t, err)
	require.NoError(t, engine.Write(0, make([]byte, 512)))
	require.NoError(t, engine.Disconnect())

	info := testutil.QemuInfo(t, path)
	require.True(t, info.IsSuccess(), info.Stderr)
	require.Equal(t, int64(4<<20), info.VirtualSize)
	require.Equal(t, "qcow2", info.Format)

	check := testutil.QemuCheck(t, path)
	require.True(t, check.IsSuccess(), check.Stderr)
	require.True(t, check.IsClean, "qemu-img check: %d leaks, %d corruptions", check.Leaks, check.Corruptions)
}

// TestEngineReadsQemuCreatedImage checks the reverse direction: an image
// qemu-img itself wrote and populated reads back correctly through Connect.
func TestEngineReadsQemuCreatedImage(t *testing.T) {
	testutil.RequireQemu(t)
	testutil.RequireQemuIO(t)

	path := filepath.Join(t.TempDir(), "fromqemu.qcow2")
	testutil.QemuCreate(t, path, "4M", "-o", "compat=0.10") // v2, the only version Connect accepts
	testutil.QemuWrite(t, path, 0x5a, 0, 512)

	device, err := blockdev.OpenFile(path, false, false)
	require.NoError(t, err)
	defer device.Disconnect()

	engine, err := Connect(device)
	require.NoError(t, err)

	got := make([]byte, 512)
	require.NoError(t, engine.Read(0, got))
	for _, b := range got {
		require.Equal(t, byte(0x5a), b)
	}
}
