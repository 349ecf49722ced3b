package blockdev

import (
	"bytes"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func newFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "blockdev-*.img")
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestFileDeviceResizeAndReadWrite(t *testing.T) {
	d := NewFileDevice(newFile(t), 512, true)
	require.NoError(t, d.Resize(8))

	info := d.Info()
	require.Equal(t, uint64(8), info.SizeSectors)
	require.True(t, info.ReadWrite)

	payload := bytes.Repeat([]byte{0x9}, 512)
	require.NoError(t, d.WriteAt(2, payload))

	got := make([]byte, 512)
	require.NoError(t, d.ReadAt(2, got))
	require.Equal(t, payload, got)
}

func TestFileDeviceRejectsUnalignedBuffers(t *testing.T) {
	d := NewFileDevice(newFile(t), 512, true)
	require.NoError(t, d.Resize(4))

	require.ErrorIs(t, d.ReadAt(0, make([]byte, 10)), ErrNotSectorMultiple)
	require.ErrorIs(t, d.WriteAt(0, make([]byte, 10)), ErrNotSectorMultiple)
}

func TestFileDeviceReadOnlyRejectsMutation(t *testing.T) {
	path := t.TempDir() + "/ro.img"
	rw, err := OpenFile(path, true, true)
	require.NoError(t, err)
	require.NoError(t, rw.Resize(4))
	require.NoError(t, rw.Disconnect())

	ro, err := OpenFile(path, false, false)
	require.NoError(t, err)
	defer ro.Disconnect()

	require.ErrorIs(t, ro.WriteAt(0, make([]byte, ro.Info().SectorSize)), ErrReadOnly)
	require.ErrorIs(t, ro.Resize(8), ErrReadOnly)
}

func TestOpenFileFailsWithoutCreateOnMissingPath(t *testing.T) {
	_, err := OpenFile(t.TempDir()+"/missing.img", true, false)
	require.Error(t, err)
}
