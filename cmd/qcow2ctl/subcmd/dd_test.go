package subcmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreimg/qcow2engine/qcow2"
)

func TestDDRoundTripsRawThroughQcow2(t *testing.T) {
	dir := t.TempDir()
	rawIn := filepath.Join(dir, "in.raw")
	qcowFile := filepath.Join(dir, "disk.qcow2")
	rawOut := filepath.Join(dir, "out.raw")

	payload := bytes.Repeat([]byte{0x37}, 3*qcow2.VirtualSectorSize)
	require.NoError(t, os.WriteFile(rawIn, payload, 0644))

	require.NoError(t, ddRawToQcow2(rawIn, qcowFile))
	require.NoError(t, ddQcow2ToRaw(qcowFile, rawOut))

	got, err := os.ReadFile(rawOut)
	require.NoError(t, err)
	require.True(t, bytes.Equal(got[:len(payload)], payload))
}
