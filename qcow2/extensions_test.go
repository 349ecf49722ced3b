package qcow2

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseHeaderExtensionsBackingFormat(t *testing.T) {
	device := newTestDevice(t, 512)
	require.NoError(t, device.Resize(128))

	format := "raw"
	var area []byte
	rec := make([]byte, 8+len(format))
	binary.BigEndian.PutUint32(rec[0:4], extensionBackingFormat)
	binary.BigEndian.PutUint32(rec[4:8], uint32(len(format)))
	copy(rec[8:], format)
	area = append(area, rec...)
	if rem := len(area) % 8; rem != 0 {
		area = append(area, make([]byte, 8-rem)...)
	}
	end := make([]byte, 8) // extensionEndOfHeader, zero length
	area = append(area, end...)

	buf := make([]byte, 512)
	copy(buf, area)
	require.NoError(t, device.WriteAt(1, buf)) // headerLength=72 falls in sector 0; keep this simple by starting the area at sector boundary for the test

	h := &Header{ClusterBits: 16}
	ext, err := ParseHeaderExtensions(device, h, 512)
	require.NoError(t, err)
	require.Equal(t, format, ext.BackingFormat)
}

func TestParseHeaderExtensionsFeatureTable(t *testing.T) {
	device := newTestDevice(t, 512)
	require.NoError(t, device.Resize(128))

	feature := make([]byte, 48)
	feature[0] = 0
	feature[1] = 1
	copy(feature[2:], "dirty bit")

	rec := make([]byte, 8+len(feature))
	binary.BigEndian.PutUint32(rec[0:4], extensionFeatureTable)
	binary.BigEndian.PutUint32(rec[4:8], uint32(len(feature)))
	copy(rec[8:], feature)

	end := make([]byte, 8)
	area := append(rec, end...)

	buf := make([]byte, 512)
	copy(buf, area)
	require.NoError(t, device.WriteAt(1, buf))

	h := &Header{ClusterBits: 16}
	ext, err := ParseHeaderExtensions(device, h, 512)
	require.NoError(t, err)
	require.Equal(t, "dirty bit", ext.FeatureNames["0.1"])
}

func TestParseHeaderExtensionsEmptyWhenNoRoom(t *testing.T) {
	device := newTestDevice(t, 512)
	require.NoError(t, device.Resize(4))

	h := &Header{ClusterBits: 9} // 512-byte clusters, headerLength == clusterSize
	ext, err := ParseHeaderExtensions(device, h, 512)
	require.NoError(t, err)
	require.Empty(t, ext.BackingFormat)
	require.Empty(t, ext.Unrecognized)
}
