package qcow2

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coreimg/qcow2engine/blockdev"
)

func TestReadOfFreshImageIsZero(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	buf := make([]byte, 4096)
	for i := range buf {
		buf[i] = 0xAA
	}
	require.NoError(t, engine.Read(0, buf))

	require.True(t, bytes.Equal(buf, make([]byte, 4096)), "unwritten region should read back as zero")
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	want := bytes.Repeat([]byte{0x5a}, 512)
	require.NoError(t, engine.Write(10, want))

	got := make([]byte, 512)
	require.NoError(t, engine.Read(10, got))
	require.Equal(t, want, got)
}

func TestWriteDoesNotDisturbNeighboringSectors(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	payload := bytes.Repeat([]byte{0x11}, 512)
	require.NoError(t, engine.Write(5, payload))

	before := make([]byte, 512)
	require.NoError(t, engine.Read(4, before))
	require.True(t, bytes.Equal(before, make([]byte, 512)))

	after := make([]byte, 512)
	require.NoError(t, engine.Read(6, after))
	require.True(t, bytes.Equal(after, make([]byte, 512)))
}

func TestWriteAcrossClusterBoundary(t *testing.T) {
	// 4096-byte clusters (clusterBits=12) with 512-byte sectors gives 8
	// sectors per cluster; writing across sector 8 crosses into cluster 1.
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	want := bytes.Repeat([]byte{0x7c}, 1024) // spans sectors 7-8, i.e. two clusters
	require.NoError(t, engine.Write(7, want))

	got := make([]byte, 1024)
	require.NoError(t, engine.Read(7, got))
	require.Equal(t, want, got)
}

func TestWriteIsSparseUntilTouched(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 16 << 20, ClusterBits: 12})
	require.NoError(t, err)

	// A far virtual sector hasn't been allocated yet: walk must report it
	// unmapped rather than allocating lazily on read.
	addr := newAddress(engine.virtualByteOffset(20000), engine.header.ClusterBits)
	_, ok, err := engine.walk(addr, false)
	require.NoError(t, err)
	require.False(t, ok, "unwritten region must be unmapped, not materialized")

	buf := make([]byte, 512)
	require.NoError(t, engine.Read(20000, buf))
	require.True(t, bytes.Equal(buf, make([]byte, 512)))
}

func TestWriteSetsCopiedBitOnFreshAllocations(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	require.NoError(t, engine.Write(0, bytes.Repeat([]byte{1}, 512)))

	addr := newAddress(0, engine.header.ClusterBits)
	l1Raw, err := engine.readField(engine.header.L1TableOffset + 8*addr.L1Index)
	require.NoError(t, err)
	require.NotZero(t, l1Raw&entryCopiedBit, "fresh L2 table pointer must carry the copied bit")

	l2TableOffset := l1Raw & entryOffsetMask
	l2Raw, err := engine.readField(l2TableOffset + 8*addr.L2Index)
	require.NoError(t, err)
	require.NotZero(t, l2Raw&entryCopiedBit, "fresh data cluster pointer must carry the copied bit")
}

func TestNextClusterIsMonotone(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	after1 := engine.nextCluster
	require.NoError(t, engine.Write(0, bytes.Repeat([]byte{1}, 512)))
	after2 := engine.nextCluster
	require.GreaterOrEqual(t, after2, after1)

	require.NoError(t, engine.Write(0, bytes.Repeat([]byte{2}, 512)))
	after3 := engine.nextCluster
	require.Equal(t, after2, after3, "overwriting an already-mapped cluster allocates nothing new")
}

func TestReadWriteRejectUnalignedLength(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	require.Error(t, engine.Read(0, make([]byte, 10)))
	require.Error(t, engine.Write(0, make([]byte, 10)))
}

func TestReadWriteRejectOutOfRange(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	sectors := uint64(1 << 20 / VirtualSectorSize)
	require.Error(t, engine.Read(sectors, make([]byte, 512)))
	require.Error(t, engine.Write(sectors, make([]byte, 512)))
}

func TestWriteOnReadOnlyEngineFails(t *testing.T) {
	path := t.TempDir() + "/ro.img"
	rw, err := blockdev.OpenFile(path, true, true)
	require.NoError(t, err)
	_, err = Create(rw, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)
	require.NoError(t, rw.Disconnect())

	ro, err := blockdev.OpenFile(path, false, false)
	require.NoError(t, err)
	defer ro.Disconnect()

	engine, err := Connect(ro)
	require.NoError(t, err)
	require.ErrorIs(t, engine.Write(0, make([]byte, 512)), ErrReadOnly)
}
