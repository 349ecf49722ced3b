package qcow2

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRefcountIndicesPacking(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	refsPerCluster := engine.refsPerCluster()
	tableIndex, within := engine.refcountIndices(refsPerCluster + 3)
	require.Equal(t, uint64(1), tableIndex)
	require.Equal(t, uint64(3), within)
}

func TestIncrRefcountIncrementsExistingBlock(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	c, err := engine.extend()
	require.NoError(t, err)
	clusterIndex := c >> engine.header.ClusterBits

	require.NoError(t, engine.incrRefcount(clusterIndex))
	first, err := engine.actualRefcount(clusterIndex)
	require.NoError(t, err)
	require.Equal(t, uint16(1), first)

	require.NoError(t, engine.incrRefcount(clusterIndex))
	second, err := engine.actualRefcount(clusterIndex)
	require.NoError(t, err)
	require.Equal(t, uint16(2), second)
}

func TestIncrRefcountRejectsSecondRefcountTableEntry(t *testing.T) {
	device := newTestDevice(t, 512)
	engine, err := Create(device, CreateOptions{Size: 1 << 20, ClusterBits: 12})
	require.NoError(t, err)

	farCluster := engine.refsPerCluster() + 1
	require.ErrorIs(t, engine.incrRefcount(farCluster), ErrRefcountEnlargement)
}
