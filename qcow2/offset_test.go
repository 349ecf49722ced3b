package qcow2

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOffsetToBytes(t *testing.T) {
	assert.Equal(t, uint64(4096), Bytes(4096).ToBytes(512, 16))
	assert.Equal(t, uint64(4096), Sectors(8).ToBytes(512, 16))
	assert.Equal(t, uint64(1<<16), Clusters(1).ToBytes(512, 16))
}

func TestOffsetToSector(t *testing.T) {
	sector, within := Bytes(4096 + 10).ToSector(512, 16)
	assert.Equal(t, uint64(8), sector)
	assert.Equal(t, uint32(10), within)
}

func TestOffsetToCluster(t *testing.T) {
	assert.Equal(t, uint64(2), Bytes(2*(1<<16)+100).ToCluster(512, 16))
	assert.Equal(t, uint64(5), Clusters(5).ToCluster(512, 16))
}
