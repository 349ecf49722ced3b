package qcow2

import "fmt"

// extend reserves the next cluster on the backing device and returns its
// byte offset (spec §4.3). The cluster's contents are undefined; callers
// must zero or fill it before installing any pointer to it (invariant 4).
func (e *Engine) extend() (uint64, error) {
	clusterIndex := e.nextCluster
	e.nextCluster++

	if err := e.resizeClusters(e.nextCluster); err != nil {
		e.nextCluster = clusterIndex // roll back the cursor; extend failed entirely
		return 0, err
	}

	return clusterIndex << e.header.ClusterBits, nil
}

// resizeClusters grows the backing device to hold exactly numClusters
// clusters, which resize requires to be a whole multiple of the physical
// sector size. That holds whenever the cluster size is a multiple of the
// sector size; otherwise resize fails with BadAlignment.
func (e *Engine) resizeClusters(numClusters uint64) error {
	newSizeBytes := numClusters << e.header.ClusterBits
	return e.resize(newSizeBytes)
}

// resize validates that newSize is a whole multiple of the backing
// device's physical sector size and delegates to the device.
func (e *Engine) resize(newSize uint64) error {
	sectorSize := uint64(e.deviceInfo.SectorSize)
	if newSize%sectorSize != 0 {
		return &BadAlignment{Msg: fmt.Sprintf("size 0x%x is not a multiple of the sector size %d", newSize, sectorSize)}
	}
	if err := e.device.Resize(newSize / sectorSize); err != nil {
		return wrapBacking(err)
	}
	e.deviceInfo.SizeSectors = newSize / sectorSize
	return nil
}
