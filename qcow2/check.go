package qcow2

import "fmt"

// CheckResult reports the findings of a read-only consistency pass over an
// image's metadata (spec §4.4's refcount/pointer invariants, checked rather
// than assumed).
type CheckResult struct {
	Leaks              int
	LeakedClusters     uint64
	Corruptions        int
	Errors             []string
	AllocatedClusters  uint64
	ReferencedClusters uint64
}

// IsClean reports whether Check found nothing wrong.
func (r *CheckResult) IsClean() bool {
	return r.Corruptions == 0 && r.Leaks == 0 && len(r.Errors) == 0
}

// Check walks every L1 and L2 entry, recomputes the refcount every cluster
// ought to have, and compares it against what's actually stored in the
// refcount blocks. It never allocates or mutates anything.
func (e *Engine) Check() (*CheckResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := &CheckResult{}
	expected := make(map[uint64]uint64)

	clusterBits := e.header.ClusterBits
	clusterSize := e.header.ClusterSize()

	expected[0] = 1 // header

	l1Start := e.header.L1TableOffset >> clusterBits
	l1Bytes := uint64(e.header.L1Size) * 8
	l1Clusters := divCeil(l1Bytes, clusterSize)
	for i := uint64(0); i < l1Clusters; i++ {
		expected[l1Start+i] = 1
	}

	refStart := e.header.RefcountTableOffset >> clusterBits
	for i := uint64(0); i < uint64(e.header.RefcountTableClusters); i++ {
		expected[refStart+i] = 1
	}

	refcountTableEntries := uint64(e.header.RefcountTableClusters) * clusterSize / 8
	for i := uint64(0); i < refcountTableEntries; i++ {
		blockOffset, err := e.readField(e.header.RefcountTableOffset + 8*i)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("refcount table[%d]: %v", i, err))
			continue
		}
		if blockOffset == 0 {
			continue
		}
		expected[blockOffset>>clusterBits]++
	}

	for l1i := uint64(0); l1i < uint64(e.header.L1Size); l1i++ {
		l1Raw, err := e.readField(e.header.L1TableOffset + 8*l1i)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("L1[%d]: %v", l1i, err))
			continue
		}
		if l1Raw&entryCompressedBit != 0 {
			continue
		}
		l2Offset := l1Raw & entryOffsetMask
		if l2Offset == 0 {
			continue
		}
		if l2Offset%clusterSize != 0 {
			result.Corruptions++
			result.Errors = append(result.Errors, fmt.Sprintf("L1[%d]: L2 offset 0x%x is not cluster-aligned", l1i, l2Offset))
			continue
		}
		expected[l2Offset>>clusterBits]++

		l2Entries := e.header.L2Entries()
		for l2i := uint64(0); l2i < l2Entries; l2i++ {
			l2Raw, err := e.readField(l2Offset + 8*l2i)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Sprintf("L1[%d] L2[%d]: %v", l1i, l2i, err))
				continue
			}
			if l2Raw&entryCompressedBit != 0 {
				continue
			}
			dataOffset := l2Raw & entryOffsetMask
			if dataOffset == 0 {
				continue
			}
			if dataOffset%clusterSize != 0 {
				result.Corruptions++
				result.Errors = append(result.Errors, fmt.Sprintf("L1[%d] L2[%d]: data offset 0x%x is not cluster-aligned", l1i, l2i, dataOffset))
				continue
			}
			expected[dataOffset>>clusterBits]++
		}
	}

	result.ReferencedClusters = uint64(len(expected))
	maxCluster := e.deviceInfo.SizeSectors * uint64(e.deviceInfo.SectorSize) >> clusterBits

	for c := uint64(0); c < maxCluster; c++ {
		actual, err := e.actualRefcount(c)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("cluster %d: refcount read: %v", c, err))
			continue
		}
		want := expected[c]

		if actual > 0 {
			result.AllocatedClusters++
		}
		switch {
		case want == 0 && actual > 0:
			result.Leaks++
			result.LeakedClusters += clusterSize
		case want > 0 && actual == 0:
			result.Corruptions++
			result.Errors = append(result.Errors, fmt.Sprintf("cluster %d: referenced %d time(s) but refcount is 0", c, want))
		case want != uint64(actual):
			result.Errors = append(result.Errors, fmt.Sprintf("cluster %d: refcount mismatch (actual=%d, expected=%d)", c, actual, want))
		}
	}

	return result, nil
}

// actualRefcount reads the stored reference count for cluster c, returning
// 0 for any cluster whose refcount block has never been allocated.
func (e *Engine) actualRefcount(c uint64) (uint16, error) {
	tableIndex, withinBlock := e.refcountIndices(c)
	if tableIndex > 0 {
		return 0, nil
	}
	blockOffset, err := e.readField(e.header.RefcountTableOffset + 8*tableIndex)
	if err != nil {
		return 0, err
	}
	if blockOffset == 0 {
		return 0, nil
	}
	val, err := e.readField16(blockOffset + 2*withinBlock)
	if err != nil {
		return 0, err
	}
	return val, nil
}
