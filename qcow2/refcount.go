package qcow2

// refsPerCluster is the number of 16-bit reference counters that fit in
// one cluster-sized refcount block (spec §4.4).
func (e *Engine) refsPerCluster() uint64 {
	return e.header.ClusterSize() / 2
}

// refcountIndices maps a cluster index to its position in the two-level
// refcount structure: which entry of the refcount table names the block,
// and which counter within that block belongs to cluster c.
func (e *Engine) refcountIndices(c uint64) (tableIndex, withinBlock uint64) {
	refsPerCluster := e.refsPerCluster()
	return c / refsPerCluster, c % refsPerCluster
}

// incrRefcount increments the reference count of the cluster at index c by
// one, allocating its refcount block on first use (spec §4.4). It does not
// recursively refcount a freshly allocated refcount block itself — a known
// limitation carried over verbatim from the source design (spec §9).
func (e *Engine) incrRefcount(c uint64) error {
	tableIndex, withinBlock := e.refcountIndices(c)
	if tableIndex > 0 {
		return ErrRefcountEnlargement
	}

	entryOffset := e.header.RefcountTableOffset + 8*tableIndex
	blockOffset, err := e.readField(entryOffset)
	if err != nil {
		return err
	}

	if blockOffset == 0 {
		newBlock, err := e.extend()
		if err != nil {
			return err
		}
		if err := e.writeZeroedCluster(newBlock); err != nil {
			return err
		}
		if err := e.updateField16(newBlock+2*withinBlock, func(uint16) uint16 { return 1 }); err != nil {
			return err
		}
		return e.updateField(entryOffset, func(uint64) uint64 { return newBlock })
	}

	return e.updateField16(blockOffset+2*withinBlock, func(cur uint16) uint16 { return cur + 1 })
}
