package qcow2

// walk translates a virtual Address into a physical byte offset, walking
// the L1 then L2 table (spec §4.5). When allocate is false (read path) an
// unmapped entry at either level returns ok=false so the caller can
// zero-fill. When allocate is true (write path) missing L2 tables and
// data clusters are allocated, zeroed, refcounted, and linked in before
// returning.
func (e *Engine) walk(addr Address, allocate bool) (physOffset uint64, ok bool, err error) {
	l1EntryOffset := e.header.L1TableOffset + 8*addr.L1Index
	l1Raw, err := e.readField(l1EntryOffset)
	if err != nil {
		return 0, false, err
	}
	if l1Raw&entryCompressedBit != 0 {
		return 0, false, ErrUnsupportedCompressedCluster
	}
	l2TableOffset := l1Raw & entryOffsetMask

	if l2TableOffset == 0 {
		if !allocate {
			return 0, false, nil
		}
		newL2, err := e.allocateChild()
		if err != nil {
			return 0, false, err
		}
		if err := e.updateField(l1EntryOffset, func(uint64) uint64 { return setCopied(newL2) }); err != nil {
			return 0, false, err
		}
		l2TableOffset = newL2
	}

	l2EntryOffset := l2TableOffset + 8*addr.L2Index
	l2Raw, err := e.readField(l2EntryOffset)
	if err != nil {
		return 0, false, err
	}
	if l2Raw&entryCompressedBit != 0 {
		return 0, false, ErrUnsupportedCompressedCluster
	}
	clusterOffset := l2Raw & entryOffsetMask

	if clusterOffset == 0 {
		if !allocate {
			return 0, false, nil
		}
		newCluster, err := e.allocateChild()
		if err != nil {
			return 0, false, err
		}
		if err := e.updateField(l2EntryOffset, func(uint64) uint64 { return setCopied(newCluster) }); err != nil {
			return 0, false, err
		}
		clusterOffset = newCluster
	}

	if clusterOffset == 0 {
		// Unreachable on the allocate path; a read-path unmapped cluster
		// already returned above.
		return 0, false, nil
	}

	return clusterOffset + addr.ClusterOffset, true, nil
}

// allocateChild extends the device for a new child block (an L2 table or
// a data cluster), zeroes it on disk, and bumps its refcount — in that
// order, so the block is fully formed and refcounted before any pointer
// to it is persisted (spec §3.2 invariants 3 and 4).
func (e *Engine) allocateChild() (uint64, error) {
	offset, err := e.extend()
	if err != nil {
		return 0, err
	}
	if err := e.writeZeroedCluster(offset); err != nil {
		return 0, err
	}
	if err := e.incrRefcount(offset >> e.header.ClusterBits); err != nil {
		return 0, err
	}
	return offset, nil
}

// setCopied sets the copied bit (bit 63) on a fresh cluster pointer,
// declaring refcount==1 and therefore safe to write in place (spec §3.2
// invariant 5). This core always sets it on fresh allocations and never
// clears it.
func setCopied(offset uint64) uint64 {
	return offset | entryCopiedBit
}
