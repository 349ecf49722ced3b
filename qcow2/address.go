package qcow2

// Address decomposes a virtual byte offset into the three fields walk
// needs: which L1 entry names the L2 table, which L2 entry names the data
// cluster, and the byte offset within that cluster (spec §3.1).
type Address struct {
	L1Index       uint64
	L2Index       uint64
	ClusterOffset uint64
}

// newAddress decomposes virtOff given cluster-bits C:
//
//	l2_index = bits [C .. 2C-4)   (index into an L2 table of 2^(C-3) entries)
//	l1_index = bits [2C-3 .. inf)
//	cluster  = bits [0 .. C)      (byte offset within the target cluster)
func newAddress(virtOff uint64, clusterBits uint32) Address {
	l2Bits := clusterBits - 3 // log2(cluster_size/8 entries)
	return Address{
		L1Index:       virtOff >> (clusterBits + l2Bits),
		L2Index:       (virtOff >> clusterBits) & ((uint64(1) << l2Bits) - 1),
		ClusterOffset: virtOff & ((uint64(1) << clusterBits) - 1),
	}
}
