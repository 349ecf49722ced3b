package qcow2

// offsetKind tags which unit an Offset's value is expressed in. Keeping
// the tag next to the value (rather than using three separate uint64
// types and hoping callers never mix them up) is the "compile-time-checked
// variant" spec §9 asks for, minus the compile-time part Go can't give us
// without a lot of ceremony — every conversion reads the value in the unit
// its tag names, so a value is never silently read in the wrong unit. Only
// an invalid tag panics.
type offsetKind int

const (
	kindBytes offsetKind = iota
	kindSectors
	kindClusters
)

// Offset is a virtual or physical position expressed in one of three
// units: raw bytes, physical sectors, or clusters (spec §4.1).
type Offset struct {
	kind offsetKind
	val  uint64
}

// Bytes constructs an Offset expressed in bytes.
func Bytes(v uint64) Offset { return Offset{kindBytes, v} }

// Sectors constructs an Offset expressed in physical sectors.
func Sectors(v uint64) Offset { return Offset{kindSectors, v} }

// Clusters constructs an Offset expressed in cluster indices.
func Clusters(v uint64) Offset { return Offset{kindClusters, v} }

// ToBytes converts o to a byte offset. sectorSize and clusterBits give the
// units needed to interpret a Sectors or Clusters offset; an offset
// already in bytes ignores both.
func (o Offset) ToBytes(sectorSize uint32, clusterBits uint32) uint64 {
	switch o.kind {
	case kindBytes:
		return o.val
	case kindSectors:
		return o.val * uint64(sectorSize)
	case kindClusters:
		return o.val << clusterBits
	default:
		panic("qcow2: unreachable offset kind")
	}
}

// ToSector converts o to a (sector number, byte offset within that sector)
// pair, dividing by the physical sector size.
func (o Offset) ToSector(sectorSize uint32, clusterBits uint32) (sectorNumber uint64, byteWithinSector uint32) {
	b := o.ToBytes(sectorSize, clusterBits)
	return b / uint64(sectorSize), uint32(b % uint64(sectorSize))
}

// ToCluster converts o to a cluster index, right-shifting by clusterBits.
func (o Offset) ToCluster(sectorSize uint32, clusterBits uint32) uint64 {
	return o.ToBytes(sectorSize, clusterBits) >> clusterBits
}
