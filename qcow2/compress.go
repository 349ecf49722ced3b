package qcow2

import (
	"bytes"
	"compress/flate"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/coreimg/qcow2engine/blockdev"
)

// CompressionType identifies the algorithm a v3 image's compressed clusters
// use. This core never writes compressed clusters and walk() treats the
// compressed bit as fatal on the live read/write path (spec §4.5); decoding
// one is only available offline, through DecodeCompressedCluster, which no
// CLI subcommand calls.
type CompressionType int

const (
	CompressionZlib CompressionType = iota
	CompressionZstd
)

// DecodeCompressedCluster decompresses a single compressed cluster given its
// raw L2 entry value, outside of any Engine — the image that owns it may
// carry a compressed or encrypted header that Connect refuses to open at
// all, so this talks to the device directly.
func DecodeCompressedCluster(device blockdev.Device, clusterBits uint32, l2Entry uint64, ctype CompressionType) ([]byte, error) {
	if l2Entry&entryCompressedBit == 0 {
		return nil, fmt.Errorf("qcow2: entry 0x%x does not have the compressed bit set", l2Entry)
	}

	offset, length := parseCompressedL2Entry(l2Entry, clusterBits)

	sectorSize := device.Info().SectorSize
	sectorNum := offset / uint64(sectorSize)
	within := offset % uint64(sectorSize)
	sectorsNeeded := (within + length + uint64(sectorSize) - 1) / uint64(sectorSize)

	raw := make([]byte, sectorsNeeded*uint64(sectorSize))
	if err := device.ReadAt(sectorNum, raw); err != nil {
		return nil, wrapBacking(err)
	}
	compressed := raw[within : within+length]

	clusterSize := uint64(1) << clusterBits
	switch ctype {
	case CompressionZstd:
		return decodeZstd(compressed, clusterSize)
	default:
		return decodeDeflate(compressed, clusterSize)
	}
}

// parseCompressedL2Entry splits a compressed L2 entry into its host offset
// and compressed byte length. The split point between the two bitfields
// moves with cluster_bits: x = 70 - cluster_bits.
func parseCompressedL2Entry(l2Entry uint64, clusterBits uint32) (offset uint64, length uint64) {
	x := 70 - uint64(clusterBits)
	offsetMask := (uint64(1) << x) - 1
	offset = l2Entry & offsetMask

	sizeBits := (l2Entry >> x) & ((uint64(1) << (62 - x)) - 1)
	length = (sizeBits + 1) * 512
	return offset, length
}

func decodeDeflate(compressed []byte, clusterSize uint64) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return readClusterFully(r, clusterSize)
}

func decodeZstd(compressed []byte, clusterSize uint64) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("qcow2: zstd: %w", err)
	}
	defer dec.Close()
	return readClusterFully(dec, clusterSize)
}

func readClusterFully(r io.Reader, clusterSize uint64) ([]byte, error) {
	out := make([]byte, clusterSize)
	n, err := io.ReadFull(r, out)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("qcow2: decompress: %w", err)
	}
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	return out, nil
}
