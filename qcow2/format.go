// Package qcow2 implements the core of a QCOW2 virtual-disk engine: header
// codec, L1/L2 address translation, cluster allocation and refcount
// maintenance over an arbitrary blockdev.Device. See SPEC_FULL.md.
package qcow2

import (
	"encoding/binary"
	"fmt"
)

// Magic is the four-byte QCOW2 signature "QFI\xfb".
const Magic uint32 = 0x514649fb

// Version2 is the only on-disk version this core writes or fully executes.
// Version3 headers are parsed far enough to be rejected cleanly at Connect.
const (
	Version2 = 2
	Version3 = 3
)

// HeaderSizeV2 is the byte length of the fixed version-2 header record.
const HeaderSizeV2 = 72

// DefaultClusterBits is the cluster size this core always chooses on
// Create (spec §4.7 step 1): 1<<16 = 64 KiB clusters.
const (
	DefaultClusterBits = 16
	MinClusterBits     = 9  // 512 bytes
	MaxClusterBits     = 21 // 2 MiB
)

// VirtualSectorSize is the fixed sector size the engine presents to
// callers, independent of the backing device's physical sector size
// (spec §3.2 invariant 6).
const VirtualSectorSize = 512

// Encryption methods recognized in the header. Only EncryptionNone is ever
// executed by the core; the others cause Connect to fail with
// ErrEncryptedImage (spec §1).
const (
	EncryptionNone = 0
	EncryptionAES  = 1
	EncryptionLUKS = 2
)

// L1/L2 entry bit layout (spec §3.1).
const (
	entryCopiedBit     = uint64(1) << 63
	entryCompressedBit = uint64(1) << 62
	entryOffsetMask    = entryCompressedBit - 1 // bits [61..0]
)

// Header is the fixed QCOW2 v2 header record, persisted at byte 0 of the
// backing device (spec §3.1).
type Header struct {
	Magic                 uint32
	Version               uint32
	BackingFileOffset     uint64
	BackingFileSize       uint32
	ClusterBits           uint32
	Size                  uint64 // virtual disk size in bytes
	CryptMethod           uint32
	L1Size                uint32 // number of entries in the L1 table
	L1TableOffset         uint64
	RefcountTableOffset   uint64
	RefcountTableClusters uint32
	NbSnapshots           uint32
	SnapshotsOffset       uint64
}

// ClusterSize returns 1<<ClusterBits, the cluster size in bytes.
func (h *Header) ClusterSize() uint64 { return uint64(1) << h.ClusterBits }

// L2Entries returns the number of 8-byte entries in one L2 table cluster.
func (h *Header) L2Entries() uint64 { return h.ClusterSize() / 8 }

// DecodeHeader parses a QCOW2 header from its big-endian on-disk bytes.
// data must be at least HeaderSizeV2 bytes (the codec this core consumes
// is treated as provided separately per spec §1, but a header this small
// has no reason to live outside the package that owns its layout).
func DecodeHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSizeV2 {
		return nil, &HeaderParseError{Msg: fmt.Sprintf("header too short: %d bytes", len(data))}
	}

	h := &Header{
		Magic:                 binary.BigEndian.Uint32(data[0:4]),
		Version:               binary.BigEndian.Uint32(data[4:8]),
		BackingFileOffset:     binary.BigEndian.Uint64(data[8:16]),
		BackingFileSize:       binary.BigEndian.Uint32(data[16:20]),
		ClusterBits:           binary.BigEndian.Uint32(data[20:24]),
		Size:                  binary.BigEndian.Uint64(data[24:32]),
		CryptMethod:           binary.BigEndian.Uint32(data[32:36]),
		L1Size:                binary.BigEndian.Uint32(data[36:40]),
		L1TableOffset:         binary.BigEndian.Uint64(data[40:48]),
		RefcountTableOffset:   binary.BigEndian.Uint64(data[48:56]),
		RefcountTableClusters: binary.BigEndian.Uint32(data[56:60]),
		NbSnapshots:           binary.BigEndian.Uint32(data[60:64]),
		SnapshotsOffset:       binary.BigEndian.Uint64(data[64:72]),
	}

	if h.Magic != Magic {
		return nil, &HeaderParseError{Msg: "not a qcow2 image (bad magic)"}
	}
	if h.Version != Version2 && h.Version != Version3 {
		return nil, &HeaderParseError{Msg: fmt.Sprintf("unsupported version %d", h.Version)}
	}
	if h.ClusterBits < MinClusterBits || h.ClusterBits > MaxClusterBits {
		return nil, &HeaderParseError{Msg: fmt.Sprintf("invalid cluster_bits %d", h.ClusterBits)}
	}

	return h, nil
}

// Encode serializes the header to its big-endian on-disk form, zero-padded
// to HeaderSizeV2 bytes.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSizeV2)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint32(buf[4:8], h.Version)
	binary.BigEndian.PutUint64(buf[8:16], h.BackingFileOffset)
	binary.BigEndian.PutUint32(buf[16:20], h.BackingFileSize)
	binary.BigEndian.PutUint32(buf[20:24], h.ClusterBits)
	binary.BigEndian.PutUint64(buf[24:32], h.Size)
	binary.BigEndian.PutUint32(buf[32:36], h.CryptMethod)
	binary.BigEndian.PutUint32(buf[36:40], h.L1Size)
	binary.BigEndian.PutUint64(buf[40:48], h.L1TableOffset)
	binary.BigEndian.PutUint64(buf[48:56], h.RefcountTableOffset)
	binary.BigEndian.PutUint32(buf[56:60], h.RefcountTableClusters)
	binary.BigEndian.PutUint32(buf[60:64], h.NbSnapshots)
	binary.BigEndian.PutUint64(buf[64:72], h.SnapshotsOffset)
	return buf
}

// Validate enforces the subset of the format this core actually executes
// (spec §6.2): no backing file, no encryption, version 2. Snapshots are
// recognized (ListSnapshots can still read them) but never exercised by
// the write path.
func (h *Header) Validate() error {
	if h.Version != Version2 {
		return &HeaderParseError{Msg: fmt.Sprintf("version %d headers are recognized but not executed by this core", h.Version)}
	}
	if h.BackingFileOffset != 0 || h.BackingFileSize != 0 {
		return ErrBackingFile
	}
	if h.CryptMethod != EncryptionNone {
		return ErrEncryptedImage
	}
	if h.L1TableOffset == 0 {
		return &HeaderParseError{Msg: "missing L1 table"}
	}
	if h.RefcountTableOffset == 0 || h.RefcountTableClusters == 0 {
		return &HeaderParseError{Msg: "missing refcount table"}
	}
	clusterSize := h.ClusterSize()
	if h.L1TableOffset%clusterSize != 0 || h.RefcountTableOffset%clusterSize != 0 {
		return &HeaderParseError{Msg: "metadata structure is not cluster-aligned"}
	}
	return nil
}
