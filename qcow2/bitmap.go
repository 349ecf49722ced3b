package qcow2

import (
	"encoding/binary"
	"fmt"

	"github.com/coreimg/qcow2engine/blockdev"
)

// Dirty-bitmap directory entry flags (a supplemented feature: listing what
// bitmaps a v3 image carries, for "inspect" only — this core
// never tracks or clears a bitmap itself).
const (
	bitmapFlagInUse = 1 << 0
	bitmapFlagAuto  = 1 << 1
)

// BitmapInfo describes one entry of a bitmaps-extension directory.
type BitmapInfo struct {
	Name         string
	Type         uint8
	Granularity  uint64
	Flags        uint32
	TableOffset  uint64
	TableSize    uint32
	IsEnabled    bool
	IsConsistent bool
}

// bitmapExtensionHeader is the fixed payload of the ExtensionBitmaps header
// extension: how many bitmaps there are and where their directory lives.
type bitmapExtensionHeader struct {
	nbBitmaps       uint32
	directorySize   uint64
	directoryOffset uint64
}

func parseBitmapExtensionHeader(data []byte) (*bitmapExtensionHeader, error) {
	if len(data) < 24 {
		return nil, fmt.Errorf("qcow2: bitmap extension too short: %d bytes", len(data))
	}
	return &bitmapExtensionHeader{
		nbBitmaps:       binary.BigEndian.Uint32(data[0:4]),
		directorySize:   binary.BigEndian.Uint64(data[8:16]),
		directoryOffset: binary.BigEndian.Uint64(data[16:24]),
	}, nil
}

// ListBitmaps reads a v3 image's dirty-bitmap directory straight off the
// device, given the bitmaps extension payload ParseHeaderExtensions found.
// It only decodes directory metadata (name, granularity, flags) — it never
// reads bit data, since this core has no write path that could ever dirty
// one. autoclearSet reports whether the image's autoclear "bitmaps" bit is
// set; Header does not decode the autoclear feature field, so the caller
// supplies it. When false every entry is reported inconsistent (spec's autoclear rule:
// an image closed without clearing that bit may have stale bitmap data).
func ListBitmaps(device blockdev.Device, extData []byte, autoclearSet bool) ([]BitmapInfo, error) {
	hdr, err := parseBitmapExtensionHeader(extData)
	if err != nil {
		return nil, err
	}

	dir := make([]byte, hdr.directorySize)
	if err := readAligned(device, device.Info().SectorSize, hdr.directoryOffset, dir); err != nil {
		return nil, fmt.Errorf("qcow2: reading bitmap directory: %w", err)
	}

	var out []BitmapInfo
	offset := 0
	for i := uint32(0); i < hdr.nbBitmaps && offset < len(dir); i++ {
		info, consumed, err := parseBitmapDirectoryEntry(dir[offset:])
		if err != nil {
			return nil, fmt.Errorf("qcow2: bitmap %d: %w", i, err)
		}
		if !autoclearSet {
			info.IsConsistent = false
		}
		out = append(out, *info)
		offset += consumed
	}
	return out, nil
}

func parseBitmapDirectoryEntry(data []byte) (*BitmapInfo, int, error) {
	const fixedSize = 24
	if len(data) < fixedSize {
		return nil, 0, fmt.Errorf("directory entry too short: %d bytes", len(data))
	}

	info := &BitmapInfo{
		TableOffset:     binary.BigEndian.Uint64(data[0:8]),
		TableSize:       binary.BigEndian.Uint32(data[8:12]),
		Flags:           binary.BigEndian.Uint32(data[12:16]),
		Type:            data[16],
	}
	granularityBits := data[17]
	nameSize := binary.BigEndian.Uint16(data[18:20])
	extraDataSize := binary.BigEndian.Uint32(data[20:24])

	entrySize := fixedSize + int(extraDataSize) + int(nameSize)
	paddedSize := (entrySize + 7) &^ 7
	if len(data) < paddedSize {
		return nil, 0, fmt.Errorf("directory entry truncated: need %d bytes, have %d", paddedSize, len(data))
	}

	nameStart := fixedSize + int(extraDataSize)
	info.Name = string(data[nameStart : nameStart+int(nameSize)])
	info.Granularity = uint64(1) << granularityBits
	info.IsEnabled = info.Flags&bitmapFlagAuto != 0
	info.IsConsistent = info.Flags&bitmapFlagInUse == 0

	return info, paddedSize, nil
}
