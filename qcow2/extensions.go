package qcow2

import (
	"encoding/binary"
	"fmt"

	"github.com/coreimg/qcow2engine/blockdev"
)

// Header extension type tags, recognized for diagnostics only — this core
// never writes a v3 header, and Connect rejects anything but Version2
// outright (format.go's Header.Validate).
const (
	extensionEndOfHeader   = 0x00000000
	extensionBackingFormat = 0xE2792ACA
	extensionFeatureTable  = 0x6803f857
	extensionBitmaps       = 0x23852875
	extensionFullDiskCrypt = 0x0537be77
)

// HeaderExtensions is what ParseHeaderExtensions recovers from cluster 0 of
// a header this core otherwise refuses to open — the "inspect" CLI
// subcommand's way of explaining why a v3 or encrypted image was rejected.
type HeaderExtensions struct {
	BackingFormat string
	FeatureNames  map[string]string
	// BitmapDirectory is the raw ExtensionBitmaps payload, if present; pass
	// it to ListBitmaps to decode the dirty-bitmap directory it points at.
	BitmapDirectory []byte
	Unrecognized    []uint32
}

// ParseHeaderExtensions reads the extension area that follows a fixed
// header record, from headerLength up to the end of cluster 0 (or the
// backing file name, if one is embedded there first).
func ParseHeaderExtensions(device blockdev.Device, h *Header, headerLength uint64) (*HeaderExtensions, error) {
	clusterSize := h.ClusterSize()
	end := clusterSize
	if h.BackingFileOffset > 0 && h.BackingFileOffset < end {
		end = h.BackingFileOffset
	}
	if headerLength >= end {
		return &HeaderExtensions{FeatureNames: map[string]string{}}, nil
	}

	area := make([]byte, end-headerLength)
	if err := readAligned(device, device.Info().SectorSize, headerLength, area); err != nil {
		return nil, err
	}

	out := &HeaderExtensions{FeatureNames: map[string]string{}}
	offset := uint64(0)
	for offset+8 <= uint64(len(area)) {
		extType := binary.BigEndian.Uint32(area[offset:])
		extLen := binary.BigEndian.Uint32(area[offset+4:])
		if extType == extensionEndOfHeader {
			break
		}
		dataEnd := offset + 8 + uint64(extLen)
		if dataEnd > uint64(len(area)) {
			return nil, fmt.Errorf("qcow2: header extension type 0x%x exceeds cluster 0", extType)
		}
		data := area[offset+8 : dataEnd]

		switch extType {
		case extensionBackingFormat:
			out.BackingFormat = string(data)
		case extensionFeatureTable:
			parseFeatureNameTable(data, out.FeatureNames)
		case extensionBitmaps:
			out.BitmapDirectory = append([]byte(nil), data...)
		default:
			out.Unrecognized = append(out.Unrecognized, extType)
		}

		offset = dataEnd
		if rem := offset % 8; rem != 0 {
			offset += 8 - rem
		}
	}
	return out, nil
}

// parseFeatureNameTable decodes extensionFeatureTable's fixed 48-byte
// records: 1 type byte, 1 bit-number byte, 46 bytes of feature name.
func parseFeatureNameTable(data []byte, out map[string]string) {
	const recordSize = 48
	for i := 0; i+recordSize <= len(data); i += recordSize {
		rec := data[i : i+recordSize]
		key := fmt.Sprintf("%d.%d", rec[0], rec[1])
		name := rec[2:]
		end := len(name)
		for end > 0 && name[end-1] == 0 {
			end--
		}
		out[key] = string(name[:end])
	}
}
