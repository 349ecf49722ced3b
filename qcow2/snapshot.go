package qcow2

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Snapshot is a parsed QCOW2 internal snapshot table entry. This core never
// creates, applies, or deletes snapshots — it only recognizes the header
// fields that point at the snapshot table and can list what's there, for
// the "info" subcommand of the CLI (SPEC_FULL.md §11.5).
type Snapshot struct {
	ID            string
	Name          string
	L1TableOffset uint64
	L1Size        uint32
	Date          time.Time
	VMStateSize   uint32
}

const snapshotHeaderSize = 40

// ListSnapshots parses the image's snapshot table without touching the
// read/write path. It is read-only: a corrupt table entry stops the scan
// and returns whatever was parsed so far, never a partial Snapshot.
func (e *Engine) ListSnapshots() ([]Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.header.NbSnapshots == 0 || e.header.SnapshotsOffset == 0 {
		return nil, nil
	}

	out := make([]Snapshot, 0, e.header.NbSnapshots)
	offset := e.header.SnapshotsOffset
	for i := uint32(0); i < e.header.NbSnapshots; i++ {
		snap, entrySize, err := e.readSnapshotEntry(offset)
		if err != nil {
			return out, fmt.Errorf("qcow2: snapshot %d: %w", i, err)
		}
		out = append(out, snap)
		offset += entrySize
	}
	return out, nil
}

func (e *Engine) readSnapshotEntry(offset uint64) (Snapshot, uint64, error) {
	header := make([]byte, snapshotHeaderSize)
	if err := readAligned(e.device, e.deviceInfo.SectorSize, offset, header); err != nil {
		return Snapshot{}, 0, err
	}

	snap := Snapshot{
		L1TableOffset: binary.BigEndian.Uint64(header[0:8]),
		L1Size:        binary.BigEndian.Uint32(header[8:12]),
	}
	idSize := binary.BigEndian.Uint16(header[12:14])
	nameSize := binary.BigEndian.Uint16(header[14:16])
	dateSeconds := binary.BigEndian.Uint32(header[16:20])
	snap.VMStateSize = binary.BigEndian.Uint32(header[32:36])
	extraDataSize := binary.BigEndian.Uint32(header[36:40])
	snap.Date = time.Unix(int64(dateSeconds), 0)

	pos := offset + snapshotHeaderSize
	pos += uint64(extraDataSize)

	if idSize > 0 {
		idBuf := make([]byte, idSize)
		if err := readAligned(e.device, e.deviceInfo.SectorSize, pos, idBuf); err != nil {
			return Snapshot{}, 0, err
		}
		snap.ID = string(idBuf)
		pos += uint64(idSize)
	}
	if nameSize > 0 {
		nameBuf := make([]byte, nameSize)
		if err := readAligned(e.device, e.deviceInfo.SectorSize, pos, nameBuf); err != nil {
			return Snapshot{}, 0, err
		}
		snap.Name = string(nameBuf)
	}

	entrySize := uint64(snapshotHeaderSize) + uint64(extraDataSize) + uint64(idSize) + uint64(nameSize)
	if rem := entrySize % 8; rem != 0 {
		entrySize += 8 - rem
	}
	return snap, entrySize, nil
}
