package qcow2

import (
	"fmt"

	"github.com/coreimg/qcow2engine/blockdev/align"
)

// chopPiece is one physical-sector-sized (or smaller, for a boundary
// fragment) unit of an I/O request, paired with the absolute virtual byte
// offset it starts at (spec §4.6).
type chopPiece struct {
	virtualByteOffset uint64
	bufOffset         int
	length            int
}

// chop splits a request of len(buf) bytes starting at virtual byte offset
// startByte into pieces of at most the physical sector size, so that each
// piece can be satisfied by a single whole-sector physical I/O once
// translated to a physical offset.
func (e *Engine) chop(startByte uint64, n int) []chopPiece {
	sectorSize := uint64(e.deviceInfo.SectorSize)
	var pieces []chopPiece
	consumed := 0
	for consumed < n {
		cur := startByte + uint64(consumed)
		within := cur % sectorSize
		remain := uint64(n - consumed)
		length := sectorSize - within
		if length > remain {
			length = remain
		}
		pieces = append(pieces, chopPiece{
			virtualByteOffset: cur,
			bufOffset:         consumed,
			length:            int(length),
		})
		consumed += int(length)
	}
	return pieces
}

// Read satisfies a virtual read of len(buf) bytes (a whole multiple of
// VirtualSectorSize) starting at the given absolute virtual sector.
// Unmapped regions read back as zero (spec §4.6 read path).
func (e *Engine) Read(startSector uint64, buf []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(buf)%VirtualSectorSize != 0 {
		return fmt.Errorf("qcow2: read length %d is not a multiple of the virtual sector size", len(buf))
	}
	if err := e.checkSectorRange(startSector, uint64(len(buf))/VirtualSectorSize); err != nil {
		return err
	}

	startByte := e.virtualByteOffset(startSector)
	for _, piece := range e.chop(startByte, len(buf)) {
		addr := newAddress(piece.virtualByteOffset, e.header.ClusterBits)
		physOff, ok, err := e.walk(addr, false)
		if err != nil {
			return err
		}
		dst := buf[piece.bufOffset : piece.bufOffset+piece.length]
		if !ok {
			zeroFill(dst)
			continue
		}
		if err := e.readPhysical(physOff, dst); err != nil {
			return err
		}
	}
	return nil
}

// Write satisfies a virtual write of len(buf) bytes starting at the given
// absolute virtual sector, allocating L2 tables and data clusters on
// demand (spec §4.6 write path).
func (e *Engine) Write(startSector uint64, buf []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireWritable(); err != nil {
		return err
	}
	if len(buf)%VirtualSectorSize != 0 {
		return fmt.Errorf("qcow2: write length %d is not a multiple of the virtual sector size", len(buf))
	}
	if err := e.checkSectorRange(startSector, uint64(len(buf))/VirtualSectorSize); err != nil {
		return err
	}

	startByte := e.virtualByteOffset(startSector)
	for _, piece := range e.chop(startByte, len(buf)) {
		addr := newAddress(piece.virtualByteOffset, e.header.ClusterBits)
		physOff, ok, err := e.walk(addr, true)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnreachableUnmappedWrite
		}
		src := buf[piece.bufOffset : piece.bufOffset+piece.length]
		if err := e.writePhysical(physOff, src); err != nil {
			return err
		}
	}
	return nil
}

// readPhysical reads length(dst) bytes starting at the physical byte
// offset physOff, which may fall anywhere within a physical sector.
func (e *Engine) readPhysical(physOff uint64, dst []byte) error {
	sectorSize := uint64(e.deviceInfo.SectorSize)
	sectorNum := physOff / sectorSize
	within := physOff % sectorSize

	buf := align.New(int(sectorSize))
	if err := e.device.ReadAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}
	copy(dst, buf.Bytes[within:within+uint64(len(dst))])
	return nil
}

// writePhysical writes src into the physical sector containing physOff,
// read-modify-write style so a write smaller than a full physical sector
// doesn't clobber its neighbors.
func (e *Engine) writePhysical(physOff uint64, src []byte) error {
	sectorSize := uint64(e.deviceInfo.SectorSize)
	sectorNum := physOff / sectorSize
	within := physOff % sectorSize

	buf := align.New(int(sectorSize))
	if within != 0 || uint64(len(src)) != sectorSize {
		if err := e.device.ReadAt(sectorNum, buf.Bytes); err != nil {
			return wrapBacking(err)
		}
	}
	copy(buf.Bytes[within:within+uint64(len(src))], src)
	if err := e.device.WriteAt(sectorNum, buf.Bytes); err != nil {
		return wrapBacking(err)
	}
	return nil
}

func zeroFill(p []byte) {
	for i := range p {
		p[i] = 0
	}
}
