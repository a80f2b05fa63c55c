package msc

import "context"

// LUNCount returns the number of logical units discovered (maxLUN + 1).
// A device that stalls or short-reads GET_MAX_LUN has maxLUN 0, so this
// is then 1.
func (d *Drive) LUNCount() int { return int(d.maxLUN) + 1 }

// LUNReady reports whether lun completed discovery successfully and has
// not since gone not-ready via Poll.
func (d *Drive) LUNReady(lun int) bool {
	if !d.validLUN(lun) {
		return false
	}
	return d.luns[lun].ready
}

// GetCapacity returns the LUN's capacity in blocks, or 0 if not ready.
func (d *Drive) GetCapacity(lun int) uint32 {
	if !d.LUNReady(lun) {
		return 0
	}
	return d.luns[lun].capacity
}

// GetSectorSize returns the LUN's block size in bytes, or 0 if not ready.
func (d *Drive) GetSectorSize(lun int) uint32 {
	if !d.LUNReady(lun) {
		return 0
	}
	return d.luns[lun].sectorSize
}

// WriteProtected reports whether lun rejected write access at last check.
func (d *Drive) WriteProtected(lun int) bool {
	if !d.LUNReady(lun) {
		return false
	}
	return !d.luns[lun].writeOk
}

func (d *Drive) validLUN(lun int) bool {
	return lun >= 0 && lun < maxLUNs && lun <= int(d.maxLUN)
}

// Read reads blocks contiguous blocks starting at lba from lun into buf.
// buf must be at least sectorSize*blocks bytes, where sectorSize is
// GetSectorSize(lun). A stalled READ(10) is retried once after nudging
// the unit with START/STOP UNIT and re-confirming readiness, matching the
// motor-spin recovery in SPEC_FULL.md section 4.3.
func (d *Drive) Read(ctx context.Context, lun int, lba uint32, blocks uint16, buf []byte) error {
	if !d.validLUN(lun) {
		return newErr(KindInvalidLUN, "read", lun, nil)
	}
	if !d.luns[lun].ready {
		return newErr(KindNoMedia, "read", lun, nil)
	}

	err := d.scsi.read10(uint8(lun), lba, d.luns[lun].sectorSize, blocks, buf)
	if err != nil && isKind(err, KindStall) {
		d.scsi.startStopUnit(uint8(lun), 1)
		if serr := sleepCtx(ctx, postStallSettle); serr != nil {
			return serr
		}
		if terr := d.scsi.testUnitReady(uint8(lun)); terr == nil {
			return d.scsi.read10(uint8(lun), lba, d.luns[lun].sectorSize, blocks, buf)
		}
	}
	return err
}

// Write writes blocks contiguous blocks starting at lba to lun from buf.
// The whole span is issued as a single CBW; unlike the source this was
// ported from, Write does not silently truncate a multi-block request to
// one block (see SPEC_FULL.md section 9).
func (d *Drive) Write(ctx context.Context, lun int, lba uint32, blocks uint16, buf []byte) error {
	if !d.validLUN(lun) {
		return newErr(KindInvalidLUN, "write", lun, nil)
	}
	if !d.luns[lun].ready {
		return newErr(KindNoMedia, "write", lun, nil)
	}
	if !d.luns[lun].writeOk {
		return newErr(KindWriteProtected, "write", lun, nil)
	}

	err := d.scsi.write10(uint8(lun), lba, d.luns[lun].sectorSize, blocks, buf)
	if err != nil && isKind(err, KindWriteStall) {
		d.scsi.startStopUnit(uint8(lun), 1)
		if serr := sleepCtx(ctx, postStallSettle); serr != nil {
			return serr
		}
		if terr := d.scsi.testUnitReady(uint8(lun)); terr == nil {
			return d.scsi.write10(uint8(lun), lba, d.luns[lun].sectorSize, blocks, buf)
		}
	}
	return err
}

// LockMedia issues PREVENT/ALLOW MEDIUM REMOVAL for lun.
func (d *Drive) LockMedia(lun int, lock bool) error {
	if !d.validLUN(lun) {
		return newErr(KindInvalidLUN, "lock media", lun, nil)
	}
	return d.scsi.preventAllowRemoval(uint8(lun), lock)
}

// MediaCTL issues START STOP UNIT for lun. action: 0=stop, 1=start,
// 2=eject, 3=load.
func (d *Drive) MediaCTL(lun int, action uint8) error {
	if !d.validLUN(lun) {
		return newErr(KindInvalidLUN, "media ctl", lun, nil)
	}
	return d.scsi.startStopUnit(uint8(lun), action)
}
