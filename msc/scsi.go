package msc

import "encoding/binary"

// SCSI opcodes used by the transparent command set this driver speaks.
const (
	opTestUnitReady        = 0x00
	opRequestSense         = 0x03
	opInquiry              = 0x12
	opModeSense6           = 0x1a
	opStartStopUnit        = 0x1b
	opPreventAllowRemoval  = 0x1e
	opReadCapacity10       = 0x25
	opRead10               = 0x28
	opWrite10              = 0x2a
)

// Sense keys and additional sense codes this driver distinguishes.
const (
	senseKeyNotReady       = 0x02
	senseKeyIllegalRequest = 0x05
	senseKeyUnitAttention  = 0x06

	ascLBAOutOfRange     = 0x21
	ascMediumNotPresent  = 0x3a
	ascMediaChanged      = 0x28
)

const modeSensePage3F = 0x3f

// scsiLayer builds CDBs, dispatches them through a transport, and
// translates CSW status plus sense data into Kind values.
type scsiLayer struct {
	t *transport
}

func newSCSILayer(t *transport) *scsiLayer {
	return &scsiLayer{t: t}
}

// testUnitReady issues TEST UNIT READY. The CDB places lun<<5 in CDB[1],
// matching the original firmware's placement for every opcode that carries
// it (see SPEC_FULL.md section 9 for why the un-shifted form is wrong).
// BBB itself already routes by CBW.bCBWLUN, so this field is redundant on
// the wire but kept for parity with the original CDB layout.
func (s *scsiLayer) testUnitReady(lun uint8) error {
	cdb := make([]byte, 6)
	cdb[0] = opTestUnitReady
	cdb[1] = lun << 5

	status, _, err := s.t.transaction(cdb, lun, 0, nil, false)
	if err != nil {
		return err
	}
	return s.handleStatus(status, lun, "test unit ready")
}

func (s *scsiLayer) inquiry(lun uint8, allocLen uint8) ([]byte, error) {
	cdb := make([]byte, 6)
	cdb[0] = opInquiry
	cdb[1] = lun << 5
	cdb[4] = allocLen

	buf := make([]byte, allocLen)
	status, n, err := s.t.transaction(cdb, lun, uint32(allocLen), buf, true)
	if err != nil {
		return nil, err
	}
	if err := s.handleStatus(status, lun, "inquiry"); err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// readCapacity returns (blockCount, sectorSize). blockCount is the
// last-LBA-plus-one convention: the wire format reports the last valid
// LBA, and this driver converts it to a block count at the boundary
// rather than exposing the raw last-LBA value upward (see SPEC_FULL.md
// section 9).
func (s *scsiLayer) readCapacity(lun uint8) (blockCount uint32, sectorSize uint32, err error) {
	cdb := make([]byte, 10)
	cdb[0] = opReadCapacity10
	cdb[1] = lun << 5

	buf := make([]byte, 8)
	status, n, err := s.t.transaction(cdb, lun, 8, buf, true)
	if err != nil {
		return 0, 0, err
	}
	if err := s.handleStatus(status, lun, "read capacity"); err != nil {
		return 0, 0, err
	}
	if n < 8 {
		return 0, 0, newErr(KindGeneralSCSIError, "read capacity", int(lun), errShortCSW)
	}

	lastLBA := binary.BigEndian.Uint32(buf[0:4])
	blockLen := binary.BigEndian.Uint32(buf[4:8])
	return lastLBA + 1, blockLen, nil
}

func (s *scsiLayer) modeSenseWriteProtect(lun uint8) (bool, error) {
	cdb := make([]byte, 6)
	cdb[0] = opModeSense6
	cdb[1] = lun << 5
	cdb[2] = modeSensePage3F
	cdb[4] = 192

	buf := make([]byte, 192)
	status, n, err := s.t.transaction(cdb, lun, 192, buf, true)
	if err != nil {
		return false, err
	}
	if err := s.handleStatus(status, lun, "mode sense"); err != nil {
		return false, err
	}
	if n < 3 {
		return false, nil
	}
	return buf[2]&0x80 != 0, nil
}

// read10 issues READ(10) for a run of blocks starting at lba.
func (s *scsiLayer) read10(lun uint8, lba uint32, sectorSize uint32, blocks uint16, buf []byte) error {
	cdb := make([]byte, 10)
	cdb[0] = opRead10
	cdb[1] = lun << 5
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)

	dataLen := sectorSize * uint32(blocks)
	status, _, err := s.t.transaction(cdb, lun, dataLen, buf, true)
	if err != nil {
		return err
	}
	return s.handleStatus(status, lun, "read10")
}

// write10 issues WRITE(10) for a run of blocks starting at lba. blocks is
// placed directly in CDB[7:9] so a multi-block write is a single CBW,
// unlike the single-block-per-CBW limitation in the source this was
// ported from (see SPEC_FULL.md section 9).
func (s *scsiLayer) write10(lun uint8, lba uint32, sectorSize uint32, blocks uint16, buf []byte) error {
	cdb := make([]byte, 10)
	cdb[0] = opWrite10
	cdb[1] = lun << 5
	binary.BigEndian.PutUint32(cdb[2:6], lba)
	binary.BigEndian.PutUint16(cdb[7:9], blocks)

	dataLen := sectorSize * uint32(blocks)
	status, _, err := s.t.transaction(cdb, lun, dataLen, buf, false)
	if err != nil {
		return err
	}
	return s.handleStatus(status, lun, "write10")
}

func (s *scsiLayer) preventAllowRemoval(lun uint8, lock bool) error {
	cdb := make([]byte, 6)
	cdb[0] = opPreventAllowRemoval
	if lock {
		cdb[4] = 1
	}
	status, _, err := s.t.transaction(cdb, lun, 0, nil, false)
	if err != nil {
		return err
	}
	return s.handleStatus(status, lun, "prevent/allow removal")
}

// startStopUnit issues START STOP UNIT. action bits: 0=stop, 1=start,
// 2=eject, 3=load.
func (s *scsiLayer) startStopUnit(lun uint8, action uint8) error {
	cdb := make([]byte, 6)
	cdb[0] = opStartStopUnit
	cdb[4] = action & 0x03
	status, _, err := s.t.transaction(cdb, lun, 0, nil, false)
	if err != nil {
		return err
	}
	return s.handleStatus(status, lun, "start/stop unit")
}

func (s *scsiLayer) requestSense(lun uint8) ([]byte, error) {
	cdb := make([]byte, 6)
	cdb[0] = opRequestSense
	cdb[4] = 18

	buf := make([]byte, 18)
	status, n, err := s.t.transaction(cdb, lun, 18, buf, true)
	if err != nil {
		return nil, err
	}
	if status != cswStatusPassed {
		return nil, newErr(KindGeneralSCSIError, "request sense", int(lun), nil)
	}
	return buf[:n], nil
}

// handleStatus implements the CSW-status branch table: 0 passes through,
// 1 triggers a REQUEST SENSE and sense-key/ASC classification, 2 forces
// reset-recovery.
func (s *scsiLayer) handleStatus(status uint8, lun uint8, op string) error {
	switch status {
	case cswStatusPassed:
		return nil
	case cswStatusFailed:
		return s.classifyFromSense(lun, op)
	case cswStatusPhaseError:
		s.t.resetRecovery()
		return newErr(KindGeneralSCSIError, op, int(lun), nil)
	default:
		return newErr(KindGeneralSCSIError, op, int(lun), nil)
	}
}

func (s *scsiLayer) classifyFromSense(lun uint8, op string) error {
	sense, err := s.requestSense(lun)
	if err != nil || len(sense) < 13 {
		return newErr(KindGeneralSCSIError, op, int(lun), err)
	}
	senseKey := sense[2] & 0x0f
	asc := sense[12]

	switch senseKey {
	case senseKeyUnitAttention:
		if asc == ascMediaChanged {
			return newErr(KindMediaChanged, op, int(lun), nil)
		}
		return newErr(KindUnitNotReady, op, int(lun), nil)
	case senseKeyNotReady:
		if asc == ascMediumNotPresent {
			return newErr(KindNoMedia, op, int(lun), nil)
		}
		return newErr(KindUnitNotReady, op, int(lun), nil)
	case senseKeyIllegalRequest:
		if asc == ascLBAOutOfRange {
			return newErr(KindBadLBA, op, int(lun), nil)
		}
		return newErr(KindCmdNotSupported, op, int(lun), nil)
	default:
		return newErr(KindGeneralSCSIError, op, int(lun), nil)
	}
}
