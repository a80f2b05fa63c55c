package msc

import (
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	usb "github.com/kevmo314/go-usb-msc"
)

const (
	classBulkOnlyReset = 0xff
	classGetMaxLUN     = 0xfe

	busyRetrySpacing = 6 * time.Millisecond
	transferTimeout  = 5 * time.Second

	maxBusyRetries = 50
	toggleRetries  = 3
)

// transport owns the address of the mass-storage interface and its two
// bulk endpoints, and performs the three-phase CBW/Data/CSW protocol on
// them. It does not know about SCSI; it only knows BBB framing and
// recovery.
//
// mu serializes transactions: there is exactly one outstanding BBB
// transaction at any moment, and nothing about the Facade guarantees a
// caller only ever drives one goroutine at a time.
type transport struct {
	mu sync.Mutex

	f        Facade
	ep       *endpointTable
	iface    uint8
	cfgValue uint8
	tag      uint32
	log      log.Logger
}

func newTransport(f Facade, ep *endpointTable, iface uint8, cfgValue uint8, logger log.Logger) *transport {
	return &transport{f: f, ep: ep, iface: iface, cfgValue: cfgValue, log: newLogger(logger)}
}

func (t *transport) nextTag() uint32 {
	t.tag++
	return t.tag
}

// transaction runs one CBW/Data/CSW triplet. dataLen is the CBW's declared
// transfer length; buf's usable length may be smaller for IN transfers
// (short reads report the shortfall as CSW residue, which the caller may
// inspect via the returned int). The returned status is the raw CSW
// status byte (0 passed, 1 failed, 2 phase error) when the transaction
// completed with a valid CSW; a non-nil error means the transport itself
// failed (device error, invalid CSW after recovery, and so on).
func (t *transport) transaction(cdb []byte, lun uint8, dataLen uint32, buf []byte, dataIn bool) (status uint8, actual int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tag := t.nextTag()

	cbw := commandBlockWrapper{tag: tag, dataLen: dataLen, lun: lun, cdbLen: uint8(len(cdb))}
	if dataIn {
		cbw.flags = cbwFlagDataIn
	}
	copy(cbw.cdb[:], cdb)

	if _, err := t.f.BulkTransferWithOptions(t.ep.bulkOut(), cbw.marshal(), transferTimeout, false); err != nil {
		if errors.Is(err, usb.ErrToggleMismatch) {
			if t.recoverToggle() {
				return cswStatusPassed, 0, nil
			}
			return 0, 0, newErr(KindGeneralUSBError, "command phase", int(lun), err)
		}
		kind := kindForUSBError(err, true)
		if kind == KindStall || kind == KindWriteStall {
			level.Warn(t.log).Log("msg", "clearing halt after command phase stall")
			t.f.ClearHalt(t.ep.bulkOut())
		}
		// Still attempt to read a CSW; many controllers report the
		// command-phase failure there instead of on the OUT transfer.
		t.readCSWWithRecovery(tag)
		return 0, 0, newErr(kind, "command phase", int(lun), err)
	}

	if dataLen > 0 {
		data := buf
		if uint32(len(data)) > dataLen {
			data = data[:dataLen]
		}
		if dataIn {
			actual, err = t.f.BulkTransferWithOptions(t.ep.bulkIn(), data, transferTimeout, true)
		} else {
			actual, err = t.f.BulkTransferWithOptions(t.ep.bulkOut(), data, transferTimeout, true)
		}
		if err != nil {
			if errors.Is(err, usb.ErrToggleMismatch) {
				if t.recoverToggle() {
					return cswStatusPassed, actual, nil
				}
				return 0, actual, newErr(KindGeneralUSBError, "data phase", int(lun), err)
			}
			kind := kindForUSBError(err, !dataIn)
			if kind == KindStall || kind == KindWriteStall {
				level.Warn(t.log).Log("msg", "clearing halt after data phase stall", "in", dataIn)
				t.f.ClearHalt(endpointFor(t.ep, dataIn))
			}
			// Still read the CSW to keep the pipe in sync, but the data
			// phase already failed: report its Kind regardless of what
			// the CSW says, so callers see STALL/WRITE_STALL and can
			// apply the SCSI-layer motor-spin retry.
			t.readCSWWithRecovery(tag)
			return 0, actual, newErr(kind, "data phase", int(lun), err)
		}
	}

	csw, err := t.readCSWWithRecovery(tag)
	if err != nil {
		return 0, actual, newErr(kindForUSBError(err, false), "status phase", int(lun), err)
	}
	if !csw.valid(tag) {
		t.resetRecovery()
		return 0, actual, newErr(KindInvalidCSW, "status phase", int(lun), nil)
	}
	return csw.status, actual, nil
}

// recoverToggle re-issues SET_CONFIGURATION to resynchronize the device's
// notion of the data toggle after a host/device toggle mismatch, matching
// the original firmware's hrTOGERR handling: on success, the failed
// transfer is treated as if it had succeeded outright rather than replayed.
// Bounded to toggleRetries attempts before giving up.
func (t *transport) recoverToggle() bool {
	level.Warn(t.log).Log("msg", "data toggle mismatch, reissuing SET_CONFIGURATION", "iface", t.iface)
	for i := 0; i < toggleRetries; i++ {
		if err := t.f.SetConfiguration(int(t.cfgValue)); err == nil {
			return true
		}
	}
	return false
}

// readCSWWithRecovery reads the 13-byte status envelope, retrying once
// after clearing the bulk-IN halt, and falling back to full reset-recovery
// if the retry also fails.
func (t *transport) readCSWWithRecovery(tag uint32) (commandStatusWrapper, error) {
	buf := make([]byte, cswLen)
	n, err := t.f.BulkTransferWithOptions(t.ep.bulkIn(), buf, transferTimeout, true)
	if err == nil && n == cswLen {
		return unmarshalCSW(buf), nil
	}
	if errors.Is(err, usb.ErrToggleMismatch) {
		if t.recoverToggle() {
			return commandStatusWrapper{signature: cswSignature, tag: tag, status: cswStatusPassed}, nil
		}
		return commandStatusWrapper{}, err
	}

	t.f.ClearHalt(t.ep.bulkIn())
	n, err = t.f.BulkTransferWithOptions(t.ep.bulkIn(), buf, transferTimeout, true)
	if err == nil && n == cswLen {
		return unmarshalCSW(buf), nil
	}

	t.resetRecovery()
	if err == nil {
		err = errShortCSW
	}
	return commandStatusWrapper{}, err
}

var errShortCSW = errors.New("short CSW read")

// resetRecovery performs the class-specific Bulk-Only Mass Storage Reset
// followed by ClearHalt on both bulk endpoints, retrying the reset request
// while the device reports itself busy.
func (t *transport) resetRecovery() {
	level.Warn(t.log).Log("msg", "reset-recovery", "iface", t.iface)
	for i := 0; i < maxBusyRetries; i++ {
		_, err := t.f.ControlTransfer(0x21, classBulkOnlyReset, 0, uint16(t.iface), nil, transferTimeout)
		if err == nil || !errors.Is(err, usb.ErrDeviceBusy) {
			break
		}
		time.Sleep(busyRetrySpacing)
	}
	t.clearHaltRetrying(t.ep.bulkIn())
	t.clearHaltRetrying(t.ep.bulkOut())
}

func (t *transport) clearHaltRetrying(ep uint8) {
	for i := 0; i < maxBusyRetries; i++ {
		err := t.f.ClearHalt(ep)
		if err == nil || !errors.Is(err, usb.ErrDeviceBusy) {
			return
		}
		time.Sleep(busyRetrySpacing)
	}
}

// getMaxLUN issues the class-specific GET_MAX_LUN request. A STALL or a
// short read are both treated as "device supports only LUN 0", per the
// hardening decision recorded in SPEC_FULL.md section 9: the original
// firmware convention of "any non-STALL reply is trustworthy" is not
// enough, since some controllers ACK the request but return zero bytes.
func (t *transport) getMaxLUN() uint8 {
	buf := make([]byte, 1)
	n, err := t.f.ControlTransfer(0xa1, classGetMaxLUN, 0, uint16(t.iface), buf, transferTimeout)
	if err != nil || n != 1 {
		return 0
	}
	return buf[0]
}

func endpointFor(ep *endpointTable, dataIn bool) uint8 {
	if dataIn {
		return ep.bulkIn()
	}
	return ep.bulkOut()
}

// kindForUSBError classifies a raw facade error into a Kind. onBulkOut
// distinguishes STALL (bulk-IN) from WRITE_STALL (bulk-OUT), matching the
// per-endpoint classification table.
func kindForUSBError(err error, onBulkOut bool) Kind {
	switch {
	case errors.Is(err, usb.ErrPipe):
		if onBulkOut {
			return KindWriteStall
		}
		return KindStall
	case errors.Is(err, usb.ErrDeviceBusy), errors.Is(err, usb.ErrEAGAIN):
		return KindUnitBusy
	case errors.Is(err, usb.ErrTimeout), errors.Is(err, usb.ErrNoDevice), errors.Is(err, usb.ErrJitter):
		return KindDeviceDisconnected
	default:
		return KindGeneralUSBError
	}
}

