package msc

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	usb "github.com/kevmo314/go-usb-msc"
)

const (
	maxLUNs = 8

	classMassStorage = 0x08
	subclassSCSI     = 0x06
	protocolBBB      = 0x50

	pollInterval = 2000 * time.Millisecond

	bringUpMaxTries   = 0xf0
	bringUpNudgeTries = 14
)

// postStallSettle and postConfigSettle are the fixed delays the bring-up
// and stall-recovery sequences wait out. They are vars, not consts, so
// tests can shrink them instead of a real 1-2 second sleep per case.
var (
	postStallSettle  = 150 * time.Millisecond
	postConfigSettle = 1000 * time.Millisecond
)

// lunState is the discovery and readiness record for one logical unit.
type lunState struct {
	ready      bool
	writeOk    bool
	sectorSize uint32
	capacity   uint32
}

// Drive is a fully enumerated mass-storage device: its BBB transport, its
// SCSI command layer, and the readiness/capacity/write-protect state of
// each of its logical units. It is created by Configure and destroyed by
// Release.
type Drive struct {
	handle Facade
	dev    *usb.Device
	iface  uint8

	ep    endpointTable
	tp    *transport
	scsi  *scsiLayer

	maxLUN uint8
	luns   [maxLUNs]lunState

	pollEnabled    bool
	nextPollDeadline time.Time

	log log.Logger
}

// Option configures optional behavior of Configure.
type Option func(*Drive)

// WithLogger injects a structured logger; without it, Drive logs nothing.
func WithLogger(l log.Logger) Option {
	return func(d *Drive) { d.log = newLogger(l) }
}

// findMassStorageInterface walks a device's configuration descriptor for
// the first interface whose class/subclass/protocol match SCSI-over-BBB
// mass storage, returning its interface number, configuration value, and
// alt-setting endpoints.
func findMassStorageInterface(config *usb.ConfigDescriptor) (ifaceNum uint8, cfgValue uint8, alt *usb.InterfaceAltSetting, found bool) {
	for _, iface := range config.Interfaces {
		for i := range iface.AltSettings {
			a := iface.AltSettings[i]
			if a.InterfaceClass == classMassStorage && a.InterfaceSubClass == subclassSCSI && a.InterfaceProtocol == protocolBBB {
				return a.InterfaceNumber, config.ConfigurationValue, &iface.AltSettings[i], true
			}
		}
	}
	return 0, 0, nil, false
}

// Configure discovers a mass-storage interface on dev, builds a Drive for
// it, and runs the full bring-up sequence (init), including per-LUN
// discovery, before returning. It fails if no configuration descriptor
// exposes a SCSI/BBB interface, if that interface exposes fewer than the
// two bulk endpoints required, or if init fails.
func Configure(dev *usb.Device, opts ...Option) (*Drive, error) {
	handle, err := dev.Open()
	if err != nil {
		return nil, fmt.Errorf("msc: open device: %w", err)
	}

	d := &Drive{handle: facadeHandle(handle), dev: dev, log: log.NewNopLogger()}
	for _, opt := range opts {
		opt(d)
	}

	var found bool
	var ifaceNum, cfgValue uint8
	var alt *usb.InterfaceAltSetting

	for i := uint8(0); i < dev.Descriptor.NumConfigurations; i++ {
		config, err := handle.GetConfigDescriptorByValue(i)
		if err != nil {
			continue
		}
		if ifaceNum, cfgValue, alt, found = findMassStorageInterface(config); found {
			break
		}
	}
	if !found {
		handle.Close()
		return nil, newErr(KindCmdNotSupported, "configure", -1, fmt.Errorf("no SCSI/BBB mass storage interface found"))
	}

	d.ep.clearAll()
	for i := range alt.Endpoints {
		ep := &alt.Endpoints[i]
		role, ok := classifyEndpoint(uint8(ep.TransferType()), ep.IsInput())
		if !ok {
			continue
		}
		d.ep.set(role, ep.EndpointAddr, ep.MaxPacketSize)
	}
	if d.ep.foundCount() < 2 || d.ep.bulkIn() == 0 || d.ep.bulkOut() == 0 {
		handle.Close()
		return nil, newErr(KindCmdNotSupported, "configure", -1, fmt.Errorf("mass storage interface missing bulk endpoint pair"))
	}

	d.iface = ifaceNum
	d.tp = newTransport(d.handle, &d.ep, d.iface, cfgValue, d.log)
	d.scsi = newSCSILayer(d.tp)

	if err := d.init(context.Background(), cfgValue); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

// init performs the one-time bring-up sequence: select configuration,
// detach any competing kernel driver, claim the interface, learn the
// LUN count, and run the per-LUN discovery loop.
func (d *Drive) init(ctx context.Context, cfgValue uint8) error {
	if err := d.handle.SetConfiguration(int(cfgValue)); err != nil {
		return newErr(KindDeviceDisconnected, "set configuration", -1, err)
	}
	d.handle.DetachKernelDriver(d.iface)
	if err := d.handle.ClaimInterface(d.iface); err != nil {
		return newErr(KindDeviceDisconnected, "claim interface", -1, err)
	}

	if err := sleepCtx(ctx, postConfigSettle); err != nil {
		return err
	}

	maxLUN := d.tp.getMaxLUN()
	if maxLUN >= maxLUNs {
		maxLUN = maxLUNs - 1
	}
	d.maxLUN = maxLUN

	if err := sleepCtx(ctx, postConfigSettle); err != nil {
		return err
	}

	for lun := uint8(0); lun <= d.maxLUN; lun++ {
		if err := d.bringUpLUN(ctx, lun); err != nil {
			level.Warn(withLUN(d.log, "bring-up", int(lun))).Log("msg", "lun bring-up failed", "err", err)
		}
	}

	d.pollEnabled = true
	d.nextPollDeadline = time.Now().Add(pollInterval)
	return nil
}

// sleepCtx sleeps for d or returns early with ctx.Err() if ctx is done
// first, so a caller can bound a long bring-up sequence.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// bringUpLUN runs INQUIRY followed by a bounded TEST UNIT READY retry
// loop, then CheckLUN, matching the state machine in SPEC_FULL.md
// section 4.4.
func (d *Drive) bringUpLUN(ctx context.Context, lun uint8) error {
	if _, err := d.scsi.inquiry(lun, 36); err != nil {
		return err
	}

	// tries mirrors the original firmware's uint8 counter, which starts at
	// 0xf0 and exits the loop when it wraps back to 0 after 16 iterations.
	// Since tries never dips below 0xf0, the "tries < bringUpNudgeTries"
	// branch below never fires; it is kept only because the original does
	// the same comparison, not because it is ever taken.
	ready := false
	for tries := uint8(bringUpMaxTries); ; {
		err := d.scsi.testUnitReady(lun)
		if err == nil {
			ready = true
			break
		}
		if isKind(err, KindNoMedia) {
			return nil // LUN exists but empty: state "empty", not "ready"
		}
		if tries < bringUpNudgeTries {
			d.scsi.preventAllowRemoval(lun, false)
			d.scsi.startStopUnit(lun, 1)
		} else if err := sleepCtx(ctx, time.Duration(2*(uint16(tries)+1))*time.Millisecond); err != nil {
			return err
		}
		tries++
		if tries == 0 {
			break
		}
	}
	if !ready {
		return nil
	}

	if err := sleepCtx(ctx, postConfigSettle); err != nil {
		return err
	}

	if d.checkLUN(lun) {
		return nil
	}
	// one retry, per the source's bring-up sequence
	if d.checkLUN(lun) {
		return nil
	}
	return newErr(KindUnitNotReady, "bring-up", int(lun), nil)
}

// checkLUN validates capacity, discovers write-protect state, and does a
// final readiness check. It returns whether the LUN is now ready.
func (d *Drive) checkLUN(lun uint8) bool {
	capacity, sectorSize, err := d.scsi.readCapacity(lun)
	if err != nil || capacity == 0 || capacity == 0xffffffff || !validSectorSize(sectorSize) {
		d.luns[lun].ready = false
		return false
	}

	writeProtected, _ := d.scsi.modeSenseWriteProtect(lun)

	if err := d.scsi.testUnitReady(lun); err != nil {
		d.luns[lun].ready = false
		return false
	}

	d.luns[lun].ready = true
	d.luns[lun].writeOk = !writeProtected
	d.luns[lun].sectorSize = sectorSize
	d.luns[lun].capacity = capacity
	return true
}

func validSectorSize(sz uint32) bool {
	switch sz {
	case 512, 1024, 2048, 4096:
		return true
	default:
		return false
	}
}

// Poll runs CheckMedia once the poll interval has elapsed; it is a no-op
// otherwise. Callers drive the periodic media-change scan by calling Poll
// from their own event loop. ctx bounds the scan itself; Poll returns
// ctx.Err() if the caller cancels mid-scan.
func (d *Drive) Poll(ctx context.Context) error {
	if !d.pollEnabled || time.Now().Before(d.nextPollDeadline) {
		return nil
	}
	if err := d.checkMedia(ctx); err != nil {
		return err
	}
	d.nextPollDeadline = time.Now().Add(pollInterval)
	return nil
}

func (d *Drive) checkMedia(ctx context.Context) error {
	for lun := uint8(0); lun <= d.maxLUN; lun++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		wasReady := d.luns[lun].ready
		if err := d.scsi.testUnitReady(lun); err != nil {
			if d.luns[lun].ready {
				level.Info(withLUN(d.log, "poll", int(lun))).Log("msg", "lun no longer ready")
			}
			d.luns[lun].ready = false
			continue
		}
		if !wasReady {
			d.checkLUN(lun)
		}
	}
	return nil
}

// Release halts and frees driver-owned state and closes the underlying
// device handle. The Drive must not be used afterward.
func (d *Drive) Release() error {
	d.pollEnabled = false
	d.luns = [maxLUNs]lunState{}
	d.ep.clearAll()
	if h, ok := d.handle.(*usb.DeviceHandle); ok {
		return h.Close()
	}
	return nil
}

func isKind(err error, k Kind) bool {
	de, ok := err.(*DriverError)
	return ok && de.Kind == k
}
