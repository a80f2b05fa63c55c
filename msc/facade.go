package msc

import (
	"time"

	usb "github.com/kevmo314/go-usb-msc"
)

// Facade is the seam between the transport-agnostic mass-storage core and
// whatever USB stack actually moves bytes. Every method in it is one that
// *usb.DeviceHandle already exports (the handle exports more), named here
// so the transport and enumeration code can be driven by a scripted mock
// in tests.
type Facade interface {
	ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)
	BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error)
	BulkTransferWithOptions(endpoint uint8, data []byte, timeout time.Duration, allowZeroLength bool) (int, error)
	ClearHalt(endpoint uint8) error
	ClaimInterface(iface uint8) error
	ReleaseInterface(iface uint8) error
	SetInterfaceAltSetting(iface, alt uint8) error
	GetConfigDescriptorByValue(index uint8) (*usb.ConfigDescriptor, error)
	SetConfiguration(config int) error
	DetachKernelDriver(iface uint8) error
	AttachKernelDriver(iface uint8) error
}

// facadeHandle is the trivial identity adapter: *usb.DeviceHandle already
// satisfies Facade, this exists only to document the binding and give
// callers outside the usb package a named constructor.
func facadeHandle(h *usb.DeviceHandle) Facade { return h }

var _ Facade = (*usb.DeviceHandle)(nil)
