package usb

import (
	"syscall"
	"time"
	"unsafe"
)

func (h *DeviceHandle) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0, ErrDeviceNotFound
	}

	var dataPtr unsafe.Pointer
	dataLen := uint16(len(data))

	if len(data) > 0 {
		dataPtr = unsafe.Pointer(&data[0])
	}

	ctrl := usbCtrlRequest{
		RequestType: requestType,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      dataLen,
		Timeout:     uint32(timeout.Milliseconds()),
		Data:        dataPtr,
	}

	ret, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CONTROL, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return 0, classifyErrno(errno)
	}

	return int(ret), nil
}

func (h *DeviceHandle) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return h.BulkTransferWithOptions(endpoint, data, timeout, false)
}

// BulkTransferWithOptions performs a single synchronous bulk transfer.
// allowZeroLength permits a zero-length data phase, needed by callers that
// dispatch a CBW with a declared transfer length of zero.
func (h *DeviceHandle) BulkTransferWithOptions(endpoint uint8, data []byte, timeout time.Duration, allowZeroLength bool) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return 0, ErrDeviceNotFound
	}

	if len(data) == 0 && !allowZeroLength {
		return 0, ErrInvalidParameter
	}

	var dataPtr uintptr
	if len(data) > 0 {
		dataPtr = uintptr(unsafe.Pointer(&data[0]))
	}

	bulk := usbBulkTransfer{
		Endpoint: uint32(endpoint),
		Length:   uint32(len(data)),
		Timeout:  uint32(timeout.Milliseconds()),
		Data:     dataPtr,
	}

	ret, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_BULK, uintptr(unsafe.Pointer(&bulk)))
	if errno != 0 {
		return 0, classifyErrno(errno)
	}

	return int(ret), nil
}

// InterruptTransfer performs a synchronous interrupt transfer. usbfs
// multiplexes bulk and interrupt endpoints through the same ioctl.
func (h *DeviceHandle) InterruptTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return h.BulkTransfer(endpoint, data, timeout)
}

// ResetEndpoint clears the host-side toggle and queue state for an
// endpoint without a control transfer, as USBDEVFS_RESETEP.
func (h *DeviceHandle) ResetEndpoint(endpoint uint8) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	ep := uint32(endpoint)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_RESETEP, uintptr(unsafe.Pointer(&ep)))
	if errno != 0 {
		return errno
	}

	return nil
}

type usbBulkTransfer struct {
	Endpoint uint32
	Length   uint32
	Timeout  uint32
	Data     uintptr
}

// classifyErrno maps the errnos usbfs actually returns for CONTROL/BULK
// ioctls onto the small sentinel-error vocabulary the msc transport
// switches on. Errnos with no direct sentinel pass through unchanged, and
// callers fall back to the "other" branch of their status classification.
func classifyErrno(errno syscall.Errno) error {
	switch errno {
	case syscall.ETIMEDOUT:
		return ErrTimeout
	case syscall.EPIPE:
		return ErrPipe
	case syscall.EAGAIN:
		return ErrEAGAIN
	case syscall.EBUSY:
		return ErrDeviceBusy
	case syscall.ENODEV, syscall.ENOENT, syscall.ESHUTDOWN:
		return ErrNoDevice
	case syscall.EPROTO:
		return ErrJitter
	case syscall.EILSEQ:
		return ErrToggleMismatch
	default:
		return errno
	}
}
