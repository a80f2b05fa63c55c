package usb

import (
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"unsafe"
)

const (
	USBDEVFS_CONTROL          = 0xc0185500
	USBDEVFS_BULK             = 0xc0185502
	USBDEVFS_CLAIMINTERFACE   = 0x8004550f
	USBDEVFS_RELEASEINTERFACE = 0x80045510
	USBDEVFS_SETINTERFACE     = 0x80085504
	USBDEVFS_CLEAR_HALT       = 0x80045515
	USBDEVFS_RESETEP          = 0x80045503
	USBDEVFS_SETCONFIGURATION = 0x80045505
	USBDEVFS_DISCONNECT       = 0x00005516
	USBDEVFS_CONNECT          = 0x00005517
	USBDEVFS_DISCONNECT_CLAIM = 0x8108551b
	USBDEVFS_RESET            = 0x00005514
)

// Device represents a USB device discovered on the host, as opposed to an
// open handle to it.
type Device struct {
	Path         string
	Bus          uint8
	Address      uint8
	Descriptor   DeviceDescriptor
	sysfsStrings *SysfsStrings

	handle *DeviceHandle
	mu     sync.RWMutex
}

// SysfsStrings holds cached sysfs string descriptors, since reading them
// through sysfs is far cheaper than a control transfer during enumeration.
type SysfsStrings struct {
	Manufacturer string
	Product      string
	Serial       string
}

// DeviceHandle is an open usbfs file descriptor plus the bookkeeping needed
// to claim interfaces and issue transfers against it.
type DeviceHandle struct {
	device        *Device
	fd            int
	claimedIfaces map[uint8]bool
	mu            sync.RWMutex
	closed        bool
}

func (d *Device) Open() (*DeviceHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handle != nil && !d.handle.closed {
		return nil, ErrDeviceBusy
	}

	fd, err := syscall.Open(d.Path, syscall.O_RDWR, 0)
	if err != nil {
		if err == syscall.EACCES {
			return nil, ErrPermissionDenied
		}
		return nil, fmt.Errorf("open device: %w", err)
	}

	handle := &DeviceHandle{
		device:        d,
		fd:            fd,
		claimedIfaces: make(map[uint8]bool),
	}

	d.handle = handle
	return handle, nil
}

func (h *DeviceHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}

	for iface := range h.claimedIfaces {
		h.releaseInterfaceInternal(iface)
	}

	err := syscall.Close(h.fd)
	h.closed = true
	h.device.handle = nil

	return err
}

func (h *DeviceHandle) GetDescriptor() DeviceDescriptor {
	return h.device.Descriptor
}

func (h *DeviceHandle) GetDevice() *Device {
	return h.device
}

func (h *DeviceHandle) GetConfiguration() (int, error) {
	buf := make([]byte, 1)

	ctrl := usbCtrlRequest{
		RequestType: 0x80,
		Request:     USB_REQ_GET_CONFIGURATION,
		Length:      uint16(len(buf)),
		Data:        unsafe.Pointer(&buf[0]),
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CONTROL, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return 0, errno
	}

	return int(buf[0]), nil
}

func (h *DeviceHandle) SetConfiguration(config int) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	cfg := uint32(config)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_SETCONFIGURATION, uintptr(unsafe.Pointer(&cfg)))
	if errno != 0 {
		return errno
	}

	return nil
}

// GetConfigDescriptorByValue fetches and parses the configuration descriptor
// with the given wValue index (0-based, per USBDEVFS_CONTROL semantics).
func (h *DeviceHandle) GetConfigDescriptorByValue(index uint8) (*ConfigDescriptor, error) {
	data, err := h.GetRawConfigDescriptor(index)
	if err != nil {
		return nil, err
	}

	config := &ConfigDescriptor{}
	if err := config.Unmarshal(data); err != nil {
		return nil, err
	}
	return config, nil
}

// GetRawConfigDescriptor fetches the raw bytes of a configuration
// descriptor, first reading the 9-byte header to learn wTotalLength.
func (h *DeviceHandle) GetRawConfigDescriptor(index uint8) ([]byte, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return nil, ErrDeviceNotFound
	}

	buf := make([]byte, 9)
	ctrl := usbCtrlRequest{
		RequestType: 0x80,
		Request:     USB_REQ_GET_DESCRIPTOR,
		Value:       (USB_DT_CONFIG << 8) | uint16(index),
		Length:      9,
		Data:        unsafe.Pointer(&buf[0]),
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CONTROL, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return nil, fmt.Errorf("get config descriptor header: %w", errno)
	}

	totalLength := binary.LittleEndian.Uint16(buf[2:4])

	fullBuf := make([]byte, totalLength)
	ctrl.Length = totalLength
	ctrl.Data = unsafe.Pointer(&fullBuf[0])

	_, _, errno = syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CONTROL, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return nil, fmt.Errorf("get full config descriptor: %w", errno)
	}

	return fullBuf, nil
}

func (h *DeviceHandle) ClaimInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	if h.claimedIfaces[iface] {
		return nil
	}

	ifaceNum := uint32(iface)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CLAIMINTERFACE, uintptr(unsafe.Pointer(&ifaceNum)))
	if errno != 0 {
		if errno == syscall.EBUSY {
			return ErrDeviceBusy
		}
		return errno
	}

	h.claimedIfaces[iface] = true
	return nil
}

func (h *DeviceHandle) ReleaseInterface(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	return h.releaseInterfaceInternal(iface)
}

func (h *DeviceHandle) releaseInterfaceInternal(iface uint8) error {
	if !h.claimedIfaces[iface] {
		return nil
	}

	ifaceNum := uint32(iface)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_RELEASEINTERFACE, uintptr(unsafe.Pointer(&ifaceNum)))
	if errno != 0 {
		return errno
	}

	delete(h.claimedIfaces, iface)
	return nil
}

func (h *DeviceHandle) SetInterfaceAltSetting(iface uint8, altSetting uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	if !h.claimedIfaces[iface] {
		return fmt.Errorf("interface %d not claimed", iface)
	}

	setIface := struct {
		Interface  uint32
		AltSetting uint32
	}{
		Interface:  uint32(iface),
		AltSetting: uint32(altSetting),
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_SETINTERFACE, uintptr(unsafe.Pointer(&setIface)))
	if errno != 0 {
		return errno
	}

	return nil
}

func (h *DeviceHandle) ClearHalt(endpoint uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	ep := uint32(endpoint)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CLEAR_HALT, uintptr(unsafe.Pointer(&ep)))
	if errno != 0 {
		return errno
	}

	return nil
}

// ResetPort issues USBDEVFS_RESET, a full port reset. Slower and more
// disruptive than ClearHalt. Nothing in this module calls it: the msc
// package's bulk-only reset recovery (transport.go) uses the
// class-specific reset request and ClearHalt instead.
func (h *DeviceHandle) ResetPort() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_RESET, 0)
	if errno != 0 {
		return errno
	}
	h.claimedIfaces = make(map[uint8]bool)
	return nil
}

func (h *DeviceHandle) DetachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	disconnectIface := struct {
		Interface uint32
		Flags     uint32
		Driver    [256]int8
	}{
		Interface: uint32(iface),
		Flags:     0x01, // USBDEVFS_DISCONNECT_CLAIM_IF_DRIVER
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_DISCONNECT_CLAIM, uintptr(unsafe.Pointer(&disconnectIface)))
	if errno == 0 {
		return nil
	}

	ifaceNum := uint32(iface)
	_, _, errno = syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_DISCONNECT, uintptr(unsafe.Pointer(&ifaceNum)))
	if errno != 0 {
		if errno == syscall.ENODATA || errno == syscall.ENOENT {
			return nil
		}
		if errno == syscall.ENOTTY {
			return fmt.Errorf("device does not support driver detachment")
		}
		return errno
	}

	return nil
}

func (h *DeviceHandle) AttachKernelDriver(iface uint8) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrDeviceNotFound
	}

	ifaceNum := uint32(iface)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CONNECT, uintptr(unsafe.Pointer(&ifaceNum)))
	if errno != 0 {
		if errno == syscall.ENODATA || errno == syscall.EBUSY {
			return nil
		}
		return errno
	}

	return nil
}

func (h *DeviceHandle) GetStringDescriptor(index uint8) (string, error) {
	if index == 0 {
		return "", nil
	}

	buf := make([]byte, 256)

	ctrl := usbCtrlRequest{
		RequestType: 0x80,
		Request:     USB_REQ_GET_DESCRIPTOR,
		Value:       (USB_DT_STRING << 8) | uint16(index),
		Index:       0x0409, // US English
		Length:      uint16(len(buf)),
		Data:        unsafe.Pointer(&buf[0]),
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(h.fd), USBDEVFS_CONTROL, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return "", errno
	}

	if buf[0] < 2 {
		return "", fmt.Errorf("invalid string descriptor")
	}

	length := int(buf[0])
	if length > len(buf) {
		length = len(buf)
	}

	result := make([]uint16, 0, (length-2)/2)
	for i := 2; i+1 < length; i += 2 {
		result = append(result, binary.LittleEndian.Uint16(buf[i:i+2]))
	}

	return string(utf16ToRunes(result)), nil
}

func utf16ToRunes(u16 []uint16) []rune {
	runes := make([]rune, 0, len(u16))
	for _, v := range u16 {
		if v == 0 {
			break
		}
		runes = append(runes, rune(v))
	}
	return runes
}

type usbCtrlRequest struct {
	RequestType uint8
	Request     uint8
	Value       uint16
	Index       uint16
	Length      uint16
	Timeout     uint32
	Data        unsafe.Pointer
}

// WrapSysDevice creates a Device and DeviceHandle from an already-open file
// descriptor, e.g. one handed to the process by a udev-managed privilege
// broker. The handle takes ownership of fd.
func WrapSysDevice(fd int) (*DeviceHandle, error) {
	if fd < 0 {
		return nil, fmt.Errorf("invalid file descriptor: %d", fd)
	}

	device := &Device{
		Path: fmt.Sprintf("<fd:%d>", fd),
	}

	buf := make([]byte, 18)
	ctrl := usbCtrlRequest{
		RequestType: 0x80,
		Request:     USB_REQ_GET_DESCRIPTOR,
		Value:       USB_DT_DEVICE << 8,
		Length:      18,
		Data:        unsafe.Pointer(&buf[0]),
	}

	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, uintptr(fd), USBDEVFS_CONTROL, uintptr(unsafe.Pointer(&ctrl)))
	if errno != 0 {
		return nil, fmt.Errorf("read device descriptor: %w", errno)
	}

	device.Descriptor = DeviceDescriptor{
		Length:            buf[0],
		DescriptorType:    buf[1],
		USBVersion:        binary.LittleEndian.Uint16(buf[2:4]),
		DeviceClass:       buf[4],
		DeviceSubClass:    buf[5],
		DeviceProtocol:    buf[6],
		MaxPacketSize0:    buf[7],
		VendorID:          binary.LittleEndian.Uint16(buf[8:10]),
		ProductID:         binary.LittleEndian.Uint16(buf[10:12]),
		DeviceVersion:     binary.LittleEndian.Uint16(buf[12:14]),
		ManufacturerIndex: buf[14],
		ProductIndex:      buf[15],
		SerialNumberIndex: buf[16],
		NumConfigurations: buf[17],
	}

	fdPath := fmt.Sprintf("/proc/self/fd/%d", fd)
	if devicePath, err := os.Readlink(fdPath); err == nil {
		if strings.HasPrefix(devicePath, "/dev/bus/usb/") {
			parts := strings.Split(devicePath, "/")
			if len(parts) >= 2 {
				if busNum, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
					device.Bus = uint8(busNum)
				}
				if addrNum, err := strconv.Atoi(parts[len(parts)-1]); err == nil {
					device.Address = uint8(addrNum)
				}
				device.Path = devicePath
			}
		}
	}

	handle := &DeviceHandle{
		device:        device,
		fd:            fd,
		claimedIfaces: make(map[uint8]bool),
	}

	device.handle = handle

	return handle, nil
}
