package msc

import (
	"encoding/binary"
	"testing"
	"time"

	usb "github.com/kevmo314/go-usb-msc"
)

// mockFacade is a scripted tape of a BBB device: it decodes the CBW on
// each bulk-OUT write, dispatches to a per-opcode handler, and answers
// the subsequent data and CSW phases according to the handler's verdict.
// It is deliberately not a general USB simulator; it understands exactly
// the phases the transport and scsi layers issue.
type mockFacade struct {
	t *testing.T

	// handlers maps a SCSI opcode to a canned response.
	handlers map[byte]func(cdb []byte, lun uint8) mockResponse

	pendingCSW []byte
	pendingIn  []byte // queued response for the next bulk-IN data read
	halted     map[uint8]bool

	clearHaltCalls  int
	resetCalls      int
	setConfigCalls  int
	claimIfaceCalls int

	maxLUN byte

	bulkIn  uint8
	bulkOut uint8

	// pendingCSWOverride, when non-zero, replaces the tag of the next
	// CSW handed back, simulating a bogus/mismatched status reply.
	pendingCSWOverride uint32

	// cswSignatureOverride, when non-zero, replaces the signature of the
	// next CSW handed back, simulating a CSW with a bogus signature.
	cswSignatureOverride uint32

	// stallNextDataPhase, when true, makes the next data-phase bulk
	// transfer fail with usb.ErrPipe (STALL) instead of completing.
	stallNextDataPhase bool

	// stallNextCommandPhase, when true, makes the next CBW send fail with
	// usb.ErrPipe (STALL) instead of being decoded.
	stallNextCommandPhase bool

	// toggleErrOnce, when true, makes the next CBW dispatch fail with
	// usb.ErrToggleMismatch instead of being decoded, simulating a data
	// toggle desync between host and device.
	toggleErrOnce bool
}

type mockResponse struct {
	data   []byte
	status uint8
}

func newMockFacade(t *testing.T) *mockFacade {
	return &mockFacade{
		t:        t,
		handlers: make(map[byte]func(cdb []byte, lun uint8) mockResponse),
		halted:   make(map[uint8]bool),
		bulkIn:   0x81,
		bulkOut:  0x02,
	}
}

func (m *mockFacade) on(opcode byte, h func(cdb []byte, lun uint8) mockResponse) {
	m.handlers[opcode] = h
}

func (m *mockFacade) ControlTransfer(requestType, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	switch request {
	case classGetMaxLUN:
		if len(data) > 0 {
			data[0] = m.maxLUN
			return 1, nil
		}
		return 0, nil
	case classBulkOnlyReset:
		m.resetCalls++
		return 0, nil
	}
	return 0, nil
}

func (m *mockFacade) BulkTransfer(endpoint uint8, data []byte, timeout time.Duration) (int, error) {
	return m.BulkTransferWithOptions(endpoint, data, timeout, false)
}

func (m *mockFacade) BulkTransferWithOptions(endpoint uint8, data []byte, timeout time.Duration, allowZeroLength bool) (int, error) {
	switch {
	case endpoint == m.bulkOut && len(data) == cbwLen:
		if m.stallNextCommandPhase {
			m.stallNextCommandPhase = false
			return 0, usb.ErrPipe
		}
		if m.toggleErrOnce {
			m.toggleErrOnce = false
			return 0, usb.ErrToggleMismatch
		}
		return m.handleCBW(data)
	case endpoint == m.bulkOut:
		if m.stallNextDataPhase {
			m.stallNextDataPhase = false
			return 0, usb.ErrPipe
		}
		return len(data), nil // OUT data phase, nothing to verify
	case endpoint == m.bulkIn && len(m.pendingCSW) == cswLen && len(data) == cswLen:
		copy(data, m.pendingCSW)
		m.pendingCSW = nil
		return cswLen, nil
	case endpoint == m.bulkIn:
		if m.stallNextDataPhase {
			m.stallNextDataPhase = false
			return 0, usb.ErrPipe
		}
		n := copy(data, m.pendingIn)
		return n, nil
	}
	return 0, nil
}

func (m *mockFacade) handleCBW(data []byte) (int, error) {
	tag := binary.LittleEndian.Uint32(data[4:8])
	lun := data[13] & 0x0f
	cdb := data[15:31]
	opcode := cdb[0]

	h, ok := m.handlers[opcode]
	status := uint8(cswStatusPassed)
	var respData []byte
	if ok {
		resp := h(cdb, lun)
		respData = resp.data
		status = resp.status
	} else {
		status = cswStatusFailed
	}

	m.pendingIn = respData

	if m.pendingCSWOverride != 0 {
		tag = m.pendingCSWOverride
		m.pendingCSWOverride = 0
	}

	sig := uint32(cswSignature)
	if m.cswSignatureOverride != 0 {
		sig = m.cswSignatureOverride
		m.cswSignatureOverride = 0
	}

	csw := make([]byte, cswLen)
	binary.LittleEndian.PutUint32(csw[0:4], sig)
	binary.LittleEndian.PutUint32(csw[4:8], tag)
	csw[12] = status
	m.pendingCSW = csw

	return cbwLen, nil
}

func (m *mockFacade) ClearHalt(endpoint uint8) error {
	m.clearHaltCalls++
	delete(m.halted, endpoint)
	return nil
}

func (m *mockFacade) ClaimInterface(iface uint8) error       { m.claimIfaceCalls++; return nil }
func (m *mockFacade) ReleaseInterface(iface uint8) error     { return nil }
func (m *mockFacade) SetInterfaceAltSetting(a, b uint8) error { return nil }
func (m *mockFacade) SetConfiguration(config int) error      { m.setConfigCalls++; return nil }
func (m *mockFacade) DetachKernelDriver(iface uint8) error   { return nil }
func (m *mockFacade) AttachKernelDriver(iface uint8) error   { return nil }

func (m *mockFacade) GetConfigDescriptorByValue(index uint8) (*usb.ConfigDescriptor, error) {
	return &usb.ConfigDescriptor{
		ConfigurationValue: 1,
		Interfaces: []usb.Interface{
			{AltSettings: []usb.InterfaceAltSetting{{
				InterfaceNumber:   0,
				InterfaceClass:    classMassStorage,
				InterfaceSubClass: subclassSCSI,
				InterfaceProtocol: protocolBBB,
				Endpoints: []usb.Endpoint{
					{EndpointAddr: 0x81, Attributes: 0x02, MaxPacketSize: 512}, // bulk IN
					{EndpointAddr: 0x02, Attributes: 0x02, MaxPacketSize: 512}, // bulk OUT
				},
			}}},
		},
	}, nil
}

// inquiryOK is a canned 36-byte INQUIRY response with a passed status.
func inquiryOK() mockResponse {
	return mockResponse{data: make([]byte, 36), status: cswStatusPassed}
}

func readCapacityOK(lastLBA, blockLen uint32) mockResponse {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint32(buf[0:4], lastLBA)
	binary.BigEndian.PutUint32(buf[4:8], blockLen)
	return mockResponse{data: buf, status: cswStatusPassed}
}

func modeSenseOK(writeProtected bool) mockResponse {
	buf := make([]byte, 192)
	if writeProtected {
		buf[2] = 0x80
	}
	return mockResponse{data: buf, status: cswStatusPassed}
}
