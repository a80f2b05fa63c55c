package msc

// endpoint roles within a mass-storage interface, index-implicit.
const (
	roleControl = iota
	roleBulkIn
	roleBulkOut
	roleInterruptIn
	numRoles
)

// endpointEntry records a role's address and transfer characteristics.
// Data-toggle state itself lives in the kernel behind the usbfs facade;
// ClearHalt resets it there, so this table only needs to remember which
// address plays which role and the maximum packet size negotiated for it.
type endpointEntry struct {
	addr     uint8
	maxPkt   uint16
	attached bool
}

type endpointTable struct {
	entries [numRoles]endpointEntry
}

func (t *endpointTable) clearAll() {
	*t = endpointTable{}
	t.entries[roleControl].maxPkt = 8
}

func (t *endpointTable) set(role int, addr uint8, maxPkt uint16) {
	t.entries[role] = endpointEntry{addr: addr, maxPkt: maxPkt, attached: true}
}

func (t *endpointTable) bulkIn() uint8  { return t.entries[roleBulkIn].addr }
func (t *endpointTable) bulkOut() uint8 { return t.entries[roleBulkOut].addr }

func (t *endpointTable) foundCount() int {
	n := 0
	for _, e := range t.entries {
		if e.attached {
			n++
		}
	}
	return n
}

// classifyEndpoint reports which role, if any, an endpoint descriptor's
// attributes and address correspond to. attrs is the low two bits of the
// standard endpoint descriptor's bmAttributes field; isIn is the direction
// bit of bEndpointAddress.
func classifyEndpoint(attrs uint8, isIn bool) (role int, ok bool) {
	switch attrs & 0x03 {
	case 0x03: // interrupt
		if isIn {
			return roleInterruptIn, true
		}
	case 0x02: // bulk
		if isIn {
			return roleBulkIn, true
		}
		return roleBulkOut, true
	}
	return 0, false
}
