package protocol

import (
	"fmt"
	"strings"
)

// Opcode identifies the payload kind of one monitor packet.
type Opcode uint16

const (
	OpNewIndex    Opcode = 0x0000
	OpDelIndex    Opcode = 0x0001
	OpCommandPkt  Opcode = 0x0002
	OpEventPkt    Opcode = 0x0003
	OpACLTxPkt    Opcode = 0x0004
	OpACLRxPkt    Opcode = 0x0005
	OpSCOTxPkt    Opcode = 0x0006
	OpSCORxPkt    Opcode = 0x0007
	OpOpenIndex   Opcode = 0x0008
	OpCloseIndex  Opcode = 0x0009
	OpIndexInfo   Opcode = 0x000A
	OpVendorDiag  Opcode = 0x000B
	OpSystemNote  Opcode = 0x000C
	OpUserLogging Opcode = 0x000D
	OpISOTxPkt    Opcode = 0x0012
	OpISORxPkt    Opcode = 0x0013
)

var opcodeNames = map[Opcode]string{
	OpNewIndex:    "new_index",
	OpDelIndex:    "del_index",
	OpCommandPkt:  "command",
	OpEventPkt:    "event",
	OpACLTxPkt:    "acl_tx",
	OpACLRxPkt:    "acl_rx",
	OpSCOTxPkt:    "sco_tx",
	OpSCORxPkt:    "sco_rx",
	OpOpenIndex:   "open_index",
	OpCloseIndex:  "close_index",
	OpIndexInfo:   "index_info",
	OpVendorDiag:  "vendor_diag",
	OpSystemNote:  "system_note",
	OpUserLogging: "user_logging",
	OpISOTxPkt:    "iso_tx",
	OpISORxPkt:    "iso_rx",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode_0x%04x", uint16(o))
}

// ExtType tags one entry of the extended header block.
type ExtType uint8

const (
	ExtCommandDrops ExtType = 1
	ExtEventDrops   ExtType = 2
	ExtACLTxDrops   ExtType = 3
	ExtACLRxDrops   ExtType = 4
	ExtSCOTxDrops   ExtType = 5
	ExtSCORxDrops   ExtType = 6
	ExtOtherDrops   ExtType = 7
	ExtTS32         ExtType = 8
)

// BusType is the controller bus reported in a new-index record.
type BusType uint8

const (
	BusVirtual BusType = 0
	BusUSB     BusType = 1
	BusPCCard  BusType = 2
	BusUART    BusType = 3
	BusRS232   BusType = 4
	BusPCI     BusType = 5
	BusSDIO    BusType = 6
	BusSPI     BusType = 7
	BusI2C     BusType = 8
	BusSMD     BusType = 9
	BusVirtIO  BusType = 10
)

var busNames = map[BusType]string{
	BusVirtual: "virtual",
	BusUSB:     "usb",
	BusPCCard:  "pccard",
	BusUART:    "uart",
	BusRS232:   "rs232",
	BusPCI:     "pci",
	BusSDIO:    "sdio",
	BusSPI:     "spi",
	BusI2C:     "i2c",
	BusSMD:     "smd",
	BusVirtIO:  "virtio",
}

func (b BusType) String() string {
	if name, ok := busNames[b]; ok {
		return name
	}
	return fmt.Sprintf("bus_%d", uint8(b))
}

// ParseBusType accepts the lower-case bus names returned by String.
func ParseBusType(s string) (BusType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for bus, name := range busNames {
		if name == s {
			return bus, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownBus, s)
}

// Controller types carried in a new-index record.
const (
	ControllerPrimary uint8 = 0
	ControllerAMP     uint8 = 1
)

// Syslog style priorities carried in a user-logging record.
const (
	PriorityError   uint8 = 3
	PriorityWarning uint8 = 4
	PriorityInfo    uint8 = 6
	PriorityDebug   uint8 = 7
	PriorityOther   uint8 = 8
)
