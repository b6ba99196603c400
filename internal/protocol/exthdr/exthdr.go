package exthdr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/danmuck/btmon/internal/protocol"
)

const TS32Len = 1 + 4

var (
	ErrShortEntry   = errors.New("exthdr: short entry value")
	ErrUnknownEntry = errors.New("exthdr: unknown entry type")
)

// Entry is one decoded extended header entry. Drop counters carry one byte,
// timestamps four.
type Entry struct {
	Type  protocol.ExtType
	Value uint32
}

// ValueLen returns the fixed value width for an entry type.
func ValueLen(t protocol.ExtType) (int, bool) {
	switch t {
	case protocol.ExtCommandDrops, protocol.ExtEventDrops,
		protocol.ExtACLTxDrops, protocol.ExtACLRxDrops,
		protocol.ExtSCOTxDrops, protocol.ExtSCORxDrops,
		protocol.ExtOtherDrops:
		return 1, true
	case protocol.ExtTS32:
		return 4, true
	default:
		return 0, false
	}
}

func AppendTS32(dst []byte, ts32 uint32) []byte {
	dst = append(dst, uint8(protocol.ExtTS32))
	return binary.LittleEndian.AppendUint32(dst, ts32)
}

func AppendEntry(dst []byte, e Entry) ([]byte, error) {
	n, ok := ValueLen(e.Type)
	if !ok {
		return dst, fmt.Errorf("%w: %d", ErrUnknownEntry, e.Type)
	}
	dst = append(dst, uint8(e.Type))
	if n == 1 {
		return append(dst, uint8(e.Value)), nil
	}
	return binary.LittleEndian.AppendUint32(dst, e.Value), nil
}

func Decode(block []byte) ([]Entry, error) {
	entries := make([]Entry, 0, 1)
	i := 0
	for i < len(block) {
		t := protocol.ExtType(block[i])
		n, ok := ValueLen(t)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownEntry, t)
		}
		i++
		if len(block)-i < n {
			return nil, ErrShortEntry
		}
		var v uint32
		if n == 1 {
			v = uint32(block[i])
		} else {
			v = binary.LittleEndian.Uint32(block[i : i+n])
		}
		i += n
		entries = append(entries, Entry{Type: t, Value: v})
	}
	return entries, nil
}

func Get(entries []Entry, t protocol.ExtType) (Entry, bool) {
	for _, e := range entries {
		if e.Type == t {
			return e, true
		}
	}
	return Entry{}, false
}
