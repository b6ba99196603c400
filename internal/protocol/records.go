package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

const (
	AddrLen        = 6
	IndexNameLen   = 8
	NewIndexLen    = 2 + AddrLen + IndexNameLen
	UserLogHdrLen  = 2
	MaxIdentLen    = 254
	DefaultIdent   = "nimble"
	DefaultLineLen = 128
)

// NewIndex announces a controller to the capture tool.
type NewIndex struct {
	Type uint8
	Bus  BusType
	Addr [AddrLen]byte
	Name string
}

// EncodeNewIndex lays out a new-index record. The name is truncated to
// IndexNameLen-1 bytes and always null-terminated; shorter names are null-padded.
func EncodeNewIndex(rec NewIndex) [NewIndexLen]byte {
	var buf [NewIndexLen]byte
	buf[0] = rec.Type
	buf[1] = uint8(rec.Bus)
	copy(buf[2:2+AddrLen], rec.Addr[:])
	name := buf[2+AddrLen:]
	n := copy(name[:IndexNameLen-1], rec.Name)
	if i := bytes.IndexByte(name[:n], 0); i >= 0 {
		clear(name[i:n])
	}
	name[IndexNameLen-1] = 0
	return buf
}

func DecodeNewIndex(payload []byte) (NewIndex, error) {
	if len(payload) != NewIndexLen {
		return NewIndex{}, fmt.Errorf("%w: new index record is %d bytes", ErrInvalidLength, len(payload))
	}
	rec := NewIndex{Type: payload[0], Bus: BusType(payload[1])}
	copy(rec.Addr[:], payload[2:2+AddrLen])
	name := payload[2+AddrLen:]
	end := bytes.IndexByte(name, 0)
	if end < 0 {
		return NewIndex{}, ErrNotTerminated
	}
	rec.Name = string(name[:end])
	return rec, nil
}

// UserLogging is one decoded user-logging payload.
type UserLogging struct {
	Priority uint8
	Ident    string
	Message  string
}

// AppendUserLogHeader appends the priority, ident length, and null-terminated
// ident that precede the message bytes of a user-logging payload.
func AppendUserLogHeader(dst []byte, priority uint8, ident string) ([]byte, error) {
	if len(ident) > MaxIdentLen {
		return dst, ErrIdentTooLong
	}
	dst = append(dst, priority, uint8(len(ident)+1))
	dst = append(dst, ident...)
	return append(dst, 0), nil
}

// UserLogLen is the payload length of a user-logging packet carrying a message
// of msgLen bytes, including the message terminator.
func UserLogLen(ident string, msgLen int) int {
	return UserLogHdrLen + len(ident) + 1 + msgLen + 1
}

func DecodeUserLogging(payload []byte) (UserLogging, error) {
	if len(payload) < UserLogHdrLen {
		return UserLogging{}, ErrTruncated
	}
	rec := UserLogging{Priority: payload[0]}
	identLen := int(payload[1])
	rest := payload[UserLogHdrLen:]
	if len(rest) < identLen {
		return UserLogging{}, ErrTruncated
	}
	if identLen > 0 {
		if rest[identLen-1] != 0 {
			return UserLogging{}, ErrNotTerminated
		}
		rec.Ident = string(rest[:identLen-1])
	}
	msg := rest[identLen:]
	if len(msg) == 0 || msg[len(msg)-1] != 0 {
		return UserLogging{}, ErrNotTerminated
	}
	rec.Message = string(msg[:len(msg)-1])
	return rec, nil
}

// DecodeSystemNote strips the terminator from a system-note payload.
func DecodeSystemNote(payload []byte) (string, error) {
	if len(payload) == 0 || payload[len(payload)-1] != 0 {
		return "", ErrNotTerminated
	}
	return string(payload[:len(payload)-1]), nil
}

// ParseAddr reads a device address written most significant byte first
// ("C0:FF:EE:00:11:22") and returns it in wire order, least significant byte
// first.
func ParseAddr(s string) ([AddrLen]byte, error) {
	var addr [AddrLen]byte
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != AddrLen {
		return addr, fmt.Errorf("%w: %q", ErrBadAddr, s)
	}
	for i, part := range parts {
		if len(part) != 2 {
			return addr, fmt.Errorf("%w: %q", ErrBadAddr, s)
		}
		v, err := strconv.ParseUint(part, 16, 8)
		if err != nil {
			return addr, fmt.Errorf("%w: %q", ErrBadAddr, s)
		}
		addr[AddrLen-1-i] = byte(v)
	}
	return addr, nil
}

// FormatAddr is the inverse of ParseAddr.
func FormatAddr(addr [AddrLen]byte) string {
	var b strings.Builder
	for i := AddrLen - 1; i >= 0; i-- {
		fmt.Fprintf(&b, "%02X", addr[i])
		if i > 0 {
			b.WriteByte(':')
		}
	}
	return b.String()
}
