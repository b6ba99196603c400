package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/btmon/internal/protocol"
	"github.com/danmuck/btmon/internal/protocol/exthdr"
)

const (
	LenFieldLen    = 2
	FixedHeaderLen = 6
	ExtHeaderLen   = exthdr.TS32Len
	HeaderLen      = FixedHeaderLen + ExtHeaderLen
	MaxPayloadLen  = 0xFFFF - (FixedHeaderLen - LenFieldLen) - ExtHeaderLen
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrHeaderLenTooSmall = errors.New("frame: data_len smaller than headers")
	ErrTruncated         = errors.New("frame: truncated frame")
)

// Header is the fixed wire header followed by its TS32 extended entry.
type Header struct {
	DataLen uint16
	Opcode  protocol.Opcode
	Flags   uint8
	HdrLen  uint8
	TS32    uint32
}

// Frame is one complete monitor packet.
type Frame struct {
	Header  Header
	Ext     []exthdr.Entry
	Payload []byte
}

// FrameLen is the data_len value for a frame: everything after the length
// field itself.
func FrameLen(hdrLen uint8, payloadLen int) uint16 {
	return uint16(FixedHeaderLen - LenFieldLen + int(hdrLen) + payloadLen)
}

// TS32 reduces a microsecond timestamp to the 100us ticks carried on the wire.
func TS32(tsMicros uint64) uint32 {
	return uint32(tsMicros / 100)
}

// NewHeader builds the header for a payload of payloadLen bytes. payloadLen
// must not exceed MaxPayloadLen.
func NewHeader(tsMicros uint64, op protocol.Opcode, payloadLen int) Header {
	return Header{
		DataLen: FrameLen(ExtHeaderLen, payloadLen),
		Opcode:  op,
		Flags:   0,
		HdrLen:  ExtHeaderLen,
		TS32:    TS32(tsMicros),
	}
}

func (h Header) PayloadLen() int {
	return int(h.DataLen) - (FixedHeaderLen - LenFieldLen) - int(h.HdrLen)
}

// Size is the number of bytes the whole frame occupies on the wire.
func (h Header) Size() int {
	return LenFieldLen + int(h.DataLen)
}

// DeclaredSize reads the data_len prefix of a buffered frame and returns the
// frame's total wire size.
func DeclaredSize(b []byte) (int, bool) {
	if len(b) < LenFieldLen {
		return 0, false
	}
	return LenFieldLen + int(binary.LittleEndian.Uint16(b[0:2])), true
}

func EncodeHeader(h Header) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen), h)
}

func AppendHeader(dst []byte, h Header) []byte {
	dst = binary.LittleEndian.AppendUint16(dst, h.DataLen)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(h.Opcode))
	dst = append(dst, h.Flags, h.HdrLen)
	return exthdr.AppendTS32(dst, h.TS32)
}

// DecodeHeader decodes the fixed header and extended block at the start of b.
func DecodeHeader(b []byte) (Header, []exthdr.Entry, error) {
	if len(b) < FixedHeaderLen {
		return Header{}, nil, ErrShortHeader
	}
	h := Header{
		DataLen: binary.LittleEndian.Uint16(b[0:2]),
		Opcode:  protocol.Opcode(binary.LittleEndian.Uint16(b[2:4])),
		Flags:   b[4],
		HdrLen:  b[5],
	}
	if h.PayloadLen() < 0 {
		return Header{}, nil, ErrHeaderLenTooSmall
	}
	if len(b) < FixedHeaderLen+int(h.HdrLen) {
		return Header{}, nil, ErrTruncated
	}
	entries, err := exthdr.Decode(b[FixedHeaderLen : FixedHeaderLen+int(h.HdrLen)])
	if err != nil {
		return Header{}, nil, fmt.Errorf("frame: extended header: %w", err)
	}
	if ts, ok := exthdr.Get(entries, protocol.ExtTS32); ok {
		h.TS32 = ts.Value
	}
	return h, entries, nil
}

func ReadFrame(r io.Reader) (Frame, error) {
	var prefix [LenFieldLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}
	size, _ := DeclaredSize(prefix[:])
	if size < FixedHeaderLen {
		return Frame{}, ErrHeaderLenTooSmall
	}

	buf := make([]byte, size)
	copy(buf, prefix[:])
	if _, err := io.ReadFull(r, buf[LenFieldLen:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return Frame{}, ErrTruncated
		}
		return Frame{}, err
	}

	h, entries, err := DecodeHeader(buf)
	if err != nil {
		return Frame{}, err
	}
	return Frame{
		Header:  h,
		Ext:     entries,
		Payload: buf[FixedHeaderLen+int(h.HdrLen):],
	}, nil
}

// WriteFrame writes the header and payload as two separate writes, the same
// split the monitor emitter uses.
func WriteFrame(w io.Writer, f Frame) error {
	h := f.Header
	h.HdrLen = ExtHeaderLen
	h.DataLen = FrameLen(h.HdrLen, len(f.Payload))
	if _, err := w.Write(EncodeHeader(h)); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}
