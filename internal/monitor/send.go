package monitor

import (
	"fmt"
	"io"

	"github.com/danmuck/btmon/internal/protocol"
	"github.com/rs/zerolog"
)

var nul = []byte{0}

// Segment is one buffer of a chained payload.
type Segment struct {
	Data []byte
	Next *Segment
}

// Chain links parts into a segment chain in order.
func Chain(parts ...[]byte) *Segment {
	var head *Segment
	for i := len(parts) - 1; i >= 0; i-- {
		head = &Segment{Data: parts[i], Next: head}
	}
	return head
}

func (s *Segment) Len() int {
	n := 0
	for seg := s; seg != nil; seg = seg.Next {
		n += len(seg.Data)
	}
	return n
}

func (m *Monitor) Send(op protocol.Opcode, payload []byte) {
	m.SendAt(AutoTimestamp, op, payload)
}

// SendAt is Send with an explicit microsecond timestamp; a negative ts means
// now.
func (m *Monitor) SendAt(ts int64, op protocol.Opcode, payload []byte) {
	m.emit(ts, op, len(payload), func() {
		m.write(payload)
	})
}

// SendChain writes each segment with its own sink write, in chain order.
func (m *Monitor) SendChain(op protocol.Opcode, chain *Segment) {
	m.emit(AutoTimestamp, op, chain.Len(), func() {
		for seg := chain; seg != nil; seg = seg.Next {
			m.write(seg.Data)
		}
	})
}

// NewIndex announces a primary controller.
func (m *Monitor) NewIndex(bus protocol.BusType, addr [protocol.AddrLen]byte, name string) {
	rec := protocol.EncodeNewIndex(protocol.NewIndex{
		Type: protocol.ControllerPrimary,
		Bus:  bus,
		Addr: addr,
		Name: name,
	})
	m.Send(protocol.OpNewIndex, rec[:])
}

// Priority maps a log level to the priority carried in user-logging packets.
func Priority(level zerolog.Level) uint8 {
	switch level {
	case zerolog.ErrorLevel:
		return protocol.PriorityError
	case zerolog.WarnLevel:
		return protocol.PriorityWarning
	case zerolog.InfoLevel:
		return protocol.PriorityInfo
	case zerolog.DebugLevel:
		return protocol.PriorityDebug
	default:
		return protocol.PriorityOther
	}
}

// Log sends a user-logging packet. The message is formatted twice: once to
// size the header, once straight into the sink under the emission lock.
func (m *Monitor) Log(level zerolog.Level, format string, args ...any) {
	var cw countingWriter
	fmt.Fprintf(&cw, format, args...)

	hdr := [protocol.UserLogHdrLen]byte{Priority(level), m.logHdr[1]}
	payloadLen := protocol.UserLogLen(m.ident, cw.n)

	m.emit(AutoTimestamp, protocol.OpUserLogging, payloadLen, func() {
		m.write(hdr[:])
		m.write(m.logHdr[protocol.UserLogHdrLen:])
		bw := boundedWriter{m: m, remaining: cw.n}
		fmt.Fprintf(&bw, format, args...)
		bw.pad()
		m.write(nul)
	})
}

// Out feeds one character of a system note. A line is sent when c is a
// newline or the buffer has one byte left for the terminator. In the second
// case c is kept as the first byte of the next line, unlike NimBLE's
// ble_monitor_out, which drops it.
func (m *Monitor) Out(c byte) {
	m.lineMu.Lock()
	defer m.lineMu.Unlock()
	if c != '\n' && len(m.line) < cap(m.line)-1 {
		m.line = append(m.line, c)
		return
	}
	m.sendLineLocked()
	if c != '\n' {
		m.line = append(m.line, c)
	}
}

// Flush sends a partially accumulated system-note line, if any.
func (m *Monitor) Flush() {
	m.lineMu.Lock()
	defer m.lineMu.Unlock()
	if len(m.line) > 0 {
		m.sendLineLocked()
	}
}

func (m *Monitor) sendLineLocked() {
	m.line = append(m.line, 0)
	m.Send(protocol.OpSystemNote, m.line)
	m.line = m.line[:0]
}

// NoteWriter returns an io.Writer that feeds every byte through Out.
func (m *Monitor) NoteWriter() io.Writer {
	return noteWriter{m: m}
}

type noteWriter struct{ m *Monitor }

func (w noteWriter) Write(p []byte) (int, error) {
	for _, c := range p {
		w.m.Out(c)
	}
	return len(p), nil
}

type countingWriter struct{ n int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

// boundedWriter keeps the second formatting pass to the length announced in
// the header, even if an argument renders differently the second time.
type boundedWriter struct {
	m         *Monitor
	remaining int
}

func (w *boundedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > w.remaining {
		p = p[:w.remaining]
	}
	w.m.write(p)
	w.remaining -= len(p)
	return n, nil
}

func (w *boundedWriter) pad() {
	for ; w.remaining > 0; w.remaining-- {
		w.m.write([]byte{' '})
	}
}
