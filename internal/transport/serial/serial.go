// Package serial carries monitor frames over a ring buffer drained by an
// asynchronous transmitter, the way a UART TX interrupt pulls bytes one at a
// time.
//
// Backpressure contract: when the ring is full the producer prompts the
// transmitter and yields, then retries, until a slot frees up. It never
// sleeps and never drops a byte, because a lost byte mid-frame breaks the
// receiver's framing. The transmitter side never blocks.
package serial

import (
	"errors"
	"io"
	"runtime"

	"github.com/danmuck/btmon/internal/observability"
	"github.com/danmuck/btmon/internal/ringbuf"
	"github.com/danmuck/btmon/internal/transport"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

var ErrClosed = errors.New("serial: transport closed")

const (
	Name            = "serial"
	DefaultRingSize = 64
)

// Transmitter is the consumer side of the line.
type Transmitter interface {
	// StartTx asks the transmitter to start or continue draining. It must not block.
	StartTx()
}

// Transport is the ring-buffered serial byte sink. Write is not safe for
// concurrent use; the monitor serializes producers.
type Transport struct {
	ring   *ringbuf.Ring
	tx     Transmitter
	pump   *Pump
	line   io.Writer
	closed atomic.Bool
	bytes  atomic.Uint64
	stalls atomic.Uint64
}

func New(size int, tx Transmitter) (*Transport, error) {
	ring, err := ringbuf.New(size)
	if err != nil {
		return nil, err
	}
	return &Transport{ring: ring, tx: tx}, nil
}

// Open builds a transport whose ring is drained into line by a Pump goroutine.
func Open(line io.Writer, size int, logger zerolog.Logger) (*Transport, error) {
	pump := NewPump(line, logger)
	t, err := New(size, pump)
	if err != nil {
		return nil, err
	}
	t.pump = pump
	t.line = line
	go pump.Run(t)
	return t, nil
}

// Write queues p and returns how many bytes were queued. It only falls short,
// with ErrClosed, when the transport is closed while the ring is full.
func (t *Transport) Write(p []byte) (int, error) {
	n := 0
	for _, b := range p {
		if !t.queue(b) {
			break
		}
		n++
	}
	// Start draining even if the ring never filled up.
	t.tx.StartTx()
	t.bytes.Add(uint64(n))
	observability.RecordTransportBytes(Name, n)
	if n < len(p) {
		return n, ErrClosed
	}
	return n, nil
}

func (t *Transport) queue(b byte) bool {
	if t.ring.Push(b) {
		return true
	}
	t.stalls.Inc()
	observability.RecordRingStall()
	for !t.ring.Push(b) {
		if t.closed.Load() {
			return false
		}
		t.tx.StartTx()
		runtime.Gosched()
	}
	return true
}

// NextByte hands the transmitter the oldest queued byte. It never blocks.
func (t *Transport) NextByte() (byte, bool) {
	return t.ring.Pop()
}

// Drain moves up to len(p) queued bytes into p. It never blocks.
func (t *Transport) Drain(p []byte) int {
	return t.ring.PopInto(p)
}

func (t *Transport) Buffered() int {
	return t.ring.Len()
}

func (t *Transport) Stats() transport.Stats {
	return transport.Stats{
		Transport: Name,
		Bytes:     t.bytes.Load(),
		Stalls:    t.stalls.Load(),
	}
}

// Close flushes what is queued, stops the pump, and closes the line when it
// is closable. Writes after Close stop waiting on a full ring.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	var err error
	if t.pump != nil {
		err = multierr.Append(err, t.pump.Stop())
	}
	if c, ok := t.line.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}
