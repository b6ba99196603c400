// Package rtt carries monitor frames over a fixed-capacity trace channel.
//
// Direct mode hands every write straight to the channel. Buffered mode
// reassembles the header and payload writes of one frame into a packet
// buffer and hands the channel the whole frame in a single Put, so frames
// from different producers can never interleave inside the channel. A frame
// larger than the packet buffer is discarded, and the cursor still advances
// through its bytes so the next frame starts aligned.
//
// Reassembly state is only touched by the emission lock holder, so the
// transport has no lock of its own.
package rtt

import (
	"errors"
	"io"

	"github.com/danmuck/btmon/internal/observability"
	"github.com/danmuck/btmon/internal/protocol/frame"
	"github.com/danmuck/btmon/internal/transport"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const (
	Name                    = "rtt"
	DefaultBufferSize       = 256
	DefaultPacketBufferSize = 256
	DefaultChannelName      = "monitor"
)

var (
	ErrNilChannel      = errors.New("rtt: nil channel")
	ErrPacketBufferLen = errors.New("rtt: packet buffer smaller than a frame header")
)

type Config struct {
	Buffered         bool
	PacketBufferSize int
	Logger           zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Buffered:         true,
		PacketBufferSize: DefaultPacketBufferSize,
		Logger:           zerolog.Nop(),
	}
}

type Transport struct {
	ch     Channel
	logger zerolog.Logger

	buffered bool
	pkt      []byte
	pos      int
	want     int
	haveWant bool
	discard  bool

	bytes   atomic.Uint64
	frames  atomic.Uint64
	dropped atomic.Uint64
	skipped atomic.Uint64
}

func New(ch Channel, cfg Config) (*Transport, error) {
	if ch == nil {
		return nil, ErrNilChannel
	}
	t := &Transport{
		ch:       ch,
		logger:   cfg.Logger.With().Str("component", "rtt").Logger(),
		buffered: cfg.Buffered,
	}
	if cfg.Buffered {
		if cfg.PacketBufferSize < frame.HeaderLen {
			return nil, ErrPacketBufferLen
		}
		t.pkt = make([]byte, cfg.PacketBufferSize)
	}
	return t, nil
}

// Open allocates an up-buffer on cb and wraps it. Buffered transports use a
// skipping channel, direct ones a blocking channel.
func Open(cb *ControlBlock, name string, size int, cfg Config) (*Transport, *UpBuffer, error) {
	mode := ModeBlockIfFull
	if cfg.Buffered {
		mode = ModeNoBlockSkip
	}
	up, err := cb.AllocUpBuffer(name, size, mode)
	if err != nil {
		return nil, nil, err
	}
	t, err := New(up, cfg)
	if err != nil {
		return nil, nil, err
	}
	return t, up, nil
}

func (t *Transport) Write(p []byte) (int, error) {
	t.bytes.Add(uint64(len(p)))
	observability.RecordTransportBytes(Name, len(p))
	if !t.buffered {
		t.put(p)
		return len(p), nil
	}
	t.accumulate(p)
	return len(p), nil
}

func (t *Transport) accumulate(p []byte) {
	if t.pos == 0 {
		t.want, t.haveWant = frame.DeclaredSize(p)
		t.discard = t.haveWant && t.want > len(t.pkt)
	}
	if t.pos+len(p) > len(t.pkt) {
		t.discard = true
	}
	if !t.discard {
		copy(t.pkt[t.pos:], p)
	}
	t.pos += len(p)

	if !t.haveWant && !t.discard {
		t.want, t.haveWant = frame.DeclaredSize(t.pkt[:t.pos])
	}
	if !t.haveWant || t.pos < t.want {
		return
	}

	if t.discard {
		t.dropped.Inc()
		observability.RecordFrameDropped(Name)
		t.logger.Debug().Int("frame_len", t.want).Int("capacity", len(t.pkt)).Msg("frame exceeds packet buffer, dropped")
	} else {
		t.put(t.pkt[:t.pos])
		t.frames.Inc()
	}
	t.pos = 0
	t.want = 0
	t.haveWant = false
	t.discard = false
}

func (t *Transport) put(p []byte) {
	if len(p) == 0 {
		return
	}
	if n := t.ch.Put(p); n < len(p) {
		t.skipped.Add(uint64(len(p) - n))
		observability.RecordChannelSkipped(Name, len(p)-n)
	}
}

// Dropped counts frames discarded for exceeding the packet buffer.
func (t *Transport) Dropped() uint64 {
	return t.dropped.Load()
}

// Flushed counts frames handed to the channel in buffered mode.
func (t *Transport) Flushed() uint64 {
	return t.frames.Load()
}

// Skipped counts bytes the channel refused.
func (t *Transport) Skipped() uint64 {
	return t.skipped.Load()
}

// Pending reports bytes of a partially reassembled frame.
func (t *Transport) Pending() int {
	return t.pos
}

func (t *Transport) Stats() transport.Stats {
	return transport.Stats{
		Transport: Name,
		Bytes:     t.bytes.Load(),
		Frames:    t.frames.Load(),
		Dropped:   t.dropped.Load(),
		Skipped:   t.skipped.Load(),
	}
}

// Close closes the channel when it is closable.
func (t *Transport) Close() error {
	if c, ok := t.ch.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
