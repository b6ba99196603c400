package serial

import (
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

const pumpChunk = 64

// Drainer is the non-blocking consumer view of a transport.
type Drainer interface {
	Drain(p []byte) int
}

// Pump stands in for the transmit interrupt. StartTx wakes it; it then moves
// bytes from the ring to the line until the ring is empty.
type Pump struct {
	line    io.Writer
	logger  zerolog.Logger
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	errs    atomic.Uint64
	lastErr atomic.Error
}

func NewPump(line io.Writer, logger zerolog.Logger) *Pump {
	return &Pump{
		line:    line,
		logger:  logger.With().Str("component", "serial_pump").Logger(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// StartTx never blocks; repeated calls before the pump runs collapse into one.
func (p *Pump) StartTx() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run drains src until Stop is called. It flushes whatever is still queued
// before returning.
func (p *Pump) Run(src Drainer) {
	defer close(p.stopped)
	buf := make([]byte, pumpChunk)
	for {
		select {
		case <-p.wake:
			p.drain(src, buf)
		case <-p.done:
			p.drain(src, buf)
			return
		}
	}
}

func (p *Pump) drain(src Drainer, buf []byte) {
	for {
		n := src.Drain(buf)
		if n == 0 {
			return
		}
		// A failing line must not stall producers, so bytes are consumed
		// regardless of the write result.
		if _, err := p.line.Write(buf[:n]); err != nil {
			if p.errs.Inc() == 1 {
				p.logger.Warn().Err(err).Msg("serial line write failed")
			}
			p.lastErr.Store(err)
		}
	}
}

// Stop ends Run after a final drain and returns the last line error seen.
func (p *Pump) Stop() error {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
	return p.lastErr.Load()
}

func (p *Pump) WriteErrors() uint64 {
	return p.errs.Load()
}
