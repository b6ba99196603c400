package monitor

import (
	"errors"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/btmon/internal/observability"
	"github.com/danmuck/btmon/internal/protocol"
	"github.com/danmuck/btmon/internal/protocol/frame"
	"github.com/danmuck/btmon/internal/timestamp"
	"github.com/danmuck/btmon/internal/transport"
	"github.com/rs/zerolog"
	"go.uber.org/atomic"
)

// AutoTimestamp asks the monitor to stamp a packet with the current time.
const AutoTimestamp int64 = -1

var (
	ErrNilSink      = errors.New("monitor: nil sink")
	ErrLineSize     = errors.New("monitor: line buffer must hold at least one byte and its terminator")
	ErrIdentTooLong = protocol.ErrIdentTooLong
)

type Config struct {
	Ident    string
	LineSize int
	Clock    clock.Clock
	Logger   zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		Ident:    protocol.DefaultIdent,
		LineSize: protocol.DefaultLineLen,
		Logger:   zerolog.Nop(),
	}
}

type Monitor struct {
	mu     sync.Mutex // emission lock: held for one whole packet
	sink   io.Writer
	ts     *timestamp.Source
	ident  string
	logHdr []byte // user-logging record header with priority 0
	logger zerolog.Logger
	closed atomic.Bool

	lineMu sync.Mutex
	line   []byte

	packets    atomic.Uint64
	bytes      atomic.Uint64
	sinkErrors atomic.Uint64
	oversized  atomic.Uint64
}

// Stats are cumulative monitor counters plus the sink's own, when it keeps any.
type Stats struct {
	Packets    uint64           `json:"packets"`
	Bytes      uint64           `json:"bytes"`
	SinkErrors uint64           `json:"sink_errors"`
	Oversized  uint64           `json:"oversized"`
	Transport  *transport.Stats `json:"transport,omitempty"`
}

func New(sink io.Writer, cfg Config) (*Monitor, error) {
	if sink == nil {
		return nil, ErrNilSink
	}
	if cfg.LineSize < 2 {
		return nil, ErrLineSize
	}
	// Priority is filled in per record; only the ident part is reused.
	rec, err := protocol.AppendUserLogHeader(nil, 0, cfg.Ident)
	if err != nil {
		return nil, err
	}
	return &Monitor{
		sink:   sink,
		ts:     timestamp.New(cfg.Clock),
		ident:  cfg.Ident,
		logHdr: rec,
		logger: cfg.Logger.With().Str("component", "monitor").Logger(),
		line:   make([]byte, 0, cfg.LineSize),
	}, nil
}

func (m *Monitor) encodeHeader(ts int64, op protocol.Opcode, payloadLen int) []byte {
	if ts < 0 {
		ts = int64(m.ts.Now())
	}
	return frame.EncodeHeader(frame.NewHeader(uint64(ts), op, payloadLen))
}

// emit writes one packet: header, then whatever body writes, all under the
// emission lock. payloadLen must equal the bytes body writes.
func (m *Monitor) emit(ts int64, op protocol.Opcode, payloadLen int, body func()) {
	if m.closed.Load() {
		return
	}
	if payloadLen > frame.MaxPayloadLen {
		m.oversized.Inc()
		m.logger.Warn().Stringer("opcode", op).Int("payload_len", payloadLen).Msg("payload exceeds frame length field, not sent")
		return
	}
	hdr := m.encodeHeader(ts, op, payloadLen)

	m.mu.Lock()
	before := m.sinkErrors.Load()
	m.write(hdr)
	body()
	failed := m.sinkErrors.Load() != before
	m.mu.Unlock()

	m.packets.Inc()
	observability.RecordPacket(op.String(), payloadLen)
	// Logged after unlocking: the logger may itself feed a monitor.
	if failed {
		m.logger.Debug().Stringer("opcode", op).Msg("sink write failed")
	}
}

// write must be called with the emission lock held.
func (m *Monitor) write(p []byte) {
	if len(p) == 0 {
		return
	}
	n, err := m.sink.Write(p)
	m.bytes.Add(uint64(n))
	if err != nil {
		m.sinkErrors.Inc()
		observability.RecordSinkError()
	}
}

func (m *Monitor) Stats() Stats {
	s := Stats{
		Packets:    m.packets.Load(),
		Bytes:      m.bytes.Load(),
		SinkErrors: m.sinkErrors.Load(),
		Oversized:  m.oversized.Load(),
	}
	if r, ok := m.sink.(transport.StatsReporter); ok {
		ts := r.Stats()
		s.Transport = &ts
	}
	return s
}

// Close flushes a pending system-note line, waits for an in-flight packet,
// and closes the sink when it is closable. Later sends are ignored.
func (m *Monitor) Close() error {
	m.Flush()
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
