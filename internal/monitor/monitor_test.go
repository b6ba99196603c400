package monitor

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/danmuck/btmon/internal/protocol"
	"github.com/danmuck/btmon/internal/protocol/frame"
	"github.com/danmuck/btmon/internal/testutil/testlog"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// writeLog records every sink write separately.
type writeLog struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (w *writeLog) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes = append(w.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (w *writeLog) Close() error {
	w.closed = true
	return nil
}

func (w *writeLog) stream() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return bytes.Join(w.writes, nil)
}

type brokenSink struct{}

func (brokenSink) Write(p []byte) (int, error) { return 0, errors.New("sink gone") }

func newMonitor(t *testing.T, sink io.Writer) (*Monitor, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.Clock = mock
	cfg.Logger = testlog.Start(t)
	m, err := New(sink, cfg)
	require.NoError(t, err)
	return m, mock
}

func readFrames(t *testing.T, stream []byte) []frame.Frame {
	t.Helper()
	r := bytes.NewReader(stream)
	var out []frame.Frame
	for r.Len() > 0 {
		f, err := frame.ReadFrame(r)
		require.NoError(t, err)
		out = append(out, f)
	}
	return out
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, DefaultConfig())
	require.ErrorIs(t, err, ErrNilSink)

	cfg := DefaultConfig()
	cfg.LineSize = 1
	_, err = New(io.Discard, cfg)
	require.ErrorIs(t, err, ErrLineSize)

	cfg = DefaultConfig()
	cfg.Ident = string(make([]byte, protocol.MaxIdentLen+1))
	_, err = New(io.Discard, cfg)
	require.ErrorIs(t, err, ErrIdentTooLong)
}

func TestSendWritesHeaderThenPayload(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)

	m.SendAt(1_000_000, protocol.OpIndexInfo, []byte{0x01, 0x02, 0x03})

	require.Len(t, sink.writes, 2)
	hdr := sink.writes[0]
	require.Len(t, hdr, frame.HeaderLen)
	require.Equal(t, []byte{12, 0x00}, hdr[0:2])
	require.Equal(t, []byte{0x0A, 0x00}, hdr[2:4])
	require.Equal(t, byte(0), hdr[4])
	require.Equal(t, byte(frame.ExtHeaderLen), hdr[5])
	require.Equal(t, []byte{0x01, 0x02, 0x03}, sink.writes[1])

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Equal(t, uint32(10_000), frames[0].Header.TS32)
	require.Equal(t, uint64(1), m.Stats().Packets)
	require.Equal(t, uint64(frame.HeaderLen+3), m.Stats().Bytes)
}

func TestSendStampsUptimeWhenClockNotSet(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, mock := newMonitor(t, sink)
	mock.Add(2500 * time.Millisecond)

	m.Send(protocol.OpSystemNote, []byte{0})
	frames := readFrames(t, sink.stream())
	require.Equal(t, uint32(2_500_000/100), frames[0].Header.TS32)
}

func TestSendStampsWallClockAfterEpoch(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, mock := newMonitor(t, sink)
	wall := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.Set(wall)

	m.Send(protocol.OpSystemNote, []byte{0})
	frames := readFrames(t, sink.stream())
	require.Equal(t, uint32(uint64(wall.UnixMicro())/100), frames[0].Header.TS32)
}

func TestSendChainWritesSegmentsInOrder(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)

	chain := Chain([]byte{0x02, 0x00, 0x20}, []byte{0x05, 0x00}, []byte("payload"))
	require.Equal(t, 12, chain.Len())
	m.SendChain(protocol.OpACLTxPkt, chain)

	require.Len(t, sink.writes, 4)
	require.Equal(t, []byte("payload"), sink.writes[3])
	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Equal(t, 12, frames[0].Header.PayloadLen())
	require.Equal(t, []byte{0x02, 0x00, 0x20, 0x05, 0x00, 'p', 'a', 'y', 'l', 'o', 'a', 'd'}, frames[0].Payload)
}

func TestSendChainEmpty(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	m.SendChain(protocol.OpEventPkt, nil)

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Empty(t, frames[0].Payload)
}

func TestNewIndexRecord(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	addr := [protocol.AddrLen]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	m.NewIndex(protocol.BusUART, addr, "nimble-host")

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Equal(t, protocol.OpNewIndex, frames[0].Header.Opcode)
	rec, err := protocol.DecodeNewIndex(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.ControllerPrimary, rec.Type)
	require.Equal(t, protocol.BusUART, rec.Bus)
	require.Equal(t, addr, rec.Addr)
	require.Equal(t, "nimble-", rec.Name)
}

func TestPriorityMapping(t *testing.T) {
	t.Parallel()

	cases := map[zerolog.Level]uint8{
		zerolog.ErrorLevel: 3,
		zerolog.WarnLevel:  4,
		zerolog.InfoLevel:  6,
		zerolog.DebugLevel: 7,
		zerolog.TraceLevel: 8,
		zerolog.FatalLevel: 8,
		zerolog.NoLevel:    8,
	}
	for level, want := range cases {
		require.Equal(t, want, Priority(level), "level %s", level)
	}
}

func TestLogEmitsUserLoggingRecord(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	m.Log(zerolog.WarnLevel, "conn %d: %s", 3, "supervision timeout")

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Equal(t, protocol.OpUserLogging, frames[0].Header.Opcode)
	rec, err := protocol.DecodeUserLogging(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.PriorityWarning, rec.Priority)
	require.Equal(t, protocol.DefaultIdent, rec.Ident)
	require.Equal(t, "conn 3: supervision timeout", rec.Message)
	require.Equal(t, byte(7), frames[0].Payload[1])
}

type flaky struct{ calls int }

func (f *flaky) String() string {
	f.calls++
	if f.calls == 1 {
		return "short"
	}
	return "much longer the second time"
}

func TestLogKeepsAnnouncedLengthWhenArgumentChanges(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	m.Log(zerolog.InfoLevel, "%v", &flaky{})
	m.Send(protocol.OpSystemNote, []byte("next\x00"))

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 2)
	rec, err := protocol.DecodeUserLogging(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, "much ", rec.Message)
	require.Equal(t, protocol.OpSystemNote, frames[1].Header.Opcode)
}

func TestOutEmitsLineOnNewline(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	for _, c := range []byte("hi\n") {
		m.Out(c)
	}

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Equal(t, protocol.OpSystemNote, frames[0].Header.Opcode)
	require.Equal(t, []byte{'h', 'i', 0}, frames[0].Payload)
}

func TestOutEmitsWhenBufferOneByteFromFull(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	long := bytes.Repeat([]byte{'x'}, protocol.DefaultLineLen+10)
	_, err := m.NoteWriter().Write(long)
	require.NoError(t, err)

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Len(t, frames[0].Payload, protocol.DefaultLineLen)
	require.Equal(t, byte(0), frames[0].Payload[protocol.DefaultLineLen-1])

	m.Flush()
	frames = readFrames(t, sink.stream())
	require.Len(t, frames, 2)
	note, err := protocol.DecodeSystemNote(frames[1].Payload)
	require.NoError(t, err)
	require.Len(t, note, 11)
}

func TestConcurrentSendsNeverInterleave(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)

	const producers, perProducer = 16, 50
	var wg sync.WaitGroup
	for id := 0; id < producers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				if i%2 == 0 {
					m.Send(protocol.OpVendorDiag, bytes.Repeat([]byte{byte(id)}, 10+id))
				} else {
					m.SendChain(protocol.OpVendorDiag, Chain(
						bytes.Repeat([]byte{byte(id)}, 5),
						bytes.Repeat([]byte{byte(id)}, 5+id),
					))
				}
			}
		}(id)
	}
	wg.Wait()

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, producers*perProducer)
	counts := make(map[byte]int)
	for _, f := range frames {
		require.NotEmpty(t, f.Payload)
		id := f.Payload[0]
		require.Equal(t, bytes.Repeat([]byte{id}, 10+int(id)), f.Payload)
		counts[id]++
	}
	for id := 0; id < producers; id++ {
		require.Equal(t, perProducer, counts[byte(id)])
	}
}

func TestSinkErrorsAreCountedNotReturned(t *testing.T) {
	t.Parallel()

	m, _ := newMonitor(t, brokenSink{})
	m.Send(protocol.OpSystemNote, []byte("x\x00"))
	m.Log(zerolog.ErrorLevel, "still fine")

	s := m.Stats()
	require.Equal(t, uint64(2), s.Packets)
	require.NotZero(t, s.SinkErrors)
	require.Nil(t, s.Transport)
}

func TestOversizedPayloadIsNotSent(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	m.Send(protocol.OpACLTxPkt, make([]byte, frame.MaxPayloadLen+1))

	require.Empty(t, sink.writes)
	require.Equal(t, uint64(1), m.Stats().Oversized)
}

func TestLevelWriterForwardsApplicationLogs(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	logger := zerolog.New(m.LevelWriter(zerolog.InfoLevel))

	logger.Debug().Msg("skipped")
	logger.Warn().Str("peer", "c0:ff:ee").Msg("pairing failed")

	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	rec, err := protocol.DecodeUserLogging(frames[0].Payload)
	require.NoError(t, err)
	require.Equal(t, protocol.PriorityWarning, rec.Priority)
	require.Contains(t, rec.Message, `"message":"pairing failed"`)
	require.NotContains(t, rec.Message, "\n")
}

func TestCloseStopsSendsAndClosesSink(t *testing.T) {
	t.Parallel()

	sink := &writeLog{}
	m, _ := newMonitor(t, sink)
	m.Out('a')
	require.NoError(t, m.Close())
	require.True(t, sink.closed)

	m.Send(protocol.OpSystemNote, []byte{0})
	frames := readFrames(t, sink.stream())
	require.Len(t, frames, 1)
	require.Equal(t, []byte{'a', 0}, frames[0].Payload)
	require.NoError(t, m.Close())
}

func ExampleMonitor_Out() {
	var buf bytes.Buffer
	m, _ := New(&buf, DefaultConfig())
	for _, c := range []byte("hi\n") {
		m.Out(c)
	}
	f, _ := frame.ReadFrame(&buf)
	fmt.Println(f.Header.Opcode, f.Payload)
	// Output: system_note [104 105 0]
}

func TestLogUsesConfiguredIdent(t *testing.T) {
	t.Parallel()

	for _, ident := range []string{"host", ""} {
		sink := &writeLog{}
		cfg := DefaultConfig()
		cfg.Ident = ident
		m, err := New(sink, cfg)
		require.NoError(t, err)

		m.Log(zerolog.DebugLevel, "ident %q", ident)
		m.Log(zerolog.ErrorLevel, "second")

		frames := readFrames(t, sink.stream())
		require.Len(t, frames, 2)
		require.Equal(t, byte(len(ident)+1), frames[0].Payload[1])
		first, err := protocol.DecodeUserLogging(frames[0].Payload)
		require.NoError(t, err)
		require.Equal(t, protocol.PriorityDebug, first.Priority)
		require.Equal(t, ident, first.Ident)
		require.Equal(t, fmt.Sprintf("ident %q", ident), first.Message)
		second, err := protocol.DecodeUserLogging(frames[1].Payload)
		require.NoError(t, err)
		require.Equal(t, protocol.PriorityError, second.Priority)
	}
}
