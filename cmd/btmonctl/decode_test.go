package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/btmon/internal/monitor"
	"github.com/danmuck/btmon/internal/protocol"
	"github.com/danmuck/btmon/internal/protocol/frame"
	"github.com/rs/zerolog"
)

func TestDecodeStreamDescribesRecords(t *testing.T) {
	var stream bytes.Buffer
	m, err := monitor.New(&stream, monitor.DefaultConfig())
	if err != nil {
		t.Fatalf("new monitor: %v", err)
	}
	m.NewIndex(protocol.BusUART, [protocol.AddrLen]byte{0x22, 0x11, 0x00, 0xEE, 0xFF, 0xC0}, "hci0")
	m.Log(zerolog.ErrorLevel, "link lost")
	m.SendAt(12345, protocol.OpACLTxPkt, []byte{0xde, 0xad})
	for _, c := range []byte("boot\n") {
		m.Out(c)
	}

	var out bytes.Buffer
	n, err := decodeStream(&stream, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if n != 4 {
		t.Fatalf("decoded %d frames, want 4", n)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	wants := []string{
		`bus=uart addr=C0:FF:EE:00:11:22 name="hci0"`,
		`priority=3 ident=nimble "link lost"`,
		`0.0123 acl_tx`,
		`"boot"`,
	}
	for i, want := range wants {
		if !strings.Contains(lines[i], want) {
			t.Fatalf("line %d = %q, want it to contain %q", i, lines[i], want)
		}
	}
	if !strings.HasSuffix(lines[2], "dead") {
		t.Fatalf("payload not hex encoded: %q", lines[2])
	}
}

func TestDecodeStreamReportsTruncatedFrame(t *testing.T) {
	hdr := frame.EncodeHeader(frame.NewHeader(0, protocol.OpSystemNote, 8))
	stream := append(hdr, 'x', 'y')
	_, err := decodeStream(bytes.NewReader(stream), &bytes.Buffer{})
	if !errors.Is(err, frame.ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestFormatTS32(t *testing.T) {
	if got := formatTS32(123456); got != "12.3456" {
		t.Fatalf("formatTS32=%q", got)
	}
}
