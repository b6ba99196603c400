package exthdr

import (
	"errors"
	"testing"

	"github.com/danmuck/btmon/internal/protocol"
)

func TestDecodeMixedEntries(t *testing.T) {
	block := AppendTS32(nil, 0xA1B2C3D4)
	block, err := AppendEntry(block, Entry{Type: protocol.ExtACLTxDrops, Value: 7})
	if err != nil {
		t.Fatalf("append entry: %v", err)
	}
	if len(block) != TS32Len+2 {
		t.Fatalf("unexpected block length: %d", len(block))
	}
	entries, err := Decode(block)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ts, ok := Get(entries, protocol.ExtTS32)
	if !ok || ts.Value != 0xA1B2C3D4 {
		t.Fatalf("ts32 entry mismatch: %+v ok=%v", ts, ok)
	}
	drops, ok := Get(entries, protocol.ExtACLTxDrops)
	if !ok || drops.Value != 7 {
		t.Fatalf("drops entry mismatch: %+v ok=%v", drops, ok)
	}
}

func TestAppendTS32IsLittleEndian(t *testing.T) {
	got := AppendTS32(nil, 0x01020304)
	want := []byte{8, 0x04, 0x03, 0x02, 0x01}
	if string(got) != string(want) {
		t.Fatalf("got % x want % x", got, want)
	}
}

func TestDecodeUnknownEntryIsDeterministic(t *testing.T) {
	_, err := Decode([]byte{0x42, 0})
	if !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestDecodeShortValueIsDeterministic(t *testing.T) {
	_, err := Decode([]byte{uint8(protocol.ExtTS32), 1, 2})
	if !errors.Is(err, ErrShortEntry) {
		t.Fatalf("expected ErrShortEntry, got %v", err)
	}
}
