package frame

import (
	"bufio"
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/osdkctl/internal/protocol/tlv"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	payload := tlv.EncodeFields([]tlv.Field{tlv.U8(1, 3)})
	in := Frame{
		Header:  Header{RequestID: 42, Kind: 7, Flags: FlagResponse},
		Payload: payload,
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(bufio.NewReader(&buf), DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Kind != 7 || out.Header.RequestID != 42 {
		t.Fatalf("header mismatch: got=%+v", out.Header)
	}
	if !out.IsResponse() || out.IsNack() || out.IsCorrupt() {
		t.Fatalf("unexpected flags: %#x", out.Header.Flags)
	}
	if !bytes.Equal(out.Payload, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestReadFrameResyncsAfterGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x4F, 0x53, 0xFF, 0x13})
	if err := WriteFrame(&buf, Frame{Header: Header{RequestID: 9, Kind: 1}}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	out, err := ReadFrame(bufio.NewReader(&buf), DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.RequestID != 9 {
		t.Fatalf("unexpected request id: %d", out.Header.RequestID)
	}
}

func TestReadFrameChecksumMismatchKeepsHeader(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, Frame{Header: Header{RequestID: 5, Kind: 20}, Payload: []byte{1, 2, 3}}, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	raw := buf.Bytes()
	raw[HeaderLen] ^= 0xFF

	out, err := ReadFrame(bufio.NewReader(bytes.NewReader(raw)), DefaultLimits())
	if !errors.Is(err, ErrChecksum) {
		t.Fatalf("expected ErrChecksum, got %v", err)
	}
	if out.Header.RequestID != 5 || !out.IsCorrupt() {
		t.Fatalf("expected corrupt frame for request 5, got %+v", out.Header)
	}
}

func TestReadFrameMalformedHeaderIsDeterministic(t *testing.T) {
	raw := EncodeHeader(Header{Magic: Magic, Version: Version})[:10]
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(raw)), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadFrameRejectsOversizePayload(t *testing.T) {
	raw := EncodeHeader(Header{Magic: Magic, Version: Version, PayloadLen: 1 << 30})
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(raw)), DefaultLimits())
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestReadFrameSyncWindowExhausted(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxSyncSkip = 8
	raw := bytes.Repeat([]byte{0xAB}, 32)
	_, err := ReadFrame(bufio.NewReader(bytes.NewReader(raw)), limits)
	if !errors.Is(err, ErrSyncLost) {
		t.Fatalf("expected ErrSyncLost, got %v", err)
	}
}
