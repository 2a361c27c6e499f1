package frame

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestRoundTripSmall(t *testing.T) {
	fr, err := New(DefaultDataSize)
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	payload := []byte("hello, taskit")
	if err := fr.Send(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := fr.Recv(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestRoundTripLargePayloadTwoSegments(t *testing.T) {
	fr, err := New(2048)
	if err != nil {
		t.Fatal(err)
	}
	payload := []byte(strings.Repeat("4", 3000))

	var buf bytes.Buffer
	if err := fr.Send(&buf, payload); err != nil {
		t.Fatal(err)
	}

	// Two segments: a full 2048-byte continuation segment, then a
	// 952-byte final segment.
	header1 := buf.Bytes()[:5]
	if header1[0] != '1' {
		t.Fatalf("expected continuation byte '1', got %q", header1[0])
	}

	got, err := fr.Recv(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload length mismatch: got %d want %d", len(got), len(payload))
	}
}

func TestRecvEmptyPayload(t *testing.T) {
	fr, _ := New(DefaultDataSize)
	var buf bytes.Buffer
	if err := fr.Send(&buf, nil); err != nil {
		t.Fatal(err)
	}
	got, err := fr.Recv(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("expected empty payload, got %q", got)
	}
}

func TestRecvBadContinuationByte(t *testing.T) {
	fr, _ := New(DefaultDataSize)
	r := strings.NewReader("20005hello")
	if _, err := fr.Recv(r); err != ErrFramingCorruption {
		t.Fatalf("expected ErrFramingCorruption, got %v", err)
	}
}

func TestRecvShortReadMidSegment(t *testing.T) {
	fr, _ := New(DefaultDataSize)
	// Header claims 10 bytes follow but the stream ends after 3.
	r := io.MultiReader(strings.NewReader("0000a"), strings.NewReader("abc"))
	if _, err := fr.Recv(r); err != ErrFramingCorruption {
		t.Fatalf("expected ErrFramingCorruption, got %v", err)
	}
}

func TestNewRejectsOutOfRangeDataSize(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("expected error for negative data size")
	}
	if _, err := New(MaxSegmentSize + 1); err == nil {
		t.Fatal("expected error for data size above max")
	}
}

func TestMismatchedDataSizeStillSafe(t *testing.T) {
	// Sender uses a small chunk size; receiver has a different (larger)
	// configured DataSize. Each segment is self-describing so this must
	// still round-trip correctly.
	sender, _ := New(16)
	receiver, _ := New(4096)

	payload := []byte(strings.Repeat("x", 100))
	var buf bytes.Buffer
	if err := sender.Send(&buf, payload); err != nil {
		t.Fatal(err)
	}
	got, err := receiver.Recv(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("mismatched data_size round trip failed")
	}
}
