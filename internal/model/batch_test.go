package model

import (
	"errors"
	"testing"
)

func TestBatchBuilder_SealsHeader(t *testing.T) {
	b := NewBatchBuilder(BatchTypeKV, 10).
		WithTimestamp(1000).
		AddRawKV([]byte("k1"), []byte("v1")).
		AddRawKV(nil, []byte("v2")).
		Build()

	if got := b.Header.RecordCount; got != 2 {
		t.Fatalf("expected record count=2, got %d", got)
	}
	if got := b.LastOffset(); got != 11 {
		t.Fatalf("expected last offset=11, got %d", got)
	}
	payload := b.AppendPayload(nil)
	if got, want := b.Header.SizeBytes, int32(HeaderSize+len(payload)); got != want {
		t.Fatalf("expected size=%d, got %d", want, got)
	}
	if got := b.Header.CRC; got != Checksum(payload) {
		t.Fatalf("payload crc mismatch: %d", got)
	}
	if got := b.Header.HeaderCRC; got != b.Header.ComputeHeaderCRC() {
		t.Fatalf("header crc mismatch: %d", got)
	}
	if b.Compressed() {
		t.Fatalf("expected uncompressed batch")
	}
}

func TestRecordBatch_SetBaseOffsetRefreshesHeaderCRC(t *testing.T) {
	b := NewBatchBuilder(BatchTypeData, 0).AddRawKV([]byte("k"), []byte("v")).Build()
	before := b.Header.HeaderCRC

	b.SetBaseOffset(42)

	if b.BaseOffset() != 42 || b.LastOffset() != 42 {
		t.Fatalf("unexpected offsets: base=%d last=%d", b.BaseOffset(), b.LastOffset())
	}
	if b.Header.HeaderCRC == before {
		t.Fatalf("expected header crc to change")
	}
	if b.Header.HeaderCRC != b.Header.ComputeHeaderCRC() {
		t.Fatalf("header crc not refreshed")
	}
}

func TestParseHeader_RoundTrip(t *testing.T) {
	b := NewCompressedBatch(BatchTypeData, 7, CompressionZstd, 3, []byte{1, 2, 3, 4}, 5, 9)

	raw := b.Header.AppendTo(nil)
	if len(raw) != HeaderSize {
		t.Fatalf("expected %d header bytes, got %d", HeaderSize, len(raw))
	}
	got, err := ParseHeader(raw)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	if got != b.Header {
		t.Fatalf("header mismatch:\n got %+v\nwant %+v", got, b.Header)
	}
	if got.Attrs.Compression() != CompressionZstd {
		t.Fatalf("expected zstd, got %s", got.Attrs.Compression())
	}
	if _, err := ParseHeader(raw[:10]); err == nil {
		t.Fatalf("expected error for short header")
	}
}

func TestParseValueAndHeaders(t *testing.T) {
	r := NewRecord(3, 1, []byte("key"), []byte("value"),
		RecordHeader{Key: []byte("h1"), Value: []byte("x")},
		RecordHeader{Key: []byte("h2"), Value: nil},
	)

	value, headers, err := ParseValueAndHeaders(r.AppendValueAndHeaders(nil))
	if err != nil {
		t.Fatalf("ParseValueAndHeaders() error = %v", err)
	}
	got := NewRecord(r.TimestampDelta, r.OffsetDelta, r.Key, value, headers...)
	if !got.Equal(r) {
		t.Fatalf("record mismatch:\n got %+v\nwant %+v", got, r)
	}
	if headers[1].Value != nil {
		t.Fatalf("expected nil header value to stay nil")
	}

	_, _, err = ParseValueAndHeaders([]byte{0x10})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestAttributes_WithCompression(t *testing.T) {
	a := Attributes(0x70).WithCompression(CompressionLZ4)
	if a.Compression() != CompressionLZ4 {
		t.Fatalf("expected lz4, got %s", a.Compression())
	}
	if a&0x70 != 0x70 {
		t.Fatalf("expected other bits preserved, got %#x", a)
	}
	if got := a.WithCompression(CompressionNone).Compression(); got != CompressionNone {
		t.Fatalf("expected none, got %s", got)
	}
}
