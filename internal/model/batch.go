package model

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
)

// HeaderSize is the encoded size of RecordBatchHeader.
const HeaderSize = 47

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// Checksum returns the CRC32-C of b, the checksum used for headers and payloads.
func Checksum(b []byte) uint32 {
	return crc32.Checksum(b, castagnoli)
}

// NewChecksum returns a streaming hash matching Checksum.
func NewChecksum() hash.Hash32 {
	return crc32.New(castagnoli)
}

// RecordBatchHeader is the fixed-size prefix of every batch.
//
// Layout (little-endian):
//
//	header_crc u32 | size_bytes i32 | base_offset i64 | type i8 | crc u32 |
//	attrs i16 | last_offset_delta i32 | first_timestamp i64 |
//	max_timestamp i64 | record_count i32
//
// HeaderCRC covers every header byte after itself. CRC covers the payload.
// SizeBytes includes the header.
type RecordBatchHeader struct {
	HeaderCRC       uint32
	SizeBytes       int32
	BaseOffset      Offset
	Type            BatchType
	CRC             uint32
	Attrs           Attributes
	LastOffsetDelta int32
	FirstTimestamp  int64
	MaxTimestamp    int64
	RecordCount     int32
}

// LastOffset returns the offset of the last record in the batch.
func (h RecordBatchHeader) LastOffset() Offset {
	return h.BaseOffset + Offset(h.LastOffsetDelta)
}

// AppendTo appends the wire form of h to buf.
func (h RecordBatchHeader) AppendTo(buf []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, h.HeaderCRC)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.SizeBytes))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.BaseOffset))
	buf = append(buf, byte(h.Type))
	buf = binary.LittleEndian.AppendUint32(buf, h.CRC)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(h.Attrs))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.LastOffsetDelta))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.FirstTimestamp))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(h.MaxTimestamp))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(h.RecordCount))
	return buf
}

// ComputeHeaderCRC returns the checksum HeaderCRC should hold for h.
func (h RecordBatchHeader) ComputeHeaderCRC() uint32 {
	buf := h.AppendTo(make([]byte, 0, HeaderSize))
	return Checksum(buf[4:])
}

// ParseHeader decodes a header from exactly HeaderSize bytes. It does not
// validate checksums or sizes.
func ParseHeader(b []byte) (RecordBatchHeader, error) {
	if len(b) != HeaderSize {
		return RecordBatchHeader{}, fmt.Errorf("model: header must be %d bytes, got %d", HeaderSize, len(b))
	}
	le := binary.LittleEndian
	return RecordBatchHeader{
		HeaderCRC:       le.Uint32(b[0:4]),
		SizeBytes:       int32(le.Uint32(b[4:8])),
		BaseOffset:      Offset(le.Uint64(b[8:16])),
		Type:            BatchType(int8(b[16])),
		CRC:             le.Uint32(b[17:21]),
		Attrs:           Attributes(int16(le.Uint16(b[21:23]))),
		LastOffsetDelta: int32(le.Uint32(b[23:27])),
		FirstTimestamp:  int64(le.Uint64(b[27:35])),
		MaxTimestamp:    int64(le.Uint64(b[35:43])),
		RecordCount:     int32(le.Uint32(b[43:47])),
	}, nil
}

// RecordSet is either UncompressedRecords or CompressedRecords.
type RecordSet interface {
	recordSet()
	// Len returns the number of records in the set.
	Len() int
}

// UncompressedRecords is the decoded record sequence of a batch.
type UncompressedRecords []Record

func (UncompressedRecords) recordSet() {}

// Len implements RecordSet.
func (r UncompressedRecords) Len() int { return len(r) }

// CompressedRecords is an opaque compressed payload holding Count records.
type CompressedRecords struct {
	Count int
	Blob  []byte
}

func (CompressedRecords) recordSet() {}

// Len implements RecordSet.
func (r CompressedRecords) Len() int { return r.Count }

// RecordBatch is a header plus its record set.
type RecordBatch struct {
	Header  RecordBatchHeader
	Records RecordSet
}

// BaseOffset returns the offset of the first record.
func (b RecordBatch) BaseOffset() Offset { return b.Header.BaseOffset }

// LastOffset returns the offset of the last record.
func (b RecordBatch) LastOffset() Offset { return b.Header.LastOffset() }

// Type returns the batch content type.
func (b RecordBatch) Type() BatchType { return b.Header.Type }

// Compressed reports whether the batch payload is a compressed blob.
func (b RecordBatch) Compressed() bool {
	return b.Header.Attrs.Compression() != CompressionNone
}

// SetBaseOffset moves the batch to base and refreshes the header checksum.
func (b *RecordBatch) SetBaseOffset(base Offset) {
	b.Header.BaseOffset = base
	b.Header.HeaderCRC = b.Header.ComputeHeaderCRC()
}

// AppendPayload appends the encoded record set to buf.
func (b RecordBatch) AppendPayload(buf []byte) []byte {
	switch rs := b.Records.(type) {
	case CompressedRecords:
		return append(buf, rs.Blob...)
	case UncompressedRecords:
		for _, r := range rs {
			buf = AppendRecord(buf, r)
		}
		return buf
	case nil:
		return buf
	default:
		panic(fmt.Sprintf("model: unknown record set %T", rs))
	}
}

// Equal reports whether two batches have identical headers and records.
func (b RecordBatch) Equal(o RecordBatch) bool {
	if b.Header != o.Header {
		return false
	}
	switch rs := b.Records.(type) {
	case CompressedRecords:
		other, ok := o.Records.(CompressedRecords)
		return ok && rs.Count == other.Count && bytes.Equal(rs.Blob, other.Blob)
	case UncompressedRecords:
		other, ok := o.Records.(UncompressedRecords)
		if !ok || len(rs) != len(other) {
			return false
		}
		for i := range rs {
			if !rs[i].Equal(other[i]) {
				return false
			}
		}
		return true
	default:
		return o.Records == nil || o.Records.Len() == 0
	}
}

func (b RecordBatch) String() string {
	return fmt.Sprintf("batch{type=%s base=%d last=%d records=%d compression=%s size=%d}",
		b.Header.Type, b.Header.BaseOffset, b.LastOffset(), b.Header.RecordCount,
		b.Header.Attrs.Compression(), b.Header.SizeBytes)
}
