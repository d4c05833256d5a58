package model

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformedRecord is returned when record bytes cannot be decoded.
var ErrMalformedRecord = errors.New("model: malformed record")

// RecordHeader is an opaque key/value pair attached to a record.
type RecordHeader struct {
	Key   []byte
	Value []byte
}

// Record is a single entry of an uncompressed batch.
//
// On the wire a record is a varint size followed by a body:
//
//	attributes int8 | timestamp_delta varint | offset_delta varint |
//	key_len varint | key | value_len varint | value |
//	header_count varint | (key_len key value_len value)*
//
// Length -1 encodes a nil byte string. SizeBytes is the body length.
type Record struct {
	SizeBytes      int32
	TimestampDelta int64
	OffsetDelta    int32
	Key            []byte
	Value          []byte
	Headers        []RecordHeader
}

// NewRecord builds a record and computes its encoded size.
func NewRecord(timestampDelta int64, offsetDelta int32, key, value []byte, headers ...RecordHeader) Record {
	r := Record{
		TimestampDelta: timestampDelta,
		OffsetDelta:    offsetDelta,
		Key:            key,
		Value:          value,
		Headers:        headers,
	}
	r.SizeBytes = int32(len(r.appendBody(nil)))
	return r
}

// AppendValueAndHeaders appends the value and headers section of the record,
// which is the part a parser hands over as a single byte string.
func (r Record) AppendValueAndHeaders(buf []byte) []byte {
	buf = appendBytesField(buf, r.Value)
	buf = binary.AppendVarint(buf, int64(len(r.Headers)))
	for _, h := range r.Headers {
		buf = appendBytesField(buf, h.Key)
		buf = appendBytesField(buf, h.Value)
	}
	return buf
}

// Equal reports whether two records carry identical fields and bytes.
func (r Record) Equal(o Record) bool {
	if r.SizeBytes != o.SizeBytes ||
		r.TimestampDelta != o.TimestampDelta ||
		r.OffsetDelta != o.OffsetDelta ||
		!bytesFieldEqual(r.Key, o.Key) ||
		!bytesFieldEqual(r.Value, o.Value) ||
		len(r.Headers) != len(o.Headers) {
		return false
	}
	for i := range r.Headers {
		if !bytesFieldEqual(r.Headers[i].Key, o.Headers[i].Key) ||
			!bytesFieldEqual(r.Headers[i].Value, o.Headers[i].Value) {
			return false
		}
	}
	return true
}

func (r Record) appendBody(buf []byte) []byte {
	buf = append(buf, 0) // record attributes are unused
	buf = binary.AppendVarint(buf, r.TimestampDelta)
	buf = binary.AppendVarint(buf, int64(r.OffsetDelta))
	buf = appendBytesField(buf, r.Key)
	return r.AppendValueAndHeaders(buf)
}

// AppendRecord appends the size-prefixed wire form of r to buf.
func AppendRecord(buf []byte, r Record) []byte {
	body := r.appendBody(nil)
	buf = binary.AppendVarint(buf, int64(len(body)))
	return append(buf, body...)
}

// ParseValueAndHeaders decodes the section produced by AppendValueAndHeaders.
func ParseValueAndHeaders(raw []byte) (value []byte, headers []RecordHeader, err error) {
	value, raw, err = consumeBytesField(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: value: %w", ErrMalformedRecord, err)
	}
	n, used := binary.Varint(raw)
	if used <= 0 || n < 0 || n > int64(len(raw)) {
		return nil, nil, fmt.Errorf("%w: header count", ErrMalformedRecord)
	}
	raw = raw[used:]
	if n > 0 {
		headers = make([]RecordHeader, 0, n)
	}
	for i := int64(0); i < n; i++ {
		var h RecordHeader
		if h.Key, raw, err = consumeBytesField(raw); err != nil {
			return nil, nil, fmt.Errorf("%w: header %d key: %w", ErrMalformedRecord, i, err)
		}
		if h.Value, raw, err = consumeBytesField(raw); err != nil {
			return nil, nil, fmt.Errorf("%w: header %d value: %w", ErrMalformedRecord, i, err)
		}
		headers = append(headers, h)
	}
	if len(raw) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformedRecord, len(raw))
	}
	return value, headers, nil
}

func appendBytesField(buf, b []byte) []byte {
	if b == nil {
		return binary.AppendVarint(buf, -1)
	}
	buf = binary.AppendVarint(buf, int64(len(b)))
	return append(buf, b...)
}

func consumeBytesField(raw []byte) (field, rest []byte, err error) {
	n, used := binary.Varint(raw)
	if used <= 0 {
		return nil, nil, errors.New("bad length")
	}
	raw = raw[used:]
	switch {
	case n == -1:
		return nil, raw, nil
	case n < -1 || n > int64(len(raw)):
		return nil, nil, fmt.Errorf("length %d out of range", n)
	}
	return append([]byte{}, raw[:n]...), raw[n:], nil
}

// bytesFieldEqual distinguishes nil from empty, since the wire format does.
func bytesFieldEqual(a, b []byte) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	return bytes.Equal(a, b)
}
