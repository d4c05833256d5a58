package storage

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"math"

	"github.com/i-melnichenko/kvelldb/internal/model"
)

// ErrDecode is the root of all parse failures. A parser that returned it must
// not be used again; it keeps returning the same error.
var ErrDecode = errors.New("storage: decode failed")

// ErrTruncated is returned when the input ends inside a header or record.
var ErrTruncated = fmt.Errorf("%w: truncated input", ErrDecode)

// ErrCorrupt is returned for malformed sizes, counts, offsets, or checksums.
var ErrCorrupt = fmt.Errorf("%w: corrupt input", ErrDecode)

var (
	errOverrun = errors.New("field exceeds enclosing bounds")
	errIO      = errors.New("storage: read failed")
)

type parserState uint8

const (
	stateAwaitingHeader parserState = iota
	stateBatchStarted
	stateCompressed
	stateRecords
	stateBatchEnded
	stateHalted
	stateEOF
	stateFailed
)

// Parser decodes a stream of batches and feeds them to a Consumer.
//
// A Parser owns the read position of its reader and is not safe for
// concurrent use. Consume may be called repeatedly: every call resumes at the
// batch boundary where the previous one stopped.
type Parser struct {
	consumer Consumer
	r        *bufio.Reader
	state    parserState
	pos      int64
	err      error
}

// NewParser returns a parser reading batches from r.
func NewParser(c Consumer, r io.Reader) *Parser {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &Parser{consumer: c, r: br}
}

// EOF reports whether the parser reached a clean end of stream.
func (p *Parser) EOF() bool {
	return p.state == stateEOF
}

// Position returns the stream offset just past the last completed batch.
func (p *Parser) Position() int64 {
	return p.pos
}

// Consume parses batches until the consumer returns Stop, the stream ends at
// a batch boundary, or an error occurs. It returns the number of batches
// completed in this call, skipped batches included.
//
// Context cancellation is observed between batches and leaves the parser
// usable. Decode errors wrap ErrDecode and are permanent.
func (p *Parser) Consume(ctx context.Context) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	if p.state == stateEOF {
		return 0, nil
	}

	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		p.state = stateAwaitingHeader
		stop, err := p.consumeBatch()
		if errors.Is(err, io.EOF) {
			p.state = stateEOF
			return n, nil
		}
		if err != nil {
			p.state = stateFailed
			p.err = err
			return n, err
		}
		n++
		if stop == Stop {
			p.state = stateHalted
			return n, nil
		}
	}
}

// consumeBatch returns io.EOF, unwrapped, only for a clean end of stream.
func (p *Parser) consumeBatch() (StopIteration, error) {
	var raw [model.HeaderSize]byte
	if _, err := io.ReadFull(p.r, raw[:]); err != nil {
		if err == io.EOF {
			return Continue, io.EOF
		}
		return Continue, p.fail(ioError(err), "batch header")
	}
	header, err := model.ParseHeader(raw[:])
	if err != nil {
		return Continue, p.fail(err, "batch header")
	}
	if err := p.validateHeader(header); err != nil {
		return Continue, err
	}

	p.state = stateBatchStarted
	payloadLen := int64(header.SizeBytes) - model.HeaderSize

	if p.consumer.ConsumeBatchStart(header, int(header.RecordCount)) == Skip {
		if _, err := p.r.Discard(int(payloadLen)); err != nil {
			return Continue, p.fail(ioError(err), "skipped batch payload")
		}
		p.pos += int64(header.SizeBytes)
		return Continue, nil
	}

	if header.Attrs.Compression() != model.CompressionNone {
		p.state = stateCompressed
		blob := make([]byte, payloadLen)
		if _, err := io.ReadFull(p.r, blob); err != nil {
			return Continue, p.fail(ioError(err), "compressed payload")
		}
		if model.Checksum(blob) != header.CRC {
			return Continue, p.fail(errors.New("payload checksum mismatch"), "compressed payload")
		}
		p.consumer.ConsumeCompressedRecords(blob)
	} else {
		p.state = stateRecords
		if err := p.consumeRecords(header, payloadLen); err != nil {
			return Continue, err
		}
	}

	p.state = stateBatchEnded
	p.pos += int64(header.SizeBytes)
	return p.consumer.ConsumeBatchEnd(), nil
}

func (p *Parser) validateHeader(h model.RecordBatchHeader) error {
	switch {
	case h.HeaderCRC != h.ComputeHeaderCRC():
		return p.fail(errors.New("header checksum mismatch"), "batch header")
	case h.SizeBytes < model.HeaderSize:
		return p.fail(fmt.Errorf("size %d below header size", h.SizeBytes), "batch header")
	case h.RecordCount < 0:
		return p.fail(fmt.Errorf("negative record count %d", h.RecordCount), "batch header")
	case h.LastOffsetDelta < 0:
		return p.fail(fmt.Errorf("negative last offset delta %d", h.LastOffsetDelta), "batch header")
	case h.Attrs.Compression() == model.CompressionNone &&
		int64(h.RecordCount) > int64(h.SizeBytes)-model.HeaderSize:
		return p.fail(fmt.Errorf("%d records cannot fit in %d bytes", h.RecordCount, h.SizeBytes), "batch header")
	}
	return nil
}

func (p *Parser) consumeRecords(h model.RecordBatchHeader, payloadLen int64) error {
	pr := &payloadReader{r: p.r, crc: model.NewChecksum(), remaining: payloadLen}
	for i := 0; i < int(h.RecordCount); i++ {
		if err := p.consumeRecord(pr, i); err != nil {
			return err
		}
	}
	if pr.remaining != 0 {
		return p.fail(fmt.Errorf("%d bytes left after last record", pr.remaining), "batch payload")
	}
	if pr.crc.Sum32() != h.CRC {
		return p.fail(errors.New("payload checksum mismatch"), "batch payload")
	}
	return nil
}

func (p *Parser) consumeRecord(pr *payloadReader, i int) error {
	what := func(field string) string { return fmt.Sprintf("record %d %s", i, field) }

	size, err := binary.ReadVarint(pr)
	if err != nil {
		return p.fail(err, what("size"))
	}
	if size <= 0 || size > pr.remaining {
		return p.fail(fmt.Errorf("size %d out of range", size), what("size"))
	}
	rec := &payloadReader{r: pr.r, crc: pr.crc, remaining: size}
	pr.remaining -= size

	if _, err := rec.ReadByte(); err != nil {
		return p.fail(err, what("attributes"))
	}
	tsDelta, err := binary.ReadVarint(rec)
	if err != nil {
		return p.fail(err, what("timestamp delta"))
	}
	offDelta, err := binary.ReadVarint(rec)
	if err != nil {
		return p.fail(err, what("offset delta"))
	}
	if offDelta < 0 || offDelta > math.MaxInt32 {
		return p.fail(fmt.Errorf("offset delta %d out of range", offDelta), what("offset delta"))
	}
	keyLen, err := binary.ReadVarint(rec)
	if err != nil {
		return p.fail(err, what("key length"))
	}
	var key []byte
	switch {
	case keyLen == -1:
	case keyLen < -1 || keyLen > rec.remaining:
		return p.fail(fmt.Errorf("key length %d out of range", keyLen), what("key"))
	default:
		if key, err = rec.read(keyLen); err != nil {
			return p.fail(err, what("key"))
		}
	}

	if p.consumer.ConsumeRecordKey(int(size), tsDelta, int32(offDelta), key) == Skip {
		if err := rec.skip(rec.remaining); err != nil {
			return p.fail(err, what("skipped value"))
		}
		return nil
	}
	value, err := rec.read(rec.remaining)
	if err != nil {
		return p.fail(err, what("value"))
	}
	p.consumer.ConsumeRecordValue(value)
	return nil
}

func (p *Parser) fail(err error, what string) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %s at batch offset %d", ErrTruncated, what, p.pos)
	case errors.Is(err, errIO):
		return fmt.Errorf("%s at batch offset %d: %w", what, p.pos, err)
	default:
		return fmt.Errorf("%w: %s at batch offset %d: %v", ErrCorrupt, what, p.pos, err)
	}
}

func ioError(err error) error {
	if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return fmt.Errorf("%w: %w", errIO, err)
}

// payloadReader bounds reads to a batch payload or a single record and feeds
// every consumed byte into the payload checksum.
type payloadReader struct {
	r         *bufio.Reader
	crc       hash.Hash32
	remaining int64
	one       [1]byte
}

func (pr *payloadReader) ReadByte() (byte, error) {
	if pr.remaining <= 0 {
		return 0, errOverrun
	}
	b, err := pr.r.ReadByte()
	if err != nil {
		return 0, ioError(err)
	}
	pr.remaining--
	pr.one[0] = b
	_, _ = pr.crc.Write(pr.one[:])
	return b, nil
}

func (pr *payloadReader) read(n int64) ([]byte, error) {
	if n > pr.remaining {
		return nil, errOverrun
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(pr.r, buf); err != nil {
		return nil, ioError(err)
	}
	pr.remaining -= n
	_, _ = pr.crc.Write(buf)
	return buf, nil
}

// skip advances past n bytes without retaining them.
func (pr *payloadReader) skip(n int64) error {
	if n > pr.remaining {
		return errOverrun
	}
	copied, err := io.CopyN(pr.crc, pr.r, n)
	pr.remaining -= copied
	return ioError(err)
}
