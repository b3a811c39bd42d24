package blockstore

import (
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"
)

var (
	// ErrInvalidFrame means the frame header is not a valid CAR section header.
	ErrInvalidFrame = errors.New("invalid block frame")
	// ErrInvalidState means a frame reader method was called out of order.
	ErrInvalidState = errors.New("invalid frame reader state")
)

type frameState int

const (
	awaitingHeader frameState = iota
	readingPayload
	complete
)

func (s frameState) String() string {
	switch s {
	case awaitingHeader:
		return "awaiting header"
	case readingPayload:
		return "reading payload"
	case complete:
		return "complete"
	default:
		return fmt.Sprintf("frameState(%d)", int(s))
	}
}

// FrameHeader describes a CAR section: the CID of the block and the length
// of the payload that follows it.
type FrameHeader struct {
	CID cid.Cid
	// HeaderLength is the number of bytes taken by the length prefix and CID.
	HeaderLength int
	// PayloadLength is the number of block bytes following the header.
	PayloadLength int
}

// FrameReader reads a single block frame (CAR section) from a stream: a
// uvarint section length, the block CID and then exactly the block bytes.
// No bytes beyond the end of the payload are consumed from the stream.
type FrameReader struct {
	r      *countingReader
	max    int
	state  frameState
	header FrameHeader
}

// NewFrameReader reads a frame whose section may be at most maxLength bytes.
func NewFrameReader(r io.Reader, maxLength int) *FrameReader {
	return &FrameReader{r: &countingReader{r: r}, max: maxLength}
}

// ReadHeader reads the frame header. It must be called first.
func (fr *FrameReader) ReadHeader() (FrameHeader, error) {
	if fr.state != awaitingHeader {
		return FrameHeader{}, fmt.Errorf("%w: read header while %s", ErrInvalidState, fr.state)
	}
	length, err := varint.ReadUvarint(fr.r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return FrameHeader{}, io.ErrUnexpectedEOF
		}
		return FrameHeader{}, fmt.Errorf("%w: reading section length: %w", ErrInvalidFrame, err)
	}
	if length == 0 || length > uint64(fr.max) {
		return FrameHeader{}, fmt.Errorf("%w: section length %d", ErrInvalidFrame, length)
	}
	start := fr.r.n
	n, c, err := cid.CidFromReader(fr.r)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return FrameHeader{}, io.ErrUnexpectedEOF
		}
		return FrameHeader{}, fmt.Errorf("%w: reading CID: %w", ErrInvalidFrame, err)
	}
	if uint64(n) > length {
		return FrameHeader{}, fmt.Errorf("%w: CID length %d exceeds section length %d", ErrInvalidFrame, n, length)
	}
	fr.header = FrameHeader{
		CID:           c,
		HeaderLength:  start + n,
		PayloadLength: int(length) - n,
	}
	fr.state = readingPayload
	return fr.header, nil
}

// ReadPayload reads exactly the payload declared by the header.
func (fr *FrameReader) ReadPayload() ([]byte, error) {
	if fr.state != readingPayload {
		return nil, fmt.Errorf("%w: read payload while %s", ErrInvalidState, fr.state)
	}
	payload := make([]byte, fr.header.PayloadLength)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	fr.state = complete
	return payload, nil
}

// countingReader counts bytes read through it. It reads single bytes without
// buffering so the underlying stream is never read past the frame.
type countingReader struct {
	r io.Reader
	n int
	b [1]byte
}

var _ io.ByteReader = (*countingReader)(nil)

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	cr.n += n
	return n, err
}

func (cr *countingReader) ReadByte() (byte, error) {
	if br, ok := cr.r.(io.ByteReader); ok {
		b, err := br.ReadByte()
		if err == nil {
			cr.n++
		}
		return b, err
	}
	if _, err := io.ReadFull(cr.r, cr.b[:]); err != nil {
		return 0, err
	}
	cr.n++
	return cr.b[0], nil
}
