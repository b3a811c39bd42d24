// Package mhindex reads and writes the sorted multihash index format
// (multicodec car-multihash-index-sorted, 0x0401) used to locate blocks
// within CAR files.
package mhindex

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/url"
	"slices"

	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
	"github.com/storacha/freeway/pkg/types"
)

// Codec is the multicodec that prefixes an encoded index.
const Codec = multicodec.CarMultihashIndexSorted

const (
	// offsetSize is the number of bytes used to encode an offset in each record.
	offsetSize = 8
	// MaxDigestSize bounds the digest length of a record.
	MaxDigestSize = 128
)

var (
	// ErrUnknownCodec means the stream is not a sorted multihash index.
	ErrUnknownCodec = errors.New("unknown index codec")
	// ErrMalformed means the stream structure is invalid.
	ErrMalformed = errors.New("malformed index")
)

// DecodeError is returned when an index stream cannot be decoded.
type DecodeError struct {
	Err error
}

func (e DecodeError) Error() string {
	return fmt.Sprintf("decoding multihash index: %s", e.Err)
}

func (e DecodeError) Unwrap() error {
	return e.Err
}

// Item is a single record of the index.
type Item struct {
	Multihash mh.Multihash
	Digest    []byte
	Offset    uint64
}

// Reader incrementally decodes index records from a stream. Records are
// yielded in the order they appear in the stream: grouped by multihash code
// and digest width, sorted by digest within each group.
type Reader struct {
	r       *bufio.Reader
	started bool
	codes   int32
	code    uint64
	buckets int32
	entries int64
	record  []byte
	err     error
}

// NewReader creates a reader over an encoded index.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Next returns the next record. It returns io.EOF when the index has been
// fully read. Any other error is a [DecodeError] and is returned by every
// subsequent call.
func (r *Reader) Next() (Item, error) {
	if r.err != nil {
		return Item{}, r.err
	}
	item, err := r.next()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			err = DecodeError{err}
		}
		r.err = err
	}
	return item, err
}

func (r *Reader) next() (Item, error) {
	if !r.started {
		if err := r.readHeader(); err != nil {
			return Item{}, err
		}
		r.started = true
	}
	for r.entries == 0 {
		for r.buckets == 0 {
			if r.codes == 0 {
				return Item{}, io.EOF
			}
			if err := r.readCode(); err != nil {
				return Item{}, err
			}
		}
		if err := r.readBucket(); err != nil {
			return Item{}, err
		}
	}

	if _, err := io.ReadFull(r.r, r.record); err != nil {
		return Item{}, truncated(err)
	}
	r.entries--

	split := len(r.record) - offsetSize
	digest := slices.Clone(r.record[:split])
	multihash, err := mh.Encode(digest, r.code)
	if err != nil {
		return Item{}, fmt.Errorf("encoding multihash: %w", err)
	}
	return Item{
		Multihash: multihash,
		Digest:    digest,
		Offset:    binary.LittleEndian.Uint64(r.record[split:]),
	}, nil
}

func (r *Reader) readHeader() error {
	codec, err := varint.ReadUvarint(r.r)
	if err != nil {
		return truncated(err)
	}
	if multicodec.Code(codec) != Codec {
		return fmt.Errorf("%w: 0x%x", ErrUnknownCodec, codec)
	}
	if err := binary.Read(r.r, binary.LittleEndian, &r.codes); err != nil {
		return truncated(err)
	}
	if r.codes < 0 {
		return fmt.Errorf("%w: negative multihash code count %d", ErrMalformed, r.codes)
	}
	return nil
}

func (r *Reader) readCode() error {
	if err := binary.Read(r.r, binary.LittleEndian, &r.code); err != nil {
		return truncated(err)
	}
	if err := binary.Read(r.r, binary.LittleEndian, &r.buckets); err != nil {
		return truncated(err)
	}
	if r.buckets < 0 {
		return fmt.Errorf("%w: negative width count %d", ErrMalformed, r.buckets)
	}
	r.codes--
	return nil
}

func (r *Reader) readBucket() error {
	var width uint32
	if err := binary.Read(r.r, binary.LittleEndian, &width); err != nil {
		return truncated(err)
	}
	var size int64
	if err := binary.Read(r.r, binary.LittleEndian, &size); err != nil {
		return truncated(err)
	}
	if width <= offsetSize || width > offsetSize+MaxDigestSize {
		return fmt.Errorf("%w: record width %d", ErrMalformed, width)
	}
	if size < 0 || size%int64(width) != 0 {
		return fmt.Errorf("%w: bucket size %d is not a multiple of width %d", ErrMalformed, size, width)
	}
	if cap(r.record) >= int(width) {
		r.record = r.record[:width]
	} else {
		r.record = make([]byte, width)
	}
	r.entries = size / int64(width)
	r.buckets--
	return nil
}

// a clean EOF part way through the structure is still a truncated stream
func truncated(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// All iterates every record in the encoded index. Iteration stops after the
// first error.
func All(r io.Reader) iter.Seq2[Item, error] {
	return func(yield func(Item, error) bool) {
		rdr := NewReader(r)
		for {
			item, err := rdr.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(Item{}, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}

// Entries iterates the records of the encoded index as index entries for
// blocks found in the object at location.
func Entries(location url.URL, r io.Reader) iter.Seq2[types.IndexEntry, error] {
	return func(yield func(types.IndexEntry, error) bool) {
		for item, err := range All(r) {
			if err != nil {
				yield(types.IndexEntry{}, err)
				return
			}
			entry := types.IndexEntry{
				Multihash: item.Multihash,
				Offset:    item.Offset,
				Location:  location,
			}
			if !yield(entry, nil) {
				return
			}
		}
	}
}
