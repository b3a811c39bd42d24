package mhindex

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"slices"

	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
)

// Record is a multihash and the offset of the block it identifies.
type Record struct {
	Multihash mh.Multihash
	Offset    uint64
}

type bucketRecord struct {
	digest []byte
	offset uint64
}

// Encode writes records to w in the sorted multihash index format.
func Encode(w io.Writer, records []Record) error {
	// code -> width -> records
	grouped := map[uint64]map[uint32][]bucketRecord{}
	for _, rec := range records {
		decoded, err := mh.Decode(rec.Multihash)
		if err != nil {
			return fmt.Errorf("decoding multihash: %w", err)
		}
		widths, ok := grouped[decoded.Code]
		if !ok {
			widths = map[uint32][]bucketRecord{}
			grouped[decoded.Code] = widths
		}
		width := uint32(len(decoded.Digest) + offsetSize)
		widths[width] = append(widths[width], bucketRecord{decoded.Digest, rec.Offset})
	}

	if _, err := w.Write(varint.ToUvarint(uint64(Codec))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int32(len(grouped))); err != nil {
		return err
	}
	for _, code := range slices.Sorted(maps.Keys(grouped)) {
		widths := grouped[code]
		if err := binary.Write(w, binary.LittleEndian, code); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, int32(len(widths))); err != nil {
			return err
		}
		for _, width := range slices.Sorted(maps.Keys(widths)) {
			if err := writeBucket(w, width, widths[width]); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeBucket(w io.Writer, width uint32, records []bucketRecord) error {
	slices.SortFunc(records, func(a, b bucketRecord) int {
		if c := bytes.Compare(a.digest, b.digest); c != 0 {
			return c
		}
		return cmp.Compare(a.offset, b.offset)
	})
	if err := binary.Write(w, binary.LittleEndian, width); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, int64(width)*int64(len(records))); err != nil {
		return err
	}
	offset := make([]byte, offsetSize)
	for _, rec := range records {
		if _, err := w.Write(rec.digest); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(offset, rec.offset)
		if _, err := w.Write(offset); err != nil {
			return err
		}
	}
	return nil
}
