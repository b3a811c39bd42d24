// Package blockstore fetches single blocks from remote CAR files with HTTP
// range requests, using an index to find where each block starts.
package blockstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/freeway/pkg/build"
	"github.com/storacha/freeway/pkg/telemetry"
	"github.com/storacha/freeway/pkg/types"
)

var log = logging.Logger("blockstore")

// MaxEncodedBlockLength is the largest frame fetched for a block: 2MiB (the
// largest block accepted by libp2p), a typical header and some leeway.
const MaxEncodedBlockLength = (1024 * 1024 * 2) + 39 + 61

var (
	// ErrUnexpectedBlock means the frame at the indexed offset is for a
	// different block.
	ErrUnexpectedBlock = errors.New("unexpected block")
	// ErrDigestMismatch means the block bytes do not hash to the requested CID.
	ErrDigestMismatch = errors.New("block digest mismatch")
)

// Index resolves CIDs to the location of their block. It returns
// [types.ErrNotFound] when the block cannot be located.
type Index interface {
	Get(ctx context.Context, c cid.Cid) (types.IndexEntry, error)
}

// Blockstore is a read only block store over remote CAR files.
type Blockstore struct {
	idx        Index
	httpClient *http.Client
}

type Option func(*Blockstore)

// WithHTTPClient configures the HTTP client used to fetch blocks.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(bs *Blockstore) {
		bs.httpClient = httpClient
	}
}

func New(idx Index, opts ...Option) *Blockstore {
	bs := &Blockstore{idx: idx, httpClient: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(bs)
	}
	return bs
}

// Has reports whether the block can be located.
func (bs *Blockstore) Has(ctx context.Context, c cid.Cid) (bool, error) {
	_, err := bs.idx.Get(ctx, c)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get fetches the block for the CID. Blocks that cannot be located or fetched
// return an error wrapping [types.ErrNotFound].
func (bs *Blockstore) Get(ctx context.Context, c cid.Cid) (blocks.Block, error) {
	ctx, s := telemetry.StartSpan(ctx, "Blockstore.Get")
	defer s.End()

	entry, err := bs.idx.Get(ctx, c)
	if err != nil {
		return nil, err
	}

	payload, err := bs.fetch(ctx, c, entry)
	if err != nil {
		telemetry.Error(s, err, "fetching block")
		return nil, err
	}
	return blocks.NewBlockWithCid(payload, c)
}

func (bs *Blockstore) fetch(ctx context.Context, c cid.Cid, entry types.IndexEntry) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.Location.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", entry.Offset, entry.Offset+MaxEncodedBlockLength))
	req.Header.Set("User-Agent", build.UserAgent)

	res, err := bs.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching block %s: %w", c, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("%w: fetching block %s from %s: status %d", types.ErrNotFound, c, entry.Location.String(), res.StatusCode)
	}

	var body io.Reader = res.Body
	if res.StatusCode != http.StatusPartialContent {
		// range ignored by server
		if _, err := io.CopyN(io.Discard, body, int64(entry.Offset)); err != nil {
			return nil, fmt.Errorf("%w: skipping to block %s: %w", types.ErrNotFound, c, err)
		}
	}

	fr := NewFrameReader(body, MaxEncodedBlockLength)
	header, err := fr.ReadHeader()
	if err != nil {
		return nil, fmt.Errorf("reading frame header for block %s: %w", c, err)
	}
	if !bytes.Equal(header.CID.Hash(), c.Hash()) {
		return nil, fmt.Errorf("%w: expected %s at offset %d of %s, found %s", ErrUnexpectedBlock, c, entry.Offset, entry.Location.String(), header.CID)
	}
	payload, err := fr.ReadPayload()
	if err != nil {
		return nil, fmt.Errorf("reading payload for block %s: %w", c, err)
	}
	// release the connection rather than reading the rest of the range
	if err := res.Body.Close(); err != nil {
		log.Debugf("closing body for block %s: %s", c, err)
	}

	if err := verify(c, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func verify(c cid.Cid, payload []byte) error {
	decoded, err := mh.Decode(c.Hash())
	if err != nil {
		return fmt.Errorf("decoding multihash of %s: %w", c, err)
	}
	if decoded.Code == mh.IDENTITY {
		if !bytes.Equal(decoded.Digest, payload) {
			return fmt.Errorf("%w: %s", ErrDigestMismatch, c)
		}
		return nil
	}
	digest, err := mh.Sum(payload, decoded.Code, decoded.Length)
	if err != nil {
		return fmt.Errorf("hashing block %s: %w", c, err)
	}
	if !bytes.Equal(digest, c.Hash()) {
		return fmt.Errorf("%w: %s", ErrDigestMismatch, c)
	}
	return nil
}
