package testutil

import (
	"bytes"
	crand "crypto/rand"
	"io"
	"net/url"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"
	"github.com/storacha/freeway/pkg/capability/assert"
	"github.com/storacha/freeway/pkg/claims"
	"github.com/storacha/freeway/pkg/mhindex"
	"github.com/storacha/go-ucanto/core/car"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/ipld/block"
	"github.com/storacha/go-ucanto/principal/ed25519/signer"
)

// Service is the principal that issues claims in tests.
var Service = must(signer.Generate())

// Alice is a principal claims can be delegated to.
var Alice = must(signer.Generate())

var TestURL = must(url.Parse("https://claims.example.com"))

func must[T any](val T, err error) T {
	if err != nil {
		panic(err)
	}
	return val
}

func RandomBytes(size int) []byte {
	bytes := make([]byte, size)
	_, _ = crand.Read(bytes)
	return bytes
}

func sum(codec multicodec.Code, data []byte) cid.Cid {
	return must(cid.Prefix{
		Version:  1,
		Codec:    uint64(codec),
		MhType:   mh.SHA2_256,
		MhLength: -1,
	}.Sum(data))
}

// RandomCID returns a CID with the raw codec for random data.
func RandomCID() cid.Cid {
	return sum(multicodec.Raw, RandomBytes(10))
}

func RandomMultihash() mh.Multihash {
	return RandomCID().Hash()
}

// RawCID returns the raw codec CID of data.
func RawCID(data []byte) cid.Cid {
	return sum(multicodec.Raw, data)
}

// ShardBlock is a block written to a shard and the offset of its section.
type ShardBlock struct {
	CID    cid.Cid
	Data   []byte
	Offset uint64
}

// Shard is a CAR file of random raw blocks.
type Shard struct {
	CID    cid.Cid
	Bytes  []byte
	Blocks []ShardBlock
}

// Index builds a multihash-index-sorted index of the blocks in the shard and
// returns its bytes and CID.
func (s Shard) Index() ([]byte, cid.Cid) {
	records := make([]mhindex.Record, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		records = append(records, mhindex.Record{Multihash: b.CID.Hash(), Offset: b.Offset})
	}
	var buf bytes.Buffer
	if err := mhindex.Encode(&buf, records); err != nil {
		panic(err)
	}
	return buf.Bytes(), sum(multicodec.CarMultihashIndexSorted, buf.Bytes())
}

// RandomShard creates a CAR of count random raw blocks of the given size.
func RandomShard(count, size int) Shard {
	blks := make([]ShardBlock, 0, count)
	for range count {
		data := RandomBytes(size)
		blks = append(blks, ShardBlock{CID: RawCID(data), Data: data})
	}
	return NewShard(blks)
}

// NewShard writes the passed blocks to a CAR, recording each block's offset.
func NewShard(blks []ShardBlock) Shard {
	var roots []datamodel.Link
	if len(blks) > 0 {
		roots = append(roots, cidlink.Link{Cid: blks[0].CID})
	}
	header := must(io.ReadAll(car.Encode(roots, func(yield func(block.Block, error) bool) {})))

	var buf bytes.Buffer
	buf.Write(header)
	out := make([]ShardBlock, 0, len(blks))
	for _, b := range blks {
		b.Offset = uint64(buf.Len())
		buf.Write(Section(b.CID, b.Data))
		out = append(out, b)
	}
	return Shard{CID: sum(multicodec.Car, buf.Bytes()), Bytes: buf.Bytes(), Blocks: out}
}

// Section encodes a CAR section: uvarint length, CID then data.
func Section(c cid.Cid, data []byte) []byte {
	n := uint64(c.ByteLen() + len(data))
	section := varint.ToUvarint(n)
	section = append(section, c.Bytes()...)
	return append(section, data...)
}

func links(cids []cid.Cid) []ipld.Link {
	out := make([]ipld.Link, 0, len(cids))
	for _, c := range cids {
		out = append(out, cidlink.Link{Cid: c})
	}
	return out
}

// LocationDelegation issues an assert/location claim for content.
func LocationDelegation(content cid.Cid, location url.URL, rng *claims.Range) delegation.Delegation {
	return must(assert.Location.Delegate(
		Service,
		Alice,
		Service.DID().String(),
		assert.LocationCaveats{
			Content:  must(assert.Link(cidlink.Link{Cid: content})),
			Location: []url.URL{location},
			Range:    rng,
		},
	))
}

// DigestLocationDelegation issues an assert/location claim whose subject is
// a bare multihash rather than a CID.
func DigestLocationDelegation(digest mh.Multihash, location url.URL) delegation.Delegation {
	return must(assert.Location.Delegate(
		Service,
		Alice,
		Service.DID().String(),
		assert.LocationCaveats{
			Content:  assert.FromHash(digest),
			Location: []url.URL{location},
		},
	))
}

// PartitionDelegation issues an assert/partition claim for content.
func PartitionDelegation(content cid.Cid, parts ...cid.Cid) delegation.Delegation {
	return must(assert.Partition.Delegate(
		Service,
		Alice,
		Service.DID().String(),
		assert.PartitionCaveats{
			Content: must(assert.Link(cidlink.Link{Cid: content})),
			Parts:   links(parts),
		},
	))
}

// InclusionDelegation issues an assert/inclusion claim that content includes
// the index.
func InclusionDelegation(content cid.Cid, index cid.Cid) delegation.Delegation {
	return must(assert.Inclusion.Delegate(
		Service,
		Alice,
		Service.DID().String(),
		assert.InclusionCaveats{
			Content:  must(assert.Link(cidlink.Link{Cid: content})),
			Includes: cidlink.Link{Cid: index},
		},
	))
}

// ClaimsResponse encodes delegations as a claims service response body.
func ClaimsResponse(dlgs ...delegation.Delegation) []byte {
	return must(io.ReadAll(must(claims.Archive(dlgs...))))
}
