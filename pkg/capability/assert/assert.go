// Package assert defines the assert/* content claim capabilities read by the
// gateway.
package assert

import (
	"net/url"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/result/failure"
	"github.com/storacha/go-ucanto/core/schema"
	"github.com/storacha/go-ucanto/validator"

	adm "github.com/storacha/freeway/pkg/capability/assert/datamodel"
)

const (
	// LocationAbility claims that content can be fetched from one or more URLs.
	LocationAbility = "assert/location"
	// PartitionAbility claims that content's graph can be read from the blocks
	// found in a set of parts.
	PartitionAbility = "assert/partition"
	// InclusionAbility claims that a part includes the contents claimed in
	// another CID, typically an index.
	InclusionAbility = "assert/inclusion"
)

// HasMultihash is the subject of a claim, either a link or a bare digest.
type HasMultihash interface {
	hasMultihash()
	ToIPLD() (datamodel.Node, error)
	Hash() mh.Multihash
}

type link struct {
	link datamodel.Link
}

func (l link) hasMultihash() {}

func (l link) Hash() mh.Multihash {
	return l.link.(cidlink.Link).Cid.Hash()
}

func (l link) ToIPLD() (datamodel.Node, error) {
	return basicnode.NewLink(l.link), nil
}

// Link is a claim subject identified by CID.
func Link(l datamodel.Link) (HasMultihash, failure.Failure) {
	return link{l}, nil
}

type digest struct {
	digest mh.Multihash
}

func (d digest) hasMultihash() {}

func (d digest) Hash() mh.Multihash {
	return d.digest
}

func (d digest) ToIPLD() (datamodel.Node, error) {
	return qp.BuildMap(basicnode.Prototype.Map, 1, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, "digest", qp.Bytes(d.digest))
	})
}

// Digest is a claim subject identified by multihash alone.
func Digest(d adm.DigestModel) (HasMultihash, failure.Failure) {
	h, err := mh.Cast(d.Digest)
	if err != nil {
		return nil, failure.FromError(err)
	}
	return FromHash(h), nil
}

// FromHash returns a digest subject for a multihash.
func FromHash(h mh.Multihash) HasMultihash {
	return digest{h}
}

var linkOrDigest = schema.Or(
	schema.Mapped(schema.Link(), Link),
	schema.Mapped(schema.Struct[adm.DigestModel](adm.DigestType(), nil), Digest),
)

// Range is a byte range within an object.
type Range = adm.Range

type LocationCaveats struct {
	Content  HasMultihash
	Location []url.URL
	Range    *Range
}

func (lc LocationCaveats) ToIPLD() (datamodel.Node, error) {
	cn, err := lc.Content.ToIPLD()
	if err != nil {
		return nil, err
	}
	asStrings := make([]string, 0, len(lc.Location))
	for _, location := range lc.Location {
		asStrings = append(asStrings, location.String())
	}
	md := &adm.LocationCaveatsModel{
		Content:  cn,
		Location: asStrings,
		Range:    lc.Range,
	}
	return ipld.WrapWithRecovery(md, adm.LocationCaveatsType())
}

var LocationCaveatsReader = schema.Mapped(schema.Struct[adm.LocationCaveatsModel](adm.LocationCaveatsType(), nil), func(model adm.LocationCaveatsModel) (LocationCaveats, failure.Failure) {
	content, err := linkOrDigest.Read(model.Content)
	if err != nil {
		return LocationCaveats{}, err
	}
	location := make([]url.URL, 0, len(model.Location))
	for _, l := range model.Location {
		u, err := schema.URI().Read(l)
		if err != nil {
			return LocationCaveats{}, err
		}
		location = append(location, u)
	}
	return LocationCaveats{
		Content:  content,
		Location: location,
		Range:    model.Range,
	}, nil
})

var Location = validator.NewCapability(LocationAbility, schema.DIDString(), LocationCaveatsReader, nil)

type PartitionCaveats struct {
	Content HasMultihash
	Blocks  *ipld.Link
	Parts   []ipld.Link
}

func (pc PartitionCaveats) ToIPLD() (datamodel.Node, error) {
	cn, err := pc.Content.ToIPLD()
	if err != nil {
		return nil, err
	}
	md := &adm.PartitionCaveatsModel{
		Content: cn,
		Blocks:  pc.Blocks,
		Parts:   pc.Parts,
	}
	return ipld.WrapWithRecovery(md, adm.PartitionCaveatsType())
}

var PartitionCaveatsReader = schema.Mapped(schema.Struct[adm.PartitionCaveatsModel](adm.PartitionCaveatsType(), nil), func(model adm.PartitionCaveatsModel) (PartitionCaveats, failure.Failure) {
	content, err := linkOrDigest.Read(model.Content)
	if err != nil {
		return PartitionCaveats{}, err
	}
	var blocks *ipld.Link
	if model.Blocks != nil {
		b, err := schema.Link(schema.WithVersion(1)).Read(*model.Blocks)
		if err != nil {
			return PartitionCaveats{}, err
		}
		blocks = &b
	}
	parts := make([]ipld.Link, 0, len(model.Parts))
	for _, p := range model.Parts {
		part, err := schema.Link(schema.WithVersion(1)).Read(p)
		if err != nil {
			return PartitionCaveats{}, err
		}
		parts = append(parts, part)
	}
	return PartitionCaveats{
		Content: content,
		Blocks:  blocks,
		Parts:   parts,
	}, nil
})

var Partition = validator.NewCapability(PartitionAbility, schema.DIDString(), PartitionCaveatsReader, nil)

type InclusionCaveats struct {
	Content  HasMultihash
	Includes ipld.Link
	Proof    *ipld.Link
}

func (ic InclusionCaveats) ToIPLD() (datamodel.Node, error) {
	cn, err := ic.Content.ToIPLD()
	if err != nil {
		return nil, err
	}
	md := &adm.InclusionCaveatsModel{
		Content:  cn,
		Includes: ic.Includes,
		Proof:    ic.Proof,
	}
	return ipld.WrapWithRecovery(md, adm.InclusionCaveatsType())
}

var InclusionCaveatsReader = schema.Mapped(schema.Struct[adm.InclusionCaveatsModel](adm.InclusionCaveatsType(), nil), func(model adm.InclusionCaveatsModel) (InclusionCaveats, failure.Failure) {
	content, err := linkOrDigest.Read(model.Content)
	if err != nil {
		return InclusionCaveats{}, err
	}
	includes, err := schema.Link(schema.WithVersion(1)).Read(model.Includes)
	if err != nil {
		return InclusionCaveats{}, err
	}
	var proof *ipld.Link
	if model.Proof != nil {
		p, err := schema.Link(schema.WithVersion(1)).Read(*model.Proof)
		if err != nil {
			return InclusionCaveats{}, err
		}
		proof = &p
	}
	return InclusionCaveats{
		Content:  content,
		Includes: includes,
		Proof:    proof,
	}, nil
})

var Inclusion = validator.NewCapability(InclusionAbility, schema.DIDString(), InclusionCaveatsReader, nil)
