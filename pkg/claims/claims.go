// Package claims reads content claims: signed assertions about where content
// is stored and how it is structured.
package claims

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/ipfs/go-cid"
	logging "github.com/ipfs/go-log/v2"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/ipld"

	"github.com/storacha/freeway/pkg/capability/assert"
)

var log = logging.Logger("claims")

const (
	LocationAbility  = assert.LocationAbility
	PartitionAbility = assert.PartitionAbility
	InclusionAbility = assert.InclusionAbility
)

// ErrUnknownAbility means a claim asserts something this package does not
// understand.
var ErrUnknownAbility = errors.New("unknown claim ability")

// Claim is a decoded content claim.
type Claim interface {
	// Ability is the kind of claim e.g. "assert/location".
	Ability() string
	// Content is the multihash of the claim subject.
	Content() mh.Multihash
	// Delegation is the signed UCAN the claim was decoded from.
	Delegation() delegation.Delegation
}

type claim struct {
	content mh.Multihash
	dlg     delegation.Delegation
}

func (c claim) Content() mh.Multihash {
	return c.content
}

func (c claim) Delegation() delegation.Delegation {
	return c.dlg
}

// Range is a byte range within an object.
type Range = assert.Range

// LocationClaim asserts that the subject can be fetched from Location.
type LocationClaim struct {
	claim
	Location []url.URL
	Range    *Range
}

func (LocationClaim) Ability() string {
	return LocationAbility
}

// PartitionClaim asserts that the subject's blocks are stored in Parts.
type PartitionClaim struct {
	claim
	Blocks *cid.Cid
	Parts  []cid.Cid
}

func (PartitionClaim) Ability() string {
	return PartitionAbility
}

// InclusionClaim asserts that the subject (a part) includes the contents of
// Includes, typically an index of the blocks in the part.
type InclusionClaim struct {
	claim
	Includes cid.Cid
	Proof    *cid.Cid
}

func (InclusionClaim) Ability() string {
	return InclusionAbility
}

// FromDelegation decodes a claim from a delegation with a single capability.
func FromDelegation(dlg delegation.Delegation) (Claim, error) {
	caps := dlg.Capabilities()
	if len(caps) != 1 {
		return nil, fmt.Errorf("claim %s has an unexpected number of capabilities (%d)", dlg.Link(), len(caps))
	}
	capability := caps[0]

	switch capability.Can() {
	case LocationAbility:
		nb, err := assert.LocationCaveatsReader.Read(capability.Nb())
		if err != nil {
			return nil, fmt.Errorf("reading %s caveats: %w", LocationAbility, err)
		}
		return LocationClaim{claim{nb.Content.Hash(), dlg}, nb.Location, nb.Range}, nil
	case PartitionAbility:
		nb, err := assert.PartitionCaveatsReader.Read(capability.Nb())
		if err != nil {
			return nil, fmt.Errorf("reading %s caveats: %w", PartitionAbility, err)
		}
		pc := PartitionClaim{claim: claim{nb.Content.Hash(), dlg}}
		if nb.Blocks != nil {
			blocks, err := asCid(*nb.Blocks)
			if err != nil {
				return nil, fmt.Errorf("reading %s caveats: blocks: %w", PartitionAbility, err)
			}
			pc.Blocks = &blocks
		}
		for _, l := range nb.Parts {
			part, err := asCid(l)
			if err != nil {
				return nil, fmt.Errorf("reading %s caveats: parts: %w", PartitionAbility, err)
			}
			pc.Parts = append(pc.Parts, part)
		}
		return pc, nil
	case InclusionAbility:
		nb, err := assert.InclusionCaveatsReader.Read(capability.Nb())
		if err != nil {
			return nil, fmt.Errorf("reading %s caveats: %w", InclusionAbility, err)
		}
		includes, cerr := asCid(nb.Includes)
		if cerr != nil {
			return nil, fmt.Errorf("reading %s caveats: includes: %w", InclusionAbility, cerr)
		}
		ic := InclusionClaim{claim: claim{nb.Content.Hash(), dlg}, Includes: includes}
		if nb.Proof != nil {
			proof, err := asCid(*nb.Proof)
			if err != nil {
				return nil, fmt.Errorf("reading %s caveats: proof: %w", InclusionAbility, err)
			}
			ic.Proof = &proof
		}
		return ic, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAbility, capability.Can())
	}
}

func asCid(l ipld.Link) (cid.Cid, error) {
	cl, ok := l.(cidlink.Link)
	if !ok {
		return cid.Undef, fmt.Errorf("unsupported link type %T", l)
	}
	return cl.Cid, nil
}
