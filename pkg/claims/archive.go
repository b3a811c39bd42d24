package claims

import (
	"errors"
	"fmt"
	"io"

	"github.com/ipfs/go-cid"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/multiformats/go-multicodec"
	mh "github.com/multiformats/go-multihash"
	"github.com/storacha/go-ucanto/core/car"
	"github.com/storacha/go-ucanto/core/delegation"
	"github.com/storacha/go-ucanto/core/ipld"
	"github.com/storacha/go-ucanto/core/ipld/block"
)

var archivePrefix = cid.Prefix{
	Version:  1,
	Codec:    uint64(multicodec.Car),
	MhType:   mh.SHA2_256,
	MhLength: -1,
}

// Decode reads claims from a CAR where every block is a claim archive (a CAR
// encoded delegation). Blocks that cannot be decoded as a supported claim are
// skipped.
func Decode(r io.Reader) ([]Claim, error) {
	_, blocks, err := car.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding claims archive: %w", err)
	}
	var claims []Claim
	for blk, err := range blocks {
		if err != nil {
			return nil, fmt.Errorf("reading claims archive: %w", err)
		}
		dlg, err := delegation.Extract(blk.Bytes())
		if err != nil {
			log.Warnf("extracting claim from block %s: %s", blk.Link(), err)
			continue
		}
		claim, err := FromDelegation(dlg)
		if err != nil {
			if errors.Is(err, ErrUnknownAbility) {
				log.Debugf("skipping claim %s: %s", dlg.Link(), err)
			} else {
				log.Warnf("decoding claim %s: %s", dlg.Link(), err)
			}
			continue
		}
		claims = append(claims, claim)
	}
	return claims, nil
}

// Encode writes claims to a CAR in the format read by [Decode].
func Encode(claims []Claim) (io.Reader, error) {
	dlgs := make([]delegation.Delegation, 0, len(claims))
	for _, c := range claims {
		dlgs = append(dlgs, c.Delegation())
	}
	return Archive(dlgs...)
}

// Archive writes delegations to a CAR, one claim archive per block.
func Archive(dlgs ...delegation.Delegation) (io.Reader, error) {
	roots := make([]ipld.Link, 0, len(dlgs))
	blks := make([]block.Block, 0, len(dlgs))
	for _, dlg := range dlgs {
		b, err := io.ReadAll(dlg.Archive())
		if err != nil {
			return nil, fmt.Errorf("archiving claim %s: %w", dlg.Link(), err)
		}
		c, err := archivePrefix.Sum(b)
		if err != nil {
			return nil, fmt.Errorf("hashing claim archive: %w", err)
		}
		lnk := cidlink.Link{Cid: c}
		roots = append(roots, lnk)
		blks = append(blks, block.NewBlock(lnk, b))
	}
	return car.Encode(roots, func(yield func(block.Block, error) bool) {
		for _, b := range blks {
			if !yield(b, nil) {
				return
			}
		}
	}), nil
}
