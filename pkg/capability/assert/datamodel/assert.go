package datamodel

import (
	_ "embed"
	"fmt"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/schema"
)

//go:embed assert.ipldsch
var assertSchema []byte

var assertTS *schema.TypeSystem

func init() {
	ts, err := ipld.LoadSchemaBytes(assertSchema)
	if err != nil {
		panic(fmt.Errorf("loading assert schema: %w", err))
	}
	assertTS = ts
}

func DigestType() schema.Type {
	return assertTS.TypeByName("Digest")
}

func LocationCaveatsType() schema.Type {
	return assertTS.TypeByName("LocationCaveats")
}

func PartitionCaveatsType() schema.Type {
	return assertTS.TypeByName("PartitionCaveats")
}

func InclusionCaveatsType() schema.Type {
	return assertTS.TypeByName("InclusionCaveats")
}

type DigestModel struct {
	Digest []byte
}

// Range is a byte range within an object. A nil Length means the range
// extends to the end of the object.
type Range struct {
	Offset uint64
	Length *uint64
}

type LocationCaveatsModel struct {
	Content  datamodel.Node
	Location []string
	Range    *Range
}

type PartitionCaveatsModel struct {
	Content datamodel.Node
	Blocks  *datamodel.Link
	Parts   []datamodel.Link
}

type InclusionCaveatsModel struct {
	Content  datamodel.Node
	Includes datamodel.Link
	Proof    *datamodel.Link
}
