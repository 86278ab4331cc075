package testutil

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/multiformats/go-varint"

	"github.com/c360/skystream/lex"
)

var dagEnc = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// EncodeDAGCBOR encodes v with canonical (length-first) map ordering.
func EncodeDAGCBOR(t testing.TB, v any) []byte {
	t.Helper()
	data, err := dagEnc.Marshal(v)
	if err != nil {
		t.Fatalf("encode dag-cbor: %v", err)
	}
	return data
}

// BlockCID returns the CIDv1 (dag-cbor, sha2-256) of data.
func BlockCID(t testing.TB, data []byte) cid.Cid {
	t.Helper()
	mh, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		t.Fatalf("hash block: %v", err)
	}
	return cid.NewCidV1(cid.DagCBOR, mh)
}

// EncodeBlock encodes v and returns the bytes with their CID.
func EncodeBlock(t testing.TB, v any) ([]byte, cid.Cid) {
	t.Helper()
	data := EncodeDAGCBOR(t, v)
	return data, BlockCID(t, data)
}

// CARBuilder assembles a CARv1 archive.
type CARBuilder struct {
	t      testing.TB
	roots  []cid.Cid
	blocks [][]byte // cid bytes || data
}

// NewCARBuilder creates an empty archive builder.
func NewCARBuilder(t testing.TB) *CARBuilder {
	return &CARBuilder{t: t}
}

// AddRecord encodes v as a block, adds it and returns its CID.
// The first block added becomes the root.
func (b *CARBuilder) AddRecord(v any) cid.Cid {
	b.t.Helper()
	data, c := EncodeBlock(b.t, v)
	b.AddRaw(c, data)
	return c
}

// AddRaw adds data under c without checking that c matches.
func (b *CARBuilder) AddRaw(c cid.Cid, data []byte) {
	if len(b.roots) == 0 {
		b.roots = append(b.roots, c)
	}
	b.blocks = append(b.blocks, append(c.Bytes(), data...))
}

// Bytes returns the archive.
func (b *CARBuilder) Bytes() []byte {
	b.t.Helper()

	roots := make([]any, 0, len(b.roots))
	for _, r := range b.roots {
		roots = append(roots, lex.LinkTag(r))
	}
	header := EncodeDAGCBOR(b.t, map[string]any{"version": 1, "roots": roots})

	out := append(varint.ToUvarint(uint64(len(header))), header...)
	for _, section := range b.blocks {
		out = append(out, varint.ToUvarint(uint64(len(section)))...)
		out = append(out, section...)
	}
	return out
}
