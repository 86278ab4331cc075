// Package repo reads the CARv1 block archives attached to firehose commits.
package repo

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-varint"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/lex"
)

// carHeader is the DAG-CBOR map that opens every CARv1 archive.
type carHeader struct {
	Version uint64     `cbor:"version"`
	Roots   []lex.Link `cbor:"roots"`
}

// BlockStore is a read-only lookup from CID to raw block bytes.
type BlockStore struct {
	roots  []cid.Cid
	blocks map[string][]byte // keyed by cid.KeyString
}

// ReadCAR parses a CARv1 archive. Empty input yields an empty store.
// Block bytes alias data; callers must not modify data afterwards.
func ReadCAR(data []byte) (*BlockStore, error) {
	bs := &BlockStore{blocks: make(map[string][]byte)}
	if len(data) == 0 {
		return bs, nil
	}

	headerBytes, rest, err := readSection(data)
	if err != nil {
		return nil, errors.WrapInvalid(err, "repo", "ReadCAR", "read header section")
	}

	var header carHeader
	if err := cbor.Unmarshal(headerBytes, &header); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"repo", "ReadCAR", "decode header")
	}
	if header.Version != 1 {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: car version %d", errors.ErrInvalidData, header.Version),
			"repo", "ReadCAR", "check version")
	}
	for _, root := range header.Roots {
		bs.roots = append(bs.roots, root.Cid)
	}

	for len(rest) > 0 {
		var section []byte
		section, rest, err = readSection(rest)
		if err != nil {
			return nil, errors.WrapInvalid(err, "repo", "ReadCAR", "read block section")
		}

		n, c, err := cid.CidFromBytes(section)
		if err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
				"repo", "ReadCAR", "decode block cid")
		}
		bs.blocks[c.KeyString()] = section[n:]
	}

	return bs, nil
}

// readSection splits one varint length-prefixed section off data.
func readSection(data []byte) (section, rest []byte, err error) {
	length, n, err := varint.FromUvarint(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: section length: %v", errors.ErrParsingFailed, err)
	}
	if length == 0 || uint64(len(data)-n) < length {
		return nil, nil, fmt.Errorf("%w: section of %d bytes truncated", errors.ErrParsingFailed, length)
	}
	end := n + int(length)
	return data[n:end], data[end:], nil
}

// Get returns the block stored under c.
func (bs *BlockStore) Get(c cid.Cid) ([]byte, bool) {
	if bs == nil || !c.Defined() {
		return nil, false
	}
	b, ok := bs.blocks[c.KeyString()]
	return b, ok
}

// Roots returns the archive's root CIDs.
func (bs *BlockStore) Roots() []cid.Cid {
	return bs.roots
}

// Len returns the number of blocks.
func (bs *BlockStore) Len() int {
	if bs == nil {
		return 0
	}
	return len(bs.blocks)
}
