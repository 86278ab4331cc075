// Package lex holds the lexicon primitives shared by the firehose, the repo reader and
// the record decoder: NSIDs, the CID link type, conversion of DAG-CBOR values into the
// lexicon JSON form, and schema validation of that form.
package lex

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

// Record collections.
const (
	FeedPost    = "app.bsky.feed.post"
	FeedRepost  = "app.bsky.feed.repost"
	FeedLike    = "app.bsky.feed.like"
	GraphFollow = "app.bsky.graph.follow"
)

// subscribeRepos message definitions.
const (
	SubscribeRepos          = "com.atproto.sync.subscribeRepos"
	SubscribeReposCommit    = SubscribeRepos + "#commit"
	SubscribeReposIdentity  = SubscribeRepos + "#identity"
	SubscribeReposAccount   = SubscribeRepos + "#account"
	SubscribeReposSync      = SubscribeRepos + "#sync"
	SubscribeReposHandle    = SubscribeRepos + "#handle"
	SubscribeReposTombstone = SubscribeRepos + "#tombstone"
	SubscribeReposInfo      = SubscribeRepos + "#info"
)

// CIDTag is the CBOR tag DAG-CBOR uses for CID links.
const CIDTag = 42

// Link is a CID carried as a DAG-CBOR tag 42 link.
type Link struct {
	cid.Cid
}

// LinkTag returns c as the CBOR tag DAG-CBOR expects: a byte string with a 0x00
// multibase prefix.
func LinkTag(c cid.Cid) cbor.Tag {
	return cbor.Tag{Number: CIDTag, Content: append([]byte{0}, c.Bytes()...)}
}

// MarshalCBOR implements cbor.Marshaler.
func (l Link) MarshalCBOR() ([]byte, error) {
	if !l.Defined() {
		return []byte{0xf6}, nil
	}
	return cbor.Marshal(LinkTag(l.Cid))
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (l *Link) UnmarshalCBOR(data []byte) error {
	if len(data) == 1 && (data[0] == 0xf6 || data[0] == 0xf7) {
		l.Cid = cid.Undef
		return nil
	}

	var tag cbor.RawTag
	if err := cbor.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if tag.Number != CIDTag {
		return fmt.Errorf("link: unexpected tag %d", tag.Number)
	}

	var raw []byte
	if err := cbor.Unmarshal(tag.Content, &raw); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	c, err := cidFromTagBytes(raw)
	if err != nil {
		return err
	}
	l.Cid = c
	return nil
}

func cidFromTagBytes(raw []byte) (cid.Cid, error) {
	if len(raw) < 2 || raw[0] != 0 {
		return cid.Undef, fmt.Errorf("link: missing multibase identity prefix")
	}
	c, err := cid.Cast(raw[1:])
	if err != nil {
		return cid.Undef, fmt.Errorf("link: %w", err)
	}
	return c, nil
}

// Equal reports whether both links point at the same CID.
func (l Link) Equal(other Link) bool {
	return bytes.Equal(l.Bytes(), other.Bytes())
}
