// Package record decodes repository record blocks into the four record kinds the
// ingester republishes: posts, reposts, likes and follows.
package record

import (
	"encoding/json"

	"github.com/c360/skystream/lex"
)

// Kind discriminates the record variants.
type Kind int

const (
	KindPost Kind = iota
	KindRepost
	KindLike
	KindFollow
)

// Kinds lists every kind in decode order.
var Kinds = []Kind{KindPost, KindRepost, KindLike, KindFollow}

// Collection returns the NSID of the collection holding records of this kind.
func (k Kind) Collection() string {
	switch k {
	case KindPost:
		return lex.FeedPost
	case KindRepost:
		return lex.FeedRepost
	case KindLike:
		return lex.FeedLike
	case KindFollow:
		return lex.GraphFollow
	default:
		return ""
	}
}

// String returns the short name used in routing keys.
func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindRepost:
		return "repost"
	case KindLike:
		return "like"
	case KindFollow:
		return "follow"
	default:
		return "unknown"
	}
}

// KindForCollection maps a collection NSID back to its kind.
func KindForCollection(nsid string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Collection() == nsid {
			return k, true
		}
	}
	return 0, false
}

// Record is one of *Post, *Repost, *Like or *Follow.
type Record interface {
	Kind() Kind
	isRecord()
}

// Link is a CID in lexicon JSON form.
type Link struct {
	Link string `json:"$link"`
}

// StrongRef points at a specific version of a record.
type StrongRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// Blob references uploaded media. Legacy blobs carry no size.
type Blob struct {
	Ref      Link   `json:"ref"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size,omitempty"`
}

// AspectRatio is an image's width:height.
type AspectRatio struct {
	Width  int64 `json:"width"`
	Height int64 `json:"height"`
}

// Image is one entry of an images embed.
type Image struct {
	Image       Blob         `json:"image"`
	Alt         string       `json:"alt"`
	AspectRatio *AspectRatio `json:"aspectRatio,omitempty"`
}

// External is a link card.
type External struct {
	URI         string `json:"uri"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumb       *Blob  `json:"thumb,omitempty"`
}

// EmbeddedRecord is a quoted record.
type EmbeddedRecord struct {
	Record StrongRef `json:"record"`
}

// Embed is the union of the post embed types, discriminated by Type.
type Embed struct {
	Type     string          `json:"$type"`
	Images   []Image         `json:"images,omitempty"`
	External *External       `json:"external,omitempty"`
	Record   json.RawMessage `json:"record,omitempty"`
	Media    *Embed          `json:"media,omitempty"`
}

// ReplyRef identifies the thread a post replies into.
type ReplyRef struct {
	Root   StrongRef `json:"root"`
	Parent StrongRef `json:"parent"`
}

// Post is an app.bsky.feed.post record.
type Post struct {
	Text      string           `json:"text"`
	CreatedAt string           `json:"createdAt"`
	Langs     []string         `json:"langs,omitempty"`
	Reply     *ReplyRef        `json:"reply,omitempty"`
	Embed     *Embed           `json:"embed,omitempty"`
	Facets    []map[string]any `json:"facets,omitempty"`
	Tags      []string         `json:"tags,omitempty"`
}

// Repost is an app.bsky.feed.repost record.
type Repost struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// Like is an app.bsky.feed.like record.
type Like struct {
	Subject   StrongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

// Follow is an app.bsky.graph.follow record. Subject is the followed DID.
type Follow struct {
	Subject   string `json:"subject"`
	CreatedAt string `json:"createdAt"`
}

func (*Post) Kind() Kind   { return KindPost }
func (*Repost) Kind() Kind { return KindRepost }
func (*Like) Kind() Kind   { return KindLike }
func (*Follow) Kind() Kind { return KindFollow }

func (*Post) isRecord()   {}
func (*Repost) isRecord() {}
func (*Like) isRecord()   {}
func (*Follow) isRecord() {}

// Images returns the post's images, including the media half of a record-with-media
// embed.
func (p *Post) Images() []Image {
	if p == nil || p.Embed == nil {
		return nil
	}
	if p.Embed.Media != nil {
		return p.Embed.Media.Images
	}
	return p.Embed.Images
}

// Quoted returns the quoted record of a record or record-with-media embed.
func (p *Post) Quoted() (StrongRef, bool) {
	if p == nil || p.Embed == nil || len(p.Embed.Record) == 0 {
		return StrongRef{}, false
	}

	var ref StrongRef
	if p.Embed.Media != nil {
		// recordWithMedia nests the record embed one level deeper.
		var inner EmbeddedRecord
		if err := json.Unmarshal(p.Embed.Record, &inner); err != nil {
			return StrongRef{}, false
		}
		ref = inner.Record
	} else if err := json.Unmarshal(p.Embed.Record, &ref); err != nil {
		return StrongRef{}, false
	}
	return ref, ref.URI != ""
}
