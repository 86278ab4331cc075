package publisher

import (
	"encoding/json"

	"github.com/c360/skystream/firehose"
	"github.com/c360/skystream/ops"
	"github.com/c360/skystream/record"
)

// RoutingKey returns "{kind}.{action}", e.g. "post.create".
func RoutingKey(kind record.Kind, action firehose.Action) string {
	return kind.String() + "." + string(action)
}

// SourceOp is the repo operation a message was built from.
type SourceOp struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	CID    string `json:"cid,omitempty"`
}

func sourceOf(op firehose.RepoOp) SourceOp {
	s := SourceOp{Action: string(op.Action), Path: op.Path}
	if op.CID != nil {
		s.CID = op.CID.String()
	}
	return s
}

// OutboundImage is a post image with its CDN URLs.
type OutboundImage struct {
	Mime         string `json:"mime"`
	Alt          string `json:"alt"`
	FullsizeURL  string `json:"fullsizeUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Size         int64  `json:"size,omitempty"`
	Width        int64  `json:"width,omitempty"`
	Height       int64  `json:"height,omitempty"`
}

// OutboundReply mirrors a post's reply reference.
type OutboundReply struct {
	Root   record.StrongRef `json:"root"`
	Parent record.StrongRef `json:"parent"`
}

// OutboundMessage is the body published for a create.
type OutboundMessage struct {
	Op        string            `json:"op"`
	URI       string            `json:"uri"`
	CID       string            `json:"cid"`
	Author    string            `json:"author"`
	CreatedAt string            `json:"createdAt"`
	Text      *string           `json:"text,omitempty"`
	Langs     []string          `json:"langs,omitzero"`
	Images    []OutboundImage   `json:"images,omitempty"`
	Reply     *OutboundReply    `json:"reply,omitempty"`
	Quote     *record.StrongRef `json:"quote,omitempty"`
	Subject   any               `json:"subject,omitempty"`
	Record    record.Record     `json:"record"`
	Source    SourceOp          `json:"source"`
}

// DeleteMessage is the body published for a delete.
type DeleteMessage struct {
	URI string `json:"uri"`
}

// Message is an encoded message ready for a broker.
type Message struct {
	Key  string
	Body []byte
}

func newCreate[T record.Record](c ops.CreateOp[T]) OutboundMessage {
	return OutboundMessage{
		Op:     RoutingKey(c.Record.Kind(), firehose.ActionCreate),
		URI:    c.URI,
		CID:    c.CID,
		Author: c.Author,
		Record: c.Record,
		Source: sourceOf(c.Source),
	}
}

// PostMessage builds the outbound form of a post create.
func PostMessage(c ops.CreateOp[*record.Post]) OutboundMessage {
	m := newCreate(c)
	p := c.Record
	text := p.Text
	m.Text = &text
	m.CreatedAt = p.CreatedAt
	// posts always carry langs, possibly empty
	m.Langs = p.Langs
	if m.Langs == nil {
		m.Langs = []string{}
	}

	if p.Reply != nil {
		m.Reply = &OutboundReply{Root: p.Reply.Root, Parent: p.Reply.Parent}
	}
	if quoted, ok := p.Quoted(); ok {
		m.Quote = &quoted
	}
	for _, img := range p.Images() {
		full, thumb := record.ImageURLs(c.Author, img.Image)
		out := OutboundImage{
			Mime:         img.Image.MimeType,
			Alt:          img.Alt,
			FullsizeURL:  full,
			ThumbnailURL: thumb,
			Size:         img.Image.Size,
		}
		if img.AspectRatio != nil {
			out.Width, out.Height = img.AspectRatio.Width, img.AspectRatio.Height
		}
		m.Images = append(m.Images, out)
	}
	return m
}

// RepostMessage builds the outbound form of a repost create.
func RepostMessage(c ops.CreateOp[*record.Repost]) OutboundMessage {
	m := newCreate(c)
	m.CreatedAt = c.Record.CreatedAt
	m.Subject = c.Record.Subject
	return m
}

// LikeMessage builds the outbound form of a like create.
func LikeMessage(c ops.CreateOp[*record.Like]) OutboundMessage {
	m := newCreate(c)
	m.CreatedAt = c.Record.CreatedAt
	m.Subject = c.Record.Subject
	return m
}

// FollowMessage builds the outbound form of a follow create.
func FollowMessage(c ops.CreateOp[*record.Follow]) OutboundMessage {
	m := newCreate(c)
	m.CreatedAt = c.Record.CreatedAt
	m.Subject = c.Record.Subject
	return m
}

// Encode serialises every operation of b in publish order: posts, reposts, likes,
// follows, and within each kind creates before deletes.
func Encode(b *ops.ByType) ([]Message, error) {
	if b == nil {
		return nil, nil
	}
	out := make([]Message, 0, b.Len())

	add := func(key string, v any) error {
		body, err := json.Marshal(v)
		if err != nil {
			return err
		}
		out = append(out, Message{Key: key, Body: body})
		return nil
	}
	deletes := func(kind record.Kind, ds []ops.DeleteOp) error {
		key := RoutingKey(kind, firehose.ActionDelete)
		for _, d := range ds {
			if err := add(key, DeleteMessage{URI: d.URI}); err != nil {
				return err
			}
		}
		return nil
	}

	for _, c := range b.Posts.Creates {
		if err := add(RoutingKey(record.KindPost, firehose.ActionCreate), PostMessage(c)); err != nil {
			return nil, err
		}
	}
	if err := deletes(record.KindPost, b.Posts.Deletes); err != nil {
		return nil, err
	}

	for _, c := range b.Reposts.Creates {
		if err := add(RoutingKey(record.KindRepost, firehose.ActionCreate), RepostMessage(c)); err != nil {
			return nil, err
		}
	}
	if err := deletes(record.KindRepost, b.Reposts.Deletes); err != nil {
		return nil, err
	}

	for _, c := range b.Likes.Creates {
		if err := add(RoutingKey(record.KindLike, firehose.ActionCreate), LikeMessage(c)); err != nil {
			return nil, err
		}
	}
	if err := deletes(record.KindLike, b.Likes.Deletes); err != nil {
		return nil, err
	}

	for _, c := range b.Follows.Creates {
		if err := add(RoutingKey(record.KindFollow, firehose.ActionCreate), FollowMessage(c)); err != nil {
			return nil, err
		}
	}
	if err := deletes(record.KindFollow, b.Follows.Deletes); err != nil {
		return nil, err
	}
	return out, nil
}
