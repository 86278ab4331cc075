package testutil

import (
	"github.com/ipfs/go-cid"

	"github.com/c360/skystream/lex"
)

// Post returns an app.bsky.feed.post record.
func Post(text, createdAt string, langs ...string) map[string]any {
	rec := map[string]any{
		"$type":     lex.FeedPost,
		"text":      text,
		"createdAt": createdAt,
	}
	if len(langs) > 0 {
		l := make([]any, len(langs))
		for i, lang := range langs {
			l[i] = lang
		}
		rec["langs"] = l
	}
	return rec
}

// WithReply adds a reply reference to a post record.
func WithReply(post map[string]any, rootURI, rootCID, parentURI, parentCID string) map[string]any {
	post["reply"] = map[string]any{
		"root":   map[string]any{"uri": rootURI, "cid": rootCID},
		"parent": map[string]any{"uri": parentURI, "cid": parentCID},
	}
	return post
}

// Image describes one embedded image.
type Image struct {
	CID           cid.Cid
	MimeType      string
	Size          int64
	Alt           string
	Width, Height int64
	Legacy        bool // write the old {cid, mimeType} blob form
}

// WithImages adds an app.bsky.embed.images embed to a post record.
func WithImages(post map[string]any, images ...Image) map[string]any {
	list := make([]any, 0, len(images))
	for _, img := range images {
		var blob map[string]any
		if img.Legacy {
			blob = map[string]any{"cid": img.CID.String(), "mimeType": img.MimeType}
		} else {
			blob = map[string]any{
				"$type":    "blob",
				"ref":      lex.LinkTag(img.CID),
				"mimeType": img.MimeType,
				"size":     img.Size,
			}
		}
		entry := map[string]any{"image": blob, "alt": img.Alt}
		if img.Width > 0 && img.Height > 0 {
			entry["aspectRatio"] = map[string]any{"width": img.Width, "height": img.Height}
		}
		list = append(list, entry)
	}
	post["embed"] = map[string]any{"$type": "app.bsky.embed.images", "images": list}
	return post
}

func subjectRecord(typ, uri, c, createdAt string) map[string]any {
	return map[string]any{
		"$type":     typ,
		"subject":   map[string]any{"uri": uri, "cid": c},
		"createdAt": createdAt,
	}
}

// Like returns an app.bsky.feed.like record.
func Like(subjectURI, subjectCID, createdAt string) map[string]any {
	return subjectRecord(lex.FeedLike, subjectURI, subjectCID, createdAt)
}

// Repost returns an app.bsky.feed.repost record.
func Repost(subjectURI, subjectCID, createdAt string) map[string]any {
	return subjectRecord(lex.FeedRepost, subjectURI, subjectCID, createdAt)
}

// Follow returns an app.bsky.graph.follow record.
func Follow(subjectDID, createdAt string) map[string]any {
	return map[string]any{
		"$type":     lex.GraphFollow,
		"subject":   subjectDID,
		"createdAt": createdAt,
	}
}
