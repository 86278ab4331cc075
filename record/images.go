package record

import (
	"fmt"
	"strings"
)

// CDNBase is the image CDN root.
const CDNBase = "https://cdn.bsky.app/img"

// Image CDN variants.
const (
	VariantFullsize  = "feed_fullsize"
	VariantThumbnail = "feed_thumbnail"
)

// ImageURL returns the CDN URL of a blob uploaded by did, in the given variant.
func ImageURL(variant, did string, blob Blob) string {
	format := strings.TrimPrefix(blob.MimeType, "image/")
	return fmt.Sprintf("%s/%s/plain/%s/%s@%s", CDNBase, variant, did, blob.Ref.Link, format)
}

// ImageURLs returns the full-size and thumbnail URLs of a blob.
func ImageURLs(did string, blob Blob) (fullsize, thumbnail string) {
	return ImageURL(VariantFullsize, did, blob), ImageURL(VariantThumbnail, did, blob)
}
