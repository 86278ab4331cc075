package lex

import (
	"encoding/base64"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var decMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 64,
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

// DecodeGeneric decodes one DAG-CBOR value with string-keyed maps.
func DecodeGeneric(data []byte) (any, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecMode returns the decoder settings used for generic DAG-CBOR values.
func DecMode() cbor.DecMode {
	return decMode
}

// CanonicalOption adjusts Canonicalize.
type CanonicalOption func(*canonicalOptions)

type canonicalOptions struct {
	elideBytes bool
}

// ElideBytes keeps byte fields as {"$bytes": ""} without encoding their content.
// Frame validation uses it so the block archive is not base64 encoded per event.
func ElideBytes() CanonicalOption {
	return func(o *canonicalOptions) { o.elideBytes = true }
}

// Canonicalize converts a generic DAG-CBOR value into the lexicon JSON form:
//
//   - tag 42 links become {"$link": "<cid>"}
//   - byte strings become {"$bytes": "<base64, no padding>"}
//   - blob references, typed or legacy {cid, mimeType}, become
//     {"$type": "blob", "ref": {"$link": ..}, "mimeType": .., "size": ..}
//   - integers become int64
//
// Maps decoded with any other key type are returned unchanged.
func Canonicalize(v any, options ...CanonicalOption) any {
	var opts canonicalOptions
	for _, opt := range options {
		opt(&opts)
	}
	return canonicalize(v, &opts)
}

func canonicalize(v any, opts *canonicalOptions) any {
	switch t := v.(type) {
	case map[string]any:
		if blob, ok := canonicalBlob(t, opts); ok {
			return blob
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = canonicalize(val, opts)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = canonicalize(val, opts)
		}
		return out
	case cbor.Tag:
		if t.Number == CIDTag {
			if link, ok := linkString(t); ok {
				return map[string]any{"$link": link}
			}
		}
		return canonicalize(t.Content, opts)
	case []byte:
		if opts.elideBytes {
			return map[string]any{"$bytes": ""}
		}
		return map[string]any{"$bytes": base64.RawStdEncoding.EncodeToString(t)}
	case uint64:
		if t > math.MaxInt64 {
			return int64(math.MaxInt64)
		}
		return int64(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint32:
		return int64(t)
	default:
		return v
	}
}

func linkString(t cbor.Tag) (string, bool) {
	raw, ok := t.Content.([]byte)
	if !ok {
		return "", false
	}
	c, err := cidFromTagBytes(raw)
	if err != nil {
		return "", false
	}
	return c.String(), true
}

// canonicalBlob rebuilds both blob reference shapes into the typed one.
func canonicalBlob(m map[string]any, opts *canonicalOptions) (map[string]any, bool) {
	if typ, _ := m["$type"].(string); typ == "blob" {
		out := map[string]any{"$type": "blob"}
		if ref, ok := m["ref"]; ok {
			out["ref"] = canonicalize(ref, opts)
		}
		if mime, ok := m["mimeType"]; ok {
			out["mimeType"] = mime
		}
		if size, ok := m["size"]; ok {
			out["size"] = canonicalize(size, opts)
		}
		return out, true
	}

	if _, typed := m["$type"]; typed || len(m) != 2 {
		return nil, false
	}
	legacyCID, ok := m["cid"].(string)
	if !ok {
		return nil, false
	}
	mime, ok := m["mimeType"].(string)
	if !ok {
		return nil, false
	}
	return map[string]any{
		"$type":    "blob",
		"ref":      map[string]any{"$link": legacyCID},
		"mimeType": mime,
	}, true
}
