package record

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/lex"
)

// ErrUnrecognized is returned when a block matches none of the four record schemas.
// Callers ignore such records.
var ErrUnrecognized = errors.ErrUnrecognizedRecord

// Decoder turns record blocks into typed records.
type Decoder struct {
	validator *lex.Validator
}

// NewDecoder creates a decoder. A nil validator uses lex.Default.
func NewDecoder(v *lex.Validator) *Decoder {
	if v == nil {
		v = lex.Default()
	}
	return &Decoder{validator: v}
}

var defaultDecoder = sync.OnceValue(func() *Decoder { return NewDecoder(nil) })

// Decode decodes raw with the default decoder.
func Decode(raw []byte) (Record, error) {
	return defaultDecoder().Decode(raw)
}

// Decode parses a DAG-CBOR block and returns the first kind, in the order post,
// repost, like, follow, whose schema it satisfies.
func (d *Decoder) Decode(raw []byte) (Record, error) {
	generic, err := lex.DecodeGeneric(raw)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"record", "Decode", "decode block")
	}

	doc, ok := lex.Canonicalize(generic).(map[string]any)
	if !ok {
		return nil, ErrUnrecognized
	}

	for _, kind := range Kinds {
		if d.validator.Validate(kind.Collection(), doc) != nil {
			continue
		}
		rec, err := build(kind, doc)
		if err != nil {
			return nil, errors.WrapInvalid(err, "record", "Decode", "build "+kind.String())
		}
		return rec, nil
	}
	return nil, ErrUnrecognized
}

func build(kind Kind, doc map[string]any) (Record, error) {
	var rec Record
	switch kind {
	case KindPost:
		rec = &Post{}
	case KindRepost:
		rec = &Repost{}
	case KindLike:
		rec = &Like{}
	case KindFollow:
		rec = &Follow{}
	default:
		return nil, fmt.Errorf("%w: kind %d", errors.ErrInvalidData, kind)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrParsingFailed, err)
	}
	return rec, nil
}
