package firehose

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/lex"
)

// Frame header op codes.
const (
	opMessage = 1
	opError   = -1
)

type frameHeader struct {
	Op   int64  `cbor:"op"`
	Type string `cbor:"t"`
}

// Frame is one decoded websocket message. Exactly one of Commit, Info or Error is set
// for those types; other sequenced messages only carry Seq.
type Frame struct {
	Type   string // "#commit", "#identity", ... or "" for error frames
	Seq    int64
	HasSeq bool

	Commit *Commit
	Info   *Info
	Error  *ErrorMessage
}

// DecodeFrame splits a binary frame into header and body, validates the body against
// the schema for its message type and decodes it.
func DecodeFrame(data []byte, validator *lex.Validator) (*Frame, error) {
	var header frameHeader
	rest, err := cbor.UnmarshalFirst(data, &header)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: header: %v", errors.ErrInvalidFrame, err),
			"firehose", "DecodeFrame", "decode header")
	}

	switch header.Op {
	case opError:
		var msg ErrorMessage
		if err := cbor.Unmarshal(rest, &msg); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: error body: %v", errors.ErrInvalidFrame, err),
				"firehose", "DecodeFrame", "decode error frame")
		}
		return &Frame{Error: &msg}, nil
	case opMessage:
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: op %d", errors.ErrInvalidFrame, header.Op),
			"firehose", "DecodeFrame", "check header")
	}

	id := lex.SubscribeRepos + header.Type
	if !validator.Has(id) {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %q", errors.ErrUnsupportedFrame, header.Type),
			"firehose", "DecodeFrame", "lookup message type")
	}

	generic, err := lex.DecodeGeneric(rest)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: body: %v", errors.ErrInvalidFrame, err),
			"firehose", "DecodeFrame", "decode body")
	}
	if err := validator.Validate(id, lex.Canonicalize(generic, lex.ElideBytes())); err != nil {
		return nil, err
	}

	frame := &Frame{Type: header.Type}
	switch id {
	case lex.SubscribeReposCommit:
		var w wireCommit
		if err := lex.DecMode().Unmarshal(rest, &w); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: commit: %v", errors.ErrInvalidFrame, err),
				"firehose", "DecodeFrame", "decode commit")
		}
		frame.Commit = w.commit()
		frame.Seq, frame.HasSeq = w.Seq, true
	case lex.SubscribeReposInfo:
		var w wireInfo
		if err := lex.DecMode().Unmarshal(rest, &w); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: info: %v", errors.ErrInvalidFrame, err),
				"firehose", "DecodeFrame", "decode info")
		}
		frame.Info = &Info{Name: w.Name, Message: w.Message}
	default:
		var w wireSequenced
		if err := lex.DecMode().Unmarshal(rest, &w); err != nil {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %s: %v", errors.ErrInvalidFrame, header.Type, err),
				"firehose", "DecodeFrame", "decode sequenced message")
		}
		frame.Seq, frame.HasSeq = w.Seq, true
	}
	return frame, nil
}
