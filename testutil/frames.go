package testutil

import (
	"testing"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/c360/skystream/lex"
)

// Op is one repo operation in a test commit.
type Op struct {
	Action string
	Path   string
	CID    *cid.Cid
}

// Commit describes a #commit frame body. Zero fields get plausible defaults.
type Commit struct {
	Seq  int64
	Repo string
	Rev  string
	Time string
	Ops  []Op
	CAR  []byte
}

func (c Commit) body(t testing.TB) map[string]any {
	t.Helper()

	if c.Rev == "" {
		c.Rev = "3kabcdefghij2"
	}
	if c.Time == "" {
		c.Time = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Format(time.RFC3339)
	}
	if c.CAR == nil {
		c.CAR = []byte{}
	}

	ops := make([]any, 0, len(c.Ops))
	for _, op := range c.Ops {
		m := map[string]any{"action": op.Action, "path": op.Path, "cid": nil}
		if op.CID != nil {
			m["cid"] = lex.LinkTag(*op.CID)
		}
		ops = append(ops, m)
	}

	return map[string]any{
		"seq":    c.Seq,
		"repo":   c.Repo,
		"commit": lex.LinkTag(BlockCID(t, []byte(c.Rev))),
		"rev":    c.Rev,
		"since":  nil,
		"blocks": c.CAR,
		"ops":    ops,
		"blobs":  []any{},
		"time":   c.Time,
		"rebase": false,
		"tooBig": false,
	}
}

// CommitFrame encodes a #commit message frame.
func CommitFrame(t testing.TB, c Commit) []byte {
	t.Helper()
	return Frame(t, "#commit", c.body(t))
}

// CommitBody returns the encoded #commit body without a header.
func CommitBody(t testing.TB, c Commit) []byte {
	t.Helper()
	return EncodeDAGCBOR(t, c.body(t))
}

// IdentityFrame encodes an #identity message frame.
func IdentityFrame(t testing.TB, seq int64, did string) []byte {
	t.Helper()
	return Frame(t, "#identity", map[string]any{
		"seq":  seq,
		"did":  did,
		"time": "2024-01-01T00:00:00Z",
	})
}

// InfoFrame encodes an #info message frame.
func InfoFrame(t testing.TB, name, message string) []byte {
	t.Helper()
	return Frame(t, "#info", map[string]any{"name": name, "message": message})
}

// ErrorFrame encodes an op -1 error frame.
func ErrorFrame(t testing.TB, name, message string) []byte {
	t.Helper()
	header := EncodeDAGCBOR(t, map[string]any{"op": -1})
	return append(header, EncodeDAGCBOR(t, map[string]any{"error": name, "message": message})...)
}

// Frame encodes a message frame with header {op: 1, t: typ} followed by body.
func Frame(t testing.TB, typ string, body any) []byte {
	t.Helper()
	header := EncodeDAGCBOR(t, map[string]any{"op": 1, "t": typ})
	return append(header, EncodeDAGCBOR(t, body)...)
}
