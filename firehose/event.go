package firehose

import (
	"strings"

	"github.com/ipfs/go-cid"

	"github.com/c360/skystream/lex"
)

// Action is what a repo operation did to its record.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// RepoOp is one record mutation inside a commit. CID is nil for deletes.
type RepoOp struct {
	Action Action
	Path   string
	CID    *cid.Cid
}

// Collection returns the path segment before the first '/'.
func (op RepoOp) Collection() string {
	collection, _, _ := strings.Cut(op.Path, "/")
	return collection
}

// Commit is a #commit event. Blocks holds the CAR archive with the created records.
type Commit struct {
	Seq    int64
	Repo   string
	Rev    string
	Since  string
	Commit cid.Cid
	Ops    []RepoOp
	Blocks []byte
	Time   string
	TooBig bool
	Rebase bool
}

// URI returns the at:// URI of the record an op touched.
func (c *Commit) URI(op RepoOp) string {
	return "at://" + c.Repo + "/" + op.Path
}

// Info is an #info message from the relay.
type Info struct {
	Name    string
	Message string
}

// ErrorMessage is the body of an op -1 frame.
type ErrorMessage struct {
	Error   string `cbor:"error"`
	Message string `cbor:"message"`
}

type wireRepoOp struct {
	Action string    `cbor:"action"`
	Path   string    `cbor:"path"`
	CID    *lex.Link `cbor:"cid"`
}

type wireCommit struct {
	Seq    int64        `cbor:"seq"`
	Repo   string       `cbor:"repo"`
	Rev    string       `cbor:"rev"`
	Since  *string      `cbor:"since"`
	Commit lex.Link     `cbor:"commit"`
	Ops    []wireRepoOp `cbor:"ops"`
	Blocks []byte       `cbor:"blocks"`
	Time   string       `cbor:"time"`
	TooBig bool         `cbor:"tooBig"`
	Rebase bool         `cbor:"rebase"`
}

func (w *wireCommit) commit() *Commit {
	c := &Commit{
		Seq:    w.Seq,
		Repo:   w.Repo,
		Rev:    w.Rev,
		Commit: w.Commit.Cid,
		Ops:    make([]RepoOp, 0, len(w.Ops)),
		Blocks: w.Blocks,
		Time:   w.Time,
		TooBig: w.TooBig,
		Rebase: w.Rebase,
	}
	if w.Since != nil {
		c.Since = *w.Since
	}
	for _, op := range w.Ops {
		repoOp := RepoOp{Action: Action(op.Action), Path: op.Path}
		if op.CID != nil && op.CID.Defined() {
			id := op.CID.Cid
			repoOp.CID = &id
		}
		c.Ops = append(c.Ops, repoOp)
	}
	return c
}

type wireSequenced struct {
	Seq int64 `cbor:"seq"`
}

type wireInfo struct {
	Name    string `cbor:"name"`
	Message string `cbor:"message"`
}
