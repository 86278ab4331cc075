// Package ops sorts the operations of a firehose commit into typed create and delete
// batches, one per record kind.
package ops

import (
	"github.com/c360/skystream/firehose"
	"github.com/c360/skystream/record"
)

// CreateOp is a created record of type T.
type CreateOp[T record.Record] struct {
	URI    string
	CID    string
	Author string
	Record T
	Source firehose.RepoOp
}

// DeleteOp is a deleted record. Deletes carry no content.
type DeleteOp struct {
	URI    string
	Source firehose.RepoOp
}

// Batch holds the creates and deletes of one kind in commit order.
type Batch[T record.Record] struct {
	Creates []CreateOp[T]
	Deletes []DeleteOp
}

// Len returns the number of operations in the batch.
func (b *Batch[T]) Len() int {
	return len(b.Creates) + len(b.Deletes)
}

// ByType groups a commit's operations by record kind.
type ByType struct {
	Posts   Batch[*record.Post]
	Reposts Batch[*record.Repost]
	Likes   Batch[*record.Like]
	Follows Batch[*record.Follow]
}

// Len returns the number of operations across all batches.
func (b *ByType) Len() int {
	if b == nil {
		return 0
	}
	return b.Posts.Len() + b.Reposts.Len() + b.Likes.Len() + b.Follows.Len()
}

// Empty reports whether no batch holds an operation.
func (b *ByType) Empty() bool {
	return b.Len() == 0
}

func (b *ByType) addDelete(kind record.Kind, op DeleteOp) {
	switch kind {
	case record.KindPost:
		b.Posts.Deletes = append(b.Posts.Deletes, op)
	case record.KindRepost:
		b.Reposts.Deletes = append(b.Reposts.Deletes, op)
	case record.KindLike:
		b.Likes.Deletes = append(b.Likes.Deletes, op)
	case record.KindFollow:
		b.Follows.Deletes = append(b.Follows.Deletes, op)
	}
}

// addCreate appends rec to the batch of its kind. It returns false when rec's kind
// does not match kind.
func (b *ByType) addCreate(kind record.Kind, uri, cid, author string, rec record.Record, src firehose.RepoOp) bool {
	switch r := rec.(type) {
	case *record.Post:
		if kind != record.KindPost {
			return false
		}
		b.Posts.Creates = append(b.Posts.Creates, CreateOp[*record.Post]{uri, cid, author, r, src})
	case *record.Repost:
		if kind != record.KindRepost {
			return false
		}
		b.Reposts.Creates = append(b.Reposts.Creates, CreateOp[*record.Repost]{uri, cid, author, r, src})
	case *record.Like:
		if kind != record.KindLike {
			return false
		}
		b.Likes.Creates = append(b.Likes.Creates, CreateOp[*record.Like]{uri, cid, author, r, src})
	case *record.Follow:
		if kind != record.KindFollow {
			return false
		}
		b.Follows.Creates = append(b.Follows.Creates, CreateOp[*record.Follow]{uri, cid, author, r, src})
	default:
		return false
	}
	return true
}
