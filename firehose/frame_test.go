package firehose

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/lex"
	"github.com/c360/skystream/testutil"
)

func TestDecodeFrame_Commit(t *testing.T) {
	car := testutil.NewCARBuilder(t)
	postCID := car.AddRecord(testutil.Post("hi", "2024-01-01T00:00:00Z"))

	data := testutil.CommitFrame(t, testutil.Commit{
		Seq:  77,
		Repo: "did:plc:alice",
		Ops: []testutil.Op{
			{Action: "create", Path: "app.bsky.feed.post/3k1", CID: &postCID},
			{Action: "delete", Path: "app.bsky.feed.like/3k2"},
		},
		CAR: car.Bytes(),
	})

	frame, err := DecodeFrame(data, lex.Default())
	require.NoError(t, err)

	assert.Equal(t, "#commit", frame.Type)
	assert.True(t, frame.HasSeq)
	assert.Equal(t, int64(77), frame.Seq)
	require.NotNil(t, frame.Commit)

	evt := frame.Commit
	assert.Equal(t, "did:plc:alice", evt.Repo)
	assert.Equal(t, car.Bytes(), evt.Blocks)
	assert.True(t, evt.Commit.Defined())
	assert.Empty(t, evt.Since)
	require.Len(t, evt.Ops, 2)

	assert.Equal(t, ActionCreate, evt.Ops[0].Action)
	require.NotNil(t, evt.Ops[0].CID)
	assert.True(t, evt.Ops[0].CID.Equals(postCID))
	assert.Equal(t, "app.bsky.feed.post", evt.Ops[0].Collection())
	assert.Equal(t, "at://did:plc:alice/app.bsky.feed.post/3k1", evt.URI(evt.Ops[0]))

	assert.Equal(t, ActionDelete, evt.Ops[1].Action)
	assert.Nil(t, evt.Ops[1].CID)
}

func TestDecodeFrame_OtherMessages(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		frame, err := DecodeFrame(testutil.IdentityFrame(t, 12, "did:plc:bob"), lex.Default())
		require.NoError(t, err)
		assert.Equal(t, "#identity", frame.Type)
		assert.True(t, frame.HasSeq)
		assert.Equal(t, int64(12), frame.Seq)
		assert.Nil(t, frame.Commit)
	})

	t.Run("info", func(t *testing.T) {
		frame, err := DecodeFrame(testutil.InfoFrame(t, "OutdatedCursor", "cursor too old"), lex.Default())
		require.NoError(t, err)
		assert.False(t, frame.HasSeq)
		require.NotNil(t, frame.Info)
		assert.Equal(t, "OutdatedCursor", frame.Info.Name)
	})

	t.Run("error", func(t *testing.T) {
		frame, err := DecodeFrame(testutil.ErrorFrame(t, "FutureCursor", "cursor in the future"), lex.Default())
		require.NoError(t, err)
		require.NotNil(t, frame.Error)
		assert.Equal(t, "FutureCursor", frame.Error.Error)
		assert.Equal(t, "cursor in the future", frame.Error.Message)
	})
}

func TestDecodeFrame_Invalid(t *testing.T) {
	someCID := testutil.BlockCID(t, []byte("x"))

	tests := []struct {
		name   string
		data   []byte
		target error
	}{
		{
			name:   "garbage",
			data:   []byte{0xff, 0x00, 0x01},
			target: errors.ErrInvalidFrame,
		},
		{
			name:   "header only",
			data:   testutil.EncodeDAGCBOR(t, map[string]any{"op": 1, "t": "#commit"}),
			target: errors.ErrInvalidFrame,
		},
		{
			name:   "unknown op",
			data:   append(testutil.EncodeDAGCBOR(t, map[string]any{"op": 2}), testutil.EncodeDAGCBOR(t, map[string]any{})...),
			target: errors.ErrInvalidFrame,
		},
		{
			name:   "unknown message type",
			data:   testutil.Frame(t, "#labels", map[string]any{"seq": 1}),
			target: errors.ErrUnsupportedFrame,
		},
		{
			name: "unknown action",
			data: testutil.CommitFrame(t, testutil.Commit{
				Seq: 1, Repo: "did:plc:a",
				Ops: []testutil.Op{{Action: "mutate", Path: "app.bsky.feed.post/1", CID: &someCID}},
			}),
			target: errors.ErrSchemaViolation,
		},
		{
			name:   "bad repo did",
			data:   testutil.CommitFrame(t, testutil.Commit{Seq: 1, Repo: "alice"}),
			target: errors.ErrSchemaViolation,
		},
		{
			name:   "identity without did",
			data:   testutil.Frame(t, "#identity", map[string]any{"seq": 3, "time": "2024-01-01T00:00:00Z"}),
			target: errors.ErrSchemaViolation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := DecodeFrame(tt.data, lex.Default())
			assert.Nil(t, frame)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.target)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestRepoOp_Collection(t *testing.T) {
	assert.Equal(t, "app.bsky.graph.follow", RepoOp{Path: "app.bsky.graph.follow/3kx"}.Collection())
	assert.Equal(t, "nopath", RepoOp{Path: "nopath"}.Collection())

	c := cid.Undef
	assert.Equal(t, "", RepoOp{Path: "", CID: &c}.Collection())
}
