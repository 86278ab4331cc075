package repo_test

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/repo"
	"github.com/c360/skystream/testutil"
)

func TestReadCAR_Blocks(t *testing.T) {
	car := testutil.NewCARBuilder(t)
	postCID := car.AddRecord(testutil.Post("hello", "2024-01-01T00:00:00Z"))
	likeCID := car.AddRecord(testutil.Like("at://did:plc:a/app.bsky.feed.post/1", "bafy", "2024-01-01T00:00:00Z"))

	bs, err := repo.ReadCAR(car.Bytes())
	require.NoError(t, err)

	assert.Equal(t, 2, bs.Len())
	require.Len(t, bs.Roots(), 1)
	assert.True(t, bs.Roots()[0].Equals(postCID))

	block, ok := bs.Get(postCID)
	require.True(t, ok)
	assert.True(t, testutil.BlockCID(t, block).Equals(postCID), "block bytes must hash to their CID")

	_, ok = bs.Get(likeCID)
	assert.True(t, ok)
}

func TestReadCAR_Empty(t *testing.T) {
	for _, data := range [][]byte{nil, {}} {
		bs, err := repo.ReadCAR(data)
		require.NoError(t, err)
		assert.Equal(t, 0, bs.Len())
		assert.Empty(t, bs.Roots())
	}
}

func TestReadCAR_Missing(t *testing.T) {
	car := testutil.NewCARBuilder(t)
	car.AddRecord(testutil.Post("hello", "2024-01-01T00:00:00Z"))
	bs, err := repo.ReadCAR(car.Bytes())
	require.NoError(t, err)

	_, other := testutil.EncodeBlock(t, testutil.Post("other", "2024-01-01T00:00:00Z"))
	_, ok := bs.Get(other)
	assert.False(t, ok)

	_, ok = bs.Get(cid.Undef)
	assert.False(t, ok)

	var nilStore *repo.BlockStore
	_, ok = nilStore.Get(other)
	assert.False(t, ok)
	assert.Equal(t, 0, nilStore.Len())
}

func TestReadCAR_Malformed(t *testing.T) {
	car := testutil.NewCARBuilder(t)
	car.AddRecord(testutil.Post("hello", "2024-01-01T00:00:00Z"))
	valid := car.Bytes()

	badVersion := func() []byte {
		header := testutil.EncodeDAGCBOR(t, map[string]any{"version": 2, "roots": []any{}})
		return append([]byte{byte(len(header))}, header...)
	}()

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated block", valid[:len(valid)-3]},
		{"truncated header", valid[:3]},
		{"garbage header", []byte{0x03, 0xff, 0xff, 0xff}},
		{"unsupported version", badVersion},
		{"bad varint", []byte{0xff}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repo.ReadCAR(tt.data)
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err), "want invalid-class error, got %v", err)
		})
	}
}
