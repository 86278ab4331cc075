//go:build integration

package natsclient

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegration_PublishSubscribe(t *testing.T) {
	tc := NewTestClient(t)
	ctx := context.Background()
	require.True(t, tc.Client.IsHealthy())

	var mu sync.Mutex
	var subjects []string
	require.NoError(t, tc.Client.Subscribe(ctx, "firehose.>", func(_ context.Context, subject string, _ []byte) {
		mu.Lock()
		subjects = append(subjects, subject)
		mu.Unlock()
	}))

	require.NoError(t, tc.Client.Publish(ctx, "firehose.post.create", []byte(`{"uri":"at://x"}`)))
	require.NoError(t, tc.Client.Publish(ctx, "firehose.like.delete", []byte(`{"uri":"at://y"}`)))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(subjects) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"firehose.post.create", "firehose.like.delete"}, subjects)
	mu.Unlock()
}

func TestIntegration_KVCursorStore(t *testing.T) {
	tc := NewTestClient(t, WithJetStream())
	ctx := context.Background()

	store, err := NewKVCursorStore(ctx, tc.Client, "", CursorKey("wss://bsky.network"))
	require.NoError(t, err)

	_, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "fresh bucket has no cursor")

	require.NoError(t, store.Save(ctx, 1234))
	require.NoError(t, store.Save(ctx, 1240))

	seq, ok, err := store.Load(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1240), seq)

	// a second store on the same bucket sees the same cursor
	again, err := NewKVCursorStore(ctx, tc.Client, "", CursorKey("wss://bsky.network"))
	require.NoError(t, err)
	seq, _, err = again.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1240), seq)
}
