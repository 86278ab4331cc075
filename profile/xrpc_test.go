package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/skystream/errors"
)

func newAppView(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var paths []string
	mux := http.NewServeMux()
	mux.HandleFunc("/xrpc/app.bsky.actor.getProfiles", func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.RequestURI())
		var profiles []map[string]string
		for _, actor := range r.URL.Query()["actors"] {
			if actor == "did:plc:gone" {
				continue
			}
			profiles = append(profiles, map[string]string{
				"did":         actor,
				"handle":      "h-" + actor[len("did:plc:"):] + ".test",
				"displayName": "D " + actor,
				"avatar":      "https://cdn.example/" + actor,
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"profiles": profiles})
	})
	mux.HandleFunc("/xrpc/com.atproto.identity.resolveHandle", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("handle") {
		case "alice.test":
			_ = json.NewEncoder(w).Encode(map[string]string{"did": "did:plc:alice"})
		case "broken.test":
			w.WriteHeader(http.StatusBadGateway)
		case "busy.test":
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "InvalidRequest", "message": "Unable to resolve handle"})
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &paths
}

func TestXRPCClient_GetProfiles(t *testing.T) {
	srv, paths := newAppView(t)
	client, err := NewXRPCClient(srv.URL+"/", WithRateLimit(0, 0))
	require.NoError(t, err)

	profiles, err := client.GetProfiles(context.Background(), []string{"did:plc:a", "did:plc:gone", "did:plc:b"})
	require.NoError(t, err)
	require.Len(t, profiles, 2)
	assert.Equal(t, Profile{
		DID:         "did:plc:a",
		Handle:      "h-a.test",
		DisplayName: "D did:plc:a",
		Avatar:      "https://cdn.example/did:plc:a",
	}, profiles[0])
	assert.Equal(t, "did:plc:b", profiles[1].DID)

	require.Len(t, *paths, 1)
	assert.Equal(t, "/xrpc/app.bsky.actor.getProfiles?actors=did%3Aplc%3Aa&actors=did%3Aplc%3Agone&actors=did%3Aplc%3Ab", (*paths)[0])

	none, err := client.GetProfiles(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.Len(t, *paths, 1)
}

func TestXRPCClient_ResolveHandle(t *testing.T) {
	srv, _ := newAppView(t)
	client, err := NewXRPCClient(srv.URL, WithRateLimit(100, 10))
	require.NoError(t, err)
	ctx := context.Background()

	did, err := client.ResolveHandle(ctx, "alice.test")
	require.NoError(t, err)
	assert.Equal(t, "did:plc:alice", did)

	_, err = client.ResolveHandle(ctx, "nobody.test")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrHandleNotFound))

	_, err = client.ResolveHandle(ctx, "broken.test")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.False(t, errors.Is(err, errors.ErrRateLimited))

	_, err = client.ResolveHandle(ctx, "busy.test")
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.True(t, errors.Is(err, errors.ErrRateLimited))
}

func TestXRPCClient_BehindCache(t *testing.T) {
	srv, paths := newAppView(t)
	client, err := NewXRPCClient(srv.URL, WithRateLimit(0, 0))
	require.NoError(t, err)

	c, err := NewCache(client, client, CacheConfig{})
	require.NoError(t, err)
	defer c.Close()

	p, err := c.ResolveByHandle(context.Background(), "alice.test")
	require.NoError(t, err)
	assert.Equal(t, "h-alice.test", p.Handle)

	_, err = c.ResolveOne(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.Len(t, *paths, 1)
}

func TestNewXRPCClient_BadURL(t *testing.T) {
	_, err := NewXRPCClient("not a url")
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
