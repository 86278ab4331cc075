// Package natsclient wraps a NATS connection for skystream's optional NATS backends:
// the NATS publisher broker and the JetStream KV cursor store.
//
// Client adds a circuit breaker around connect attempts. After a threshold of
// consecutive failures the circuit opens and Connect fails fast with ErrCircuitOpen
// until the backoff elapses; the backoff doubles per round up to a maximum. Once
// connected, reconnection is left to the nats.go library and surfaced through
// OnHealthChange or WithHealthChangeCallback.
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithLogger(logger),
//	    natsclient.WithName("skystream"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
// KVCursorStore keeps the firehose cursor in a KV bucket so a restarted ingester
// resumes where it stopped:
//
//	store, err := natsclient.NewKVCursorStore(ctx, client, "", natsclient.CursorKey(relayURL))
//
// Tests that need a real server use NewTestClient, which starts a NATS container with
// testcontainers-go.
package natsclient
