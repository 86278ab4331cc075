// Package skystream ingests the Bluesky repository event stream and republishes the
// social operations it carries as individual broker messages.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        firehose.Subscriber          │  websocket, cursor, reconnect
//	│  (com.atproto.sync.subscribeRepos)  │  frame decode + validation
//	└─────────────────────────────────────┘
//	           ↓ *firehose.Commit
//	┌─────────────────────────────────────┐
//	│          ops.Classifier             │  CAR blocks → typed records
//	│  (post, repost, like, follow)       │  creates and deletes per kind
//	└─────────────────────────────────────┘
//	           ↓ *ops.ByType
//	┌─────────────────────────────────────┐
//	│       publisher.Publisher           │  JSON encoding, spool,
//	│  (AMQP topic exchange or NATS)      │  routing key "{kind}.{action}"
//	└─────────────────────────────────────┘
//
// Alongside the pipeline, profile.Cache resolves account profiles against an AppView
// with an LRU+TTL cache and serves them on the metrics server under /profiles.
//
// # Packages
//
// Pipeline:
//   - firehose: subscribeRepos client, frame decoding, cursor persistence hooks
//   - repo: CARv1 block archives carried in commits
//   - lex: NSIDs, DAG-CBOR links, canonical JSON form, JSON schema validation
//   - record: typed post, repost, like and follow records and image URLs
//   - ops: classification of commit operations
//   - publisher: message bodies, brokers, spool and throughput reporting
//   - profile: AppView client, profile cache and HTTP handler
//
// Infrastructure:
//   - config: layered JSON, .env and environment configuration
//   - errors: classified errors (transient, invalid, fatal)
//   - metric: Prometheus registry and metrics server
//   - health: component health aggregation
//   - natsclient: NATS connection management and the KV cursor store
//   - pkg/buffer, pkg/cache, pkg/retry, pkg/tlsutil: generic building blocks
//
// # Message Routing
//
// Every operation is published on its own, with routing key "{kind}.{action}":
//
//	post.create    post.delete
//	repost.create  repost.delete
//	like.create    like.delete
//	follow.create  follow.delete
//
// Within a commit the order is kind by kind (post, repost, like, follow), creates
// before deletes, each in the order the commit listed them. Subscribers bind with
// topic patterns such as "post.*" or "*.delete".
//
// # Delivery
//
// Delivery is at most once. A failed publish is logged and counted, never retried.
// The firehose cursor advances past a commit even when its handler fails, so a
// reconnect resumes after the last frame received.
//
// # Binary
//
// The skystream binary wires the pipeline:
//
//	# Defaults plus .env and environment
//	./bin/skystream
//
//	# With a JSON config layer
//	./bin/skystream --config configs/production.json
//
//	# Print the merged configuration and exit
//	./bin/skystream --validate
package skystream
