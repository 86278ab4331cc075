// Package firehose subscribes to a relay's com.atproto.sync.subscribeRepos stream.
//
// A Subscriber holds one websocket connection at a time and moves through
// Connecting, Streaming and Reconnecting until its context is cancelled. Every binary
// frame is decoded and checked against the lexicon schema for its message type; frames
// that fail either step are logged and dropped without ending the connection.
//
// Commit events are passed to the Handler synchronously, in stream order. Whatever the
// handler returns, the cursor then advances to the event's sequence number, so a
// handler failure never stalls the stream. On reconnect the last cursor is sent as
// ?cursor=N and the relay replays from there.
//
// Transport failures and relay error frames both lead to a fixed ReconnectDelay
// before the next attempt. There is no retry limit.
//
// Usage:
//
//	sub, err := firehose.NewSubscriber(firehose.Config{Service: "wss://bsky.network"},
//	    func(ctx context.Context, evt *firehose.Commit) error {
//	        return publish(ctx, ops.Classify(evt, logger))
//	    },
//	    firehose.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	return sub.Run(ctx)
package firehose
