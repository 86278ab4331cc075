// Package retry provides exponential backoff for transient startup failures.
//
// skystream uses it while dialing its broker, its NATS server and the cursor bucket.
// The firehose socket does not use it: the subscriber reconnects on a fixed delay.
//
// Errors marked with NonRetryable, and errors the errors package classifies as fatal
// or invalid, end the loop immediately:
//
//	err := retry.Do(ctx, retry.Persistent(), func() error {
//	    return client.Connect(ctx)
//	})
//
// Presets:
//
//   - DefaultConfig(): 3 attempts, 100ms-5s delay
//   - Persistent(): 30 attempts, 200ms-10s delay
package retry
