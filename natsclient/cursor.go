package natsclient

import (
	"context"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/skystream/errors"
)

// DefaultCursorBucket holds firehose cursors.
const DefaultCursorBucket = "skystream_cursor"

// KVCursorStore persists a firehose cursor in a JetStream KV bucket, one key per
// relay. It satisfies firehose.CursorStore.
type KVCursorStore struct {
	kv  *KVStore
	key string
}

// NewKVCursorStore opens (or creates) bucket and stores the cursor under key.
func NewKVCursorStore(ctx context.Context, client *Client, bucket, key string) (*KVCursorStore, error) {
	if bucket == "" {
		bucket = DefaultCursorBucket
	}
	if key == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "KVCursorStore", "New", "cursor key")
	}

	kv, err := client.KeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "firehose cursors",
		History:     1,
	})
	if err != nil {
		return nil, errors.Wrap(err, "KVCursorStore", "New", "open bucket")
	}
	return &KVCursorStore{kv: NewKVStore(kv, client.timeout), key: key}, nil
}

// CursorKey turns a relay URL into a valid KV key.
func CursorKey(service string) string {
	out := make([]byte, 0, len(service))
	for i := 0; i < len(service); i++ {
		ch := service[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '-', ch == '_':
			out = append(out, ch)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Load returns the stored cursor.
func (s *KVCursorStore) Load(ctx context.Context) (int64, bool, error) {
	value, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if IsKVNotFoundError(err) {
			return 0, false, nil
		}
		return 0, false, errors.WrapTransient(err, "KVCursorStore", "Load", "get cursor")
	}

	seq, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, false, errors.WrapInvalid(err, "KVCursorStore", "Load", "parse cursor")
	}
	return seq, true, nil
}

// Save stores seq.
func (s *KVCursorStore) Save(ctx context.Context, seq int64) error {
	if err := s.kv.Put(ctx, s.key, []byte(strconv.FormatInt(seq, 10))); err != nil {
		return errors.WrapTransient(err, "KVCursorStore", "Save", "put cursor")
	}
	return nil
}
