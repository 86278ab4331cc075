package publisher

import (
	"context"
	"fmt"

	"github.com/c360/skystream/errors"
	"github.com/c360/skystream/natsclient"
)

// Broker publishes an encoded message under a routing key. Publish must not wait for
// a delivery acknowledgement.
type Broker interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
	Close() error
}

var (
	_ Broker = (*NATSBroker)(nil)
	_ Broker = (*AMQPBroker)(nil)
)

// NATSBroker publishes on subject "{exchange}.{routing key}" over core NATS, which
// gives the same topic routing as the AMQP exchange ("firehose.post.*").
type NATSBroker struct {
	client   *natsclient.Client
	exchange string
	owned    bool
}

// NewNATSBroker publishes through client. When owned is true Close also closes the
// client.
func NewNATSBroker(client *natsclient.Client, exchange string, owned bool) (*NATSBroker, error) {
	if client == nil {
		return nil, errors.WrapInvalid(errors.ErrNoConnection, "NATSBroker", "New", "nil client")
	}
	if exchange == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "NATSBroker", "New", "exchange name")
	}
	return &NATSBroker{client: client, exchange: exchange, owned: owned}, nil
}

// Subject returns the NATS subject for a routing key.
func (b *NATSBroker) Subject(routingKey string) string {
	return b.exchange + "." + routingKey
}

// Publish implements Broker.
func (b *NATSBroker) Publish(ctx context.Context, routingKey string, body []byte) error {
	if err := b.client.Publish(ctx, b.Subject(routingKey), body); err != nil {
		return errors.WrapTransient(fmt.Errorf("%w: %v", errors.ErrConnectionLost, err),
			"NATSBroker", "Publish", routingKey)
	}
	return nil
}

// Healthy reports whether the connection is up.
func (b *NATSBroker) Healthy() bool {
	return b.client.IsHealthy()
}

// Err returns why the connection is unavailable, or nil while it is connected.
func (b *NATSBroker) Err() error {
	if b.client.IsHealthy() {
		return nil
	}
	return fmt.Errorf("%w: nats %s", errors.ErrConnectionLost, b.client.Status())
}

// Close implements Broker.
func (b *NATSBroker) Close() error {
	if !b.owned {
		return nil
	}
	return b.client.Close(context.Background())
}
