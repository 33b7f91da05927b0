package remote

import (
	"context"
	"errors"

	"github.com/valkey-io/valkey-go"
)

// ErrPublishFailed wraps a failed publish.
var ErrPublishFailed = errors.New("failed to publish event")

// Bus is the pub/sub surface the bridge needs.
type Bus interface {
	Publish(ctx context.Context, channel, message string) error
	// Receive blocks, delivering messages on channel until ctx is done or
	// the subscription breaks.
	Receive(ctx context.Context, channel string, fn func(message string)) error
	Close()
}

// NewValkeyClient creates a valkey client for address.
func NewValkeyClient(address, password string) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{address},
		Password:    password,
	})
}

// ValkeyBus adapts a valkey client.
type ValkeyBus struct {
	client valkey.Client
}

func NewValkeyBus(client valkey.Client) *ValkeyBus {
	return &ValkeyBus{client: client}
}

func (b *ValkeyBus) Publish(ctx context.Context, channel, message string) error {
	cmd := b.client.B().Publish().Channel(channel).Message(message).Build()
	if err := b.client.Do(ctx, cmd).Error(); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

func (b *ValkeyBus) Receive(ctx context.Context, channel string, fn func(message string)) error {
	subscriber := b.client.B().Subscribe().Channel(channel).Build()
	return b.client.Receive(ctx, subscriber, func(msg valkey.PubSubMessage) {
		if msg.Channel != channel {
			return
		}
		fn(msg.Message)
	})
}

func (b *ValkeyBus) Close() { b.client.Close() }
