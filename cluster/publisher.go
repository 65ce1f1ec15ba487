package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/creditnote-engine/credit"
)

const DefaultChannel = "creditnotes:changed"

// Subscriber is the part of *credit.Engine the publisher needs.
type Subscriber interface {
	Subscribe(fn credit.Listener) (unsubscribe func())
}

// Publisher carries "something changed" between processes. Messages hold
// only the sender's instance id, matching the payload-free local signal.
type Publisher struct {
	rdb        redis.UniversalClient
	logger     *zap.Logger
	channel    string
	instanceID string
	timeout    time.Duration
}

func NewPublisher(rdb redis.UniversalClient, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		rdb:        rdb,
		logger:     logger,
		channel:    DefaultChannel,
		instanceID: uuid.NewString(),
		timeout:    2 * time.Second,
	}
}

// InstanceID identifies this process on the channel.
func (p *Publisher) InstanceID() string {
	return p.instanceID
}

// Publish announces a local change.
func (p *Publisher) Publish(ctx context.Context) error {
	return p.rdb.Publish(ctx, p.channel, p.instanceID).Err()
}

// Attach publishes after every change committed by the engine. Publish
// failures are logged; the local mutation has already committed.
func (p *Publisher) Attach(engine Subscriber) (detach func()) {
	return engine.Subscribe(func() {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx); err != nil {
			p.logger.Warn("publish change failed", zap.String("channel", p.channel), zap.Error(err))
		}
	})
}

// Watch calls onRemote for every change published by another instance,
// until ctx is done.
func (p *Publisher) Watch(ctx context.Context, onRemote func()) error {
	sub := p.rdb.Subscribe(ctx, p.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed so no message is missed
	// between Watch returning control and the first Receive.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			if msg.Payload == p.instanceID {
				continue
			}
			p.logger.Debug("remote change received", zap.String("from", msg.Payload))
			onRemote()
		}
	}
}
