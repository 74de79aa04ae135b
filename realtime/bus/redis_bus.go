package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	errs "github.com/techagentng/qwik/errors"
	"github.com/techagentng/qwik/logger"
	"github.com/techagentng/qwik/realtime"
)

var _ realtime.Bus = (*RedisBus)(nil)

// envelope is what travels over the Redis channel.
type envelope struct {
	Group string         `json:"group"`
	Event realtime.Event `json:"event"`
}

// RedisBus relays publishes through one Redis pub/sub channel so that every
// process receives them, then fans them out to its own members through a
// local Hub. Membership stays local.
type RedisBus struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
	local   *realtime.Hub

	sub    *goredis.PubSub
	cancel context.CancelFunc
	done   chan struct{}

	closeOnce sync.Once
}

// NewRedisBus subscribes to channel and starts the forwarder. The client is
// owned by the caller and is not closed by Close.
func NewRedisBus(ctx context.Context, rdb *goredis.Client, channel string, log *logger.Logger) (*RedisBus, error) {
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "qwik:chat"
	}

	sub := rdb.Subscribe(ctx, channel)
	// ensures subscription actually started
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	fwdCtx, cancel := context.WithCancel(context.Background())
	b := &RedisBus{
		log:     log.With("service", "RedisChatBus", "channel", channel),
		rdb:     rdb,
		channel: channel,
		local:   realtime.NewHub(log),
		sub:     sub,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go b.forward(fwdCtx)
	return b, nil
}

func (b *RedisBus) forward(ctx context.Context) {
	defer close(b.done)
	ch := b.sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok || m == nil {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
				b.log.Warn("bad redis chat payload", "error", err)
				continue
			}
			if err := b.local.Publish(ctx, env.Group, env.Event); err != nil {
				b.log.Warn("local fan-out failed", "group", env.Group, "error", err)
			}
		}
	}
}

func (b *RedisBus) Join(ctx context.Context, group string, sub realtime.Subscriber) error {
	return b.local.Join(ctx, group, sub)
}

func (b *RedisBus) Leave(ctx context.Context, group string, sub realtime.Subscriber) error {
	return b.local.Leave(ctx, group, sub)
}

// Publish returns once Redis has accepted the event. Local members,
// including the publisher, receive it through the forwarder.
func (b *RedisBus) Publish(ctx context.Context, group string, ev realtime.Event) error {
	select {
	case <-b.done:
		return errs.ErrBusClosed
	default:
	}
	raw, err := json.Marshal(envelope{Group: group, Event: ev})
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Members reports how many local subscribers are in group.
func (b *RedisBus) Members(group string) int {
	return b.local.Members(group)
}

func (b *RedisBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = b.sub.Close()
		<-b.done
		_ = b.local.Close()
	})
	return err
}
