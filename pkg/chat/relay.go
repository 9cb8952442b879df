package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"chatcore/pkg/logger"

	"github.com/redis/go-redis/v9"
)

type TargetKind string

const (
	TargetUser      TargetKind = "user"
	TargetRoom      TargetKind = "room"
	TargetBroadcast TargetKind = "broadcast"
)

// Target names the audience of a relayed envelope. ID is empty for broadcasts.
type Target struct {
	Kind TargetKind
	ID   string
}

// Relay carries fan-out between gateway instances. Every published envelope
// comes back through Run on every instance, including the publisher.
type Relay interface {
	Publish(ctx context.Context, target Target, env Envelope) error
	Run(ctx context.Context, deliver func(Target, Envelope)) error
	// AdjustPresence adds delta to the cluster-wide connection count of user
	// and returns the new count.
	AdjustPresence(ctx context.Context, user string, delta int64) (int64, error)
	Online(ctx context.Context, user string) (bool, error)
	Close() error
}

type RedisRelay struct {
	rdb    *redis.Client
	prefix string
	log    logger.Logger
}

func NewRedisRelay(rdb *redis.Client, prefix string, log logger.Logger) *RedisRelay {
	if prefix == "" {
		prefix = "chat"
	}
	if log == nil {
		log = logger.Nop()
	}
	return &RedisRelay{rdb: rdb, prefix: prefix, log: log}
}

func (r *RedisRelay) channel(t Target) string {
	if t.Kind == TargetBroadcast {
		return r.prefix + ":" + string(TargetBroadcast)
	}
	return r.prefix + ":" + string(t.Kind) + ":" + t.ID
}

func (r *RedisRelay) presenceKey() string {
	return r.prefix + ":presence"
}

// parseChannel is the inverse of channel.
func (r *RedisRelay) parseChannel(name string) (Target, bool) {
	rest, ok := strings.CutPrefix(name, r.prefix+":")
	if !ok {
		return Target{}, false
	}
	if rest == string(TargetBroadcast) {
		return Target{Kind: TargetBroadcast}, true
	}
	kind, id, ok := strings.Cut(rest, ":")
	if !ok || id == "" {
		return Target{}, false
	}
	switch TargetKind(kind) {
	case TargetUser, TargetRoom:
		return Target{Kind: TargetKind(kind), ID: id}, true
	}
	return Target{}, false
}

func (r *RedisRelay) Publish(ctx context.Context, target Target, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := r.rdb.Publish(ctx, r.channel(target), payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel(target), err)
	}
	return nil
}

// Run subscribes to every chat channel and hands decoded envelopes to deliver
// until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Target, Envelope)) error {
	pubsub := r.rdb.PSubscribe(ctx,
		r.prefix+":user:*",
		r.prefix+":room:*",
		r.prefix+":"+string(TargetBroadcast),
	)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay subscription closed")
			}
			target, ok := r.parseChannel(msg.Channel)
			if !ok {
				r.log.Warn("relay message on unknown channel", "channel", msg.Channel)
				continue
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.log.Warn("relay message is not an envelope", "channel", msg.Channel, "error", err)
				continue
			}
			deliver(target, env)
		}
	}
}

func (r *RedisRelay) AdjustPresence(ctx context.Context, user string, delta int64) (int64, error) {
	n, err := r.rdb.HIncrBy(ctx, r.presenceKey(), user, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("adjust presence for %s: %w", user, err)
	}
	if n <= 0 {
		if err := r.rdb.HDel(ctx, r.presenceKey(), user).Err(); err != nil {
			return 0, fmt.Errorf("clear presence for %s: %w", user, err)
		}
		n = 0
	}
	return n, nil
}

func (r *RedisRelay) Online(ctx context.Context, user string) (bool, error) {
	n, err := r.rdb.HGet(ctx, r.presenceKey(), user).Int64()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRelay) Close() error {
	return r.rdb.Close()
}
