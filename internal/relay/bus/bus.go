// Package bus implements an optional cross-instance fan-out path for the
// relay registry, so multiple relay processes behind a load balancer can
// share rooms. It is adapted from the teacher repo's internal/v1/bus
// package (Redis pub/sub plus a circuit breaker around it), generalized
// from per-room video-conference channels to a single relay-wide channel
// carrying already-encoded wire frames.
//
// This is additive: a relay with no SIMULCAST_RELAY_REDIS_ADDR configured
// runs single-instance exactly as SPEC_FULL.md describes, with no Redis
// dependency at all (room persistence across relay restarts remains a
// non-goal per spec.md §1 — the bus only widens one restart-free process
// into several restart-free processes, it does not add durability).
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/metrics"
	"go.uber.org/zap"
)

// Envelope is the cross-instance message shape: an already wire-encoded
// frame plus enough routing metadata for the receiving instance to forward
// it without re-deriving who sent it.
type Envelope struct {
	RoomID       string `json:"room_id"`
	FromMemberID string `json:"from_member_id"`
	MsgType      string `json:"msg_type"`
	Payload      []byte `json:"payload"`
}

// Service wraps a Redis pub/sub connection used to fan relay broadcasts out
// to every other relay instance sharing the same Redis deployment.
type Service struct {
	client  *redis.Client
	cb      *gobreaker.CircuitBreaker
	channel string
}

// NewService connects to addr and verifies reachability with a PING.
func NewService(ctx context.Context, addr string) (*Service, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: connect to redis at %s: %w", addr, err)
	}

	st := gobreaker.Settings{
		Name:     "relay-bus",
		Timeout:  15 * time.Second,
		Interval: time.Minute,
		OnStateChange: func(name string, from, to gobreaker.State) {
			var v float64
			switch to {
			case gobreaker.StateOpen:
				v = 1
			case gobreaker.StateHalfOpen:
				v = 2
			}
			metrics.CircuitBreakerGauge("redis", v)
		},
	}

	return &Service{
		client:  rdb,
		cb:      gobreaker.NewCircuitBreaker(st),
		channel: "simulcast:relay:fanout",
	}, nil
}

// Ping verifies the Redis connection is reachable, for readiness checks.
func (s *Service) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying Redis connection.
func (s *Service) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Publish announces a broadcast to every other relay instance. Failures
// degrade gracefully: the local broadcast already happened via the
// registry, so a publish failure only means other instances miss one
// update, which is acceptable per the best-effort delivery semantics of
// SPEC_FULL.md §4.2.
func (s *Service) Publish(ctx context.Context, env Envelope) {
	if s == nil || s.client == nil {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		logging.Error(ctx, "bus: failed to marshal envelope", zap.Error(err))
		return
	}
	_, err = s.cb.Execute(func() (any, error) {
		return nil, s.client.Publish(ctx, s.channel, data).Err()
	})
	if err != nil {
		logging.Warn(ctx, "bus: publish failed or circuit open", zap.Error(err))
	}
}

// Subscribe starts delivering every Envelope published by any relay
// instance (including this one) to handler, until ctx is canceled.
func (s *Service) Subscribe(ctx context.Context, handler func(Envelope)) {
	if s == nil || s.client == nil {
		return
	}
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				logging.Warn(ctx, "bus: dropping malformed envelope", zap.Error(err))
				continue
			}
			handler(env)
		}
	}
}
