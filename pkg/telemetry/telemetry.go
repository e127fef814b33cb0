// Package telemetry publishes engine liveness and summary counters to
// an external store other processes can watch.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Stats is the periodically refreshed engine summary.
type Stats struct {
	OrdersTotal int
	LiveOrders  int
	Venues      int
}

// StatsSource supplies the current Stats on each publish tick.
type StatsSource func() Stats

// Publisher pushes liveness beats somewhere observable.
type Publisher interface {
	Beat(ctx context.Context, stats Stats) error
}

// Nop drops beats.
type Nop struct{}

func (Nop) Beat(ctx context.Context, stats Stats) error { return nil }

// RedisPublisher writes a heartbeat hash under a per-service key with
// a TTL, so a stalled engine disappears from the keyspace by itself.
type RedisPublisher struct {
	client  *redis.Client
	service string
	ttl     time.Duration
}

func NewRedisPublisher(client *redis.Client, service string, ttl time.Duration) *RedisPublisher {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisPublisher{client: client, service: service, ttl: ttl}
}

func (p *RedisPublisher) key() string {
	return fmt.Sprintf("heartbeat:%s", p.service)
}

func (p *RedisPublisher) Beat(ctx context.Context, stats Stats) error {
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, p.key(),
		"ts", time.Now().UnixMilli(),
		"orders_total", stats.OrdersTotal,
		"live_orders", stats.LiveOrders,
		"venues", stats.Venues,
	)
	pipe.Expire(ctx, p.key(), p.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// Heartbeat runs the publish loop until ctx is done. Publish failures
// are logged and retried on the next tick.
func Heartbeat(ctx context.Context, pub Publisher, source StatsSource, interval time.Duration, log *zap.SugaredLogger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pub.Beat(ctx, source()); err != nil && ctx.Err() == nil {
				log.Warnw("heartbeat publish failed", "error", err)
			}
		}
	}
}
