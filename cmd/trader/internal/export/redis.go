// Package export fans the tick and bar flow out to Redis and Kafka so other
// services can consume prices without speaking the broker protocol.
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/pkg/models"
)

// RedisClient abstracts the Redis connection.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Pipeline() redis.Pipeliner
	Close() error
}

const snapshotTTL = 1 * time.Hour

// SnapshotPublisher mirrors the latest tick per symbol into Redis: a SET for
// late joiners plus a PUBLISH for live subscribers, both in one pipeline.
// Writes drain through a buffered channel so a slow Redis never stalls tick
// dispatch; overflow drops the oldest pending update for that cycle.
type SnapshotPublisher struct {
	rdb    RedisClient
	logger *zap.Logger
	ticks  chan models.Tick
	done   chan struct{}
}

func NewSnapshotPublisher(rdb RedisClient, logger *zap.Logger) *SnapshotPublisher {
	p := &SnapshotPublisher{
		rdb:    rdb,
		logger: logger,
		ticks:  make(chan models.Tick, 1024),
		done:   make(chan struct{}),
	}
	go p.worker()
	return p
}

// OnTick queues the tick for publication.
func (p *SnapshotPublisher) OnTick(tick models.Tick) {
	select {
	case p.ticks <- tick:
	default:
		p.logger.Warn("redis publisher backlog full, tick dropped",
			zap.String("symbol", tick.Symbol))
	}
}

// OnBar is a no-op; bar flow goes to Kafka.
func (p *SnapshotPublisher) OnBar(models.BarEvent) {}

// OnConnection is a no-op.
func (p *SnapshotPublisher) OnConnection(bool) {}

func (p *SnapshotPublisher) worker() {
	ctx := context.Background()
	for {
		select {
		case <-p.done:
			return
		case tick := <-p.ticks:
			payload, err := json.Marshal(tick)
			if err != nil {
				continue
			}

			pipe := p.rdb.Pipeline()
			pipe.Set(ctx, fmt.Sprintf("price:%s", tick.Symbol), payload, snapshotTTL)
			pipe.Publish(ctx, fmt.Sprintf("prices.%s", tick.Symbol), payload)
			if _, err := pipe.Exec(ctx); err != nil {
				p.logger.Error("redis pipeline failed",
					zap.String("symbol", tick.Symbol), zap.Error(err))
			}
		}
	}
}

// Close stops the worker. Queued ticks not yet written are discarded.
func (p *SnapshotPublisher) Close() {
	close(p.done)
}
