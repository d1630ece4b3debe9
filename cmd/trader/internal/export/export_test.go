package export

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/pkg/models"
)

func TestSnapshotPublisher_WritesAndPublishes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	p := NewSnapshotPublisher(rdb, zap.NewNop())
	defer p.Close()

	sub := rdb.Subscribe(context.Background(), "prices.EURUSD")
	defer sub.Close()
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	tick := models.Tick{Symbol: "EURUSD", Price: 1.1855, Timestamp: 1601169908.5, Precision: 6}
	p.OnTick(tick)

	require.Eventually(t, func() bool {
		return mr.Exists("price:EURUSD")
	}, time.Second, 5*time.Millisecond)

	stored, err := mr.Get("price:EURUSD")
	require.NoError(t, err)
	var got models.Tick
	require.NoError(t, json.Unmarshal([]byte(stored), &got))
	assert.Equal(t, tick, got)

	ttl := mr.TTL("price:EURUSD")
	assert.Equal(t, snapshotTTL, ttl)

	select {
	case msg := <-sub.Channel():
		assert.Equal(t, "prices.EURUSD", msg.Channel)
	case <-time.After(time.Second):
		t.Fatal("no pubsub message received")
	}
}

type mockWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	closed bool
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *mockWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.msgs)
}

func TestBarExporter_OnlyClosedBars(t *testing.T) {
	writer := &mockWriter{}
	e := NewBarExporter(writer, zap.NewNop())

	open := models.BarEvent{Symbol: "BTCUSD", Period: 60, Closed: false}
	closed := models.BarEvent{
		Symbol: "BTCUSD",
		Period: 60,
		Candle: models.Candle{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 3, Timestamp: 1020},
		Closed: true,
	}
	e.OnBar(open)
	e.OnBar(closed)

	require.Eventually(t, func() bool { return writer.count() == 1 }, time.Second, 5*time.Millisecond)

	writer.mu.Lock()
	msg := writer.msgs[0]
	writer.mu.Unlock()
	assert.Equal(t, "BTCUSD", string(msg.Key))
	var got models.BarEvent
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	assert.Equal(t, closed, got)

	require.NoError(t, e.Close())
	writer.mu.Lock()
	assert.True(t, writer.closed)
	writer.mu.Unlock()
}
