package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/cmd/trader/internal/candles"
	"github.com/davin77/binotrade/cmd/trader/internal/timesync"
	"github.com/davin77/binotrade/pkg/models"
)

type fakeConn struct {
	frames chan []byte

	mu     sync.Mutex
	writes [][]byte

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, frame, nil
	case <-c.closed:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
	fail  bool
}

func (d *fakeDialer) Dial(url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail || len(d.conns) == 0 {
		return nil, fmt.Errorf("dial refused")
	}
	conn := d.conns[0]
	d.conns = d.conns[1:]
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type recorder struct {
	mu    sync.Mutex
	ticks []models.Tick
	bars  []models.BarEvent
	conns []bool
}

func (r *recorder) OnTick(tick models.Tick) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks = append(r.ticks, tick)
}

func (r *recorder) OnBar(event models.BarEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bars = append(r.bars, event)
}

func (r *recorder) OnConnection(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns = append(r.conns, connected)
}

func (r *recorder) tickCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func (r *recorder) barCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bars)
}

func (r *recorder) connEvents() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.conns))
	copy(out, r.conns)
	return out
}

type sessionClock struct{ now time.Time }

func (c sessionClock) Now() time.Time { return c.now }

func assetFrame(ric string, rate float64, precision int, createdAt string) []byte {
	frame := map[string]interface{}{
		"success": true,
		"errors":  []string{},
		"data": []map[string]interface{}{
			{
				"action": "assets",
				"assets": []map[string]interface{}{
					{"rate": rate, "precision": precision, "ric": ric, "created_at": createdAt},
				},
			},
		},
	}
	data, _ := json.Marshal(frame)
	return data
}

func newTestSession(dialer Dialer) (*Session, *candles.Store, *SubscriptionSet, *recorder) {
	store := candles.NewStore()
	agg := candles.NewAggregator(store, models.VolumeTicks)
	subs := NewSubscriptionSet()
	tsync := timesync.New(sessionClock{now: time.Unix(1000, 0)})
	sess := NewSession("wss://example.test/", dialer, tsync, agg, subs, 10*time.Millisecond, sessionClock{now: time.Unix(1000, 0)}, zap.NewNop())
	rec := &recorder{}
	sess.AddListener(rec)
	return sess, store, subs, rec
}

func TestSessionDispatchesTicksAndBars(t *testing.T) {
	conn := newFakeConn()
	conn.frames <- assetFrame("BTC/USD", 10800.5, 5, "2020-09-27T01:25:08.000000Z")
	conn.frames <- assetFrame("BTC/USD", 10801.5, 5, "2020-09-27T01:26:09.000000Z")
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	sess, store, subs, rec := newTestSession(dialer)
	subs.Add("BTCUSD", 60)
	sess.Start()
	defer sess.Close()

	require.True(t, sess.WaitUntilConnected(time.Second))
	require.Eventually(t, func() bool { return rec.tickCount() == 2 }, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	first := rec.ticks[0]
	rec.mu.Unlock()
	assert.Equal(t, "BTCUSD", first.Symbol)
	assert.Equal(t, 10800.5, first.Price)
	assert.Equal(t, 5, first.Precision)

	// The second tick lands past the first bar end, so one closed bar event
	// fires and the store holds two bars.
	require.Eventually(t, func() bool { return rec.barCount() >= 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, store.Count("BTCUSD", 60))
}

func TestSessionDropsUnknownRic(t *testing.T) {
	conn := newFakeConn()
	conn.frames <- assetFrame("NO/SUCH", 1.0, 5, "2020-09-27T01:25:08.000000Z")
	conn.frames <- assetFrame("BTC/USD", 2.0, 5, "2020-09-27T01:25:09.000000Z")
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	sess, _, _, rec := newTestSession(dialer)
	sess.Start()
	defer sess.Close()

	require.Eventually(t, func() bool { return rec.tickCount() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "BTCUSD", rec.ticks[0].Symbol)
}

func TestSessionReplaysSubscriptionsOnReconnect(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}

	sess, _, subs, rec := newTestSession(dialer)
	subs.Add("BTCUSD", 60)
	subs.Add("EURUSD", 60)
	sess.Start()
	defer sess.Close()

	require.True(t, sess.WaitUntilConnected(time.Second))
	// Dropping the first connection forces a reconnect that must replay the
	// full set as one subscribe message.
	first.Close()
	require.Eventually(t, func() bool { return dialer.dialCount() >= 2 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return len(second.written()) == 1 }, time.Second, 5*time.Millisecond)

	var msg struct {
		Action string   `json:"action"`
		Rics   []string `json:"rics"`
	}
	require.NoError(t, json.Unmarshal(second.written()[0], &msg))
	assert.Equal(t, "subscribe", msg.Action)
	assert.Equal(t, []string{"BTC/USD", "EURO"}, msg.Rics)

	events := rec.connEvents()
	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, []bool{true, false, true}, events[:3])
}

func TestSessionSubscribeWhileOpen(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}

	sess, _, subs, _ := newTestSession(dialer)
	sess.Start()
	defer sess.Close()
	require.True(t, sess.WaitUntilConnected(time.Second))

	require.NoError(t, sess.Subscribe("BTCUSD", 60, 300))
	assert.Equal(t, []int64{60, 300}, subs.Periods("BTCUSD"))
	require.Eventually(t, func() bool { return len(conn.written()) == 1 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"action":"subscribe","rics":["BTC/USD"]}`, string(conn.written()[0]))

	require.NoError(t, sess.Unsubscribe("BTCUSD"))
	assert.Nil(t, subs.Periods("BTCUSD"))
	// A second unsubscribe is a no-op beyond the wire message.
	require.NoError(t, sess.Unsubscribe("BTCUSD"))

	require.Error(t, sess.Subscribe("NOPE", 60))
}

func TestSessionWaitUntilConnectedTimesOut(t *testing.T) {
	dialer := &fakeDialer{fail: true}
	sess, _, _, _ := newTestSession(dialer)
	sess.Start()
	defer sess.Close()

	assert.False(t, sess.WaitUntilConnected(30*time.Millisecond))
	assert.GreaterOrEqual(t, dialer.dialCount(), 1)
}

func TestSubscriptionSet(t *testing.T) {
	set := NewSubscriptionSet()
	set.Add("BTCUSD", 60)
	set.Add("BTCUSD", 60, 300)
	set.Add("EURUSD", 900)

	assert.Equal(t, []int64{60, 300}, set.Periods("BTCUSD"))
	assert.Equal(t, []string{"BTCUSD", "EURUSD"}, set.Symbols())

	set.Remove("BTCUSD")
	set.Remove("BTCUSD")
	assert.Nil(t, set.Periods("BTCUSD"))
	assert.Equal(t, []string{"EURUSD"}, set.Symbols())
}
