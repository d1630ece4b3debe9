package terminal

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/pkg/models"
)

type mockSession struct {
	mu     sync.Mutex
	name   string
	frames []string
	closed bool
}

func (m *mockSession) id() string { return m.name }

func (m *mockSession) sendJSON(v interface{}) {
	b, err := json.Marshal(v)
	if err == nil {
		m.sendBytes(b)
	}
}

func (m *mockSession) sendBytes(b []byte) {
	m.mu.Lock()
	m.frames = append(m.frames, string(b))
	m.mu.Unlock()
}

func (m *mockSession) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockSession) last() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.frames) == 0 {
		return ""
	}
	return m.frames[len(m.frames)-1]
}

type mockTrader struct {
	mu       sync.Mutex
	requests []ContractRequest
	demos    []bool
	dirs     []models.Direction
	err      error
}

func (m *mockTrader) SubmitBet(symbol string, amount float64, direction models.Direction, duration int64, isDemo bool, note string) (models.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, ContractRequest{Symbol: symbol, Amount: amount, Duration: duration, Note: note})
	m.demos = append(m.demos, isDemo)
	m.dirs = append(m.dirs, direction)
	if m.err != nil {
		return models.Bet{}, m.err
	}
	return models.Bet{ID: 7, Symbol: symbol, Direction: direction, Amount: amount}, nil
}

func register(s *Server, client session) {
	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()
}

func TestServer_ContractForwarded(t *testing.T) {
	trader := &mockTrader{}
	s := NewServer(trader, true, zap.NewNop())
	client := &mockSession{name: "c1"}
	register(s, client)

	s.handleRequest(client, []byte(`{"contract":{"s":"EURUSD","a":2.5,"dir":"SELL","dur":180,"note":"n1"}}`))

	trader.mu.Lock()
	defer trader.mu.Unlock()
	require.Len(t, trader.requests, 1)
	assert.Equal(t, "EURUSD", trader.requests[0].Symbol)
	assert.Equal(t, 2.5, trader.requests[0].Amount)
	assert.Equal(t, int64(180), trader.requests[0].Duration)
	assert.Equal(t, "n1", trader.requests[0].Note)
	assert.Equal(t, models.Sell, trader.dirs[0])
	assert.True(t, trader.demos[0])
	// Accepted contracts produce no reply frame.
	assert.Empty(t, client.frames)
}

func TestServer_ContractRejectionReported(t *testing.T) {
	trader := &mockTrader{err: assert.AnError}
	s := NewServer(trader, false, zap.NewNop())
	client := &mockSession{name: "c1"}
	register(s, client)

	s.handleRequest(client, []byte(`{"contract":{"s":"EURUSD","a":1,"dir":"BUY","dur":60}}`))
	assert.Contains(t, client.last(), `"type":"error"`)
}

func TestServer_PingPongAndGarbage(t *testing.T) {
	trader := &mockTrader{}
	s := NewServer(trader, true, zap.NewNop())
	client := &mockSession{name: "c1"}
	register(s, client)

	s.handleRequest(client, []byte(`{"ping":1}`))
	assert.JSONEq(t, `{"pong":1}`, client.last())

	s.handleRequest(client, []byte(`{"pong":1}`))
	assert.JSONEq(t, `{"pong":1}`, client.last()) // no new frame

	s.handleRequest(client, []byte(`not json`))
	assert.Contains(t, client.last(), "invalid JSON")
}

func TestServer_ConnectionBroadcastAndReplay(t *testing.T) {
	trader := &mockTrader{}
	s := NewServer(trader, true, zap.NewNop())
	c1 := &mockSession{name: "c1"}
	c2 := &mockSession{name: "c2"}
	register(s, c1)
	register(s, c2)

	s.NotifyConnection(true)
	assert.JSONEq(t, `{"connection":1}`, c1.last())
	assert.JSONEq(t, `{"connection":1}`, c2.last())

	s.NotifyConnection(false)
	assert.JSONEq(t, `{"connection":0}`, c1.last())

	// State is remembered for replay to late joiners.
	s.mu.Lock()
	assert.False(t, s.connected)
	s.mu.Unlock()
}

func TestServer_BetUpdatePushed(t *testing.T) {
	trader := &mockTrader{}
	s := NewServer(trader, true, zap.NewNop())
	client := &mockSession{name: "c1"}
	register(s, client)

	s.NotifyBet(models.Bet{
		ID:        3,
		Symbol:    "BTCUSD",
		Direction: models.Buy,
		Amount:    5,
		Status:    models.BetWin,
		Profit:    9.15,
	})

	var update BetUpdate
	require.NoError(t, json.Unmarshal([]byte(client.last()), &update))
	assert.Equal(t, uint64(3), update.Bet.ID)
	assert.Equal(t, "BTCUSD", update.Bet.Symbol)
	assert.Equal(t, "win", update.Bet.Status)
	assert.Equal(t, 9.15, update.Bet.Profit)
}

func TestServer_UnregisterClosesOnce(t *testing.T) {
	trader := &mockTrader{}
	s := NewServer(trader, true, zap.NewNop())
	client := &mockSession{name: "c1"}
	register(s, client)

	s.unregister(client)
	assert.True(t, client.closed)

	// A second unregister after removal must not close again.
	client.closed = false
	s.unregister(client)
	assert.False(t, client.closed)
}
