package stream

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/cmd/trader/internal/candles"
	"github.com/davin77/binotrade/cmd/trader/internal/instruments"
	"github.com/davin77/binotrade/cmd/trader/internal/isotime"
	"github.com/davin77/binotrade/cmd/trader/internal/timesync"
	"github.com/davin77/binotrade/pkg/models"
)

// Session owns one quote-stream connection: it dials, replays the
// subscription set, parses inbound frames into ticks, and reconnects after a
// fixed delay whenever the read loop fails. Tick dispatch is single-threaded,
// so listeners see ticks and bar events in wire order.
type Session struct {
	url            string
	dialer         Dialer
	logger         *zap.Logger
	tsync          *timesync.TimeSync
	agg            *candles.Aggregator
	subs           *SubscriptionSet
	clock          timesync.Clock
	reconnectDelay time.Duration

	mu      sync.Mutex
	state   ConnState
	stateCh chan struct{}
	conn    Conn
	writeMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  []Listener

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSession(url string, dialer Dialer, tsync *timesync.TimeSync, agg *candles.Aggregator, subs *SubscriptionSet, reconnectDelay time.Duration, clock timesync.Clock, logger *zap.Logger) *Session {
	return &Session{
		url:            url,
		dialer:         dialer,
		logger:         logger,
		tsync:          tsync,
		agg:            agg,
		subs:           subs,
		clock:          clock,
		reconnectDelay: reconnectDelay,
		state:          StateDisconnected,
		stateCh:        make(chan struct{}),
		done:           make(chan struct{}),
	}
}

// AddListener registers a listener for tick, bar and connection events.
func (s *Session) AddListener(l Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Start launches the connect/read/reconnect loop.
func (s *Session) Start() {
	s.wg.Add(1)
	go s.run()
}

func (s *Session) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			s.setState(StateTerminated)
			return
		default:
		}

		s.setState(StateConnecting)
		conn, err := s.dialer.Dial(s.url)
		if err != nil {
			s.logger.Warn("stream dial failed", zap.String("url", s.url), zap.Error(err))
			s.setState(StateErrored)
			if !s.sleep(s.reconnectDelay) {
				return
			}
			continue
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		s.setState(StateOpen)

		if err := s.replaySubscriptions(conn); err != nil {
			s.logger.Warn("subscription replay failed", zap.Error(err))
		}
		s.notifyConnection(true)

		s.readLoop(conn)

		s.notifyConnection(false)
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
		s.setState(StateClosed)

		if !s.sleep(s.reconnectDelay) {
			return
		}
	}
}

func (s *Session) readLoop(conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Warn("stream read failed", zap.Error(err))
			}
			return
		}
		s.handleFrame(data)
	}
}

// handleFrame parses one inbound frame. A frame carries a data array whose
// "assets" entries hold the ticks; anything else (subscribe confirmations,
// error responses) is logged at debug level and dropped.
func (s *Session) handleFrame(data []byte) {
	root := gjson.ParseBytes(data)
	if !root.Get("success").Bool() {
		s.logger.Debug("stream frame rejected", zap.String("frame", root.Raw))
		return
	}
	for _, entry := range root.Get("data").Array() {
		if entry.Get("action").String() != "assets" {
			continue
		}
		for _, asset := range entry.Get("assets").Array() {
			s.handleAsset(asset)
		}
	}
}

func (s *Session) handleAsset(asset gjson.Result) {
	ric := asset.Get("ric").String()
	inst, ok := instruments.ByRic(ric)
	if !ok {
		return
	}
	ts, err := isotime.Parse(asset.Get("created_at").String())
	if err != nil {
		s.logger.Debug("tick timestamp unparsable", zap.String("ric", ric), zap.Error(err))
		return
	}
	precision := int(asset.Get("precision").Int())
	if precision == 0 {
		precision = inst.Precision
	}
	tick := models.Tick{
		Symbol:    inst.Symbol,
		Price:     asset.Get("rate").Float(),
		Timestamp: ts,
		Precision: precision,
	}

	local := float64(s.clock.Now().UnixNano()) / 1e9
	s.tsync.Observe(tick.Timestamp, local)

	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnTick(tick)
	}

	periods := s.subs.Periods(tick.Symbol)
	if len(periods) == 0 {
		return
	}
	for _, event := range s.agg.OnTick(tick, periods) {
		for _, l := range listeners {
			l.OnBar(event)
		}
	}
}

// Subscribe registers a symbol and its candle periods. The subscription is
// recorded regardless of connection state; if the socket is open the
// subscribe message is also sent immediately, otherwise replay after the
// next connect covers it.
func (s *Session) Subscribe(symbol string, periods ...int64) error {
	inst, ok := instruments.BySymbol(symbol)
	if !ok {
		return fmt.Errorf("unknown symbol %q", symbol)
	}
	s.subs.Add(inst.Symbol, periods...)
	return s.sendAction("subscribe", []string{inst.Ric})
}

// Unsubscribe removes a symbol. Unsubscribing an unknown or already-removed
// symbol is a no-op.
func (s *Session) Unsubscribe(symbol string) error {
	inst, ok := instruments.BySymbol(symbol)
	if !ok {
		return nil
	}
	s.subs.Remove(inst.Symbol)
	return s.sendAction("unsubscribe", []string{inst.Ric})
}

func (s *Session) sendAction(action string, rics []string) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == StateOpen
	s.mu.Unlock()
	if !open || conn == nil {
		return nil
	}
	msg, err := json.Marshal(map[string]interface{}{
		"action": action,
		"rics":   rics,
	})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

// replaySubscriptions re-sends the full subscription set as one subscribe
// message right after a connection opens.
func (s *Session) replaySubscriptions(conn Conn) error {
	symbols := s.subs.Symbols()
	if len(symbols) == 0 {
		return nil
	}
	rics := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		inst, ok := instruments.BySymbol(sym)
		if !ok {
			continue
		}
		rics = append(rics, inst.Ric)
	}
	msg, err := json.Marshal(map[string]interface{}{
		"action": "subscribe",
		"rics":   rics,
	})
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *Session) notifyConnection(connected bool) {
	s.listenerMu.RLock()
	listeners := s.listeners
	s.listenerMu.RUnlock()
	for _, l := range listeners {
		l.OnConnection(connected)
	}
}

// State returns the current connection state.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state ConnState) {
	s.mu.Lock()
	if s.state != state {
		s.state = state
		close(s.stateCh)
		s.stateCh = make(chan struct{})
	}
	s.mu.Unlock()
}

// WaitUntilConnected blocks until the session reaches the open state or the
// timeout elapses, reporting whether it is connected.
func (s *Session) WaitUntilConnected(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		s.mu.Lock()
		state := s.state
		ch := s.stateCh
		s.mu.Unlock()
		if state == StateOpen {
			return true
		}
		if state == StateTerminated {
			return false
		}
		select {
		case <-ch:
		case <-deadline.C:
			return false
		}
	}
}

func (s *Session) sleep(d time.Duration) bool {
	select {
	case <-s.done:
		s.setState(StateTerminated)
		return false
	case <-time.After(d):
		return true
	}
}

// Close stops the session and waits for the run loop to exit. It is safe to
// call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	s.wg.Wait()
}
