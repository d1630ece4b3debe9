// Package bridge owns the order-channel websocket: it submits deals, routes
// the broker's asynchronous replies into the bet tracker and keeps the
// account balance cache fresh.
package bridge

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/davin77/binotrade/cmd/trader/internal/instruments"
	"github.com/davin77/binotrade/cmd/trader/internal/isotime"
	"github.com/davin77/binotrade/cmd/trader/internal/orders"
	"github.com/davin77/binotrade/cmd/trader/internal/rategate"
	"github.com/davin77/binotrade/cmd/trader/internal/stream"
	"github.com/davin77/binotrade/pkg/config"
	"github.com/davin77/binotrade/pkg/models"
)

var (
	ErrNotConnected  = errors.New("order channel not connected")
	ErrUnknownSymbol = errors.New("symbol not available for trading")
	ErrInvalidAmount = errors.New("bet amount outside the account limits")
	ErrInvalidTrend  = errors.New("direction must be buy or sell")
	ErrInvalidExpiry = errors.New("duration not accepted for classic options")
)

const textMessage = 1

// Bridge runs the order-channel session. Like the quote stream it reconnects
// forever with a fixed delay; unlike the quote stream it also writes, so all
// sends go through sendLocked under one lock.
type Bridge struct {
	url            string
	dialer         stream.Dialer
	logger         *zap.Logger
	tracker        *orders.Tracker
	clock          orders.ServerClock
	gate           *rategate.Gate
	account        *Account
	minAmount      float64
	maxAmount      float64
	reconnectDelay time.Duration
	heartbeatEvery time.Duration
	hbRef          atomic.Int64

	mu   sync.Mutex
	conn stream.Conn
	open bool

	connMu  sync.RWMutex
	connFns []func(bool)

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func New(cfg config.OrdersConfig, dialer stream.Dialer, tracker *orders.Tracker, clock orders.ServerClock, gate *rategate.Gate, account *Account, reconnectDelay time.Duration, logger *zap.Logger) *Bridge {
	b := &Bridge{
		url:            cfg.URL,
		dialer:         dialer,
		logger:         logger,
		tracker:        tracker,
		clock:          clock,
		gate:           gate,
		account:        account,
		minAmount:      cfg.MinAmount,
		maxAmount:      cfg.MaxAmount,
		reconnectDelay: reconnectDelay,
		heartbeatEvery: 30 * time.Second,
		done:           make(chan struct{}),
	}
	// Heartbeat refs live far above bet refs so replies never alias.
	b.hbRef.Store(1_000_000_000)
	return b
}

// OnConnection registers a callback fired when the order channel opens or
// closes.
func (b *Bridge) OnConnection(fn func(bool)) {
	b.connMu.Lock()
	defer b.connMu.Unlock()
	b.connFns = append(b.connFns, fn)
}

// Start launches the connect/read/reconnect loop.
func (b *Bridge) Start() {
	b.wg.Add(1)
	go b.run()
}

func (b *Bridge) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		default:
		}

		conn, err := b.dialer.Dial(b.url)
		if err != nil {
			b.logger.Warn("order channel dial failed", zap.String("url", b.url), zap.Error(err))
			if !b.sleep() {
				return
			}
			continue
		}

		b.mu.Lock()
		b.conn = conn
		b.open = true
		b.mu.Unlock()

		if msg, err := joinMsg(); err == nil {
			if err := b.send(msg); err != nil {
				b.logger.Warn("channel join failed", zap.Error(err))
			}
		}
		b.notify(true)

		hbStop := make(chan struct{})
		b.wg.Add(1)
		go b.heartbeat(hbStop)

		b.readLoop(conn)
		close(hbStop)

		b.mu.Lock()
		b.conn = nil
		b.open = false
		b.mu.Unlock()
		conn.Close()
		b.notify(false)

		if !b.sleep() {
			return
		}
	}
}

func (b *Bridge) readLoop(conn stream.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.logger.Warn("order channel read failed", zap.Error(err))
			}
			return
		}
		b.handleFrame(data)
	}
}

func (b *Bridge) heartbeat(stop chan struct{}) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-b.done:
			return
		case <-ticker.C:
		}
		msg, err := heartbeatMsg(b.hbRef.Add(1))
		if err != nil {
			continue
		}
		if err := b.send(msg); err != nil {
			b.logger.Debug("heartbeat send failed", zap.Error(err))
		}
	}
}

// handleFrame routes one inbound frame by its event. Unmatched events are
// logged and dropped.
func (b *Bridge) handleFrame(data []byte) {
	root := gjson.ParseBytes(data)
	event := root.Get("event").String()
	switch event {
	case "phx_reply":
		b.handleReply(root)
	case "deal_created":
		b.handleDealCreated(root.Get("payload"))
	case "close_deal_batch":
		b.handleCloseBatch(root.Get("payload"))
	case "change_balance":
		b.handleBalance(root.Get("payload"))
	default:
		b.logger.Debug("order channel event dropped", zap.String("event", event))
	}
}

func (b *Bridge) handleReply(root gjson.Result) {
	if root.Get("topic").String() != "base" {
		// Heartbeat replies come back on the phoenix topic.
		return
	}
	// The broker sends ref either as a string or a number.
	ref := root.Get("ref").Int()
	payload := root.Get("payload")
	ok := payload.Get("status").String() == "ok"
	uuid := payload.Get("response.uuid").String()
	if ok && uuid == "" {
		// Join and ping confirmations carry no deal uuid.
		return
	}
	b.tracker.HandleAck(ref, ok, uuid)
}

func (b *Bridge) handleDealCreated(payload gjson.Result) {
	uuid := payload.Get("uuid").String()
	if uuid == "" {
		return
	}
	opening, err := isotime.Parse(payload.Get("created_at").String())
	if err != nil {
		b.tracker.FailFill(uuid)
		return
	}
	closing, err := isotime.Parse(payload.Get("close_quote_created_at").String())
	if err != nil {
		b.tracker.FailFill(uuid)
		return
	}
	requested, err := isotime.Parse(payload.Get("requested_at").String())
	if err != nil {
		b.tracker.FailFill(uuid)
		return
	}
	b.tracker.HandleFill(orders.Fill{
		UUID:        uuid,
		BrokerID:    payload.Get("id").Int(),
		Amount:      payload.Get("amount").Float() / 100,
		Payment:     payload.Get("payment").Float() / 100,
		Payout:      payload.Get("payment_rate").Float() / 100,
		OpenPrice:   payload.Get("open_rate").Float(),
		RequestedAt: requested,
		OpeningAt:   opening,
		ClosingAt:   closing,
	})
}

func (b *Bridge) handleCloseBatch(payload gjson.Result) {
	inst, ok := instruments.ByRic(payload.Get("ric").String())
	if !ok {
		return
	}
	finished, err := isotime.Parse(payload.Get("finished_at").String())
	if err != nil {
		b.logger.Warn("settlement batch timestamp unparsable",
			zap.String("symbol", inst.Symbol), zap.Error(err))
		return
	}
	b.tracker.HandleSettlement(inst.Symbol, payload.Get("end_rate").Float(), finished)
}

func (b *Bridge) handleBalance(payload gjson.Result) {
	var bal models.Balance
	for _, acct := range payload.Get("trading_accounts").Array() {
		cents := acct.Get("balance").Float()
		switch acct.Get("type").String() {
		case "real":
			bal.Real = cents / 100
		case "demo":
			bal.Demo = cents / 100
		}
	}
	b.account.update(bal)
}

// SubmitBet validates and registers a bet, then submits it asynchronously:
// the wire send waits behind the rate gate so rapid callers never trip the
// broker's order throttle. The returned snapshot carries the assigned id;
// the tracker callback reports every later transition.
func (b *Bridge) SubmitBet(symbol string, amount float64, direction models.Direction, duration int64, isDemo bool, note string) (models.Bet, error) {
	inst, ok := instruments.BySymbol(symbol)
	if !ok {
		return models.Bet{}, ErrUnknownSymbol
	}
	if amount < b.minAmount || amount > b.maxAmount {
		return models.Bet{}, ErrInvalidAmount
	}
	if direction != models.Buy && direction != models.Sell {
		return models.Bet{}, ErrInvalidTrend
	}
	b.mu.Lock()
	open := b.open
	b.mu.Unlock()
	if !open {
		return models.Bet{}, ErrNotConnected
	}

	now := b.clock.ServerNow()
	expireAt := classicExpiry(now, duration)
	if expireAt == 0 {
		return models.Bet{}, ErrInvalidExpiry
	}

	bet := b.tracker.Submit(models.Bet{
		Symbol:      inst.Symbol,
		Direction:   direction,
		Amount:      amount,
		IsDemo:      isDemo,
		Note:        note,
		RequestedAt: now,
		OpeningAt:   now,
		ClosingAt:   float64(expireAt),
	})

	b.wg.Add(1)
	go b.submit(inst, bet, now)
	return bet, nil
}

func (b *Bridge) submit(inst instruments.Instrument, bet models.Bet, createdAt float64) {
	defer b.wg.Done()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-b.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := b.gate.Acquire(ctx); err != nil {
		b.tracker.HandleAck(bet.Ref, false, "")
		return
	}
	msg, err := createDealMsg(inst, bet, createdAt)
	if err != nil {
		b.tracker.HandleAck(bet.Ref, false, "")
		return
	}
	if err := b.send(msg); err != nil {
		b.logger.Warn("deal submit failed",
			zap.Uint64("bet_id", bet.ID), zap.Error(err))
		b.tracker.HandleAck(bet.Ref, false, "")
	}
}

func (b *Bridge) send(msg []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open || b.conn == nil {
		return ErrNotConnected
	}
	return b.conn.WriteMessage(textMessage, msg)
}

func (b *Bridge) notify(connected bool) {
	b.connMu.RLock()
	fns := b.connFns
	b.connMu.RUnlock()
	for _, fn := range fns {
		fn(connected)
	}
}

// Connected reports whether the order channel is open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

func (b *Bridge) sleep() bool {
	select {
	case <-b.done:
		return false
	case <-time.After(b.reconnectDelay):
		return true
	}
}

// Close stops the session and joins every goroutine, including in-flight
// submits.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		conn := b.conn
		b.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
	})
	b.wg.Wait()
}
