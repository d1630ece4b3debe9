// Package orders tracks in-flight bets through the broker's asynchronous
// acknowledgement, fill and settlement events.
package orders

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/davin77/binotrade/pkg/models"
)

// ServerClock supplies the broker-time estimate used by the timeout
// watchdog.
type ServerClock interface {
	ServerNow() float64
}

// Callback receives a snapshot of a bet after every status transition. It is
// always invoked outside the tracker's lock and must not call back into a
// mutating method synchronously from the dispatch path.
type Callback func(models.Bet)

// Fill carries the deal_created payload fields the tracker records.
type Fill struct {
	UUID        string
	BrokerID    int64
	Amount      float64
	Payment     float64
	Payout      float64
	OpenPrice   float64
	RequestedAt float64
	OpeningAt   float64
	ClosingAt   float64
}

// Tracker is the bet registry. The canonical Bet values live here, keyed by
// internal id; ref, uuid and broker-id indices are secondary lookups kept in
// step with every transition and torn down together when a bet goes
// terminal. Each active bet has a polling watchdog that forces CheckError
// once the settlement window has passed.
type Tracker struct {
	mu         sync.Mutex
	bets       map[uint64]*models.Bet
	byRef      map[int64]uint64
	byUUID     map[string]uint64
	byBrokerID map[int64]uint64
	nextID     uint64
	nextRef    int64

	clock    ServerClock
	logger   *zap.Logger
	callback Callback

	watchInterval time.Duration
	graceSeconds  float64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewTracker(clock ServerClock, logger *zap.Logger, cb Callback) *Tracker {
	if cb == nil {
		cb = func(models.Bet) {}
	}
	return &Tracker{
		bets:          make(map[uint64]*models.Bet),
		byRef:         make(map[int64]uint64),
		byUUID:        make(map[string]uint64),
		byBrokerID:    make(map[int64]uint64),
		nextRef:       1,
		clock:         clock,
		logger:        logger,
		callback:      cb,
		watchInterval: 50 * time.Millisecond,
		graceSeconds:  60,
		done:          make(chan struct{}),
	}
}

// Submit registers a new bet, assigns its internal id and correlation ref,
// starts its watchdog and returns a snapshot carrying both identifiers. The
// caller puts the ref on the wire.
func (t *Tracker) Submit(bet models.Bet) models.Bet {
	t.mu.Lock()
	bet.ID = t.nextID
	t.nextID++
	bet.Ref = t.nextRef
	t.nextRef++
	bet.Status = models.BetUnknown

	stored := bet
	t.bets[bet.ID] = &stored
	t.byRef[bet.Ref] = bet.ID

	t.wg.Add(1)
	go t.watch(bet.ID)
	t.mu.Unlock()

	t.callback(bet)
	return bet
}

// HandleAck processes a phx_reply for the given ref. A successful ack binds
// the broker uuid; a failure is a terminal OpeningError. Unknown refs are
// stale and dropped.
func (t *Tracker) HandleAck(ref int64, ok bool, uuid string) {
	t.mu.Lock()
	id, found := t.byRef[ref]
	if !found {
		t.mu.Unlock()
		return
	}
	bet := t.bets[id]
	if ok {
		bet.UUID = uuid
		t.byUUID[uuid] = id
		// The ref correlation has served its purpose once acknowledged.
		delete(t.byRef, ref)
		t.mu.Unlock()
		return
	}
	snap := t.terminalLocked(bet, models.BetOpeningError)
	t.mu.Unlock()
	t.callback(snap)
}

// HandleFill processes deal_created: binds the broker id, records the fill
// terms and moves the bet to WaitingCompletion. Unknown uuids are duplicates
// or stale events and are dropped.
func (t *Tracker) HandleFill(f Fill) {
	t.mu.Lock()
	id, found := t.byUUID[f.UUID]
	if !found {
		t.mu.Unlock()
		return
	}
	bet := t.bets[id]
	bet.BrokerID = f.BrokerID
	bet.Amount = f.Amount
	bet.Payment = f.Payment
	bet.Payout = f.Payout
	bet.OpenPrice = f.OpenPrice
	bet.RequestedAt = f.RequestedAt
	bet.OpeningAt = f.OpeningAt
	bet.ClosingAt = f.ClosingAt
	bet.Status = models.BetWaitingCompletion

	t.byBrokerID[f.BrokerID] = id
	delete(t.byUUID, f.UUID)

	snap := *bet
	t.mu.Unlock()
	t.callback(snap)
}

// FailFill marks the bet bound to uuid as CheckError. It is used when a
// deal_created payload arrives but its terms cannot be decoded, so the bet
// can never be resolved against a settlement batch.
func (t *Tracker) FailFill(uuid string) {
	t.mu.Lock()
	id, found := t.byUUID[uuid]
	if !found {
		t.mu.Unlock()
		return
	}
	snap := t.terminalLocked(t.bets[id], models.BetCheckError)
	t.mu.Unlock()
	t.callback(snap)
}

// HandleSettlement processes a close_deal_batch: every WaitingCompletion bet
// on the symbol whose expiry matches finishedAt (to the nearest second) is
// resolved against the batch close price. Ties lose for both directions.
func (t *Tracker) HandleSettlement(symbol string, closePrice, finishedAt float64) {
	batchTs := int64(math.Round(finishedAt))

	t.mu.Lock()
	var snaps []models.Bet
	for _, bet := range t.bets {
		if bet.Symbol != symbol || bet.Status != models.BetWaitingCompletion {
			continue
		}
		if int64(math.Round(bet.ClosingAt)) != batchTs {
			continue
		}
		bet.ClosePrice = closePrice

		won := false
		switch bet.Direction {
		case models.Buy:
			won = closePrice > bet.OpenPrice
		case models.Sell:
			won = closePrice < bet.OpenPrice
		}
		status := models.BetLoss
		if won {
			status = models.BetWin
			bet.Profit = bet.Payment
		}
		snaps = append(snaps, t.terminalLocked(bet, status))
	}
	t.mu.Unlock()

	for _, snap := range snaps {
		t.callback(snap)
	}
}

// Snapshot returns a copy of an active bet, if it exists.
func (t *Tracker) Snapshot(id uint64) (models.Bet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bet, ok := t.bets[id]
	if !ok {
		return models.Bet{}, false
	}
	return *bet, true
}

// ActiveCount returns the number of bets not yet in a terminal state.
func (t *Tracker) ActiveCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bets)
}

// Close stops all watchdogs and waits for them to drain.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() { close(t.done) })
	t.wg.Wait()
}

// terminalLocked applies a terminal status, removes the bet from the active
// set and from every correlation index (idempotent), and returns a snapshot
// for the post-unlock callback. The watchdog notices the removal and exits.
func (t *Tracker) terminalLocked(bet *models.Bet, status models.BetStatus) models.Bet {
	bet.Status = status
	delete(t.byRef, bet.Ref)
	if bet.UUID != "" {
		delete(t.byUUID, bet.UUID)
	}
	if bet.BrokerID != 0 {
		delete(t.byBrokerID, bet.BrokerID)
	}
	delete(t.bets, bet.ID)
	return *bet
}

// watch polls an active bet until it leaves the registry or overstays the
// settlement window, in which case it is forced to CheckError. Polling
// bounds the detection latency at the tick interval without any event-queue
// plumbing.
func (t *Tracker) watch(id uint64) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		bet, ok := t.bets[id]
		if !ok {
			t.mu.Unlock()
			return
		}
		if bet.ClosingAt > 0 && t.clock.ServerNow() > bet.ClosingAt+t.graceSeconds {
			snap := t.terminalLocked(bet, models.BetCheckError)
			t.mu.Unlock()
			t.logger.Warn("bet timed out waiting for settlement",
				zap.Uint64("bet_id", snap.ID),
				zap.String("symbol", snap.Symbol))
			t.callback(snap)
			return
		}
		t.mu.Unlock()
	}
}
