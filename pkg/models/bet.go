package models

// Direction is the side of a binary-option contract.
type Direction int

const (
	Buy  Direction = 1
	Sell Direction = -1
)

func (d Direction) String() string {
	switch d {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	}
	return "INVALID"
}

// Trend is the wire name the broker uses for a direction.
func (d Direction) Trend() string {
	if d == Buy {
		return "call"
	}
	return "put"
}

// BetStatus is the lifecycle state of a submitted bet.
type BetStatus int

const (
	// BetUnknown is the state between submission and acknowledgement.
	BetUnknown BetStatus = iota
	// BetOpeningError is terminal: the broker rejected the submission.
	BetOpeningError
	// BetCheckError is terminal: no settlement arrived within the timeout
	// window. This is a local fallback, not a broker-reported outcome.
	BetCheckError
	// BetWaitingCompletion is the state between fill and settlement.
	BetWaitingCompletion
	BetWin
	BetLoss
	// BetStandoff is a terminal outcome the protocol defines for a tie.
	// Nothing in this client produces it locally; settlement resolves ties
	// as losses.
	BetStandoff
)

// Terminal reports whether no further transitions are possible.
func (s BetStatus) Terminal() bool {
	switch s {
	case BetOpeningError, BetCheckError, BetWin, BetLoss, BetStandoff:
		return true
	}
	return false
}

func (s BetStatus) String() string {
	switch s {
	case BetUnknown:
		return "unknown"
	case BetOpeningError:
		return "opening_error"
	case BetCheckError:
		return "check_error"
	case BetWaitingCompletion:
		return "waiting_completion"
	case BetWin:
		return "win"
	case BetLoss:
		return "loss"
	case BetStandoff:
		return "standoff"
	}
	return "invalid"
}

// Bet is a binary-option contract tracked from submission through
// settlement. The order tracker owns the canonical copy; callers only ever
// see value snapshots.
type Bet struct {
	ID       uint64 `json:"id"`        // locally assigned, monotonic
	Ref      int64  `json:"ref"`       // correlation ref echoed by the ack
	UUID     string `json:"uuid"`      // assigned by the broker on ack
	BrokerID int64  `json:"broker_id"` // assigned by the broker on fill

	Symbol    string    `json:"symbol"`
	Direction Direction `json:"direction"`
	Amount    float64   `json:"amount"`
	IsDemo    bool      `json:"is_demo"`
	Note      string    `json:"note,omitempty"`

	RequestedAt float64 `json:"requested_at"` // fractional unix seconds
	OpeningAt   float64 `json:"opening_at"`
	ClosingAt   float64 `json:"closing_at"`

	OpenPrice  float64 `json:"open_price"`
	ClosePrice float64 `json:"close_price"`
	Payout     float64 `json:"payout"`  // payout rate, e.g. 0.83
	Payment    float64 `json:"payment"` // potential return including stake
	Profit     float64 `json:"profit"`

	Status BetStatus `json:"status"`
}

// Balance is the per-account-type balance reported by the broker.
type Balance struct {
	Real float64 `json:"real"`
	Demo float64 `json:"demo"`
}
