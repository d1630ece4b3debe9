package terminal

// ContractRequest is the deal request a trading terminal sends. Field names
// are short because the terminal side composes them by hand.
type ContractRequest struct {
	Symbol    string  `json:"s"`
	Amount    float64 `json:"a"`
	Direction string  `json:"dir"` // "BUY" or "SELL"
	Duration  int64   `json:"dur"` // seconds
	Note      string  `json:"note,omitempty"`
}

// Request is the envelope for terminal frames: exactly one field is set.
type Request struct {
	Contract *ContractRequest `json:"contract,omitempty"`
	Ping     *int             `json:"ping,omitempty"`
	Pong     *int             `json:"pong,omitempty"`
}

// ConnectionStatus tells terminals whether the broker link is usable.
// Connected is 1 when both the quote stream and the order channel are up.
type ConnectionStatus struct {
	Connection int `json:"connection"`
}

// BetUpdate is pushed to every terminal on each bet transition.
type BetUpdate struct {
	Bet betPayload `json:"bet"`
}

type betPayload struct {
	ID         uint64  `json:"id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Amount     float64 `json:"amount"`
	Status     string  `json:"status"`
	OpenPrice  float64 `json:"open_price,omitempty"`
	ClosePrice float64 `json:"close_price,omitempty"`
	Payout     float64 `json:"payout,omitempty"`
	Profit     float64 `json:"profit,omitempty"`
	Note       string  `json:"note,omitempty"`
}

// ErrorResponse reports a rejected contract back to the sending terminal.
type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
