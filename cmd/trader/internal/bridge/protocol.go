package bridge

import (
	"encoding/json"
	"math"
	"strconv"

	"github.com/davin77/binotrade/cmd/trader/internal/instruments"
	"github.com/davin77/binotrade/pkg/models"
)

// The order channel speaks a phoenix-style envelope. The join ref is fixed at
// zero so replies to the join never collide with bet correlation refs, which
// start at one.
const joinRef = "0"

type envelope struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
	JoinRef string      `json:"join_ref,omitempty"`
}

type dealPayload struct {
	Asset        string `json:"asset"`
	AssetID      int    `json:"asset_id"`
	AssetName    string `json:"asset_name"`
	Amount       int64  `json:"amount"` // cents
	Source       string `json:"source"`
	Trend        string `json:"trend"`
	ExpireAt     int64  `json:"expire_at"`  // unix seconds
	CreatedAt    int64  `json:"created_at"` // unix milliseconds
	OptionType   string `json:"option_type"`
	DealType     string `json:"deal_type"`
	TournamentID *int64 `json:"tournament_id"`
}

func createDealMsg(inst instruments.Instrument, bet models.Bet, createdAt float64) ([]byte, error) {
	dealType := "real"
	if bet.IsDemo {
		dealType = "demo"
	}
	return json.Marshal(envelope{
		Topic: "base",
		Event: "create_deal",
		Payload: dealPayload{
			Asset:      inst.Ric,
			AssetID:    inst.AssetID,
			AssetName:  inst.Name,
			Amount:     int64(math.Round(bet.Amount * 100)),
			Source:     "mouse",
			Trend:      bet.Direction.Trend(),
			ExpireAt:   int64(bet.ClosingAt),
			CreatedAt:  int64(createdAt * 1000),
			OptionType: "turbo",
			DealType:   dealType,
		},
		Ref:     strconv.FormatInt(bet.Ref, 10),
		JoinRef: joinRef,
	})
}

func joinMsg() ([]byte, error) {
	return json.Marshal(envelope{
		Topic:   "base",
		Event:   "phx_join",
		Payload: struct{}{},
		Ref:     joinRef,
		JoinRef: joinRef,
	})
}

func heartbeatMsg(ref int64) ([]byte, error) {
	return json.Marshal(envelope{
		Topic:   "phoenix",
		Event:   "heartbeat",
		Payload: struct{}{},
		Ref:     strconv.FormatInt(ref, 10),
	})
}

// classicExpiry computes the settlement timestamp for a classic option
// opened now with the given duration. Durations up to five minutes land on
// the next minute boundary at least thirty seconds out; longer durations
// land on a five minute boundary with a five minute lead. Invalid durations
// report zero: the broker only accepts whole minutes up to an hour, and
// above five minutes only multiples of fifteen.
func classicExpiry(now float64, duration int64) int64 {
	if duration < 60 || duration%60 != 0 || duration > 3600 {
		return 0
	}
	minutes := duration / 60
	if minutes > 5 && minutes%15 != 0 {
		return 0
	}
	t := int64(now)
	if minutes <= 5 {
		future := t + duration + 30
		return future - future%60
	}
	future := t + duration + 300
	return future - future%300
}
