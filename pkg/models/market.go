package models

// Tick is a single price observation from the broker feed. Ticks are
// consumed immediately and never retained.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp float64 `json:"timestamp"` // fractional unix seconds, UTC
	Precision int     `json:"precision"` // decimal digits of the instrument
}

// Candle is an OHLCV aggregate over a fixed window. Timestamp marks the
// *end* of the bar interval (broker convention), in whole unix seconds.
type Candle struct {
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"timestamp"`
}

// BarEvent is delivered to listeners on every bar mutation. Closed marks the
// final state of a bar that has just been superseded by a newer one.
type BarEvent struct {
	Symbol string `json:"symbol"`
	Period int64  `json:"period"` // seconds
	Candle Candle `json:"candle"`
	Closed bool   `json:"closed"`
}

// VolumeMode selects how the aggregator accumulates bar volume.
type VolumeMode int

const (
	// VolumeNone leaves volume at zero.
	VolumeNone VolumeMode = iota
	// VolumeTicks counts one unit per tick.
	VolumeTicks
	// VolumeWeighted accumulates round(10^precision * |price delta|) per tick.
	VolumeWeighted
)

// ParseVolumeMode maps a config string to a VolumeMode. Unknown values
// report false.
func ParseVolumeMode(s string) (VolumeMode, bool) {
	switch s {
	case "none":
		return VolumeNone, true
	case "ticks":
		return VolumeTicks, true
	case "weighted":
		return VolumeWeighted, true
	}
	return VolumeNone, false
}

func (m VolumeMode) String() string {
	switch m {
	case VolumeNone:
		return "none"
	case VolumeTicks:
		return "ticks"
	case VolumeWeighted:
		return "weighted"
	}
	return "unknown"
}
