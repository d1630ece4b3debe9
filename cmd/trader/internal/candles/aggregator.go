package candles

import (
	"math"

	"github.com/davin77/binotrade/pkg/models"
)

// Aggregator folds ticks into the open bar of every subscribed period.
// It is not safe for concurrent use on its own; the stream session calls it
// from a single dispatch goroutine, which also gives bar events a total
// order per connection.
type Aggregator struct {
	store *Store
	mode  models.VolumeMode
}

func NewAggregator(store *Store, mode models.VolumeMode) *Aggregator {
	return &Aggregator{store: store, mode: mode}
}

// BarEnd computes the end-of-interval timestamp owning a tick. The broker
// attributes a tick landing exactly on a period boundary to the closing bar,
// hence the one-second step back before truncating.
func BarEnd(tickTs int64, period int64) int64 {
	t := tickTs - 1
	return (t - (t % period)) + period
}

// OnTick folds one tick into each of the given periods and returns the bar
// events produced, in order: a closed-bar event precedes the open event of
// the bar that superseded it.
func (a *Aggregator) OnTick(tick models.Tick, periods []int64) []models.BarEvent {
	if len(periods) == 0 {
		return nil
	}

	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	var events []models.BarEvent
	tickTs := int64(tick.Timestamp)

	for _, period := range periods {
		barEnd := BarEnd(tickTs, period)
		sr := a.store.seriesFor(tick.Symbol, period)
		last := sr.last()

		switch {
		case last == nil:
			c := a.newBar(tick, barEnd, nil)
			sr.append(c)
			events = append(events, models.BarEvent{Symbol: tick.Symbol, Period: period, Candle: c, Closed: false})

		case barEnd > last.Timestamp:
			// The open bar is superseded: emit its final state first.
			events = append(events, models.BarEvent{Symbol: tick.Symbol, Period: period, Candle: *last, Closed: true})
			c := a.newBar(tick, barEnd, last)
			sr.append(c)
			events = append(events, models.BarEvent{Symbol: tick.Symbol, Period: period, Candle: c, Closed: false})

		default:
			// Same bar, or an out-of-order tick: fold into the open bar
			// rather than reopening history.
			a.updateBar(last, tick)
			events = append(events, models.BarEvent{Symbol: tick.Symbol, Period: period, Candle: *last, Closed: false})
		}
	}
	return events
}

func (a *Aggregator) newBar(tick models.Tick, barEnd int64, prev *models.Candle) models.Candle {
	c := models.Candle{
		Open:      tick.Price,
		High:      tick.Price,
		Low:       tick.Price,
		Close:     tick.Price,
		Timestamp: barEnd,
	}
	switch a.mode {
	case models.VolumeTicks:
		c.Volume = 1
	case models.VolumeWeighted:
		if prev != nil {
			c.Volume = weighted(tick.Price, prev.Close, tick.Precision)
		}
	}
	return c
}

func (a *Aggregator) updateBar(c *models.Candle, tick models.Tick) {
	switch a.mode {
	case models.VolumeTicks:
		c.Volume++
	case models.VolumeWeighted:
		c.Volume += weighted(tick.Price, c.Close, tick.Precision)
	}
	c.Close = tick.Price
	if tick.Price > c.High {
		c.High = tick.Price
	}
	if tick.Price < c.Low {
		c.Low = tick.Price
	}
}

func weighted(price, prevClose float64, precision int) float64 {
	return math.Floor(math.Pow(10, float64(precision))*math.Abs(price-prevClose) + 0.5)
}
