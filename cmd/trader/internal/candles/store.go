// Package candles folds price ticks into OHLCV bars per (symbol, period)
// and keeps the resulting series queryable.
package candles

import (
	"fmt"
	"sync"

	"github.com/davin77/binotrade/pkg/models"
)

// series is one ordered bar sequence. Timestamps are strictly increasing;
// byTime indexes into candles for at-timestamp lookups.
type series struct {
	candles []models.Candle
	byTime  map[int64]int
}

func newSeries() *series {
	return &series{byTime: make(map[int64]int)}
}

func (s *series) append(c models.Candle) {
	s.byTime[c.Timestamp] = len(s.candles)
	s.candles = append(s.candles, c)
}

func (s *series) last() *models.Candle {
	if len(s.candles) == 0 {
		return nil
	}
	return &s.candles[len(s.candles)-1]
}

// Store maps symbol -> period -> bar series. A single coarse RW lock guards
// all series: tick volume dominates reader volume, so finer locking buys
// nothing here. Writers are the dispatch goroutine and Bootstrap.
type Store struct {
	mu   sync.RWMutex
	data map[string]map[int64]*series
}

func NewStore() *Store {
	return &Store{data: make(map[string]map[int64]*series)}
}

func (st *Store) seriesFor(symbol string, period int64) *series {
	periods, ok := st.data[symbol]
	if !ok {
		periods = make(map[int64]*series)
		st.data[symbol] = periods
	}
	sr, ok := periods[period]
	if !ok {
		sr = newSeries()
		periods[period] = sr
	}
	return sr
}

// Bootstrap pre-populates a series from historical bars, e.g. the output of
// the history fetcher, before live streaming begins. Bars must arrive in
// ascending timestamp order; duplicates of already-known bars are rejected.
func (st *Store) Bootstrap(symbol string, period int64, bars []models.Candle) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	sr := st.seriesFor(symbol, period)
	for _, c := range bars {
		if last := sr.last(); last != nil && c.Timestamp <= last.Timestamp {
			return fmt.Errorf("bootstrap %s/%d: bar %d not after %d", symbol, period, c.Timestamp, last.Timestamp)
		}
		sr.append(c)
	}
	return nil
}

// Count returns the number of bars held for (symbol, period).
func (st *Store) Count(symbol string, period int64) int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if periods, ok := st.data[symbol]; ok {
		if sr, ok := periods[period]; ok {
			return len(sr.candles)
		}
	}
	return 0
}

// Candle returns the bar `offset` steps back from the newest one, so
// Candle(sym, p, 0) is the live bar and Candle(sym, p, 1) the last closed one.
func (st *Store) Candle(symbol string, period int64, offset int) (models.Candle, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	periods, ok := st.data[symbol]
	if !ok {
		return models.Candle{}, false
	}
	sr, ok := periods[period]
	if !ok || offset < 0 || offset >= len(sr.candles) {
		return models.Candle{}, false
	}
	return sr.candles[len(sr.candles)-1-offset], true
}

// CandleAt returns the bar whose interval ends at the given timestamp.
func (st *Store) CandleAt(symbol string, period int64, timestamp int64) (models.Candle, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	periods, ok := st.data[symbol]
	if !ok {
		return models.Candle{}, false
	}
	sr, ok := periods[period]
	if !ok {
		return models.Candle{}, false
	}
	i, ok := sr.byTime[timestamp]
	if !ok {
		return models.Candle{}, false
	}
	return sr.candles[i], true
}

// Recent returns up to n newest bars in ascending time order.
func (st *Store) Recent(symbol string, period int64, n int) []models.Candle {
	st.mu.RLock()
	defer st.mu.RUnlock()
	periods, ok := st.data[symbol]
	if !ok {
		return nil
	}
	sr, ok := periods[period]
	if !ok || n <= 0 {
		return nil
	}
	if n > len(sr.candles) {
		n = len(sr.candles)
	}
	out := make([]models.Candle, n)
	copy(out, sr.candles[len(sr.candles)-n:])
	return out
}

// LatestPrice returns the close of the newest bar for the symbol, across the
// smallest period that has data.
func (st *Store) LatestPrice(symbol string) (float64, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	periods, ok := st.data[symbol]
	if !ok {
		return 0, false
	}
	var best int64 = -1
	for p, sr := range periods {
		if len(sr.candles) == 0 {
			continue
		}
		if best == -1 || p < best {
			best = p
		}
	}
	if best == -1 {
		return 0, false
	}
	return periods[best].last().Close, true
}
