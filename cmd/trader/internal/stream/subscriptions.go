package stream

import (
	"sort"
	"sync"
)

// SubscriptionSet tracks which periods are live per symbol. It carries its
// own lock, independent from the candle store, so subscribe/unsubscribe
// calls never queue behind tick processing. Its contents are replayed
// verbatim after every reconnect.
type SubscriptionSet struct {
	mu      sync.Mutex
	periods map[string]map[int64]bool
}

func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{periods: make(map[string]map[int64]bool)}
}

// Add registers periods for a symbol. Adding an already-present period is a
// no-op.
func (s *SubscriptionSet) Add(symbol string, periods ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.periods[symbol]
	if !ok {
		set = make(map[int64]bool)
		s.periods[symbol] = set
	}
	for _, p := range periods {
		set[p] = true
	}
}

// Remove drops a symbol entirely. Removing an unknown symbol is a no-op.
func (s *SubscriptionSet) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.periods, symbol)
}

// Periods returns the sorted periods tracked for a symbol.
func (s *SubscriptionSet) Periods(symbol string) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.periods[symbol]
	if !ok {
		return nil
	}
	out := make([]int64, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Symbols returns the sorted subscribed symbols.
func (s *SubscriptionSet) Symbols() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.periods))
	for sym := range s.periods {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
