package bridge

import (
	"sync"

	"github.com/davin77/binotrade/pkg/models"
)

// Account caches the latest balances reported over the order channel. The
// broker pushes change_balance unsolicited, so the cache can be stale until
// the first frame after connect.
type Account struct {
	mu      sync.Mutex
	balance models.Balance
	seen    bool
}

func NewAccount() *Account {
	return &Account{}
}

func (a *Account) update(b models.Balance) {
	a.mu.Lock()
	a.balance = b
	a.seen = true
	a.mu.Unlock()
}

// Balance returns the last reported balances and whether any report has
// arrived yet.
func (a *Account) Balance() (models.Balance, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, a.seen
}
