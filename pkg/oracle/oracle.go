package oracle

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// UsdUnit is the implied-decimal scale shared by prices and USD amounts
// (1_000_000 = $1.00).
const UsdUnit = 1_000_000

// Price is one oracle observation for a custody's asset.
type Price struct {
	Price      uint64 `json:"price"`      // USD per token, 6 implied decimals
	Confidence uint64 `json:"confidence"` // absolute confidence interval, same scale
}

// UsdAmount converts a token amount to its USD value at this price,
// using 128-bit intermediates to avoid overflow.
func (p Price) UsdAmount(tokenAmount uint64) uint64 {
	v := new(big.Int).Mul(
		new(big.Int).SetUint64(tokenAmount),
		new(big.Int).SetUint64(p.Price),
	)
	v.Div(v, big.NewInt(UsdUnit))
	return v.Uint64()
}

// Feed is a read-only price source. Settlement reads it at most once per
// custody per settlement; the snapshot is never revalidated mid-flight.
type Feed interface {
	Price(custody darkpool.Identity) (Price, error)
}

// StaticFeed is an in-memory feed for dev nodes and tests. Production
// deployments adapt an external feed behind the same interface.
type StaticFeed struct {
	mu     sync.RWMutex
	prices map[darkpool.Identity]Price
}

func NewStaticFeed() *StaticFeed {
	return &StaticFeed{prices: make(map[darkpool.Identity]Price)}
}

func (f *StaticFeed) Set(custody darkpool.Identity, p Price) {
	f.mu.Lock()
	f.prices[custody] = p
	f.mu.Unlock()
}

func (f *StaticFeed) Price(custody darkpool.Identity) (Price, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.prices[custody]
	if !ok {
		return Price{}, fmt.Errorf("no price for custody %s", custody)
	}
	if p.Price == 0 {
		return Price{}, fmt.Errorf("zero price for custody %s", custody)
	}
	return p, nil
}
