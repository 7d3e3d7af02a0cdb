package ledger

import (
	"bytes"
	"fmt"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// PositionKey identifies one position record. Settlements sharing a key
// must serialize; disjoint keys may settle in parallel.
type PositionKey struct {
	Owner   darkpool.Identity `json:"owner"`
	Pool    darkpool.Identity `json:"pool"`
	Custody darkpool.Identity `json:"custody"`
	Side    darkpool.Side     `json:"side"`
}

func (k PositionKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", k.Owner, k.Pool, k.Custody, k.Side)
}

// bytes returns a fixed canonical encoding, used for storage keys and
// for ordering lock acquisition.
func (k PositionKey) bytes() []byte {
	out := make([]byte, 0, 97)
	out = append(out, k.Owner[:]...)
	out = append(out, k.Pool[:]...)
	out = append(out, k.Custody[:]...)
	out = append(out, byte(k.Side))
	return out
}

// Less gives a total order over keys; lock acquisition follows it to
// avoid deadlock when a settlement touches two keys.
func (k PositionKey) Less(o PositionKey) bool {
	return bytes.Compare(k.bytes(), o.bytes()) < 0
}

// Position is one trader's open perpetual position for a (pool, custody,
// side). SizeUSD == 0 means the record is logically empty (pre-open).
// Once open, Price is the volume-weighted average entry price over every
// fill ever applied; collateral totals only grow through settlement.
// Positions are never deleted by this core.
type Position struct {
	Owner             darkpool.Identity `json:"owner"`
	Pool              darkpool.Identity `json:"pool"`
	Custody           darkpool.Identity `json:"custody"`
	CollateralCustody darkpool.Identity `json:"collateralCustody"`
	Side              darkpool.Side     `json:"side"`

	SizeUSD          uint64 `json:"sizeUsd"`
	Price            uint64 `json:"price"` // VWAP entry, 6 implied decimals
	CollateralAmount uint64 `json:"collateralAmount"`
	CollateralUSD    uint64 `json:"collateralUsd"`

	OpenTime   int64 `json:"openTime"`
	UpdateTime int64 `json:"updateTime"`
}

func (p *Position) Key() PositionKey {
	return PositionKey{Owner: p.Owner, Pool: p.Pool, Custody: p.Custody, Side: p.Side}
}

func (p *Position) IsEmpty() bool { return p.SizeUSD == 0 }

// UnrealizedPnL computes signed profit/loss against a mark price.
// Longs profit when mark > entry, shorts when mark < entry.
func (p *Position) UnrealizedPnL(markPrice uint64) int64 {
	if p.SizeUSD == 0 || p.Price == 0 {
		return 0
	}
	diff := int64(markPrice) - int64(p.Price)
	if p.Side == darkpool.Short {
		diff = -diff
	}
	// pnl = diff × size / entry
	return diff * int64(p.SizeUSD) / int64(p.Price)
}

// LiquidationPrice estimates the mark price at which remaining
// collateral no longer covers the maintenance threshold (in bps of the
// position's USD size).
func (p *Position) LiquidationPrice(maintenanceBps uint64) uint64 {
	if p.SizeUSD == 0 || p.Price == 0 {
		return 0
	}

	// Price move the collateral can absorb before maintenance is hit:
	// buffer = (collateralUsd - size×maintenanceBps/10000) × entry / size
	maintenance := p.SizeUSD * maintenanceBps / 10_000
	if p.CollateralUSD <= maintenance {
		return p.Price
	}
	buffer := (p.CollateralUSD - maintenance) * p.Price / p.SizeUSD

	if p.Side == darkpool.Long {
		if buffer >= p.Price {
			return 0
		}
		return p.Price - buffer
	}
	return p.Price + buffer
}
