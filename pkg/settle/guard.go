package settle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// ReplayWindow bounds how old a trade may be before the guard rejects
// it. A trade is fresh iff now − timestamp < ReplayWindow seconds.
const ReplayWindow = 300

var (
	ErrInvalidSignature        = errors.New("invalid settlement signature")
	ErrInvalidSettlementSource = errors.New("invalid settlement source")
	ErrTradeDataTooOld         = errors.New("trade data too old")
	ErrInvalidTradeSides       = errors.New("trade sides must be opposite")
	ErrInvalidPositionSize     = errors.New("invalid position size")
	ErrInvalidPrice            = errors.New("invalid price")
	ErrPriceSlippageTooHigh    = errors.New("price slippage too high")
)

// Guard admits trades into settlement. It is the only gate between the
// matcher's output and the position ledger, so every check is fail-closed.
type Guard struct {
	authority      common.Address    // expected signer of trade proofs
	origin         darkpool.Identity // expected originating pool instance
	maxSlippageBps uint64
}

func NewGuard(authority common.Address, origin darkpool.Identity, maxSlippageBps uint64) *Guard {
	return &Guard{authority: authority, origin: origin, maxSlippageBps: maxSlippageBps}
}

// Admit checks authenticity, freshness, well-formedness and slippage, in
// that order, and returns the first failure. Pure: no state is touched.
func (g *Guard) Admit(trade *TradeData, oraclePrice uint64, now int64) error {
	if crypto.IsZeroSignature(trade.Signature) {
		return ErrInvalidSignature
	}
	if !crypto.VerifySignature(g.authority, trade.Digest(), trade.Signature) {
		return ErrInvalidSignature
	}
	if trade.Darkpool != g.origin {
		return fmt.Errorf("%w: %s", ErrInvalidSettlementSource, trade.Darkpool)
	}

	if now-int64(trade.Timestamp) >= ReplayWindow {
		return fmt.Errorf("%w: trade at %d, now %d", ErrTradeDataTooOld, trade.Timestamp, now)
	}

	if trade.SideA == trade.SideB || !trade.SideA.Valid() || !trade.SideB.Valid() {
		return ErrInvalidTradeSides
	}
	if trade.SizeUSD == 0 {
		return ErrInvalidPositionSize
	}
	if trade.Price == 0 {
		return ErrInvalidPrice
	}

	if bps := SlippageBps(oraclePrice, trade.Price); bps > g.maxSlippageBps {
		return fmt.Errorf("%w: %d bps, max %d", ErrPriceSlippageTooHigh, bps, g.maxSlippageBps)
	}
	return nil
}

// SlippageBps returns |oracle − price| × 10000 / oracle. 128-bit
// intermediates keep the multiply exact for full-range prices. A zero
// oracle price reads as maximal slippage.
func SlippageBps(oracle, price uint64) uint64 {
	if oracle == 0 {
		return ^uint64(0)
	}
	var diff uint64
	if price > oracle {
		diff = price - oracle
	} else {
		diff = oracle - price
	}
	v := new(big.Int).Mul(new(big.Int).SetUint64(diff), big.NewInt(10_000))
	v.Div(v, new(big.Int).SetUint64(oracle))
	if !v.IsUint64() {
		return ^uint64(0)
	}
	return v.Uint64()
}
