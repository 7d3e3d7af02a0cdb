package settle

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/mangekyou-labs/darkpool/pkg/ledger"
	"github.com/mangekyou-labs/darkpool/pkg/oracle"
	"github.com/mangekyou-labs/darkpool/pkg/util"
)

// ErrSettlementFailure wraps any fault past the guard. State is left
// untouched when it is returned.
var ErrSettlementFailure = errors.New("settlement failure")

// QueuedTrade is one admitted-for-settlement unit: the signed trade plus
// the collateral each trader commits for this fill.
type QueuedTrade struct {
	Trade       TradeData `json:"trade"`
	CollateralA uint64    `json:"collateralA"`
	CollateralB uint64    `json:"collateralB"`
}

// BatchResult reports per-trade settlement outcomes.
type BatchResult struct {
	Settled int     `json:"settled"`
	Failed  int     `json:"failed"`
	Errors  []error `json:"-"`
}

// Settler applies admitted trades to the position ledger. Each
// settlement is atomic: both legs' position updates and both collateral
// transfers commit together or not at all.
type Settler struct {
	guard      *Guard
	ledger     *ledger.Ledger
	feed       oracle.Feed
	authority  common.Address // system transfer authority
	feeRateBps uint64
	clock      util.Clock
	log        *zap.Logger
}

func NewSettler(guard *Guard, led *ledger.Ledger, feed oracle.Feed, authority common.Address, feeRateBps uint64, clock util.Clock, log *zap.Logger) *Settler {
	return &Settler{
		guard:      guard,
		ledger:     led,
		feed:       feed,
		authority:  authority,
		feeRateBps: feeRateBps,
		clock:      clock,
		log:        log,
	}
}

// Settle admits one trade and applies it to both traders' positions.
// Oracle prices are read once up front; the snapshot is never
// revalidated mid-settlement.
func (s *Settler) Settle(trade TradeData, collateralA, collateralB uint64) error {
	now := s.clock.Now().Unix()
	if err := s.admit(&trade, now); err != nil {
		return err
	}
	return s.settleAdmitted(trade, collateralA, collateralB, now)
}

// admit runs the guard against a fresh custody oracle read.
func (s *Settler) admit(trade *TradeData, now int64) error {
	custodyPrice, err := s.feed.Price(trade.Custody)
	if err != nil {
		return fmt.Errorf("%w: custody oracle: %v", ErrSettlementFailure, err)
	}
	return s.guard.Admit(trade, custodyPrice.Price, now)
}

func (s *Settler) settleAdmitted(trade TradeData, collateralA, collateralB uint64, now int64) error {
	collateralPrice, err := s.feed.Price(trade.CollateralCustody)
	if err != nil {
		return fmt.Errorf("%w: collateral oracle: %v", ErrSettlementFailure, err)
	}

	keyA := ledger.PositionKey{Owner: trade.TraderA, Pool: trade.Pool, Custody: trade.Custody, Side: trade.SideA}
	keyB := ledger.PositionKey{Owner: trade.TraderB, Pool: trade.Pool, Custody: trade.Custody, Side: trade.SideB}

	unlock := s.ledger.Lock(keyA, keyB)
	defer unlock()

	posA, err := s.ledger.Position(keyA)
	if err != nil {
		return fmt.Errorf("%w: load position: %v", ErrSettlementFailure, err)
	}
	posB, err := s.ledger.Position(keyB)
	if err != nil {
		return fmt.Errorf("%w: load position: %v", ErrSettlementFailure, err)
	}

	// Stage both legs on copies. Nothing below writes until every check
	// has passed.
	applyLeg(&posA, &trade, collateralA, collateralPrice, now)
	applyLeg(&posB, &trade, collateralB, collateralPrice, now)

	var transfers []ledger.Transfer
	if collateralA > 0 {
		transfers = append(transfers, ledger.Transfer{
			From:   ledger.FundingAccount(trade.TraderA, trade.CollateralCustody),
			To:     ledger.VaultAccount(trade.Custody),
			Amount: collateralA,
		})
	}
	if collateralB > 0 {
		transfers = append(transfers, ledger.Transfer{
			From:   ledger.FundingAccount(trade.TraderB, trade.CollateralCustody),
			To:     ledger.VaultAccount(trade.Custody),
			Amount: collateralB,
		})
	}
	// Both legs and both transfers land in one ledger commit; a failure
	// leaves every position and balance exactly as it was.
	if err := s.ledger.CommitSettlement(s.authority, transfers, posA, posB); err != nil {
		return fmt.Errorf("%w: %v", ErrSettlementFailure, err)
	}

	fee := trade.SizeUSD * s.feeRateBps / 10_000
	s.ledger.RecordSettlement(trade.Custody, trade.SizeUSD, fee)
	s.ledger.AppendEvent(ledger.EventTradeSettled, now, map[string]interface{}{
		"traderA": trade.TraderA.Hex(),
		"traderB": trade.TraderB.Hex(),
		"custody": trade.Custody.Hex(),
		"sizeUsd": trade.SizeUSD,
		"price":   trade.Price,
		"feeUsd":  fee,
	})

	s.log.Info("trade settled",
		zap.String("traderA", trade.TraderA.Hex()),
		zap.String("traderB", trade.TraderB.Hex()),
		zap.Uint64("sizeUsd", trade.SizeUSD),
		zap.Uint64("price", trade.Price),
	)
	return nil
}

// SettleBatch settles trades independently: one failure never blocks or
// rolls back its siblings. A trade is announced as queued only once the
// guard has admitted it; rejected trades never reach the event log.
func (s *Settler) SettleBatch(trades []QueuedTrade) BatchResult {
	res := BatchResult{Errors: make([]error, len(trades))}
	now := s.clock.Now().Unix()

	for i, q := range trades {
		if err := s.admit(&q.Trade, now); err != nil {
			res.Errors[i] = err
			res.Failed++
			s.log.Warn("trade rejected", zap.Int("index", i), zap.Error(err))
			continue
		}
		s.ledger.AppendEvent(ledger.EventTradeQueued, now, map[string]interface{}{
			"traderA": q.Trade.TraderA.Hex(),
			"traderB": q.Trade.TraderB.Hex(),
			"sizeUsd": q.Trade.SizeUSD,
		})
		if err := s.settleAdmitted(q.Trade, q.CollateralA, q.CollateralB, now); err != nil {
			res.Errors[i] = err
			res.Failed++
			s.log.Warn("settlement failed", zap.Int("index", i), zap.Error(err))
			continue
		}
		res.Settled++
	}
	return res
}

// applyLeg folds one fill into a position record. An empty record is
// initialized from the trade; an open one is VWAP-averaged with 128-bit
// intermediates so price×size cannot overflow.
func applyLeg(pos *ledger.Position, trade *TradeData, collateral uint64, collateralPrice oracle.Price, now int64) {
	collateralUSD := collateralPrice.UsdAmount(collateral)

	if pos.IsEmpty() {
		pos.CollateralCustody = trade.CollateralCustody
		pos.SizeUSD = trade.SizeUSD
		pos.Price = trade.Price
		pos.CollateralAmount = collateral
		pos.CollateralUSD = collateralUSD
		pos.OpenTime = now
		pos.UpdateTime = now
		return
	}

	oldValue := new(big.Int).Mul(
		new(big.Int).SetUint64(pos.Price),
		new(big.Int).SetUint64(pos.SizeUSD),
	)
	fillValue := new(big.Int).Mul(
		new(big.Int).SetUint64(trade.Price),
		new(big.Int).SetUint64(trade.SizeUSD),
	)
	newSize := pos.SizeUSD + trade.SizeUSD

	avg := new(big.Int).Add(oldValue, fillValue)
	avg.Div(avg, new(big.Int).SetUint64(newSize))

	pos.Price = avg.Uint64()
	pos.SizeUSD = newSize
	pos.CollateralAmount += collateral
	pos.CollateralUSD += collateralUSD
	pos.UpdateTime = now
}
