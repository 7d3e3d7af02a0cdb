package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
	"github.com/mangekyou-labs/darkpool/pkg/ledger"
	"github.com/mangekyou-labs/darkpool/pkg/mpc"
	"github.com/mangekyou-labs/darkpool/pkg/settle"
	"github.com/mangekyou-labs/darkpool/pkg/util"
)

var (
	ErrOrderRejected    = errors.New("order rejected")
	ErrInvalidOrderSize = errors.New("order size out of bounds")
	ErrOrderNotFound    = errors.New("order not found")
)

// Config bounds order intake and paces the batch loop.
type Config struct {
	MinOrderSize  uint64 // USD, 6 implied decimals
	MaxOrderSize  uint64
	BatchInterval int64 // seconds between matching rounds
}

// Bridge connects the confidential side to settlement: orders go in
// through the validation circuit, matching rounds run on the batch
// clock, and each round's MatchResult is consumed exactly once into
// signed trades that the settler applies.
type Bridge struct {
	cfg     Config
	engine  mpc.Engine
	settler *settle.Settler
	ledger  *ledger.Ledger
	signer  *crypto.Signer // matching authority
	origin  darkpool.Identity
	clock   util.Clock
	log     *zap.Logger

	mu   sync.Mutex
	book *darkpool.OrderBook
}

func New(cfg Config, engine mpc.Engine, settler *settle.Settler, led *ledger.Ledger, signer *crypto.Signer, origin darkpool.Identity, clock util.Clock, log *zap.Logger) *Bridge {
	return &Bridge{
		cfg:     cfg,
		engine:  engine,
		settler: settler,
		ledger:  led,
		signer:  signer,
		origin:  origin,
		clock:   clock,
		log:     log,
		book:    darkpool.NewOrderBook(),
	}
}

// SubmitOrder bounds-checks the order, runs the validation circuit, and
// on success admits it to the pending set for the next matching round.
func (b *Bridge) SubmitOrder(ctx context.Context, order darkpool.Order) error {
	if order.SizeUSD < b.cfg.MinOrderSize || (b.cfg.MaxOrderSize > 0 && order.SizeUSD > b.cfg.MaxOrderSize) {
		return fmt.Errorf("%w: %d", ErrInvalidOrderSize, order.SizeUSD)
	}

	in, err := mpc.EncodeOrder(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}
	out, err := b.engine.Submit(ctx, mpc.CircuitSubmitOrder, in)
	if err != nil {
		return err
	}
	ok, err := mpc.DecodeBool(out.Payload)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrderRejected
	}

	now := b.clock.Now().Unix()
	b.mu.Lock()
	b.book.Add(order)
	pending := b.book.Len()
	b.mu.Unlock()

	b.ledger.RecordOrder(now)
	b.ledger.AppendEvent(ledger.EventOrderSubmitted, now, map[string]interface{}{
		"owner": order.Owner.Hex(),
		"nonce": order.Nonce,
	})
	b.ledger.AppendEvent(ledger.EventOrderValidated, now, map[string]interface{}{
		"owner": order.Owner.Hex(),
		"nonce": order.Nonce,
	})

	b.log.Info("order admitted",
		zap.String("owner", order.Owner.Hex()),
		zap.Uint64("nonce", order.Nonce),
		zap.Int("pending", pending),
	)
	return nil
}

// CancelOrder removes a pending order by its dedup key. Only orders not
// yet swept into a matching round can be cancelled.
func (b *Bridge) CancelOrder(owner darkpool.Identity, nonce uint64) error {
	b.mu.Lock()
	removed := b.book.Remove(owner, nonce)
	b.mu.Unlock()
	if !removed {
		return fmt.Errorf("%w: owner %s nonce %d", ErrOrderNotFound, owner, nonce)
	}
	b.log.Info("order cancelled", zap.String("owner", owner.Hex()), zap.Uint64("nonce", nonce))
	return nil
}

// PendingOrders returns the current working-set size.
func (b *Bridge) PendingOrders() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.book.Len()
}

// RunBatch drains the pending set through the batch-process circuit and
// settles the resulting trades. The MatchResult is consumed here and
// nowhere else; orders swept into a round never return to the book.
func (b *Bridge) RunBatch(ctx context.Context) (settle.BatchResult, error) {
	now := b.clock.Now().Unix()

	b.mu.Lock()
	orders := b.book.Drain()
	b.mu.Unlock()
	if len(orders) == 0 {
		return settle.BatchResult{}, nil
	}

	in, err := mpc.EncodeOrders(orders, uint64(now))
	if err != nil {
		return settle.BatchResult{}, err
	}
	out, err := b.engine.Submit(ctx, mpc.CircuitBatchProcess, in)
	if err != nil {
		return settle.BatchResult{}, err
	}
	result, err := mpc.DecodeMatchResult(out.Payload)
	if err != nil {
		return settle.BatchResult{}, err
	}

	if len(result.Matches) == 0 {
		b.log.Debug("matching round produced no crossings", zap.Int("orders", len(orders)))
		return settle.BatchResult{}, nil
	}

	b.ledger.RecordMatch(now)
	b.ledger.AppendEvent(ledger.EventOrdersMatched, now, map[string]interface{}{
		"matches":      len(result.Matches),
		"totalVolume":  result.TotalVolume,
		"averagePrice": result.AveragePrice,
	})

	trades, err := b.consume(result)
	if err != nil {
		return settle.BatchResult{}, err
	}
	res := b.settler.SettleBatch(trades)

	b.log.Info("matching round settled",
		zap.Int("matches", len(result.Matches)),
		zap.Int("settled", res.Settled),
		zap.Int("failed", res.Failed),
		zap.Uint64("totalVolume", result.TotalVolume),
	)
	return res, nil
}

// consume lifts a MatchResult into signed, settleable trades. Collateral
// per leg is the order's committed collateral pro-rated by the matched
// share of its size.
func (b *Bridge) consume(result darkpool.MatchResult) ([]settle.QueuedTrade, error) {
	trades := make([]settle.QueuedTrade, 0, len(result.Matches))
	for _, m := range result.Matches {
		trade := settle.TradeFromMatch(m, b.origin)
		if err := trade.Sign(b.signer); err != nil {
			return nil, err
		}
		trades = append(trades, settle.QueuedTrade{
			Trade:       trade,
			CollateralA: prorate(m.OrderA.CollateralAmount, m.MatchedSize, m.OrderA.SizeUSD),
			CollateralB: prorate(m.OrderB.CollateralAmount, m.MatchedSize, m.OrderB.SizeUSD),
		})
	}
	return trades, nil
}

// prorate returns collateral × matched / size with a 128-bit multiply.
func prorate(collateral, matched, size uint64) uint64 {
	if size == 0 {
		return 0
	}
	v := new(big.Int).Mul(new(big.Int).SetUint64(collateral), new(big.Int).SetUint64(matched))
	v.Div(v, new(big.Int).SetUint64(size))
	return v.Uint64()
}

// Loop runs matching rounds on the batch interval until ctx ends.
func (b *Bridge) Loop(ctx context.Context) {
	interval := b.cfg.BatchInterval
	if interval <= 0 {
		interval = 1
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.clock.After(time.Duration(interval) * time.Second):
		}
		if _, err := b.RunBatch(ctx); err != nil {
			b.log.Error("matching round failed", zap.Error(err))
		}
	}
}
