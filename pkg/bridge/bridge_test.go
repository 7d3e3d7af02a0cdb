package bridge

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
	"github.com/mangekyou-labs/darkpool/pkg/ledger"
	"github.com/mangekyou-labs/darkpool/pkg/mpc"
	"github.com/mangekyou-labs/darkpool/pkg/oracle"
	"github.com/mangekyou-labs/darkpool/pkg/settle"
	"github.com/mangekyou-labs/darkpool/pkg/util"
)

var baseTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func id(b byte) darkpool.Identity {
	var out darkpool.Identity
	out[0] = b
	return out
}

var (
	poolID       = id(0x50)
	custodyID    = id(0x51)
	collateralID = id(0x52)
	originID     = id(0x53)
)

type fixture struct {
	bridge *Bridge
	ledger *ledger.Ledger
	clock  *util.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := ledger.NewStore(fmt.Sprintf("%s/bridge_%s.db", t.TempDir(), t.Name()))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authority, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	accounts := ledger.NewAccounts(authority.Address(), store)
	led := ledger.NewLedger(accounts, store)

	feed := oracle.NewStaticFeed()
	feed.Set(custodyID, oracle.Price{Price: 105}) // matches the midpoint used below
	feed.Set(collateralID, oracle.Price{Price: oracle.UsdUnit})

	clock := util.NewFakeClock(baseTime)
	seed := make([]byte, 32)
	seed[0] = 0x42
	engine := mpc.NewLocalEngine([]*crypto.BLSSigner{crypto.NewBLSSignerFromSeed(seed)}, clock, zap.NewNop())

	guard := settle.NewGuard(authority.Address(), originID, 10_000)
	settler := settle.NewSettler(guard, led, feed, authority.Address(), 10, clock, zap.NewNop())

	cfg := Config{MinOrderSize: 10, MaxOrderSize: 1_000_000, BatchInterval: 1}
	b := New(cfg, engine, settler, led, authority, originID, clock, zap.NewNop())

	return &fixture{bridge: b, ledger: led, clock: clock}
}

func (f *fixture) fund(t *testing.T, owner darkpool.Identity, amount uint64) {
	t.Helper()
	if err := f.ledger.Accounts().Deposit(ledger.FundingAccount(owner, collateralID), amount); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
}

func makeOrder(owner byte, side darkpool.Side, limit, size uint64) darkpool.Order {
	return darkpool.Order{
		Owner:             id(owner),
		Side:              side,
		SizeUSD:           size,
		CollateralAmount:  size / 2,
		LimitPrice:        limit,
		Leverage:          5,
		Pool:              poolID,
		Custody:           custodyID,
		CollateralCustody: collateralID,
		Timestamp:         uint64(baseTime.Unix()),
		Nonce:             uint64(owner),
	}
}

func TestSubmitOrderAdmits(t *testing.T) {
	f := newFixture(t)

	if err := f.bridge.SubmitOrder(context.Background(), makeOrder(0x0A, darkpool.Long, 100, 500)); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if got := f.bridge.PendingOrders(); got != 1 {
		t.Errorf("pending = %d, want 1", got)
	}
	if st := f.ledger.Stats(); st.TotalOrders != 1 {
		t.Errorf("total orders = %d, want 1", st.TotalOrders)
	}
}

func TestSubmitOrderRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	overLevered := makeOrder(0x0A, darkpool.Long, 100, 500)
	overLevered.Leverage = 500
	if err := f.bridge.SubmitOrder(ctx, overLevered); !errors.Is(err, ErrOrderRejected) {
		t.Errorf("err = %v, want ErrOrderRejected", err)
	}

	tooSmall := makeOrder(0x0B, darkpool.Long, 100, 5)
	if err := f.bridge.SubmitOrder(ctx, tooSmall); !errors.Is(err, ErrInvalidOrderSize) {
		t.Errorf("err = %v, want ErrInvalidOrderSize", err)
	}

	tooLarge := makeOrder(0x0C, darkpool.Long, 100, 2_000_000)
	if err := f.bridge.SubmitOrder(ctx, tooLarge); !errors.Is(err, ErrInvalidOrderSize) {
		t.Errorf("err = %v, want ErrInvalidOrderSize", err)
	}

	if got := f.bridge.PendingOrders(); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
}

func TestCancelOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order := makeOrder(0x0A, darkpool.Long, 100, 500)
	if err := f.bridge.SubmitOrder(ctx, order); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := f.bridge.CancelOrder(order.Owner, order.Nonce); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := f.bridge.PendingOrders(); got != 0 {
		t.Errorf("pending = %d, want 0", got)
	}
	if err := f.bridge.CancelOrder(order.Owner, order.Nonce); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("err = %v, want ErrOrderNotFound", err)
	}
}

func TestRunBatchSettlesCrossings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	long := makeOrder(0x0A, darkpool.Long, 110, 500)
	short := makeOrder(0x0B, darkpool.Short, 100, 800)
	f.fund(t, long.Owner, 10_000)
	f.fund(t, short.Owner, 10_000)

	if err := f.bridge.SubmitOrder(ctx, long); err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if err := f.bridge.SubmitOrder(ctx, short); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	res, err := f.bridge.RunBatch(ctx)
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if res.Settled != 1 || res.Failed != 0 {
		t.Fatalf("batch = %d settled / %d failed, want 1/0", res.Settled, res.Failed)
	}
	if got := f.bridge.PendingOrders(); got != 0 {
		t.Errorf("pending after batch = %d, want 0", got)
	}

	// Matched size 500 at midpoint 105.
	pos, err := f.ledger.Position(ledger.PositionKey{Owner: long.Owner, Pool: poolID, Custody: custodyID, Side: darkpool.Long})
	if err != nil {
		t.Fatalf("position failed: %v", err)
	}
	if pos.SizeUSD != 500 || pos.Price != 105 {
		t.Errorf("long position = size %d price %d, want 500/105", pos.SizeUSD, pos.Price)
	}
	// Collateral pro-rated: long filled fully (250), short 500/800 of 400.
	if pos.CollateralAmount != 250 {
		t.Errorf("long collateral = %d, want 250", pos.CollateralAmount)
	}
	posB, _ := f.ledger.Position(ledger.PositionKey{Owner: short.Owner, Pool: poolID, Custody: custodyID, Side: darkpool.Short})
	if posB.CollateralAmount != 250 {
		t.Errorf("short collateral = %d, want 250", posB.CollateralAmount)
	}

	st := f.ledger.Stats()
	if st.TotalMatches != 1 || st.TotalSettlements != 1 || st.TotalVolume != 500 {
		t.Errorf("stats = %d matches, %d settlements, %d volume", st.TotalMatches, st.TotalSettlements, st.TotalVolume)
	}
}

func TestRunBatchEmptyBook(t *testing.T) {
	f := newFixture(t)
	res, err := f.bridge.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("batch failed: %v", err)
	}
	if res.Settled != 0 || res.Failed != 0 {
		t.Errorf("empty batch = %+v, want zero result", res)
	}
}

func TestProrate(t *testing.T) {
	tests := []struct {
		collateral, matched, size, want uint64
	}{
		{400, 500, 800, 250},
		{100, 100, 100, 100},
		{100, 0, 100, 0},
		{100, 50, 0, 0},
	}
	for _, tt := range tests {
		if got := prorate(tt.collateral, tt.matched, tt.size); got != tt.want {
			t.Errorf("prorate(%d, %d, %d) = %d, want %d", tt.collateral, tt.matched, tt.size, got, tt.want)
		}
	}
}
