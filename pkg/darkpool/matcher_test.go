package darkpool

import "testing"

const testNow = uint64(1_700_000_000)

func makeOrder(owner byte, side Side, limit, size uint64) Order {
	o := validOrder()
	o.Owner = testID(owner)
	o.Side = side
	o.LimitPrice = limit
	o.SizeUSD = size
	o.Nonce = uint64(owner)
	return o
}

func TestCanMatchSameSide(t *testing.T) {
	a := makeOrder(0x01, Long, 110, 50)
	b := makeOrder(0x02, Long, 100, 80)

	if canMatch(a, b) {
		t.Error("two longs matched")
	}

	a.Side, b.Side = Short, Short
	if canMatch(a, b) {
		t.Error("two shorts matched")
	}
}

func TestCanMatchDifferentMarkets(t *testing.T) {
	a := makeOrder(0x01, Long, 110, 50)
	b := makeOrder(0x02, Short, 100, 80)

	b.Pool = testID(0xFF)
	if canMatch(a, b) {
		t.Error("matched across pools")
	}

	b = makeOrder(0x02, Short, 100, 80)
	b.Custody = testID(0xFF)
	if canMatch(a, b) {
		t.Error("matched across custodies")
	}
}

func TestCanMatchPriceCompatibility(t *testing.T) {
	long := makeOrder(0x01, Long, 100, 50)
	short := makeOrder(0x02, Short, 110, 80)

	// Buyer cap below seller floor: no match, either argument order.
	if canMatch(long, short) || canMatch(short, long) {
		t.Error("matched with long cap below short floor")
	}

	// Equal limits clear.
	short.LimitPrice = 100
	if !canMatch(long, short) || !canMatch(short, long) {
		t.Error("equal limits did not match")
	}
}

// TestMatchConcreteScenario is the reference scenario:
// A long capped at 110 for 50, B short floored at 100 for 80 →
// one match of size 50 at the midpoint 105.
func TestMatchConcreteScenario(t *testing.T) {
	orders := []Order{
		makeOrder(0x0A, Long, 110, 50),
		makeOrder(0x0B, Short, 100, 80),
	}

	res := Match(orders, testNow)

	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	m := res.Matches[0]
	if m.MatchedSize != 50 {
		t.Errorf("matched size = %d, want 50", m.MatchedSize)
	}
	if m.ExecutionPrice != 105 {
		t.Errorf("execution price = %d, want 105", m.ExecutionPrice)
	}
	if res.TotalVolume != 50 {
		t.Errorf("total volume = %d, want 50", res.TotalVolume)
	}
	if res.AveragePrice != 105 {
		t.Errorf("average price = %d, want 105", res.AveragePrice)
	}
	if res.Timestamp != testNow {
		t.Errorf("timestamp = %d, want %d", res.Timestamp, testNow)
	}
}

func TestMatchMidpointFloors(t *testing.T) {
	orders := []Order{
		makeOrder(0x01, Long, 111, 10),
		makeOrder(0x02, Short, 100, 10),
	}

	res := Match(orders, testNow)
	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	// (111 + 100) / 2 = 105 after floor division.
	if got := res.Matches[0].ExecutionPrice; got != 105 {
		t.Errorf("execution price = %d, want 105", got)
	}
}

func TestMatchEmptyBatch(t *testing.T) {
	res := Match(nil, testNow)

	if len(res.Matches) != 0 {
		t.Errorf("matches = %d, want 0", len(res.Matches))
	}
	if res.TotalVolume != 0 {
		t.Errorf("total volume = %d, want 0", res.TotalVolume)
	}
	if res.AveragePrice != 0 {
		t.Errorf("average price = %d, want 0 for empty batch", res.AveragePrice)
	}
}

// TestMatchVolumeWeightedAverage checks averagePrice = totalValue/totalVolume
// across matches at different prices.
func TestMatchVolumeWeightedAverage(t *testing.T) {
	orders := []Order{
		makeOrder(0x01, Long, 110, 50),  // matches 0x02 at 105
		makeOrder(0x02, Short, 100, 50), //
		makeOrder(0x03, Long, 210, 150), // matches 0x02 at 155 and 0x04 at 205
		makeOrder(0x04, Short, 200, 150),
	}

	res := Match(orders, testNow)

	// Pairs: (1,2)@105x50, (2,3)@155x50, (3,4)@205x150.
	if len(res.Matches) != 3 {
		t.Fatalf("matches = %d, want 3", len(res.Matches))
	}

	var wantValue, wantVolume uint64
	for _, m := range res.Matches {
		wantValue += m.MatchedSize * m.ExecutionPrice
		wantVolume += m.MatchedSize
	}
	if res.TotalVolume != wantVolume {
		t.Errorf("total volume = %d, want %d", res.TotalVolume, wantVolume)
	}
	if res.AveragePrice != wantValue/wantVolume {
		t.Errorf("average price = %d, want %d", res.AveragePrice, wantValue/wantVolume)
	}
}

// TestMatchOrderReuse documents the preserved policy: an order is not
// consumed by a match and can pair with several counterparties.
func TestMatchOrderReuse(t *testing.T) {
	orders := []Order{
		makeOrder(0x01, Long, 110, 50),
		makeOrder(0x02, Short, 100, 80),
		makeOrder(0x03, Short, 100, 30),
	}

	res := Match(orders, testNow)

	if len(res.Matches) != 2 {
		t.Fatalf("matches = %d, want 2", len(res.Matches))
	}
	if res.TotalVolume != 80 { // 50 + 30, exceeding nothing here but both against 0x01
		t.Errorf("total volume = %d, want 80", res.TotalVolume)
	}
}

func TestBatchProcessFiltersDegenerateOrders(t *testing.T) {
	degenerateSize := makeOrder(0x01, Long, 110, 0)
	degenerateCollateral := makeOrder(0x02, Long, 110, 50)
	degenerateCollateral.CollateralAmount = 0

	orders := []Order{
		degenerateSize,
		degenerateCollateral,
		makeOrder(0x03, Long, 110, 50),
		makeOrder(0x04, Short, 100, 80),
	}

	res := BatchProcess(orders, testNow)

	if len(res.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(res.Matches))
	}
	if got := res.Matches[0].OrderA.Owner; got != testID(0x03) {
		t.Errorf("surviving long = %s, want %s", got, testID(0x03))
	}
}

func TestOrderBookRemoveByNonce(t *testing.T) {
	book := NewOrderBook()
	a := makeOrder(0x01, Long, 110, 50)
	b := makeOrder(0x02, Short, 100, 80)
	book.Add(a)
	book.Add(b)

	if book.Len() != 2 {
		t.Fatalf("len = %d, want 2", book.Len())
	}
	if book.LastUpdate() != b.Timestamp {
		t.Errorf("last update = %d, want %d", book.LastUpdate(), b.Timestamp)
	}

	if !book.Remove(a.Owner, a.Nonce) {
		t.Error("remove of resting order failed")
	}
	if book.Remove(a.Owner, a.Nonce) {
		t.Error("second remove of same order succeeded")
	}
	if book.Len() != 1 {
		t.Errorf("len = %d, want 1", book.Len())
	}

	drained := book.Drain()
	if len(drained) != 1 || drained[0].Owner != b.Owner {
		t.Errorf("drain returned wrong orders: %v", drained)
	}
	if book.Len() != 0 {
		t.Errorf("len after drain = %d, want 0", book.Len())
	}
}
