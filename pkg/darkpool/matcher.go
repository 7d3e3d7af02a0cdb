package darkpool

// Match runs one exhaustive pairwise scan over the batch and returns the
// cleared matches plus aggregate statistics. It is evaluated inside the
// confidential boundary; only the MatchResult leaves.
//
// Every unordered pair (i, j), i < j, is tested with canMatch. An order
// is not marked consumed when it matches, so it may appear in more than
// one match and clear more than its total size across the batch. That
// mirrors the deployed matching circuit.
func Match(orders []Order, now uint64) MatchResult {
	var (
		matches     []OrderMatch
		totalVolume uint64
		totalValue  uint64
	)

	for i := 0; i < len(orders); i++ {
		for j := i + 1; j < len(orders); j++ {
			a, b := orders[i], orders[j]
			if !canMatch(a, b) {
				continue
			}

			price := executionPrice(a, b)
			size := minU64(a.SizeUSD, b.SizeUSD)

			matches = append(matches, OrderMatch{
				OrderA:         a,
				OrderB:         b,
				MatchedSize:    size,
				ExecutionPrice: price,
				Timestamp:      now,
			})
			totalVolume += size
			totalValue += size * price
		}
	}

	averagePrice := uint64(0)
	if totalVolume > 0 {
		averagePrice = totalValue / totalVolume
	}

	return MatchResult{
		Matches:      matches,
		TotalVolume:  totalVolume,
		AveragePrice: averagePrice,
		Timestamp:    now,
	}
}

// canMatch reports whether two orders can clear against each other:
// opposite sides, same pool and custody, and the long party's cap at or
// above the short party's floor.
func canMatch(a, b Order) bool {
	if a.Side == b.Side {
		return false
	}
	if a.Pool != b.Pool || a.Custody != b.Custody {
		return false
	}

	if a.Side == Long {
		return a.LimitPrice >= b.LimitPrice
	}
	return b.LimitPrice >= a.LimitPrice
}

// executionPrice is the midpoint of the two limit prices, floor division.
// Both parties receive the same price.
func executionPrice(a, b Order) uint64 {
	return (a.LimitPrice + b.LimitPrice) / 2
}

// BatchProcess pre-filters the batch into an order-book working set
// (dropping orders with zero size or zero collateral) and runs the same
// matching routine over the survivors.
func BatchProcess(orders []Order, now uint64) MatchResult {
	book := NewOrderBook()
	for _, o := range orders {
		if o.SizeUSD > 0 && o.CollateralAmount > 0 {
			book.Add(o)
		}
	}
	return Match(book.Orders(), now)
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
