package darkpool

// OrderBook accumulates accepted orders between matching rounds.
// Orders are kept in admission order; removal is by (owner, nonce) so a
// trader can cancel before the batch runs.
type OrderBook struct {
	orders     []Order
	lastUpdate uint64
}

func NewOrderBook() *OrderBook {
	return &OrderBook{}
}

func (b *OrderBook) Add(o Order) {
	b.orders = append(b.orders, o)
	b.lastUpdate = o.Timestamp
}

// Remove drops the order with the given owner and nonce.
// Returns false if no such order is resting.
func (b *OrderBook) Remove(owner Identity, nonce uint64) bool {
	for i, o := range b.orders {
		if o.Owner == owner && o.Nonce == nonce {
			b.orders = append(b.orders[:i], b.orders[i+1:]...)
			return true
		}
	}
	return false
}

func (b *OrderBook) Len() int { return len(b.orders) }

func (b *OrderBook) LastUpdate() uint64 { return b.lastUpdate }

// Orders returns a copy of the resting orders in admission order.
func (b *OrderBook) Orders() []Order {
	out := make([]Order, len(b.orders))
	copy(out, b.orders)
	return out
}

// Drain returns the resting orders and empties the book. Used when a
// matching round consumes the accumulated batch.
func (b *OrderBook) Drain() []Order {
	out := b.orders
	b.orders = nil
	return out
}
