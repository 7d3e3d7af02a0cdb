package ledger

// EventType tags entries in the append-only settlement event log.
type EventType string

const (
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderValidated EventType = "order_validated"
	EventOrdersMatched  EventType = "orders_matched"
	EventTradeQueued    EventType = "trade_queued"
	EventTradeSettled   EventType = "trade_settled"
)

// Event is one entry in the event log, consumed by external indexers
// through the websocket hub and the recent-events query.
type Event struct {
	Seq  uint64                 `json:"seq"`
	Type EventType              `json:"type"`
	Time int64                  `json:"time"`
	Data map[string]interface{} `json:"data"`
}
