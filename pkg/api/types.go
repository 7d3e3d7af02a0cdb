package api

import "github.com/mangekyou-labs/darkpool/pkg/darkpool"

// SubmitOrderRequest is the POST /orders body.
type SubmitOrderRequest struct {
	Order darkpool.Order `json:"order"`
}

type SubmitOrderResponse struct {
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

type CancelOrderRequest struct {
	Owner string `json:"owner"`
	Nonce uint64 `json:"nonce"`
}

// PositionInfo is one open position with derived metrics.
type PositionInfo struct {
	Pool              string `json:"pool"`
	Custody           string `json:"custody"`
	CollateralCustody string `json:"collateralCustody"`
	Side              string `json:"side"`
	SizeUSD           uint64 `json:"sizeUsd"`
	EntryPrice        uint64 `json:"entryPrice"`
	MarkPrice         uint64 `json:"markPrice"`
	CollateralAmount  uint64 `json:"collateralAmount"`
	CollateralUSD     uint64 `json:"collateralUsd"`
	UnrealizedPnL     int64  `json:"unrealizedPnl"`
	LiquidationPrice  uint64 `json:"liquidationPrice"`
	OpenTime          int64  `json:"openTime"`
	UpdateTime        int64  `json:"updateTime"`
}

// StatsResponse mirrors the pool's lifetime counters.
type StatsResponse struct {
	TotalOrders      uint64 `json:"totalOrders"`
	TotalMatches     uint64 `json:"totalMatches"`
	TotalSettlements uint64 `json:"totalSettlements"`
	TotalVolume      uint64 `json:"totalVolume"`
	TotalFeesUSD     uint64 `json:"totalFeesUsd"`
	LastOrderTime    int64  `json:"lastOrderTime"`
	LastMatchTime    int64  `json:"lastMatchTime"`
	PendingOrders    int    `json:"pendingOrders"`
}

type BalanceResponse struct {
	Holder  string `json:"holder"`
	Custody string `json:"custody"`
	Balance uint64 `json:"balance"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is the client-side subscription message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// WSEvent wraps a ledger event for fan-out.
type WSEvent struct {
	Channel string      `json:"channel"`
	Data    interface{} `json:"data"`
}
