package darkpool

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strings"
)

// Identity is an opaque 32-byte identifier for traders, pools and
// custodians. It carries no chain semantics; equality and hex encoding
// are the only operations the bridge relies on.
type Identity [32]byte

var zeroIdentity Identity

// IdentityFromHex parses a 64-char hex string (with or without 0x prefix).
func IdentityFromHex(s string) (Identity, error) {
	s = strings.TrimPrefix(s, "0x")
	var id Identity
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("invalid identity hex: %w", err)
	}
	if len(b) != 32 {
		return id, fmt.Errorf("identity must be 32 bytes, got %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

func (id Identity) Hex() string       { return "0x" + hex.EncodeToString(id[:]) }
func (id Identity) String() string    { return id.Hex() }
func (id Identity) IsZero() bool      { return id == zeroIdentity }
func (id Identity) Bytes() []byte     { return id[:] }
func (id Identity) Less(o Identity) bool {
	return bytes.Compare(id[:], o[:]) < 0
}

// MarshalText / UnmarshalText let Identity round-trip through JSON maps.
func (id Identity) MarshalText() ([]byte, error) { return []byte(id.Hex()), nil }

func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := IdentityFromHex(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Side of an order or position.
type Side uint8

const (
	Long  Side = 0
	Short Side = 1
)

func (s Side) Valid() bool { return s == Long || s == Short }

func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

func (s Side) String() string {
	switch s {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "unknown"
	}
}

// Order is one trader's desired position. All USD values use 6 implied
// decimals (1_000_000 = $1.00). LimitPrice is the maximum acceptable
// price for longs and the minimum for shorts.
type Order struct {
	Owner             Identity `json:"owner"`
	Side              Side     `json:"side"`
	SizeUSD           uint64   `json:"sizeUsd"`
	CollateralAmount  uint64   `json:"collateralAmount"`
	LimitPrice        uint64   `json:"limitPrice"`
	Leverage          uint64   `json:"leverage"`
	Pool              Identity `json:"pool"`
	Custody           Identity `json:"custody"`
	CollateralCustody Identity `json:"collateralCustody"`
	Timestamp         uint64   `json:"timestamp"`
	Nonce             uint64   `json:"nonce"` // unique per owner; cancellation/dedup key
}

// OrderMatch pairs two opposing orders at one cleared price.
// Invariant: opposite sides, same pool and custody, compatible limits.
type OrderMatch struct {
	OrderA         Order  `json:"orderA"`
	OrderB         Order  `json:"orderB"`
	MatchedSize    uint64 `json:"matchedSize"`
	ExecutionPrice uint64 `json:"executionPrice"`
	Timestamp      uint64 `json:"timestamp"`
}

// MatchResult is the single typed output of one matching round.
// Constructed once per batch, immutable afterwards, and consumed exactly
// once by the settlement path.
type MatchResult struct {
	Matches      []OrderMatch `json:"matches"`
	TotalVolume  uint64       `json:"totalVolume"`
	AveragePrice uint64       `json:"averagePrice"`
	Timestamp    uint64       `json:"timestamp"`
}
