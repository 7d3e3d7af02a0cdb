package settle

import (
	"encoding/binary"
	"fmt"

	eth_crypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// TradeData is the plaintext settlement record produced once per match
// when it crosses out of the confidential boundary. It is transient:
// built, admitted, settled, discarded. The Signature is the matching
// authority's 65-byte proof over Digest().
type TradeData struct {
	TraderA darkpool.Identity `json:"traderA"`
	TraderB darkpool.Identity `json:"traderB"`
	SideA   darkpool.Side     `json:"sideA"`
	SideB   darkpool.Side     `json:"sideB"`

	SizeUSD uint64 `json:"sizeUsd"`
	Price   uint64 `json:"price"`

	Pool              darkpool.Identity `json:"pool"`
	Custody           darkpool.Identity `json:"custody"`
	CollateralCustody darkpool.Identity `json:"collateralCustody"`

	Timestamp uint64            `json:"timestamp"`
	Darkpool  darkpool.Identity `json:"darkpool"` // originating pool instance

	Signature []byte `json:"signature"`
}

// encode produces the canonical byte layout the proof commits to.
// Fixed-width big-endian fields, no length prefixes; any field change
// breaks existing signatures on purpose.
func (t *TradeData) encode() []byte {
	buf := make([]byte, 0, 32*6+2+8*3)
	buf = append(buf, t.TraderA[:]...)
	buf = append(buf, t.TraderB[:]...)
	buf = append(buf, byte(t.SideA), byte(t.SideB))
	buf = binary.BigEndian.AppendUint64(buf, t.SizeUSD)
	buf = binary.BigEndian.AppendUint64(buf, t.Price)
	buf = append(buf, t.Pool[:]...)
	buf = append(buf, t.Custody[:]...)
	buf = append(buf, t.CollateralCustody[:]...)
	buf = binary.BigEndian.AppendUint64(buf, t.Timestamp)
	buf = append(buf, t.Darkpool[:]...)
	return buf
}

// Digest returns the Keccak256 hash the authority signs.
func (t *TradeData) Digest() []byte {
	return eth_crypto.Keccak256(t.encode())
}

// Sign attaches the authority proof to the trade.
func (t *TradeData) Sign(signer *crypto.Signer) error {
	sig, err := signer.Sign(t.Digest())
	if err != nil {
		return fmt.Errorf("sign trade: %w", err)
	}
	t.Signature = sig
	return nil
}

// TradeFromMatch lifts one OrderMatch into a settlement record for the
// given pool instance. The caller signs it afterwards.
func TradeFromMatch(m darkpool.OrderMatch, origin darkpool.Identity) TradeData {
	return TradeData{
		TraderA:           m.OrderA.Owner,
		TraderB:           m.OrderB.Owner,
		SideA:             m.OrderA.Side,
		SideB:             m.OrderB.Side,
		SizeUSD:           m.MatchedSize,
		Price:             m.ExecutionPrice,
		Pool:              m.OrderA.Pool,
		Custody:           m.OrderA.Custody,
		CollateralCustody: m.OrderA.CollateralCustody,
		Timestamp:         m.Timestamp,
		Darkpool:          origin,
	}
}
