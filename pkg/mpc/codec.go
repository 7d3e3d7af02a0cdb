package mpc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
)

// Circuit inputs and outputs travel as gob. Envelope digests and
// computation ids use SHA3-256 so they are stable across processes.

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// ComputeID derives the computation id for a submission.
func ComputeID(circuit CircuitID, inputs []byte) ComputationID {
	h := sha3.New256()
	h.Write([]byte(circuit))
	h.Write(inputs)
	var id ComputationID
	copy(id[:], h.Sum(nil))
	return id
}

// Digest is what cluster members sign: every envelope field except the
// signature itself.
func (o *Output) Digest() []byte {
	h := sha3.New256()
	h.Write([]byte(o.Circuit))
	h.Write(o.ID[:])
	h.Write(o.Payload)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(o.Timestamp))
	h.Write(ts[:])
	return h.Sum(nil)
}

// EncodeOrder / EncodeOrders build circuit inputs.

func EncodeOrder(o darkpool.Order) ([]byte, error) {
	return gobEncode(o)
}

func EncodeOrders(orders []darkpool.Order, now uint64) ([]byte, error) {
	return gobEncode(ordersInput{Orders: orders, Now: now})
}

type ordersInput struct {
	Orders []darkpool.Order
	Now    uint64
}

// DecodeBool interprets a submit_dark_order payload.
func DecodeBool(payload []byte) (bool, error) {
	var v bool
	if err := gobDecode(payload, &v); err != nil {
		return false, fmt.Errorf("decode bool payload: %w", err)
	}
	return v, nil
}

// DecodeMatchResult interprets a matching-circuit payload.
func DecodeMatchResult(payload []byte) (darkpool.MatchResult, error) {
	var r darkpool.MatchResult
	if err := gobDecode(payload, &r); err != nil {
		return darkpool.MatchResult{}, fmt.Errorf("decode match result payload: %w", err)
	}
	return r, nil
}
