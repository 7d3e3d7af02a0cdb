package mpc

import (
	"context"
	"errors"
)

// CircuitID names one confidential computation. Inputs and outputs of a
// circuit are opaque to everything outside this package's codec.
type CircuitID string

const (
	// CircuitSubmitOrder validates a single order; the output is a bool.
	CircuitSubmitOrder CircuitID = "submit_dark_order"
	// CircuitMatchOrders runs one matching round over a batch of orders;
	// the output is a MatchResult.
	CircuitMatchOrders CircuitID = "match_dark_orders"
	// CircuitBatchProcess filters a raw batch into a working set and then
	// matches it; the output is a MatchResult.
	CircuitBatchProcess CircuitID = "batch_process_orders"
)

// ErrComputationAborted means the cluster reported anything other than
// success. The payload, if any, is never interpreted.
var ErrComputationAborted = errors.New("computation aborted")

// ComputationID ties an output envelope back to the submission it
// answers. Derived from the circuit id and input bytes.
type ComputationID [32]byte

// Output is a signed envelope from the execution cluster. Payload is
// circuit-specific; AggSig is a BLS aggregate over Digest() from a
// quorum of cluster members.
type Output struct {
	Circuit   CircuitID     `json:"circuit"`
	ID        ComputationID `json:"id"`
	Payload   []byte        `json:"payload"`
	Timestamp int64         `json:"timestamp"`
	AggSig    []byte        `json:"aggSig"`
}

// Engine is the capability boundary to confidential execution: submit a
// circuit with encoded inputs, suspend until a verified output envelope
// or a failure comes back.
type Engine interface {
	Submit(ctx context.Context, circuit CircuitID, inputs []byte) (Output, error)
}
