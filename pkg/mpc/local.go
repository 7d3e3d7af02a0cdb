package mpc

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
	"github.com/mangekyou-labs/darkpool/pkg/util"
)

// LocalEngine runs the circuits in-process: a one-member "cluster" for
// single-node deployments and tests. Output envelopes are still signed
// so callers exercise the same verification path as the remote client.
type LocalEngine struct {
	members []*crypto.BLSSigner
	clock   util.Clock
	log     *zap.Logger
}

func NewLocalEngine(members []*crypto.BLSSigner, clock util.Clock, log *zap.Logger) *LocalEngine {
	return &LocalEngine{members: members, clock: clock, log: log}
}

// Pubkeys exposes the member keys for wiring a Verifier.
func (e *LocalEngine) Pubkeys() []*crypto.BLSPubKey {
	pks := make([]*crypto.BLSPubKey, len(e.members))
	for i, m := range e.members {
		pks[i] = m.Pubkey()
	}
	return pks
}

func (e *LocalEngine) Submit(ctx context.Context, circuit CircuitID, inputs []byte) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	payload, err := runCircuit(circuit, inputs)
	if err != nil {
		e.log.Warn("circuit failed", zap.String("circuit", string(circuit)), zap.Error(err))
		return Output{}, fmt.Errorf("%w: %v", ErrComputationAborted, err)
	}

	out := Output{
		Circuit:   circuit,
		ID:        ComputeID(circuit, inputs),
		Payload:   payload,
		Timestamp: e.clock.Now().Unix(),
	}
	out.AggSig = signEnvelope(e.members, &out)
	return out, nil
}

// signEnvelope collects one BLS share per member over the envelope
// digest and aggregates them.
func signEnvelope(members []*crypto.BLSSigner, out *Output) []byte {
	digest := out.Digest()
	shares := make([][]byte, 0, len(members))
	for _, m := range members {
		shares = append(shares, m.Sign(digest))
	}
	return crypto.BLSAggregate(shares)
}

// runCircuit dispatches to the confidential order logic. Only the
// encoded result leaves this function; intermediate state never does.
func runCircuit(circuit CircuitID, inputs []byte) ([]byte, error) {
	switch circuit {
	case CircuitSubmitOrder:
		var order darkpool.Order
		if err := gobDecode(inputs, &order); err != nil {
			return nil, fmt.Errorf("decode order: %w", err)
		}
		return gobEncode(darkpool.Validate(order))

	case CircuitMatchOrders:
		var in ordersInput
		if err := gobDecode(inputs, &in); err != nil {
			return nil, fmt.Errorf("decode orders: %w", err)
		}
		return gobEncode(darkpool.Match(in.Orders, in.Now))

	case CircuitBatchProcess:
		var in ordersInput
		if err := gobDecode(inputs, &in); err != nil {
			return nil, fmt.Errorf("decode orders: %w", err)
		}
		return gobEncode(darkpool.BatchProcess(in.Orders, in.Now))

	default:
		return nil, fmt.Errorf("unknown circuit %q", circuit)
	}
}

// Verifier checks output envelopes against the cluster's member keys.
// The aggregate must cover every member: a subset cannot forge it.
type Verifier struct {
	pks []*crypto.BLSPubKey
}

func NewVerifier(pks []*crypto.BLSPubKey) *Verifier {
	return &Verifier{pks: pks}
}

func (v *Verifier) Verify(out *Output) bool {
	if len(v.pks) == 0 {
		return false
	}
	return crypto.BLSVerifyAggregate(v.pks, out.Digest(), out.AggSig)
}
