package crypto

import (
	bls "github.com/cloudflare/circl/sign/bls"
)

// BLS signatures authenticate output envelopes from the confidential
// execution cluster: each member signs the envelope payload, and the
// bridge verifies an aggregate over a quorum of member keys.

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a cluster member key from a seed.
// Deterministic; used for dev clusters and tests.
func NewBLSSignerFromSeed(seed []byte) *BLSSigner {
	sk, _ := bls.KeyGen[scheme](seed, nil, nil)
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func BLSVerify(pk *BLSPubKey, sigBytes, msg []byte) bool {
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}

// BLSAggregate combines member signatures over the same payload.
func BLSAggregate(sigBytesList [][]byte) []byte {
	sigs := make([]bls.Signature, 0, len(sigBytesList))
	for _, sb := range sigBytesList {
		if len(sb) == 0 {
			continue
		}
		sigs = append(sigs, bls.Signature(sb))
	}
	agg, err := bls.Aggregate(bls.G1{}, sigs)
	if err != nil {
		return nil
	}
	return agg
}

// BLSVerifyAggregate checks an aggregate signature where every member
// signed the same payload.
func BLSVerifyAggregate(pks []*BLSPubKey, msg []byte, aggSig []byte) bool {
	if len(pks) == 0 || len(aggSig) == 0 {
		return false
	}
	return bls.VerifyAggregate(pks, [][]byte{msg}, bls.Signature(aggSig))
}
