package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	privHex := signer.PrivateKeyHex()
	if len(privHex) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(privHex))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	signer2, err := FromPrivateKeyHex(privHex)
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if signer2.Address() != signer1.Address() {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
	}

	if _, err := FromPrivateKeyHex("not-a-key"); err == nil {
		t.Error("expected error for garbage key")
	}
}

func TestSignAndVerify(t *testing.T) {
	signer, _ := GenerateKey()

	message := []byte("darkpool trade payload")
	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != SignatureLen {
		t.Errorf("signature length = %d, want %d", len(signature), SignatureLen)
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature verified against wrong address")
	}

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("recover failed: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}
}

func TestIsZeroSignature(t *testing.T) {
	if !IsZeroSignature(nil) {
		t.Error("nil not treated as zero signature")
	}
	if !IsZeroSignature(make([]byte, SignatureLen)) {
		t.Error("all-zero 65 bytes not treated as zero signature")
	}

	sig := make([]byte, SignatureLen)
	sig[10] = 1
	if IsZeroSignature(sig) {
		t.Error("non-zero signature treated as zero")
	}
}

func TestBLSSignAggregateVerify(t *testing.T) {
	members := []*BLSSigner{
		NewBLSSignerFromSeed([]byte("cluster-member-seed-000000000001")),
		NewBLSSignerFromSeed([]byte("cluster-member-seed-000000000002")),
		NewBLSSignerFromSeed([]byte("cluster-member-seed-000000000003")),
	}

	payload := []byte("match result payload")

	var sigs [][]byte
	var pks []*BLSPubKey
	for _, m := range members {
		sig := m.Sign(payload)
		if !BLSVerify(m.Pubkey(), sig, payload) {
			t.Fatal("individual signature did not verify")
		}
		sigs = append(sigs, sig)
		pks = append(pks, m.Pubkey())
	}

	agg := BLSAggregate(sigs)
	if agg == nil {
		t.Fatal("aggregate returned nil")
	}
	if !BLSVerifyAggregate(pks, payload, agg) {
		t.Error("aggregate signature did not verify")
	}
	if BLSVerifyAggregate(pks, []byte("different payload"), agg) {
		t.Error("aggregate verified against wrong payload")
	}
}
