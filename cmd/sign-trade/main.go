package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mangekyou-labs/darkpool/pkg/crypto"
	"github.com/mangekyou-labs/darkpool/pkg/darkpool"
	"github.com/mangekyou-labs/darkpool/pkg/settle"
)

// Walkthrough tool: generate an authority key, build a trade record,
// sign it, and verify the proof round-trips.
func main() {
	fmt.Println("Generating authority keypair...")
	signer, err := crypto.GenerateKey()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Address: %s\n", signer.Address().Hex())
	fmt.Printf("Private Key: %s (KEEP SECRET!)\n\n", signer.PrivateKeyHex())

	var traderA, traderB, pool, custody, collateral, origin darkpool.Identity
	traderA[0], traderB[0] = 0x0A, 0x0B
	pool[0], custody[0], collateral[0] = 0x50, 0x51, 0x52
	copy(origin[:], signer.Address().Bytes())

	trade := settle.TradeData{
		TraderA:           traderA,
		TraderB:           traderB,
		SideA:             darkpool.Long,
		SideB:             darkpool.Short,
		SizeUSD:           1_000_000_000, // $1000
		Price:             105_000_000,   // $105
		Pool:              pool,
		Custody:           custody,
		CollateralCustody: collateral,
		Timestamp:         uint64(time.Now().Unix()),
		Darkpool:          origin,
	}

	fmt.Println("Trade Details:")
	fmt.Printf("  TraderA: %s (%s)\n", trade.TraderA, trade.SideA)
	fmt.Printf("  TraderB: %s (%s)\n", trade.TraderB, trade.SideB)
	fmt.Printf("  Size: %d\n", trade.SizeUSD)
	fmt.Printf("  Price: %d\n\n", trade.Price)

	if err := trade.Sign(signer); err != nil {
		fmt.Printf("Error signing: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Signature: 0x%x\n\n", trade.Signature)

	tradeJSON, err := json.MarshalIndent(trade, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling JSON: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("Signed Trade (JSON):")
	fmt.Println(string(tradeJSON))
	fmt.Println()

	fmt.Println("Verifying signature...")
	if !crypto.VerifySignature(signer.Address(), trade.Digest(), trade.Signature) {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	recovered, err := crypto.RecoverAddress(trade.Digest(), trade.Signature)
	if err != nil {
		fmt.Printf("Error recovering: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Signer: %s\n", recovered.Hex())
	fmt.Printf("  Matches authority: %v\n", recovered == signer.Address())
}
