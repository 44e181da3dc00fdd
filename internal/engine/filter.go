// Package engine implements the wallet-centric transaction parsing
// pipeline: ownership filtering, asset flow accounting, rule-based
// categorization, and record assembly. Everything in this package is
// pure, synchronous, CPU-bound logic safe for concurrent use across
// wallets and batches.
package engine

import (
	"github.com/cardano-wallet-scanner/internal/types"
)

// IsWalletInput reports whether the input belongs to the wallet.
// Matching is exact string equality against the wallet's canonical
// address form; the caller normalizes addresses before invocation.
func IsWalletInput(input *types.TxInput, walletAddress string) bool {
	return input.Address == walletAddress
}

// IsWalletOutput reports whether the output belongs to the wallet.
func IsWalletOutput(output *types.TxOutput, walletAddress string) bool {
	return output.Address == walletAddress
}

// FilterForWallet classifies each input and output of a transaction as
// wallet-owned or not and returns the wallet-owned subset. A transaction
// touching neither side yields a result with Touched() == false and must
// be excluded upstream. The raw transaction is never mutated.
func FilterForWallet(tx *types.RawTransaction, walletAddress string) *types.WalletFilterResult {
	result := &types.WalletFilterResult{}

	for i := range tx.Inputs {
		if IsWalletInput(&tx.Inputs[i], walletAddress) {
			result.WalletInputs = append(result.WalletInputs, types.FilteredInput{
				Input:         tx.Inputs[i],
				IsWalletInput: true,
			})
		}
	}

	for i := range tx.Outputs {
		if IsWalletOutput(&tx.Outputs[i], walletAddress) {
			result.WalletOutputs = append(result.WalletOutputs, types.FilteredOutput{
				Output:         tx.Outputs[i],
				IsWalletOutput: true,
			})
		}
	}

	return result
}
