package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/types"
)

const (
	walletAddr = "addr1qxwalletxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxtest"
	otherAddr  = "addr1qyotherxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxxtest"
)

func ada(lovelace string) []types.AssetAmount {
	return []types.AssetAmount{{Unit: types.LovelaceUnit, Quantity: lovelace}}
}

func TestFilterForWallet(t *testing.T) {
	t.Run("splits wallet-owned entries from the rest", func(t *testing.T) {
		tx := &types.RawTransaction{
			Hash: "tx1",
			Inputs: []types.TxInput{
				{Address: walletAddr, Amounts: ada("5000000")},
				{Address: otherAddr, Amounts: ada("3000000")},
			},
			Outputs: []types.TxOutput{
				{Address: otherAddr, Amounts: ada("7800000")},
				{Address: walletAddr, Amounts: ada("100000")},
			},
		}

		result := FilterForWallet(tx, walletAddr)
		require.True(t, result.Touched())
		require.Len(t, result.WalletInputs, 1)
		require.Len(t, result.WalletOutputs, 1)
		assert.Equal(t, walletAddr, result.WalletInputs[0].Input.Address)
		assert.True(t, result.WalletInputs[0].IsWalletInput)
		assert.Equal(t, walletAddr, result.WalletOutputs[0].Output.Address)
		assert.True(t, result.WalletOutputs[0].IsWalletOutput)
	})

	t.Run("empty result when wallet not involved", func(t *testing.T) {
		tx := &types.RawTransaction{
			Hash:    "tx2",
			Inputs:  []types.TxInput{{Address: otherAddr, Amounts: ada("1000000")}},
			Outputs: []types.TxOutput{{Address: otherAddr, Amounts: ada("800000")}},
		}

		result := FilterForWallet(tx, walletAddr)
		assert.False(t, result.Touched())
		assert.Empty(t, result.WalletInputs)
		assert.Empty(t, result.WalletOutputs)
	})

	t.Run("matching is exact string equality, no normalization", func(t *testing.T) {
		upper := "ADDR1QXWALLET"
		tx := &types.RawTransaction{
			Hash:    "tx3",
			Outputs: []types.TxOutput{{Address: upper, Amounts: ada("1000000")}},
		}

		assert.False(t, FilterForWallet(tx, "addr1qxwallet").Touched())
		assert.True(t, FilterForWallet(tx, upper).Touched())
	})

	t.Run("does not mutate the raw transaction", func(t *testing.T) {
		tx := &types.RawTransaction{
			Hash:   "tx4",
			Inputs: []types.TxInput{{Address: walletAddr, Amounts: ada("5000000")}},
		}
		FilterForWallet(tx, walletAddr)
		assert.Equal(t, "5000000", tx.Inputs[0].Amounts[0].Quantity)
		assert.Len(t, tx.Inputs, 1)
	})
}

func TestIsWalletInputOutput(t *testing.T) {
	in := &types.TxInput{Address: walletAddr}
	out := &types.TxOutput{Address: otherAddr}

	assert.True(t, IsWalletInput(in, walletAddr))
	assert.False(t, IsWalletInput(in, otherAddr))
	assert.False(t, IsWalletOutput(out, walletAddr))
	assert.True(t, IsWalletOutput(out, otherAddr))
}
