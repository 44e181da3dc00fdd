package engine

import (
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/types"
)

func inFlow(unit string, qty int64) types.WalletAssetFlow {
	return types.WalletAssetFlow{Unit: unit, NetQuantity: big.NewInt(qty), Direction: types.DirectionIn}
}

func outFlow(unit string, qty int64) types.WalletAssetFlow {
	return types.WalletAssetFlow{Unit: unit, NetQuantity: big.NewInt(-qty), Direction: types.DirectionOut}
}

func TestCategorizeDefaultRules(t *testing.T) {
	c := NewDefaultCategorizer()

	t.Run("pure inflow is receive with no protocol", func(t *testing.T) {
		tx := &types.RawTransaction{Hash: "tx"}
		flows := []types.WalletAssetFlow{inFlow(types.LovelaceUnit, 100000000)}

		action, protocol := c.Evaluate(tx, flows)
		assert.Equal(t, types.ActionReceive, action)
		assert.Nil(t, protocol)
	})

	t.Run("pure outflow matches the simple-send rule", func(t *testing.T) {
		// The 2 ADA fee + 10 token X outflow scenario: every flow is an
		// outflow, no mint record, so the simple-send rule wins.
		tx := &types.RawTransaction{Hash: "tx"}
		flows := []types.WalletAssetFlow{
			outFlow(types.LovelaceUnit, 2000000),
			outFlow(tokenUnitX, 10),
		}

		assert.Equal(t, types.ActionSend, c.Categorize(tx, flows))
		assert.Nil(t, c.DetectProtocol(tx, flows))
	})

	t.Run("delegation certificate beats flow-based rules", func(t *testing.T) {
		pool := "pool1abc"
		tx := &types.RawTransaction{
			Hash:         "tx",
			Certificates: []types.Certificate{{Type: types.CertStakeDelegation, PoolID: &pool}},
		}
		flows := []types.WalletAssetFlow{outFlow(types.LovelaceUnit, 2174000)}

		action, protocol := c.Evaluate(tx, flows)
		assert.Equal(t, types.ActionStakeDelegate, action)
		require.NotNil(t, protocol)
		assert.Equal(t, types.ProtocolNativeStaking, *protocol)
	})

	t.Run("withdrawal rule", func(t *testing.T) {
		tx := &types.RawTransaction{
			Hash:        "tx",
			Withdrawals: []types.Withdrawal{{RewardAddress: "stake1xyz", Amount: "5000000"}},
		}
		flows := []types.WalletAssetFlow{inFlow(types.LovelaceUnit, 4800000)}

		assert.Equal(t, types.ActionStakeWithdraw, c.Categorize(tx, flows))
	})

	t.Run("mint and burn follow the mint field sign", func(t *testing.T) {
		mintTx := &types.RawTransaction{
			Hash: "tx",
			Mint: []types.MintRecord{{Unit: tokenUnitX, Quantity: "500"}},
		}
		mintFlows := []types.WalletAssetFlow{
			outFlow(types.LovelaceUnit, 2000000),
			inFlow(tokenUnitX, 500),
		}
		assert.Equal(t, types.ActionMint, c.Categorize(mintTx, mintFlows))

		burnTx := &types.RawTransaction{
			Hash: "tx",
			Mint: []types.MintRecord{{Unit: tokenUnitX, Quantity: "-500"}},
		}
		burnFlows := []types.WalletAssetFlow{outFlow(tokenUnitX, 500)}
		assert.Equal(t, types.ActionBurn, c.Categorize(burnTx, burnFlows))
	})

	t.Run("bidirectional flows through a known DEX are a labeled swap", func(t *testing.T) {
		var minswapAddr string
		for addr, p := range dexAddresses {
			if p == types.ProtocolMinswap {
				minswapAddr = addr
				break
			}
		}
		require.NotEmpty(t, minswapAddr)

		tx := &types.RawTransaction{
			Hash:    "tx",
			Outputs: []types.TxOutput{{Address: minswapAddr, Amounts: ada("10000000")}},
		}
		flows := []types.WalletAssetFlow{
			outFlow(types.LovelaceUnit, 10000000),
			inFlow(tokenUnitX, 250),
		}

		action, protocol := c.Evaluate(tx, flows)
		assert.Equal(t, types.ActionSwap, action)
		require.NotNil(t, protocol)
		assert.Equal(t, types.ProtocolMinswap, *protocol)
	})

	t.Run("bidirectional flows without a known DEX are an unlabeled swap", func(t *testing.T) {
		tx := &types.RawTransaction{Hash: "tx"}
		flows := []types.WalletAssetFlow{
			outFlow(types.LovelaceUnit, 10000000),
			inFlow(tokenUnitX, 250),
		}

		action, protocol := c.Evaluate(tx, flows)
		assert.Equal(t, types.ActionSwap, action)
		assert.Nil(t, protocol)
	})

	t.Run("no match falls back to unknown", func(t *testing.T) {
		tx := &types.RawTransaction{Hash: "tx"}

		action, protocol := c.Evaluate(tx, nil)
		assert.Equal(t, types.ActionUnknown, action)
		assert.Nil(t, protocol)
	})
}

func TestCategorizerTieBreak(t *testing.T) {
	always := func(*types.RawTransaction, []types.WalletAssetFlow) bool { return true }
	actionOf := func(a types.TransactionAction) func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
		return func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction { return a }
	}

	t.Run("equal priorities keep registration order", func(t *testing.T) {
		c := NewCategorizer([]Rule{
			{Name: "first", Priority: 5, Matches: always, Action: actionOf(types.ActionSend)},
			{Name: "second", Priority: 5, Matches: always, Action: actionOf(types.ActionReceive)},
		})

		assert.Equal(t, types.ActionSend, c.Categorize(&types.RawTransaction{Hash: "tx"}, nil))
	})

	t.Run("lower priority wins regardless of registration order", func(t *testing.T) {
		c := NewCategorizer([]Rule{
			{Name: "late", Priority: 9, Matches: always, Action: actionOf(types.ActionSend)},
			{Name: "early", Priority: 1, Matches: always, Action: actionOf(types.ActionReceive)},
		})

		assert.Equal(t, types.ActionReceive, c.Categorize(&types.RawTransaction{Hash: "tx"}, nil))
	})
}

func TestCategorizeDeterministicUnderConcurrency(t *testing.T) {
	c := NewDefaultCategorizer()
	tx := &types.RawTransaction{Hash: "tx"}
	flows := []types.WalletAssetFlow{
		outFlow(types.LovelaceUnit, 1000000),
		inFlow(tokenUnitX, 42),
	}

	expected := c.Categorize(tx, flows)

	var wg sync.WaitGroup
	results := make([]types.TransactionAction, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = c.Categorize(tx, flows)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, expected, got)
	}
}
