package types

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncJobStateTerminal(t *testing.T) {
	assert.False(t, JobQueued.Terminal())
	assert.False(t, JobProcessing.Terminal())
	assert.True(t, JobCompleted.Terminal())
	assert.True(t, JobFailed.Terminal())
}

func TestWalletFilterResultTouched(t *testing.T) {
	var empty WalletFilterResult
	assert.False(t, empty.Touched())

	withInput := WalletFilterResult{
		WalletInputs: []FilteredInput{{IsWalletInput: true}},
	}
	assert.True(t, withInput.Touched())

	withOutput := WalletFilterResult{
		WalletOutputs: []FilteredOutput{{IsWalletOutput: true}},
	}
	assert.True(t, withOutput.Touched())
}

func TestWalletAssetFlowJSON(t *testing.T) {
	t.Run("quantity beyond 2^53 survives the wire", func(t *testing.T) {
		qty, ok := new(big.Int).SetString("45000000000000000001", 10)
		require.True(t, ok)

		flow := WalletAssetFlow{
			Unit:        "policy00aa484f534b59",
			NetQuantity: qty,
			Direction:   DirectionIn,
		}

		data, err := json.Marshal(flow)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"netQuantity":"45000000000000000001"`)

		var decoded WalletAssetFlow
		require.NoError(t, json.Unmarshal(data, &decoded))
		assert.Zero(t, qty.Cmp(decoded.NetQuantity))
		assert.Equal(t, flow.Unit, decoded.Unit)
		assert.Equal(t, DirectionIn, decoded.Direction)
	})

	t.Run("nil quantity marshals as zero", func(t *testing.T) {
		data, err := json.Marshal(WalletAssetFlow{Unit: LovelaceUnit, Direction: DirectionNeutral})
		require.NoError(t, err)
		assert.Contains(t, string(data), `"netQuantity":"0"`)
	})

	t.Run("token metadata travels with the flow", func(t *testing.T) {
		flow := WalletAssetFlow{
			Unit:        "policy00aa484f534b59",
			NetQuantity: big.NewInt(-3),
			Direction:   DirectionOut,
			Token: &TokenInfo{
				Unit:        "policy00aa484f534b59",
				PolicyID:    "policy00aa",
				AssetName:   "484f534b59",
				DisplayName: "HOSKY",
			},
		}

		data, err := json.Marshal(flow)
		require.NoError(t, err)

		var decoded WalletAssetFlow
		require.NoError(t, json.Unmarshal(data, &decoded))
		require.NotNil(t, decoded.Token)
		assert.Equal(t, "HOSKY", decoded.Token.DisplayName)
	})
}
