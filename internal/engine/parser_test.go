package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardano-wallet-scanner/internal/types"
)

type fakeResolver struct {
	infos map[string]*types.TokenInfo
	calls [][]string
	err   error
}

func (f *fakeResolver) BatchGetTokenInfo(_ context.Context, units []string) (map[string]*types.TokenInfo, error) {
	f.calls = append(f.calls, units)
	if f.err != nil {
		return nil, f.err
	}
	return f.infos, nil
}

func receiveTx(hash string) *types.RawTransaction {
	return &types.RawTransaction{
		Hash:        hash,
		BlockHeight: 9000000,
		BlockTime:   1700000000,
		Fee:         "180000",
		Inputs:      []types.TxInput{{Address: otherAddr, Amounts: ada("100180000")}},
		Outputs:     []types.TxOutput{{Address: walletAddr, Amounts: ada("100000000")}},
	}
}

func TestParseTransaction(t *testing.T) {
	p := NewParser(nil, nil)

	t.Run("irrelevant transaction yields nil record and nil error", func(t *testing.T) {
		tx := &types.RawTransaction{
			Hash:    "txaaa",
			Inputs:  []types.TxInput{{Address: otherAddr, Amounts: ada("5000000")}},
			Outputs: []types.TxOutput{{Address: otherAddr, Amounts: ada("4800000")}},
		}

		record, err := p.ParseTransaction(context.Background(), tx, walletAddr)
		require.NoError(t, err)
		assert.Nil(t, record)
	})

	t.Run("missing hash is a validation error", func(t *testing.T) {
		_, err := p.ParseTransaction(context.Background(), &types.RawTransaction{}, walletAddr)
		assert.Error(t, err)

		_, err = p.ParseTransaction(context.Background(), nil, walletAddr)
		assert.Error(t, err)
	})

	t.Run("empty wallet address is rejected", func(t *testing.T) {
		_, err := p.ParseTransaction(context.Background(), receiveTx("txbbb"), "")
		assert.Error(t, err)
	})

	t.Run("receive is assembled with flows and net ADA change", func(t *testing.T) {
		record, err := p.ParseTransaction(context.Background(), receiveTx("txccc"), walletAddr)
		require.NoError(t, err)
		require.NotNil(t, record)

		assert.Equal(t, "txccc", record.TxHash)
		assert.Equal(t, walletAddr, record.WalletAddress)
		assert.Equal(t, uint64(9000000), record.BlockHeight)
		assert.Equal(t, types.ActionReceive, record.Action)
		assert.Nil(t, record.Protocol)
		require.Len(t, record.Flows, 1)
		assert.Equal(t, "100000000", record.Flows[0].NetQuantity.String())
		assert.Equal(t, "100000000", record.NetADAChangeString())
		assert.Equal(t, 1, record.InputCount)
		assert.Equal(t, 1, record.OutputCount)
	})

	t.Run("repeated parses of the same input are structurally equal", func(t *testing.T) {
		tx := receiveTx("txddd")

		first, err := p.ParseTransaction(context.Background(), tx, walletAddr)
		require.NoError(t, err)
		second, err := p.ParseTransaction(context.Background(), tx, walletAddr)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestParseTransactionTokenMetadata(t *testing.T) {
	resolver := &fakeResolver{
		infos: map[string]*types.TokenInfo{
			tokenUnitX: {Unit: tokenUnitX, Ticker: "TKX", Decimals: 6, DisplayName: "Token X"},
		},
	}
	p := NewParser(resolver, nil)

	tx := &types.RawTransaction{
		Hash:        "txeee",
		BlockHeight: 9000001,
		BlockTime:   1700000100,
		Inputs: []types.TxInput{{Address: otherAddr, Amounts: []types.AssetAmount{
			{Unit: types.LovelaceUnit, Quantity: "2000000"},
			{Unit: tokenUnitX, Quantity: "10"},
		}}},
		Outputs: []types.TxOutput{{Address: walletAddr, Amounts: []types.AssetAmount{
			{Unit: types.LovelaceUnit, Quantity: "1800000"},
			{Unit: tokenUnitX, Quantity: "10"},
		}}},
	}

	record, err := p.ParseTransaction(context.Background(), tx, walletAddr)
	require.NoError(t, err)
	require.NotNil(t, record)

	// Only the native asset unit is sent to the resolver.
	require.Len(t, resolver.calls, 1)
	assert.Equal(t, []string{tokenUnitX}, resolver.calls[0])

	tokenFlow := flowByUnit(record.Flows, tokenUnitX)
	require.NotNil(t, tokenFlow)
	require.NotNil(t, tokenFlow.Token)
	assert.Equal(t, "TKX", tokenFlow.Token.Ticker)

	adaFlow := flowByUnit(record.Flows, types.LovelaceUnit)
	require.NotNil(t, adaFlow)
	assert.Nil(t, adaFlow.Token)
}

func TestParseTransactionResolverFailureIsNonFatal(t *testing.T) {
	resolver := &fakeResolver{err: fmt.Errorf("registry unavailable")}
	p := NewParser(resolver, nil)

	tx := &types.RawTransaction{
		Hash:      "txfff",
		BlockTime: 1700000200,
		Outputs: []types.TxOutput{{Address: walletAddr, Amounts: []types.AssetAmount{
			{Unit: tokenUnitX, Quantity: "5"},
		}}},
	}

	record, err := p.ParseTransaction(context.Background(), tx, walletAddr)
	require.NoError(t, err)
	require.NotNil(t, record)

	tokenFlow := flowByUnit(record.Flows, tokenUnitX)
	require.NotNil(t, tokenFlow)
	assert.Nil(t, tokenFlow.Token)
}

func TestParseTransactionBatch(t *testing.T) {
	p := NewParser(nil, nil)

	txs := make([]*types.RawTransaction, 0, 10)
	for i := 0; i < 10; i++ {
		tx := receiveTx(fmt.Sprintf("tx%03d", i))
		if i == 5 {
			// Malformed quantity: must be reported, not abort the batch.
			tx.Outputs[0].Amounts[0].Quantity = "not-a-number"
		}
		txs = append(txs, tx)
	}
	// One irrelevant transaction: skipped without being reported.
	txs = append(txs, &types.RawTransaction{
		Hash:    "tx-unrelated",
		Outputs: []types.TxOutput{{Address: otherAddr, Amounts: ada("1000000")}},
	})

	records, failures := p.ParseTransactionBatch(context.Background(), txs, walletAddr)

	assert.Len(t, records, 9)
	require.Len(t, failures, 1)
	assert.Equal(t, "tx005", failures[0].TxHash)
	assert.Error(t, failures[0].Err)

	for _, r := range records {
		assert.NotEqual(t, "tx005", r.TxHash)
		assert.NotEqual(t, "tx-unrelated", r.TxHash)
	}
}
