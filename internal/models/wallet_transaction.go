package models

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/cardano-wallet-scanner/internal/types"
)

// WalletTransaction is the finished wallet-centric transaction record
// stored in ClickHouse. Unique per (user_id, tx_hash).
type WalletTransaction struct {
	UserID        string                  `json:"userId" ch:"user_id"`
	WalletAddress string                  `json:"walletAddress" ch:"wallet_address"`
	TxHash        string                  `json:"txHash" ch:"tx_hash"`
	BlockHeight   uint64                  `json:"blockHeight" ch:"block_height"`
	Timestamp     time.Time               `json:"timestamp" ch:"timestamp"`
	Action        types.TransactionAction `json:"action" ch:"action"`
	Protocol      *types.Protocol         `json:"protocol,omitempty" ch:"protocol"`
	Flows         []types.WalletAssetFlow `json:"flows" ch:"flows"`
	NetADAChange  *big.Int                `json:"-" ch:"net_ada_change"`
	InputCount    int                     `json:"inputCount" ch:"input_count"`
	OutputCount   int                     `json:"outputCount" ch:"output_count"`
}

// NetADAChangeString returns the net ADA change as a base-10 string,
// the form it is persisted and serialized in.
func (t *WalletTransaction) NetADAChangeString() string {
	if t.NetADAChange == nil {
		return "0"
	}
	return t.NetADAChange.String()
}

// walletTransactionJSON keeps the big integer as a string on the wire
type walletTransactionJSON struct {
	UserID        string                  `json:"userId"`
	WalletAddress string                  `json:"walletAddress"`
	TxHash        string                  `json:"txHash"`
	BlockHeight   uint64                  `json:"blockHeight"`
	Timestamp     time.Time               `json:"timestamp"`
	Action        types.TransactionAction `json:"action"`
	Protocol      *types.Protocol         `json:"protocol,omitempty"`
	Flows         []types.WalletAssetFlow `json:"flows"`
	NetADAChange  string                  `json:"netAdaChange"`
	InputCount    int                     `json:"inputCount"`
	OutputCount   int                     `json:"outputCount"`
}

// MarshalJSON implements json.Marshaler
func (t WalletTransaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(walletTransactionJSON{
		UserID:        t.UserID,
		WalletAddress: t.WalletAddress,
		TxHash:        t.TxHash,
		BlockHeight:   t.BlockHeight,
		Timestamp:     t.Timestamp,
		Action:        t.Action,
		Protocol:      t.Protocol,
		Flows:         t.Flows,
		NetADAChange:  t.NetADAChangeString(),
		InputCount:    t.InputCount,
		OutputCount:   t.OutputCount,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (t *WalletTransaction) UnmarshalJSON(data []byte) error {
	var raw walletTransactionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	net, ok := new(big.Int).SetString(raw.NetADAChange, 10)
	if !ok {
		net = big.NewInt(0)
	}
	t.UserID = raw.UserID
	t.WalletAddress = raw.WalletAddress
	t.TxHash = raw.TxHash
	t.BlockHeight = raw.BlockHeight
	t.Timestamp = raw.Timestamp
	t.Action = raw.Action
	t.Protocol = raw.Protocol
	t.Flows = raw.Flows
	t.NetADAChange = net
	t.InputCount = raw.InputCount
	t.OutputCount = raw.OutputCount
	return nil
}
