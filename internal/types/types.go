// Package types provides common type definitions for the wallet scanner system.
package types

import (
	"encoding/json"
	"math/big"
	"time"
)

// LovelaceUnit is the asset unit denoting the native currency (ADA).
// All other units denote a (policy id + asset name) pair.
const LovelaceUnit = "lovelace"

// LovelacePerADA is the number of lovelace in one ADA.
const LovelacePerADA = 1_000_000

// TransactionAction represents the semantic category assigned to a
// wallet transaction by the categorization engine.
type TransactionAction string

const (
	// ActionSend represents a pure outflow of value from the wallet
	ActionSend TransactionAction = "send"
	// ActionReceive represents a pure inflow of value to the wallet
	ActionReceive TransactionAction = "receive"
	// ActionSwap represents an exchange of one asset for another
	ActionSwap TransactionAction = "swap"
	// ActionStakeDelegate represents a stake pool delegation
	ActionStakeDelegate TransactionAction = "stake_delegate"
	// ActionStakeDeregister represents a stake key deregistration
	ActionStakeDeregister TransactionAction = "stake_deregister"
	// ActionStakeWithdraw represents a reward account withdrawal
	ActionStakeWithdraw TransactionAction = "stake_withdraw"
	// ActionMint represents native asset minting received by the wallet
	ActionMint TransactionAction = "mint"
	// ActionBurn represents native asset burning paid by the wallet
	ActionBurn TransactionAction = "burn"
	// ActionUnknown is the fallback when no categorization rule matches
	ActionUnknown TransactionAction = "unknown"
)

// Protocol identifies the on-chain protocol a transaction interacted with
type Protocol string

const (
	// ProtocolMinswap represents the Minswap DEX
	ProtocolMinswap Protocol = "minswap"
	// ProtocolSundaeSwap represents the SundaeSwap DEX
	ProtocolSundaeSwap Protocol = "sundaeswap"
	// ProtocolNativeStaking represents protocol-level staking operations
	ProtocolNativeStaking Protocol = "native_staking"
)

// FlowDirection represents the direction of an asset flow relative to the wallet
type FlowDirection string

const (
	// DirectionIn represents a net inflow to the wallet
	DirectionIn FlowDirection = "in"
	// DirectionOut represents a net outflow from the wallet
	DirectionOut FlowDirection = "out"
	// DirectionNeutral represents a zero net change (pass-through)
	DirectionNeutral FlowDirection = "neutral"
)

// SyncJobState represents the lifecycle state of a sync job
type SyncJobState string

const (
	// JobQueued represents a job waiting to be processed
	JobQueued SyncJobState = "queued"
	// JobProcessing represents a job currently being processed
	JobProcessing SyncJobState = "processing"
	// JobCompleted represents a successfully finished job
	JobCompleted SyncJobState = "completed"
	// JobFailed represents a job that exhausted its retry budget
	JobFailed SyncJobState = "failed"
)

// Terminal reports whether the state no longer blocks a new sync request.
func (s SyncJobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CertificateType represents the kind of an on-chain certificate
type CertificateType string

const (
	// CertStakeDelegation represents a stake pool delegation certificate
	CertStakeDelegation CertificateType = "stake_delegation"
	// CertStakeRegistration represents a stake key registration certificate
	CertStakeRegistration CertificateType = "stake_registration"
	// CertStakeDeregistration represents a stake key deregistration certificate
	CertStakeDeregistration CertificateType = "stake_deregistration"
)

// AssetAmount is one (unit, quantity) pair on a transaction input or output.
// Quantity is a base-10 integer string; asset supplies can exceed the safe
// range of 64-bit values, so it is never parsed into a float.
type AssetAmount struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"`
}

// TxInput represents one input of a raw transaction
type TxInput struct {
	Address string        `json:"address"`
	Amounts []AssetAmount `json:"amounts"`
	TxHash  string        `json:"txHash"`      // transaction that created this UTXO
	Index   int           `json:"outputIndex"` // output index within that transaction
}

// TxOutput represents one output of a raw transaction
type TxOutput struct {
	Address string        `json:"address"`
	Amounts []AssetAmount `json:"amounts"`
	Index   int           `json:"outputIndex"`
}

// Certificate represents an on-chain certificate attached to a transaction
type Certificate struct {
	Type   CertificateType `json:"type"`
	PoolID *string         `json:"poolId,omitempty"` // set for delegation certificates
}

// Withdrawal represents a reward-account withdrawal within a transaction
type Withdrawal struct {
	RewardAddress string `json:"rewardAddress"`
	Amount        string `json:"amount"` // lovelace, base-10 integer string
}

// MintRecord represents native asset minting (positive) or burning (negative)
type MintRecord struct {
	Unit     string `json:"unit"`
	Quantity string `json:"quantity"` // signed base-10 integer string
}

// RawTransaction is an immutable transaction record as returned by the
// blockchain source. It is read-only within the engine.
type RawTransaction struct {
	Hash         string          `json:"hash"`
	BlockHeight  uint64          `json:"blockHeight"`
	BlockTime    int64           `json:"blockTime"` // Unix timestamp
	Fee          string          `json:"fee"`       // lovelace, base-10 integer string
	Inputs       []TxInput       `json:"inputs"`
	Outputs      []TxOutput      `json:"outputs"`
	Certificates []Certificate   `json:"certificates,omitempty"`
	Withdrawals  []Withdrawal    `json:"withdrawals,omitempty"`
	Mint         []MintRecord    `json:"mint,omitempty"`
	Metadata     json.RawMessage `json:"metadata,omitempty"`
}

// FilteredInput is a transaction input annotated with wallet ownership
type FilteredInput struct {
	Input         TxInput `json:"input"`
	IsWalletInput bool    `json:"isWalletInput"`
}

// FilteredOutput is a transaction output annotated with wallet ownership
type FilteredOutput struct {
	Output         TxOutput `json:"output"`
	IsWalletOutput bool     `json:"isWalletOutput"`
}

// WalletFilterResult is the wallet-owned subset of a transaction's inputs
// and outputs. It is derived, ephemeral state owned by the caller.
type WalletFilterResult struct {
	WalletInputs  []FilteredInput  `json:"walletInputs"`
	WalletOutputs []FilteredOutput `json:"walletOutputs"`
}

// Touched reports whether the wallet owns any input or output.
func (r *WalletFilterResult) Touched() bool {
	return len(r.WalletInputs) > 0 || len(r.WalletOutputs) > 0
}

// WalletAssetFlow is the net quantity change of one asset unit
// attributable to the wallet within one transaction.
type WalletAssetFlow struct {
	Unit        string        `json:"unit"`
	NetQuantity *big.Int      `json:"-"`
	Direction   FlowDirection `json:"direction"`
	// Resolved token metadata, nil when resolution failed or is pending
	Token *TokenInfo `json:"token,omitempty"`
}

// flowJSON is the serialized form of WalletAssetFlow; the net quantity
// travels as a string to survive values beyond 2^53.
type flowJSON struct {
	Unit        string        `json:"unit"`
	NetQuantity string        `json:"netQuantity"`
	Direction   FlowDirection `json:"direction"`
	Token       *TokenInfo    `json:"token,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (f WalletAssetFlow) MarshalJSON() ([]byte, error) {
	qty := "0"
	if f.NetQuantity != nil {
		qty = f.NetQuantity.String()
	}
	return json.Marshal(flowJSON{
		Unit:        f.Unit,
		NetQuantity: qty,
		Direction:   f.Direction,
		Token:       f.Token,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (f *WalletAssetFlow) UnmarshalJSON(data []byte) error {
	var raw flowJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	qty, ok := new(big.Int).SetString(raw.NetQuantity, 10)
	if !ok {
		qty = big.NewInt(0)
	}
	f.Unit = raw.Unit
	f.NetQuantity = qty
	f.Direction = raw.Direction
	f.Token = raw.Token
	return nil
}

// TokenInfo is resolved metadata for an asset unit
type TokenInfo struct {
	Unit        string  `json:"unit"`
	PolicyID    string  `json:"policyId"`
	AssetName   string  `json:"assetName"`
	Fingerprint string  `json:"fingerprint"`
	Decimals    int     `json:"decimals"`
	DisplayName string  `json:"displayName,omitempty"`
	Ticker      string  `json:"ticker,omitempty"`
}

// UTXO represents an unspent transaction output held by an address
type UTXO struct {
	TxHash  string        `json:"txHash"`
	Index   int           `json:"outputIndex"`
	Address string        `json:"address"`
	Amounts []AssetAmount `json:"amounts"`
}

// SyncCursor tracks per-wallet sync progress. It is mutated only by the
// sync orchestrator after a page has been durably persisted.
type SyncCursor struct {
	UserID                string    `json:"userId"`
	WalletAddress         string    `json:"walletAddress"`
	LastSyncedBlockHeight uint64    `json:"lastSyncedBlockHeight"`
	LastSyncedAt          time.Time `json:"lastSyncedAt"`
}

// JobStatusResponse is the wire shape returned to job-status pollers.
// This is the only wire format with compatibility stakes.
type JobStatusResponse struct {
	JobID      string          `json:"jobId"`
	Status     SyncJobState    `json:"status"`
	Progress   *float64        `json:"progress,omitempty"`
	Message    *string         `json:"message,omitempty"`
	CachedData json.RawMessage `json:"cachedData,omitempty"`
}
