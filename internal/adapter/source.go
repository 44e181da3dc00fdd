package adapter

import (
	"context"
	"fmt"

	"github.com/cardano-wallet-scanner/internal/types"
)

// TxRef is one entry of an address transaction page: the hash plus the
// chain position needed to order and resume pagination.
type TxRef struct {
	TxHash      string `json:"tx_hash"`
	BlockHeight uint64 `json:"block_height"`
	BlockIndex  int    `json:"tx_index"`
	BlockTime   int64  `json:"block_time"`
}

// ChainSource is the contract for fetching wallet history from a chain
// data provider.
type ChainSource interface {
	// FetchAddressTxPage returns one page of transaction references for
	// an address, ascending by block height, restricted to blocks at or
	// above fromBlock. Pages are 1-based; an empty page means the
	// iteration is complete. Re-requesting a page number is safe, which
	// is what makes interrupted syncs restartable.
	FetchAddressTxPage(ctx context.Context, address string, fromBlock uint64, page int) ([]TxRef, error)

	// FetchTransactionDetails resolves full transaction bodies for a
	// batch of hashes.
	FetchTransactionDetails(ctx context.Context, hashes []string) ([]*types.RawTransaction, error)

	// FetchAddressUTXOs returns the current unspent outputs of an address.
	FetchAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error)

	// GetCurrentBlockHeight returns the chain tip height.
	GetCurrentBlockHeight(ctx context.Context) (uint64, error)

	// ValidateAddress checks whether the address is well-formed for this chain.
	ValidateAddress(address string) bool
}

// Common error values for chain sources.

var (
	// ErrInvalidAddress indicates the address format is invalid.
	ErrInvalidAddress = fmt.Errorf("invalid address format")

	// ErrProviderUnavailable indicates the data provider is unavailable.
	ErrProviderUnavailable = fmt.Errorf("data provider unavailable")

	// ErrProviderRateLimit indicates the provider rate limit was exceeded.
	ErrProviderRateLimit = fmt.Errorf("provider rate limit exceeded")

	// ErrTransactionNotFound indicates the requested transaction was not found.
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// ErrNotFound indicates the requested resource was not found.
	ErrNotFound = fmt.Errorf("resource not found")
)

// SourceError wraps provider errors with operation context.
type SourceError struct {
	Source  string
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *SourceError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("chain source error [%s:%s]: %v (details: %+v)", e.Source, e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("chain source error [%s:%s]: %v", e.Source, e.Op, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError creates a SourceError.
func NewSourceError(source, op string, err error, details map[string]interface{}) *SourceError {
	return &SourceError{
		Source:  source,
		Op:      op,
		Err:     err,
		Details: details,
	}
}
