package engine

import (
	"context"
	"time"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/models"
	"github.com/cardano-wallet-scanner/internal/types"
)

// TokenResolver resolves token metadata for asset units. Implemented by
// the token registry; kept as an interface here so the parser can be
// exercised with an isolated fake in tests.
type TokenResolver interface {
	BatchGetTokenInfo(ctx context.Context, units []string) (map[string]*types.TokenInfo, error)
}

// Parser orchestrates the wallet filter, the asset flow calculator, the
// token registry, and the categorization engine to produce finished
// wallet transaction records.
type Parser struct {
	resolver    TokenResolver
	categorizer *Categorizer
}

// NewParser creates a transaction parser. resolver may be nil, in which
// case flows carry no token metadata.
func NewParser(resolver TokenResolver, categorizer *Categorizer) *Parser {
	if categorizer == nil {
		categorizer = NewDefaultCategorizer()
	}
	return &Parser{
		resolver:    resolver,
		categorizer: categorizer,
	}
}

// ParseTransaction builds a WalletTransaction from one raw transaction.
// Returns (nil, nil) when the transaction touches neither a wallet input
// nor a wallet output: irrelevant transactions are silently skipped, not
// errors. A malformed transaction returns a validation error.
func (p *Parser) ParseTransaction(ctx context.Context, tx *types.RawTransaction, walletAddress string) (*models.WalletTransaction, error) {
	if tx == nil || tx.Hash == "" {
		return nil, errors.NewValidationError("raw transaction has no hash", nil)
	}
	if walletAddress == "" {
		return nil, errors.NewInvalidAddressError(walletAddress)
	}

	filtered := FilterForWallet(tx, walletAddress)
	if !filtered.Touched() {
		return nil, nil
	}

	flows, err := CalculateAssetFlows(filtered)
	if err != nil {
		return nil, err
	}

	if err := p.attachTokenInfo(ctx, flows); err != nil {
		// Metadata misses never fail a parse; the flows simply carry
		// no token info.
		logging.FromContext(ctx).WithError(err).WithField("txHash", tx.Hash).
			Warn("Token metadata resolution failed, continuing without metadata")
	}

	action, protocol := p.categorizer.Evaluate(tx, flows)

	return &models.WalletTransaction{
		WalletAddress: walletAddress,
		TxHash:        tx.Hash,
		BlockHeight:   tx.BlockHeight,
		Timestamp:     time.Unix(tx.BlockTime, 0).UTC(),
		Action:        action,
		Protocol:      protocol,
		Flows:         flows,
		NetADAChange:  CalculateNetADAChange(flows),
		InputCount:    len(tx.Inputs),
		OutputCount:   len(tx.Outputs),
	}, nil
}

// BatchFailure reports one transaction that could not be parsed.
type BatchFailure struct {
	TxHash string
	Err    error
}

// ParseTransactionBatch parses a batch with partial-failure semantics: a
// malformed transaction is reported and excluded, never aborting the
// remainder. Irrelevant transactions are skipped without being reported.
func (p *Parser) ParseTransactionBatch(ctx context.Context, txs []*types.RawTransaction, walletAddress string) ([]*models.WalletTransaction, []BatchFailure) {
	logger := logging.FromContext(ctx)

	var parsed []*models.WalletTransaction
	var failures []BatchFailure

	for _, tx := range txs {
		record, err := p.ParseTransaction(ctx, tx, walletAddress)
		if err != nil {
			hash := ""
			if tx != nil {
				hash = tx.Hash
			}
			logger.WithError(err).WithField("txHash", hash).
				Warn("Skipping malformed transaction in batch")
			failures = append(failures, BatchFailure{TxHash: hash, Err: err})
			continue
		}
		if record == nil {
			continue
		}
		parsed = append(parsed, record)
	}

	return parsed, failures
}

// attachTokenInfo batch-resolves metadata for every non-lovelace unit in
// the flows and attaches it in place. The lovelace unit carries no
// registry metadata.
func (p *Parser) attachTokenInfo(ctx context.Context, flows []types.WalletAssetFlow) error {
	if p.resolver == nil {
		return nil
	}

	var units []string
	for _, f := range flows {
		if f.Unit != types.LovelaceUnit {
			units = append(units, f.Unit)
		}
	}
	if len(units) == 0 {
		return nil
	}

	infos, err := p.resolver.BatchGetTokenInfo(ctx, units)
	if err != nil {
		return err
	}

	for i := range flows {
		if info, ok := infos[flows[i].Unit]; ok {
			flows[i].Token = info
		}
	}
	return nil
}
