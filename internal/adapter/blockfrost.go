package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/cardano-wallet-scanner/internal/circuitbreaker"
	"github.com/cardano-wallet-scanner/internal/config"
	"github.com/cardano-wallet-scanner/internal/logging"
	"github.com/cardano-wallet-scanner/internal/types"
)

const sourceBlockfrost = "blockfrost"

// BlockfrostClient fetches Cardano chain data from the Blockfrost API.
// It implements ChainSource and the token registry's MetadataFetcher.
// All requests go through a shared rate limiter and a circuit breaker.
type BlockfrostClient struct {
	baseURL   string
	projectID string
	pageSize  int
	client    *http.Client
	limiter   *rate.Limiter
	breaker   *circuitbreaker.CircuitBreaker
}

// NewBlockfrostClient creates a Blockfrost API client.
func NewBlockfrostClient(cfg *config.BlockfrostConfig) *BlockfrostClient {
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 100
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &BlockfrostClient{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		projectID: cfg.ProjectID,
		pageSize:  pageSize,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		breaker:   circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig(sourceBlockfrost)),
	}
}

// blockfrostTxRef mirrors one entry of /addresses/{address}/transactions.
type blockfrostTxRef struct {
	TxHash      string `json:"tx_hash"`
	TxIndex     int    `json:"tx_index"`
	BlockHeight uint64 `json:"block_height"`
	BlockTime   int64  `json:"block_time"`
}

// blockfrostTx mirrors /txs/{hash}.
type blockfrostTx struct {
	Hash                 string `json:"hash"`
	BlockHeight          uint64 `json:"block_height"`
	BlockTime            int64  `json:"block_time"`
	Fees                 string `json:"fees"`
	WithdrawalCount      int    `json:"withdrawal_count"`
	DelegationCount      int    `json:"delegation_count"`
	StakeCertCount       int    `json:"stake_cert_count"`
	AssetMintOrBurnCount int    `json:"asset_mint_or_burn_count"`
}

// blockfrostUTXOSide is one input or output of /txs/{hash}/utxos.
type blockfrostUTXOSide struct {
	Address     string              `json:"address"`
	Amount      []types.AssetAmount `json:"amount"`
	TxHash      string              `json:"tx_hash"`
	OutputIndex int                 `json:"output_index"`
	Collateral  bool                `json:"collateral"`
	Reference   bool                `json:"reference"`
}

type blockfrostTxUTXOs struct {
	Hash    string               `json:"hash"`
	Inputs  []blockfrostUTXOSide `json:"inputs"`
	Outputs []blockfrostUTXOSide `json:"outputs"`
}

type blockfrostDelegation struct {
	CertIndex int    `json:"cert_index"`
	Address   string `json:"address"`
	PoolID    string `json:"pool_id"`
}

type blockfrostStakeCert struct {
	CertIndex    int    `json:"cert_index"`
	Address      string `json:"address"`
	Registration bool   `json:"registration"`
}

type blockfrostWithdrawal struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type blockfrostAddressUTXO struct {
	TxHash      string              `json:"tx_hash"`
	OutputIndex int                 `json:"output_index"`
	Address     string              `json:"address"`
	Amount      []types.AssetAmount `json:"amount"`
}

type blockfrostBlock struct {
	Height uint64 `json:"height"`
}

// blockfrostAsset mirrors /assets/{unit}.
type blockfrostAsset struct {
	Asset          string `json:"asset"`
	PolicyID       string `json:"policy_id"`
	AssetName      string `json:"asset_name"`
	Fingerprint    string `json:"fingerprint"`
	OnchainMeta    json.RawMessage `json:"onchain_metadata"`
	Metadata       *struct {
		Name     string `json:"name"`
		Ticker   string `json:"ticker"`
		Decimals int    `json:"decimals"`
	} `json:"metadata"`
}

// FetchAddressTxPage returns one ascending page of transaction references
// for an address at or above fromBlock.
func (c *BlockfrostClient) FetchAddressTxPage(ctx context.Context, address string, fromBlock uint64, page int) ([]TxRef, error) {
	if !c.ValidateAddress(address) {
		return nil, NewSourceError(sourceBlockfrost, "FetchAddressTxPage", ErrInvalidAddress, map[string]interface{}{"address": address})
	}
	if page < 1 {
		page = 1
	}

	url := fmt.Sprintf("%s/addresses/%s/transactions?order=asc&count=%d&page=%d", c.baseURL, address, c.pageSize, page)
	if fromBlock > 0 {
		url += fmt.Sprintf("&from=%d", fromBlock)
	}

	var refs []blockfrostTxRef
	if err := c.getJSON(ctx, url, &refs); err != nil {
		// A 404 here means the address has no on-chain history yet.
		if isNotFound(err) {
			return nil, nil
		}
		return nil, NewSourceError(sourceBlockfrost, "FetchAddressTxPage", err, map[string]interface{}{"address": address, "page": page})
	}

	out := make([]TxRef, 0, len(refs))
	for _, r := range refs {
		out = append(out, TxRef{
			TxHash:      r.TxHash,
			BlockHeight: r.BlockHeight,
			BlockIndex:  r.TxIndex,
			BlockTime:   r.BlockTime,
		})
	}
	return out, nil
}

// FetchTransactionDetails resolves full transaction bodies for a batch of
// hashes. Order follows the input hashes.
func (c *BlockfrostClient) FetchTransactionDetails(ctx context.Context, hashes []string) ([]*types.RawTransaction, error) {
	out := make([]*types.RawTransaction, 0, len(hashes))
	for _, hash := range hashes {
		tx, err := c.fetchTransaction(ctx, hash)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (c *BlockfrostClient) fetchTransaction(ctx context.Context, hash string) (*types.RawTransaction, error) {
	var meta blockfrostTx
	if err := c.getJSON(ctx, fmt.Sprintf("%s/txs/%s", c.baseURL, hash), &meta); err != nil {
		if isNotFound(err) {
			return nil, NewSourceError(sourceBlockfrost, "FetchTransactionDetails", ErrTransactionNotFound, map[string]interface{}{"txHash": hash})
		}
		return nil, NewSourceError(sourceBlockfrost, "FetchTransactionDetails", err, map[string]interface{}{"txHash": hash})
	}

	var utxos blockfrostTxUTXOs
	if err := c.getJSON(ctx, fmt.Sprintf("%s/txs/%s/utxos", c.baseURL, hash), &utxos); err != nil {
		return nil, NewSourceError(sourceBlockfrost, "FetchTransactionDetails", err, map[string]interface{}{"txHash": hash})
	}

	tx := &types.RawTransaction{
		Hash:        meta.Hash,
		BlockHeight: meta.BlockHeight,
		BlockTime:   meta.BlockTime,
		Fee:         meta.Fees,
	}

	for _, in := range utxos.Inputs {
		if in.Collateral || in.Reference {
			continue
		}
		tx.Inputs = append(tx.Inputs, types.TxInput{
			Address: in.Address,
			Amounts: in.Amount,
			TxHash:  in.TxHash,
			Index:   in.OutputIndex,
		})
	}
	for _, out := range utxos.Outputs {
		if out.Collateral {
			continue
		}
		tx.Outputs = append(tx.Outputs, types.TxOutput{
			Address: out.Address,
			Amounts: out.Amount,
			Index:   out.OutputIndex,
		})
	}

	if meta.DelegationCount > 0 || meta.StakeCertCount > 0 {
		certs, err := c.fetchCertificates(ctx, hash, meta)
		if err != nil {
			return nil, err
		}
		tx.Certificates = certs
	}

	if meta.WithdrawalCount > 0 {
		var withdrawals []blockfrostWithdrawal
		if err := c.getJSON(ctx, fmt.Sprintf("%s/txs/%s/withdrawals", c.baseURL, hash), &withdrawals); err != nil {
			return nil, NewSourceError(sourceBlockfrost, "FetchTransactionDetails", err, map[string]interface{}{"txHash": hash})
		}
		for _, w := range withdrawals {
			tx.Withdrawals = append(tx.Withdrawals, types.Withdrawal{RewardAddress: w.Address, Amount: w.Amount})
		}
	}

	if meta.AssetMintOrBurnCount > 0 {
		tx.Mint = deriveMintRecords(tx)
	}

	return tx, nil
}

func (c *BlockfrostClient) fetchCertificates(ctx context.Context, hash string, meta blockfrostTx) ([]types.Certificate, error) {
	var certs []types.Certificate

	if meta.DelegationCount > 0 {
		var delegations []blockfrostDelegation
		if err := c.getJSON(ctx, fmt.Sprintf("%s/txs/%s/delegations", c.baseURL, hash), &delegations); err != nil {
			return nil, NewSourceError(sourceBlockfrost, "FetchTransactionDetails", err, map[string]interface{}{"txHash": hash})
		}
		for _, d := range delegations {
			poolID := d.PoolID
			certs = append(certs, types.Certificate{Type: types.CertStakeDelegation, PoolID: &poolID})
		}
	}

	if meta.StakeCertCount > 0 {
		var stakeCerts []blockfrostStakeCert
		if err := c.getJSON(ctx, fmt.Sprintf("%s/txs/%s/stakes", c.baseURL, hash), &stakeCerts); err != nil {
			return nil, NewSourceError(sourceBlockfrost, "FetchTransactionDetails", err, map[string]interface{}{"txHash": hash})
		}
		for _, s := range stakeCerts {
			certType := types.CertStakeRegistration
			if !s.Registration {
				certType = types.CertStakeDeregistration
			}
			certs = append(certs, types.Certificate{Type: certType})
		}
	}

	return certs, nil
}

// deriveMintRecords recovers per-unit mint quantities from the ledger
// balance rule: for native assets, total outputs minus total inputs
// equals the minted (or burned, when negative) amount.
func deriveMintRecords(tx *types.RawTransaction) []types.MintRecord {
	net := make(map[string]*big.Int)
	add := func(unit, quantity string, sign int) {
		if unit == types.LovelaceUnit {
			return
		}
		qty, ok := new(big.Int).SetString(quantity, 10)
		if !ok {
			return
		}
		if sign < 0 {
			qty.Neg(qty)
		}
		if acc, exists := net[unit]; exists {
			acc.Add(acc, qty)
		} else {
			net[unit] = qty
		}
	}

	for _, in := range tx.Inputs {
		for _, amt := range in.Amounts {
			add(amt.Unit, amt.Quantity, -1)
		}
	}
	for _, out := range tx.Outputs {
		for _, amt := range out.Amounts {
			add(amt.Unit, amt.Quantity, 1)
		}
	}

	units := make([]string, 0, len(net))
	for unit, qty := range net {
		if qty.Sign() != 0 {
			units = append(units, unit)
		}
	}
	sort.Strings(units)

	records := make([]types.MintRecord, 0, len(units))
	for _, unit := range units {
		records = append(records, types.MintRecord{Unit: unit, Quantity: net[unit].String()})
	}
	return records
}

// FetchAddressUTXOs returns the current unspent outputs of an address,
// walking every page.
func (c *BlockfrostClient) FetchAddressUTXOs(ctx context.Context, address string) ([]types.UTXO, error) {
	if !c.ValidateAddress(address) {
		return nil, NewSourceError(sourceBlockfrost, "FetchAddressUTXOs", ErrInvalidAddress, map[string]interface{}{"address": address})
	}

	var out []types.UTXO
	for page := 1; ; page++ {
		url := fmt.Sprintf("%s/addresses/%s/utxos?count=%d&page=%d", c.baseURL, address, c.pageSize, page)

		var utxos []blockfrostAddressUTXO
		if err := c.getJSON(ctx, url, &utxos); err != nil {
			if isNotFound(err) {
				return nil, nil
			}
			return nil, NewSourceError(sourceBlockfrost, "FetchAddressUTXOs", err, map[string]interface{}{"address": address, "page": page})
		}
		for _, u := range utxos {
			out = append(out, types.UTXO{
				TxHash:  u.TxHash,
				Index:   u.OutputIndex,
				Address: u.Address,
				Amounts: u.Amount,
			})
		}
		if len(utxos) < c.pageSize {
			return out, nil
		}
	}
}

// GetCurrentBlockHeight returns the chain tip height.
func (c *BlockfrostClient) GetCurrentBlockHeight(ctx context.Context) (uint64, error) {
	var block blockfrostBlock
	if err := c.getJSON(ctx, c.baseURL+"/blocks/latest", &block); err != nil {
		return 0, NewSourceError(sourceBlockfrost, "GetCurrentBlockHeight", err, nil)
	}
	return block.Height, nil
}

// FetchTokenMetadata resolves asset metadata unit by unit. Units the
// provider does not know are simply absent from the result.
func (c *BlockfrostClient) FetchTokenMetadata(ctx context.Context, units []string) (map[string]*types.TokenInfo, error) {
	out := make(map[string]*types.TokenInfo, len(units))
	for _, unit := range units {
		var asset blockfrostAsset
		if err := c.getJSON(ctx, fmt.Sprintf("%s/assets/%s", c.baseURL, unit), &asset); err != nil {
			if isNotFound(err) {
				continue
			}
			return nil, NewSourceError(sourceBlockfrost, "FetchTokenMetadata", err, map[string]interface{}{"unit": unit})
		}

		info := &types.TokenInfo{
			Unit:        unit,
			PolicyID:    asset.PolicyID,
			AssetName:   asset.AssetName,
			Fingerprint: asset.Fingerprint,
		}
		if asset.Metadata != nil {
			info.DisplayName = asset.Metadata.Name
			info.Ticker = asset.Metadata.Ticker
			info.Decimals = asset.Metadata.Decimals
		}
		out[unit] = info
	}
	return out, nil
}

// ValidateAddress checks the shape of a Cardano bech32 payment address.
func (c *BlockfrostClient) ValidateAddress(address string) bool {
	if len(address) < 20 || len(address) > 150 {
		return false
	}
	if !strings.HasPrefix(address, "addr1") && !strings.HasPrefix(address, "addr_test1") {
		return false
	}
	for _, r := range address {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// getJSON performs a rate-limited GET through the circuit breaker, with
// retry on transient failures and 429 responses.
func (c *BlockfrostClient) getJSON(ctx context.Context, url string, dest interface{}) error {
	const maxRetries = 4
	baseDelay := time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		var body []byte
		var status int
		var retryAfter string
		err := c.breaker.Execute(ctx, func() error {
			var reqErr error
			body, status, retryAfter, reqErr = c.doRequest(ctx, url)
			if reqErr != nil {
				return reqErr
			}
			if status >= 500 {
				return fmt.Errorf("%w: status %d", ErrProviderUnavailable, status)
			}
			return nil
		})
		if err != nil {
			if err == circuitbreaker.ErrCircuitOpen || err == circuitbreaker.ErrTooManyRequests {
				return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
			}
			lastErr = err
			if attempt < maxRetries {
				c.sleepBackoff(ctx, attempt, baseDelay, "")
				continue
			}
			break
		}

		switch {
		case status == http.StatusOK:
			if err := json.Unmarshal(body, dest); err != nil {
				return fmt.Errorf("failed to parse response: %w", err)
			}
			return nil

		case status == http.StatusNotFound:
			return ErrNotFound

		case status == http.StatusTooManyRequests:
			lastErr = ErrProviderRateLimit
			if attempt < maxRetries {
				logging.FromContext(ctx).WithField("url", url).Warn("Provider rate limited, backing off")
				c.sleepBackoff(ctx, attempt, baseDelay, retryAfter)
				continue
			}

		case status == http.StatusPaymentRequired || status == http.StatusForbidden:
			// Daily quota exhausted or bad project ID. Not retryable.
			return fmt.Errorf("%w: status %d: %s", ErrProviderRateLimit, status, string(body))

		default:
			return fmt.Errorf("unexpected status %d: %s", status, string(body))
		}
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *BlockfrostClient) doRequest(ctx context.Context, url string) (body []byte, status int, retryAfter string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("project_id", c.projectID)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, "", fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, resp.Header.Get("Retry-After"), nil
}

func (c *BlockfrostClient) sleepBackoff(ctx context.Context, attempt int, baseDelay time.Duration, retryAfter string) {
	delay := baseDelay * time.Duration(1<<uint(attempt))
	if retryAfter != "" {
		if seconds, err := strconv.Atoi(retryAfter); err == nil {
			delay = time.Duration(seconds) * time.Second
		}
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func isNotFound(err error) bool {
	return err == ErrNotFound
}
