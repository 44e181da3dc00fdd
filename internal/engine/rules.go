package engine

import (
	"math/big"
	"strings"

	"github.com/cardano-wallet-scanner/internal/types"
)

// Rule is one categorization rule: a priority, a side-effect-free match
// predicate, and action/protocol producers. Lower priorities are
// evaluated first; rules sharing a priority keep registration order.
// New behavior is added by registering a new rule, never by editing an
// existing rule body.
type Rule struct {
	Name     string
	Priority int
	Matches  func(tx *types.RawTransaction, flows []types.WalletAssetFlow) bool
	Action   func(tx *types.RawTransaction, flows []types.WalletAssetFlow) types.TransactionAction
	Protocol func(tx *types.RawTransaction, flows []types.WalletAssetFlow) *types.Protocol
}

// Known DEX script addresses on mainnet. Matching a counterparty address
// against this table is how swaps get a protocol label.
var dexAddresses = map[string]types.Protocol{
	"addr1zxn9efv2f6w82hagxqtn62ju4m293tqvw0uhmdl64ch8uw6j2c79gy9l76sdg0xwhd7r0c0kna0tycz4y5s6mlenh8pq6s3z70": types.ProtocolMinswap,
	"addr1wxn9efv2f6w82hagxqtn62ju4m293tqvw0uhmdl64ch8uwc0h43gt":                                             types.ProtocolMinswap,
	"addr1w9qzpelu9hn45pefc0xr4ac4kdxeswq7pndul2vuj59u8tqaxdznu":                                             types.ProtocolSundaeSwap,
	"addr1wxaptpmxcxawvr3pzlhgnpmzz3ql43n2tc8mn3av5kx0yzs09tqh8":                                             types.ProtocolSundaeSwap,
}

// DefaultRules returns the configured rule list in registration order.
// The categorizer stable-sorts by priority, so equal priorities preserve
// this ordering.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:     "stake-delegation",
			Priority: 10,
			Matches: func(tx *types.RawTransaction, _ []types.WalletAssetFlow) bool {
				return hasCertificate(tx, types.CertStakeDelegation)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionStakeDelegate
			},
			Protocol: staticProtocol(types.ProtocolNativeStaking),
		},
		{
			Name:     "stake-deregistration",
			Priority: 11,
			Matches: func(tx *types.RawTransaction, _ []types.WalletAssetFlow) bool {
				return hasCertificate(tx, types.CertStakeDeregistration)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionStakeDeregister
			},
			Protocol: staticProtocol(types.ProtocolNativeStaking),
		},
		{
			Name:     "stake-withdrawal",
			Priority: 20,
			Matches: func(tx *types.RawTransaction, _ []types.WalletAssetFlow) bool {
				return len(tx.Withdrawals) > 0
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionStakeWithdraw
			},
			Protocol: staticProtocol(types.ProtocolNativeStaking),
		},
		{
			Name:     "asset-mint",
			Priority: 30,
			Matches: func(tx *types.RawTransaction, flows []types.WalletAssetFlow) bool {
				return mintMatchesFlows(tx, flows, 1)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionMint
			},
			Protocol: noProtocol,
		},
		{
			Name:     "asset-burn",
			Priority: 31,
			Matches: func(tx *types.RawTransaction, flows []types.WalletAssetFlow) bool {
				return mintMatchesFlows(tx, flows, -1)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionBurn
			},
			Protocol: noProtocol,
		},
		{
			Name:     "dex-swap",
			Priority: 40,
			Matches: func(tx *types.RawTransaction, flows []types.WalletAssetFlow) bool {
				return detectDEX(tx) != nil && hasBidirectionalFlows(flows)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionSwap
			},
			Protocol: func(tx *types.RawTransaction, _ []types.WalletAssetFlow) *types.Protocol {
				return detectDEX(tx)
			},
		},
		{
			Name:     "generic-swap",
			Priority: 45,
			Matches: func(_ *types.RawTransaction, flows []types.WalletAssetFlow) bool {
				return hasBidirectionalFlows(flows)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionSwap
			},
			Protocol: noProtocol,
		},
		{
			Name:     "simple-receive",
			Priority: 50,
			Matches: func(_ *types.RawTransaction, flows []types.WalletAssetFlow) bool {
				return allFlowsDirected(flows, types.DirectionIn)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionReceive
			},
			Protocol: noProtocol,
		},
		{
			Name:     "simple-send",
			Priority: 60,
			Matches: func(_ *types.RawTransaction, flows []types.WalletAssetFlow) bool {
				return allFlowsDirected(flows, types.DirectionOut)
			},
			Action: func(*types.RawTransaction, []types.WalletAssetFlow) types.TransactionAction {
				return types.ActionSend
			},
			Protocol: noProtocol,
		},
	}
}

func staticProtocol(p types.Protocol) func(*types.RawTransaction, []types.WalletAssetFlow) *types.Protocol {
	return func(*types.RawTransaction, []types.WalletAssetFlow) *types.Protocol {
		return &p
	}
}

func noProtocol(*types.RawTransaction, []types.WalletAssetFlow) *types.Protocol {
	return nil
}

func hasCertificate(tx *types.RawTransaction, certType types.CertificateType) bool {
	for _, cert := range tx.Certificates {
		if cert.Type == certType {
			return true
		}
	}
	return false
}

// hasBidirectionalFlows reports whether the wallet both gave and
// received value, the signature of an exchange.
func hasBidirectionalFlows(flows []types.WalletAssetFlow) bool {
	var in, out bool
	for _, f := range flows {
		switch f.Direction {
		case types.DirectionIn:
			in = true
		case types.DirectionOut:
			out = true
		}
	}
	return in && out
}

func allFlowsDirected(flows []types.WalletAssetFlow, direction types.FlowDirection) bool {
	if len(flows) == 0 {
		return false
	}
	for _, f := range flows {
		if f.Direction != direction {
			return false
		}
	}
	return true
}

// mintMatchesFlows reports whether the transaction mints (sign > 0) or
// burns (sign < 0) a unit whose wallet flow points the same way.
func mintMatchesFlows(tx *types.RawTransaction, flows []types.WalletAssetFlow, sign int) bool {
	if len(tx.Mint) == 0 {
		return false
	}

	minted := make(map[string]int, len(tx.Mint))
	for _, m := range tx.Mint {
		qty, ok := new(big.Int).SetString(m.Quantity, 10)
		if !ok {
			continue
		}
		minted[m.Unit] = qty.Sign()
	}

	for _, f := range flows {
		if minted[f.Unit] == sign && f.NetQuantity.Sign() == sign {
			return true
		}
	}
	return false
}

// detectDEX returns the protocol of the first known DEX script address
// appearing among the transaction's counterparties.
func detectDEX(tx *types.RawTransaction) *types.Protocol {
	for _, in := range tx.Inputs {
		if p, ok := dexAddresses[strings.TrimSpace(in.Address)]; ok {
			return &p
		}
	}
	for _, out := range tx.Outputs {
		if p, ok := dexAddresses[strings.TrimSpace(out.Address)]; ok {
			return &p
		}
	}
	return nil
}
