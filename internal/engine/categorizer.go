package engine

import (
	"sort"

	"github.com/cardano-wallet-scanner/internal/types"
)

// Categorizer evaluates an ordered rule list against a transaction and
// its asset flows. Evaluation stops at the first matching rule; with no
// match the action is ActionUnknown and the protocol is nil.
type Categorizer struct {
	rules []Rule
}

// NewCategorizer builds a categorizer from the given rules. The rules
// are stable-sorted by ascending priority, so rules sharing a priority
// keep their registration order.
func NewCategorizer(rules []Rule) *Categorizer {
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})
	return &Categorizer{rules: sorted}
}

// NewDefaultCategorizer builds a categorizer with the default rule set.
func NewDefaultCategorizer() *Categorizer {
	return NewCategorizer(DefaultRules())
}

// Categorize returns the action of the first matching rule.
func (c *Categorizer) Categorize(tx *types.RawTransaction, flows []types.WalletAssetFlow) types.TransactionAction {
	action, _ := c.Evaluate(tx, flows)
	return action
}

// DetectProtocol returns the protocol of the first matching rule, or nil.
func (c *Categorizer) DetectProtocol(tx *types.RawTransaction, flows []types.WalletAssetFlow) *types.Protocol {
	_, protocol := c.Evaluate(tx, flows)
	return protocol
}

// Evaluate runs the rule list once and returns both producers' results
// for the first matching rule.
func (c *Categorizer) Evaluate(tx *types.RawTransaction, flows []types.WalletAssetFlow) (types.TransactionAction, *types.Protocol) {
	for _, rule := range c.rules {
		if rule.Matches(tx, flows) {
			action := rule.Action(tx, flows)
			var protocol *types.Protocol
			if rule.Protocol != nil {
				protocol = rule.Protocol(tx, flows)
			}
			return action, protocol
		}
	}
	return types.ActionUnknown, nil
}

// Rules returns the evaluation-ordered rule list, mainly for tests and
// introspection endpoints.
func (c *Categorizer) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}
