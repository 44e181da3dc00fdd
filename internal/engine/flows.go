package engine

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/cardano-wallet-scanner/internal/errors"
	"github.com/cardano-wallet-scanner/internal/types"
)

// CalculateAssetFlows computes the per-unit net quantity change
// attributable to the wallet: wallet-owned input quantities are
// subtracted, wallet-owned output quantities added. Units that net to
// exactly zero are dropped; they represent pass-through assets, not a
// flow. All arithmetic is exact-precision big integer arithmetic.
//
// Flows are returned in a deterministic order: lovelace first, then
// remaining units sorted lexicographically.
func CalculateAssetFlows(filtered *types.WalletFilterResult) ([]types.WalletAssetFlow, error) {
	net := make(map[string]*big.Int)

	for _, in := range filtered.WalletInputs {
		for _, amt := range in.Input.Amounts {
			qty, err := parseQuantity(amt.Quantity)
			if err != nil {
				return nil, errors.NewValidationError(
					fmt.Sprintf("invalid input quantity for unit %s", amt.Unit), err)
			}
			acc := accumulate(net, amt.Unit)
			acc.Sub(acc, qty)
		}
	}

	for _, out := range filtered.WalletOutputs {
		for _, amt := range out.Output.Amounts {
			qty, err := parseQuantity(amt.Quantity)
			if err != nil {
				return nil, errors.NewValidationError(
					fmt.Sprintf("invalid output quantity for unit %s", amt.Unit), err)
			}
			acc := accumulate(net, amt.Unit)
			acc.Add(acc, qty)
		}
	}

	flows := make([]types.WalletAssetFlow, 0, len(net))
	for unit, qty := range net {
		if qty.Sign() == 0 {
			continue
		}
		direction := types.DirectionIn
		if qty.Sign() < 0 {
			direction = types.DirectionOut
		}
		flows = append(flows, types.WalletAssetFlow{
			Unit:        unit,
			NetQuantity: qty,
			Direction:   direction,
		})
	}

	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Unit == types.LovelaceUnit {
			return true
		}
		if flows[j].Unit == types.LovelaceUnit {
			return false
		}
		return flows[i].Unit < flows[j].Unit
	})

	return flows, nil
}

// CalculateNetADAChange returns the lovelace entry's net quantity, or
// zero if ADA was not touched. The returned value is a copy.
func CalculateNetADAChange(flows []types.WalletAssetFlow) *big.Int {
	for _, f := range flows {
		if f.Unit == types.LovelaceUnit {
			return new(big.Int).Set(f.NetQuantity)
		}
	}
	return big.NewInt(0)
}

func accumulate(net map[string]*big.Int, unit string) *big.Int {
	if v, ok := net[unit]; ok {
		return v
	}
	v := big.NewInt(0)
	net[unit] = v
	return v
}

// parseQuantity parses a base-10 unsigned integer quantity string.
// Floating point never enters the pipeline.
func parseQuantity(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty quantity")
	}
	qty, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("quantity %q is not a base-10 integer", s)
	}
	if qty.Sign() < 0 {
		return nil, fmt.Errorf("quantity %q is negative", s)
	}
	return qty, nil
}
