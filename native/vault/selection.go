package vault

import (
	"errors"
	"sort"

	"delphor/crypto"
	"delphor/native/oracle"
	"delphor/native/registry"
)

// Candidate is a vault able to fill a swap, with its quote.
type Candidate struct {
	Owner   crypto.Address
	Kind    Kind
	Receive uint64
	Fees    Fees
	Score   uint64
}

// Counterparties returns up to limit vaults that can fill a swap of amount
// from sell to buy with at least minReceive. Cheaper vaults come first; among
// equal fees the larger, longer-idle buy slot wins.
func (e *Engine) Counterparties(sell, buy uint8, amount, minReceive uint64, limit int) ([]Candidate, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	refs, err := e.Owners()
	if err != nil {
		return nil, err
	}
	reg, err := e.registry.Load()
	if err != nil {
		return nil, err
	}
	if _, ok := reg.Token(sell); !ok {
		return nil, registry.ErrInvalidPosition
	}
	if _, ok := reg.Token(buy); !ok {
		return nil, registry.ErrInvalidPosition
	}
	now := e.now()
	out := make([]Candidate, 0, len(refs))
	for _, ref := range refs {
		plan, err := e.plan(ref.Owner, ref.Kind, sell, buy, amount)
		if err != nil {
			if isUnfillable(err) {
				continue
			}
			return nil, err
		}
		if plan.result.Receive < minReceive {
			continue
		}
		idle := uint64(0)
		if now > plan.buySlot.Timestamp {
			idle = now - plan.buySlot.Timestamp
		}
		out = append(out, Candidate{
			Owner:   ref.Owner,
			Kind:    ref.Kind,
			Receive: plan.result.Receive,
			Fees:    plan.result.Fees,
			Score:   saturatingAdd(plan.buySlot.Amount, idle),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		fi := uint32(out[i].Fees.Buy) + uint32(out[i].Fees.Sell)
		fj := uint32(out[j].Fees.Buy) + uint32(out[j].Fees.Sell)
		if fi != fj {
			return fi < fj
		}
		return out[i].Score > out[j].Score
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// isUnfillable reports errors that disqualify one vault without failing the search.
func isUnfillable(err error) bool {
	for _, target := range []error{
		ErrVaultNotFound,
		ErrProvideDisabled,
		ErrReceiveDisabled,
		ErrLimitPrice,
		ErrInsufficientAmount,
		ErrVaultInsufficientAmount,
		ErrAboveMax,
		ErrBelowMin,
		oracle.ErrPriceUnavailable,
		oracle.ErrPriceStale,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return ^uint64(0)
}
