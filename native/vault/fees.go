package vault

import (
	"fmt"

	"github.com/holiman/uint256"

	"delphor/crypto"
	"delphor/native/common"
)

const (
	// FeeFloorBps is the dynamic fee of a leg that moves the vault toward target.
	FeeFloorBps = 5
	// FeeRangeBps is the dynamic surcharge at maximum deviation from target.
	FeeRangeBps = 25
)

// Holding is one registry position as the fee model and weight bounds see it.
// Price shares one scale across every holding of a portfolio.
type Holding struct {
	Mint     crypto.Address
	Decimals uint8
	Price    uint64
	Slot     CoinVault
}

// USDValue is price*amount/10^decimals.
func (h Holding) USDValue() (*uint256.Int, error) {
	if h.Slot.Amount == 0 || h.Price == 0 {
		return new(uint256.Int), nil
	}
	scale, err := common.Pow10(h.Decimals)
	if err != nil {
		return nil, err
	}
	return common.WideMulDiv(common.Wide(h.Price), common.Wide(h.Slot.Amount), scale)
}

// Portfolio is a vault's holdings indexed by registry position.
type Portfolio []Holding

// TotalUSD sums the value of every holding.
func (p Portfolio) TotalUSD() (*uint256.Int, error) {
	total := new(uint256.Int)
	for _, h := range p {
		value, err := h.USDValue()
		if err != nil {
			return nil, err
		}
		if _, overflow := total.AddOverflow(total, value); overflow {
			return nil, common.ErrOverflow
		}
	}
	return total, nil
}

// Weight returns value*BasisPoints/total, zero for an empty portfolio.
func Weight(value, total *uint256.Int) (uint64, error) {
	if total.IsZero() {
		return 0, nil
	}
	w, err := common.WideMulDiv(value, common.Wide(common.BasisPoints), total)
	if err != nil {
		return 0, err
	}
	return common.Narrow(w)
}

// Fees is the pair of fees applied to one swap, in bps.
type Fees struct {
	Sell uint16
	Buy  uint16
}

// FeeModel prices the two legs of a swap against a vault.
type FeeModel struct{}

// Quote returns the sell fee (on the asset the vault receives) and the buy
// fee (on the asset the vault provides).
func (FeeModel) Quote(t VaultType, portfolio Portfolio, sell, buy int) (Fees, error) {
	if sell < 0 || sell >= len(portfolio) || buy < 0 || buy >= len(portfolio) {
		return Fees{}, ErrInvalidRequest
	}
	fixed := Fees{Sell: portfolio[sell].Slot.SellFee, Buy: portfolio[buy].Slot.BuyFee}
	var fees Fees
	switch v := t.(type) {
	case LiquidityProvider:
		fees = fixed
	case PortfolioManager:
		if !v.AutoFee {
			fees = fixed
			break
		}
		dynamic, err := dynamicFees(portfolio, sell, buy)
		if err != nil {
			return Fees{}, err
		}
		fees = dynamic
	default:
		return Fees{}, fmt.Errorf("vault: unsupported vault type %T", t)
	}
	if fees.Sell > common.BasisPoints || fees.Buy > common.BasisPoints {
		return Fees{}, ErrFeeOutOfRange
	}
	return fees, nil
}

func dynamicFees(portfolio Portfolio, sell, buy int) (Fees, error) {
	total, err := portfolio.TotalUSD()
	if err != nil {
		return Fees{}, err
	}
	weightOf := func(i int) (uint64, error) {
		value, err := portfolio[i].USDValue()
		if err != nil {
			return 0, err
		}
		return Weight(value, total)
	}
	sellWeight, err := weightOf(sell)
	if err != nil {
		return Fees{}, err
	}
	buyWeight, err := weightOf(buy)
	if err != nil {
		return Fees{}, err
	}
	// Receiving an asset at or above its target pushes the vault further away,
	// as does providing an asset at or below its target.
	sellMid := portfolio[sell].Slot.Mid
	buyMid := portfolio[buy].Slot.Mid
	return Fees{
		Sell: legFee(sellWeight, sellMid, sellWeight >= sellMid),
		Buy:  legFee(buyWeight, buyMid, buyWeight <= buyMid),
	}, nil
}

// legFee charges the floor for rebalancing legs. Adverse legs pay the floor
// plus FeeRangeBps scaled by how far the weight sits from target, using the
// ratio min(weight, mid)/max(weight, mid).
func legFee(weight, mid uint64, adverse bool) uint16 {
	if !adverse {
		return FeeFloorBps
	}
	ratio := proximity(weight, mid)
	surcharge := (common.BasisPoints - ratio) * FeeRangeBps / common.BasisPoints
	return uint16(FeeFloorBps + surcharge)
}

// proximity is min(a,b)*BasisPoints/max(a,b); equal values are fully proximate.
func proximity(a, b uint64) uint64 {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	if hi == 0 {
		return common.BasisPoints
	}
	return lo * common.BasisPoints / hi
}
