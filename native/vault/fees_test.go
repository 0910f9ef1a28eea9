package vault

import (
	"errors"
	"testing"
)

func holding(amount, mid uint64, buyFee, sellFee uint16) Holding {
	return Holding{
		Price: 1_000000000,
		Slot:  CoinVault{Amount: amount, Mid: mid, BuyFee: buyFee, SellFee: sellFee},
	}
}

func TestFixedFeesUseSlotConfiguration(t *testing.T) {
	portfolio := Portfolio{holding(10, 0, 11, 12), holding(10, 0, 21, 22)}
	for _, vt := range []VaultType{LiquidityProvider{}, PortfolioManager{AutoFee: false}} {
		fees, err := FeeModel{}.Quote(vt, portfolio, 0, 1)
		if err != nil {
			t.Fatalf("%T: %v", vt, err)
		}
		if fees.Sell != 12 || fees.Buy != 21 {
			t.Fatalf("%T: unexpected fees %+v", vt, fees)
		}
	}
}

func TestDynamicFeesFavourRebalancing(t *testing.T) {
	// 75% / 25% against a 50/50 target.
	portfolio := Portfolio{holding(750, 5000, 0, 0), holding(250, 5000, 0, 0)}
	model := FeeModel{}
	auto := PortfolioManager{AutoFee: true, Tolerance: DefaultTolerance}

	rebalance, err := model.Quote(auto, portfolio, 1, 0)
	if err != nil {
		t.Fatalf("rebalance quote: %v", err)
	}
	if rebalance.Sell != FeeFloorBps || rebalance.Buy != FeeFloorBps {
		t.Fatalf("rebalancing legs should pay the floor: %+v", rebalance)
	}

	adverse, err := model.Quote(auto, portfolio, 0, 1)
	if err != nil {
		t.Fatalf("adverse quote: %v", err)
	}
	// Receiving asset 0 at 7500 vs 5000: proximity 6666, surcharge 8.
	// Providing asset 1 at 2500 vs 5000: proximity 5000, surcharge 12.
	if adverse.Sell != 13 || adverse.Buy != 17 {
		t.Fatalf("unexpected adverse fees %+v", adverse)
	}

	balanced := Portfolio{holding(500, 5000, 0, 0), holding(500, 5000, 0, 0)}
	atTarget, err := model.Quote(auto, balanced, 0, 1)
	if err != nil {
		t.Fatalf("balanced quote: %v", err)
	}
	if atTarget.Sell != FeeFloorBps || atTarget.Buy != FeeFloorBps {
		t.Fatalf("fees at target should sit at the floor: %+v", atTarget)
	}

	untargeted := Portfolio{holding(1000, 0, 0, 0), holding(0, 0, 0, 0)}
	worst, err := model.Quote(auto, untargeted, 0, 1)
	if err != nil {
		t.Fatalf("untargeted quote: %v", err)
	}
	if worst.Sell != FeeFloorBps+FeeRangeBps {
		t.Fatalf("receiving an untargeted asset should pay the ceiling: %+v", worst)
	}
}

func TestFeeQuoteValidatesIndexes(t *testing.T) {
	if _, err := (FeeModel{}).Quote(LiquidityProvider{}, Portfolio{holding(1, 0, 0, 0)}, 0, 1); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected invalid request, got %v", err)
	}
	portfolio := Portfolio{holding(1, 0, 0, 10_001), holding(1, 0, 0, 0)}
	if _, err := (FeeModel{}).Quote(LiquidityProvider{}, portfolio, 0, 1); !errors.Is(err, ErrFeeOutOfRange) {
		t.Fatalf("expected fee out of range, got %v", err)
	}
}
