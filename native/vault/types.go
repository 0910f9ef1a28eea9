package vault

import (
	"fmt"
	"math"
	"strings"

	"delphor/crypto"
)

// Kind names a vault type for keys and transport. Each owner holds at most
// one vault per kind.
type Kind uint8

const (
	KindLiquidityProvider Kind = iota + 1
	KindPortfolioManager
)

func (k Kind) String() string {
	switch k {
	case KindLiquidityProvider:
		return "liquidity_provider"
	case KindPortfolioManager:
		return "portfolio_manager"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind accepts the transport names of the vault kinds.
func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "liquidity_provider", "lp":
		return KindLiquidityProvider, nil
	case "portfolio_manager", "pm", "portfolio":
		return KindPortfolioManager, nil
	default:
		return 0, fmt.Errorf("%w: unknown vault kind %q", ErrInvalidRequest, raw)
	}
}

// VaultType is the closed set of vault behaviours. Switches over it must
// handle every implementation.
type VaultType interface {
	Kind() Kind
	isVaultType()
}

// LiquidityProvider vaults quote with fixed per-slot fees and absolute bounds.
type LiquidityProvider struct{}

func (LiquidityProvider) Kind() Kind { return KindLiquidityProvider }
func (LiquidityProvider) isVaultType() {}

// PortfolioManager vaults track target weights. AutoFee derives fees from the
// distance to target and Tolerance (bps) sets the band around each target.
type PortfolioManager struct {
	AutoFee   bool
	Tolerance uint16
}

func (PortfolioManager) Kind() Kind { return KindPortfolioManager }
func (PortfolioManager) isVaultType() {}

const (
	// DefaultSlotFee is the buy and sell fee of a fresh slot, in bps.
	DefaultSlotFee = 10
	// DefaultTolerance is the band of a fresh portfolio manager vault, in bps.
	DefaultTolerance = 1000
)

// CoinVault is one owner's position in one token.
type CoinVault struct {
	Amount           uint64
	Min              uint64
	Max              uint64
	Mid              uint64
	BuyFee           uint16
	SellFee          uint16
	Timestamp        uint64
	ReceiveStatus    bool
	ProvideStatus    bool
	LimitPriceStatus bool
	LimitPrice       uint64
}

// DefaultSlot returns the slot a vault of type t starts with for every token.
func DefaultSlot(t VaultType) CoinVault {
	slot := CoinVault{
		Max:     math.MaxUint64,
		BuyFee:  DefaultSlotFee,
		SellFee: DefaultSlotFee,
	}
	switch t.(type) {
	case LiquidityProvider:
	case PortfolioManager:
		slot.ReceiveStatus = true
		slot.ProvideStatus = true
	}
	return slot
}

// UserVault is an owner's vault with its slots keyed by mint.
type UserVault struct {
	Owner crypto.Address
	Type  VaultType
	Slots map[string]CoinVault
}

// Slot returns the slot for mint, or the type's default when none was stored.
func (v *UserVault) Slot(mint crypto.Address) CoinVault {
	if slot, ok := v.Slots[mint.Key()]; ok {
		return slot
	}
	return DefaultSlot(v.Type)
}

type storedHeader struct {
	Owner     []byte
	Kind      uint8
	AutoFee   bool
	Tolerance uint16
	Created   uint64
}

func encodeType(t VaultType) (kind uint8, autoFee bool, tolerance uint16) {
	switch v := t.(type) {
	case LiquidityProvider:
		return uint8(KindLiquidityProvider), false, 0
	case PortfolioManager:
		return uint8(KindPortfolioManager), v.AutoFee, v.Tolerance
	}
	return 0, false, 0
}

func (h storedHeader) vaultType() (VaultType, error) {
	switch Kind(h.Kind) {
	case KindLiquidityProvider:
		return LiquidityProvider{}, nil
	case KindPortfolioManager:
		return PortfolioManager{AutoFee: h.AutoFee, Tolerance: h.Tolerance}, nil
	default:
		return nil, fmt.Errorf("vault: corrupt header kind %d", h.Kind)
	}
}
