package events

import (
	"strconv"
	"strings"

	"delphor/core/types"
	"delphor/crypto"
)

const (
	TypeTokenAdded        = "registry.token_added"
	TypeAdminRotated      = "registry.admin_rotated"
	TypePriceUpdated      = "oracle.price_updated"
	TypeObservationPosted = "oracle.observation_posted"
	TypeVaultInitialized  = "vault.initialized"
	TypeSlotUpdated       = "vault.slot_updated"
	TypeDeposit           = "vault.deposit"
	TypeWithdraw          = "vault.withdraw"
	TypeSwap              = "vault.swap"
	TypeMint              = "bank.mint"
	TypeApproval          = "bank.approval"
	TypeModulePaused      = "admin.module_paused"
)

type TokenAdded struct {
	Position uint8
	Mint     crypto.Address
	Symbol   string
	Decimals uint8
}

func (TokenAdded) EventType() string { return TypeTokenAdded }

func (e TokenAdded) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenAdded,
		Attributes: map[string]string{
			"position": strconv.Itoa(int(e.Position)),
			"mint":     e.Mint.String(),
			"symbol":   normalizeAsset(e.Symbol),
			"decimals": strconv.Itoa(int(e.Decimals)),
		},
	}
}

type AdminRotated struct {
	Previous crypto.Address
	Next     crypto.Address
}

func (AdminRotated) EventType() string { return TypeAdminRotated }

func (e AdminRotated) Event() *types.Event {
	return &types.Event{
		Type: TypeAdminRotated,
		Attributes: map[string]string{
			"previous": e.Previous.String(),
			"next":     e.Next.String(),
		},
	}
}

type PriceUpdated struct {
	Symbol   string
	Price    uint64
	Decimals uint8
	CV       uint64
	Sources  []string
}

func (PriceUpdated) EventType() string { return TypePriceUpdated }

func (e PriceUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypePriceUpdated,
		Attributes: map[string]string{
			"symbol":   normalizeAsset(e.Symbol),
			"price":    formatUint(e.Price),
			"decimals": strconv.Itoa(int(e.Decimals)),
			"cv":       formatUint(e.CV),
			"sources":  strings.Join(e.Sources, ","),
		},
	}
}

type ObservationPosted struct {
	Symbol    string
	Authority crypto.Address
	Readings  int
}

func (ObservationPosted) EventType() string { return TypeObservationPosted }

func (e ObservationPosted) Event() *types.Event {
	return &types.Event{
		Type: TypeObservationPosted,
		Attributes: map[string]string{
			"symbol":    normalizeAsset(e.Symbol),
			"authority": e.Authority.String(),
			"readings":  strconv.Itoa(e.Readings),
		},
	}
}

type VaultInitialized struct {
	Owner crypto.Address
	Kind  string
}

func (VaultInitialized) EventType() string { return TypeVaultInitialized }

func (e VaultInitialized) Event() *types.Event {
	return &types.Event{
		Type: TypeVaultInitialized,
		Attributes: map[string]string{
			"owner": e.Owner.String(),
			"kind":  e.Kind,
		},
	}
}

type SlotUpdated struct {
	Owner  crypto.Address
	Kind   string
	Symbol string
	Min    uint64
	Max    uint64
}

func (SlotUpdated) EventType() string { return TypeSlotUpdated }

func (e SlotUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeSlotUpdated,
		Attributes: map[string]string{
			"owner":  e.Owner.String(),
			"kind":   e.Kind,
			"symbol": normalizeAsset(e.Symbol),
			"min":    formatUint(e.Min),
			"max":    formatUint(e.Max),
		},
	}
}

// Custody covers deposits and withdrawals.
type Custody struct {
	Withdrawal bool
	Owner      crypto.Address
	Kind       string
	Symbol     string
	Amount     uint64
	Balance    uint64
}

func (e Custody) EventType() string {
	if e.Withdrawal {
		return TypeWithdraw
	}
	return TypeDeposit
}

func (e Custody) Event() *types.Event {
	return &types.Event{
		Type: e.EventType(),
		Attributes: map[string]string{
			"owner":   e.Owner.String(),
			"kind":    e.Kind,
			"symbol":  normalizeAsset(e.Symbol),
			"amount":  formatUint(e.Amount),
			"balance": formatUint(e.Balance),
		},
	}
}

type Swap struct {
	Trader  crypto.Address
	Owner   crypto.Address
	Kind    string
	Sell    string
	Buy     string
	Sold    uint64
	Receive uint64
	SellFee uint16
	BuyFee  uint16
}

func (Swap) EventType() string { return TypeSwap }

func (e Swap) Event() *types.Event {
	return &types.Event{
		Type: TypeSwap,
		Attributes: map[string]string{
			"trader":  e.Trader.String(),
			"owner":   e.Owner.String(),
			"kind":    e.Kind,
			"sell":    normalizeAsset(e.Sell),
			"buy":     normalizeAsset(e.Buy),
			"sold":    formatUint(e.Sold),
			"receive": formatUint(e.Receive),
			"sellFee": strconv.Itoa(int(e.SellFee)),
			"buyFee":  strconv.Itoa(int(e.BuyFee)),
		},
	}
}

type Mint struct {
	To     crypto.Address
	Symbol string
	Amount uint64
}

func (Mint) EventType() string { return TypeMint }

func (e Mint) Event() *types.Event {
	return &types.Event{
		Type: TypeMint,
		Attributes: map[string]string{
			"to":     e.To.String(),
			"symbol": normalizeAsset(e.Symbol),
			"amount": formatUint(e.Amount),
		},
	}
}

type Approval struct {
	Owner    crypto.Address
	Delegate crypto.Address
	Symbol   string
	Amount   uint64
}

func (Approval) EventType() string { return TypeApproval }

func (e Approval) Event() *types.Event {
	return &types.Event{
		Type: TypeApproval,
		Attributes: map[string]string{
			"owner":    e.Owner.String(),
			"delegate": e.Delegate.String(),
			"symbol":   normalizeAsset(e.Symbol),
			"amount":   formatUint(e.Amount),
		},
	}
}

type ModulePaused struct {
	Module string
	Paused bool
}

func (ModulePaused) EventType() string { return TypeModulePaused }

func (e ModulePaused) Event() *types.Event {
	return &types.Event{
		Type: TypeModulePaused,
		Attributes: map[string]string{
			"module": strings.ToLower(strings.TrimSpace(e.Module)),
			"paused": strconv.FormatBool(e.Paused),
		},
	}
}
