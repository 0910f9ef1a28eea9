package bank

import (
	"errors"
	"fmt"

	"delphor/crypto"
	"delphor/native/common"
)

var (
	errNilState = errors.New("bank: state not configured")

	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrUnauthorized      = errors.New("bank: authority is neither owner nor delegate")
	ErrInvalidAmount     = errors.New("bank: amount must be positive")
	ErrInvalidAccount    = errors.New("bank: invalid account")
	ErrMintMismatch      = errors.New("bank: accounts hold different mints")
)

var custodyAuthority = crypto.DeriveAddress(crypto.AccountPrefix, []byte("bank/custody"))

// Account is one holder's balance of one mint.
type Account struct {
	Owner crypto.Address
	Mint  crypto.Address
}

func (a Account) valid() bool {
	return !a.Owner.IsZero() && !a.Mint.IsZero()
}

func (a Account) String() string {
	return a.Owner.String() + "/" + a.Mint.String()
}

// CustodyAuthority owns every store account. It has no private key; only
// module code transfers out of custody.
func CustodyAuthority() crypto.Address {
	return custodyAuthority
}

// StoreAccount is the custody account pooling all vault deposits of mint.
func StoreAccount(mint crypto.Address) Account {
	return Account{Owner: custodyAuthority, Mint: mint}
}

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Ledger moves token balances between accounts. Each call is all-or-nothing
// when run against a state transaction.
type Ledger struct {
	state ledgerState
}

func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

func (l *Ledger) getUint(key []byte) (uint64, error) {
	var value uint64
	if _, err := l.state.KVGet(key, &value); err != nil {
		return 0, err
	}
	return value, nil
}

// Balance returns the amount held by acct.
func (l *Ledger) Balance(acct Account) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	if !acct.valid() {
		return 0, ErrInvalidAccount
	}
	return l.getUint(balanceKey(acct))
}

// Supply returns the total minted amount of mint.
func (l *Ledger) Supply(mint crypto.Address) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	return l.getUint(supplyKey(mint))
}

// Allowance returns how much delegate may still move out of owner's account.
func (l *Ledger) Allowance(acct Account, delegate crypto.Address) (uint64, error) {
	if l == nil || l.state == nil {
		return 0, errNilState
	}
	return l.getUint(allowanceKey(acct, delegate))
}

// Approve sets delegate's allowance on acct. Zero revokes it.
func (l *Ledger) Approve(acct Account, delegate crypto.Address, amount uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if !acct.valid() || delegate.IsZero() || delegate.Equal(acct.Owner) {
		return ErrInvalidAccount
	}
	return l.state.KVPut(allowanceKey(acct, delegate), amount)
}

// Mint credits newly issued tokens to acct. Callers gate who may mint.
func (l *Ledger) Mint(acct Account, amount uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if !acct.valid() {
		return ErrInvalidAccount
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	supply, err := l.getUint(supplyKey(acct.Mint))
	if err != nil {
		return err
	}
	if supply, err = common.CheckedAdd(supply, amount); err != nil {
		return fmt.Errorf("bank: supply: %w", err)
	}
	balance, err := l.getUint(balanceKey(acct))
	if err != nil {
		return err
	}
	if balance, err = common.CheckedAdd(balance, amount); err != nil {
		return fmt.Errorf("bank: balance: %w", err)
	}
	if err := l.state.KVPut(supplyKey(acct.Mint), supply); err != nil {
		return err
	}
	return l.state.KVPut(balanceKey(acct), balance)
}

// Transfer moves amount from one account to another. authority must own the
// source account or hold a sufficient allowance on it.
func (l *Ledger) Transfer(from, to Account, authority crypto.Address, amount uint64) error {
	if l == nil || l.state == nil {
		return errNilState
	}
	if !from.valid() || !to.valid() {
		return ErrInvalidAccount
	}
	if !from.Mint.Equal(to.Mint) {
		return ErrMintMismatch
	}
	if amount == 0 {
		return ErrInvalidAmount
	}
	delegated := !authority.Equal(from.Owner)
	var allowance uint64
	if delegated {
		var err error
		if allowance, err = l.getUint(allowanceKey(from, authority)); err != nil {
			return err
		}
		if allowance < amount {
			return ErrUnauthorized
		}
	}
	fromBalance, err := l.getUint(balanceKey(from))
	if err != nil {
		return err
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientFunds, from, fromBalance, amount)
	}
	if from.Owner.Equal(to.Owner) {
		return nil
	}
	toBalance, err := l.getUint(balanceKey(to))
	if err != nil {
		return err
	}
	toBalance, err = common.CheckedAdd(toBalance, amount)
	if err != nil {
		return fmt.Errorf("bank: credit: %w", err)
	}
	if delegated {
		if err := l.state.KVPut(allowanceKey(from, authority), allowance-amount); err != nil {
			return err
		}
	}
	if err := l.state.KVPut(balanceKey(from), fromBalance-amount); err != nil {
		return err
	}
	return l.state.KVPut(balanceKey(to), toBalance)
}
