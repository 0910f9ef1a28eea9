package bank

import (
	"errors"
	"testing"

	"delphor/core/state"
	"delphor/crypto"
	"delphor/storage"
)

func addr(prefix crypto.AddressPrefix, seed byte) crypto.Address {
	b := make([]byte, crypto.AddressLength)
	b[0] = seed
	b[19] = seed
	return crypto.NewAddress(prefix, b)
}

func TestTransferByOwnerAndDelegate(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	mint := addr(crypto.MintPrefix, 1)
	alice := Account{Owner: addr(crypto.AccountPrefix, 1), Mint: mint}
	bob := Account{Owner: addr(crypto.AccountPrefix, 2), Mint: mint}
	delegate := addr(crypto.AccountPrefix, 3)

	if err := ledger.Mint(alice, 100); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, alice.Owner, 40); err != nil {
		t.Fatalf("owner transfer: %v", err)
	}
	if err := ledger.Transfer(alice, bob, delegate, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := ledger.Approve(alice, delegate, 15); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := ledger.Transfer(alice, bob, delegate, 10); err != nil {
		t.Fatalf("delegate transfer: %v", err)
	}
	if remaining, _ := ledger.Allowance(alice, delegate); remaining != 5 {
		t.Fatalf("expected allowance 5, got %d", remaining)
	}
	if err := ledger.Transfer(alice, bob, delegate, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("allowance overdraw should fail, got %v", err)
	}

	aliceBal, _ := ledger.Balance(alice)
	bobBal, _ := ledger.Balance(bob)
	supply, _ := ledger.Supply(mint)
	if aliceBal != 50 || bobBal != 50 || supply != aliceBal+bobBal {
		t.Fatalf("unexpected balances alice=%d bob=%d supply=%d", aliceBal, bobBal, supply)
	}
}

func TestTransferRejections(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	mint := addr(crypto.MintPrefix, 1)
	other := addr(crypto.MintPrefix, 2)
	alice := Account{Owner: addr(crypto.AccountPrefix, 1), Mint: mint}
	bob := Account{Owner: addr(crypto.AccountPrefix, 2), Mint: mint}
	if err := ledger.Mint(alice, 10); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := ledger.Transfer(alice, bob, alice.Owner, 11); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if err := ledger.Transfer(alice, Account{Owner: bob.Owner, Mint: other}, alice.Owner, 1); !errors.Is(err, ErrMintMismatch) {
		t.Fatalf("expected mint mismatch, got %v", err)
	}
	if err := ledger.Transfer(alice, bob, alice.Owner, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if err := ledger.Transfer(alice, Account{Mint: mint}, alice.Owner, 1); !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected invalid account, got %v", err)
	}
	if bal, _ := ledger.Balance(alice); bal != 10 {
		t.Fatalf("balance changed after rejected transfers: %d", bal)
	}
}

func TestStoreAccountOnlyMovedByCustody(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	mint := addr(crypto.MintPrefix, 1)
	alice := Account{Owner: addr(crypto.AccountPrefix, 1), Mint: mint}
	store := StoreAccount(mint)
	if err := ledger.Mint(alice, 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, store, alice.Owner, 10); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := ledger.Transfer(store, alice, alice.Owner, 10); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized custody withdrawal, got %v", err)
	}
	if err := ledger.Transfer(store, alice, CustodyAuthority(), 10); err != nil {
		t.Fatalf("custody withdrawal: %v", err)
	}
}
