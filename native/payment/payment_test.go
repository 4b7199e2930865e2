package payment

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
	"accesspay/storage"
)

var (
	tokenProgram = common.HexToAddress("0x70ce000000000000000000000000000000000001")
	mint         = common.HexToAddress("0x3170000000000000000000000000000000000002")
	payer        = common.HexToAddress("0x1111111111111111111111111111111111111111")
	payee        = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newManager(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return state.NewManager(db)
}

func TestParseMedium(t *testing.T) {
	m, err := ParseMedium("native")
	if err != nil || !m.IsNative() {
		t.Fatalf("expected native medium, got %v %v", m, err)
	}
	m, err = ParseMedium("token:" + mint.Hex())
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if m != Token(mint) {
		t.Fatalf("unexpected medium %v", m)
	}
	if m.String() != "token:"+"0x3170000000000000000000000000000000000002" {
		t.Fatalf("unexpected string %q", m.String())
	}
	if _, err := ParseMedium("token:zz"); err == nil {
		t.Fatalf("expected malformed mint to fail")
	}
	if err := (Medium{Kind: KindToken}).Validate(); err == nil {
		t.Fatalf("token medium without mint must be invalid")
	}
}

func TestRouterRejectsWrongTokenProgram(t *testing.T) {
	r := NewRouter(tokenProgram)
	if _, err := r.Rail(Token(mint), common.Address{}); !errors.Is(err, ErrInvalidVault) {
		t.Fatalf("expected ErrInvalidVault, got %v", err)
	}
	if _, err := r.Rail(Token(mint), tokenProgram); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Rail(Native(), common.Address{}); err != nil {
		t.Fatalf("native rail ignores program: %v", err)
	}
}

func TestNativeRailTransfer(t *testing.T) {
	mgr := newManager(t)
	rail, _ := NewRouter(tokenProgram).Rail(Native(), common.Address{})
	err := mgr.Atomic(func(tx *state.Tx) error {
		if err := tx.CreditNative(payer, 10); err != nil {
			return err
		}
		return rail.Transfer(tx, Endpoint{Owner: payer}, Endpoint{Owner: payee}, 11)
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	err = mgr.Atomic(func(tx *state.Tx) error {
		if err := tx.CreditNative(payer, 10); err != nil {
			return err
		}
		if err := rail.Transfer(tx, Endpoint{Owner: payer}, Endpoint{Owner: payee}, 0); err != nil {
			return err
		}
		return rail.Transfer(tx, Endpoint{Owner: payer}, Endpoint{Owner: payee}, 10)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		bal, _ := Balance(tx, rail, Endpoint{Owner: payee})
		if bal != 10 {
			t.Fatalf("expected payee balance 10, got %d", bal)
		}
		return nil
	})
}

func TestTokenRailValidatesAccounts(t *testing.T) {
	mgr := newManager(t)
	rail, _ := NewRouter(tokenProgram).Rail(Token(mint), tokenProgram)
	payerAcc := AssociatedAccount(payer, mint)
	payeeAcc := AssociatedAccount(payee, mint)
	otherMint := common.HexToAddress("0x99")
	strayAcc := AssociatedAccount(payee, otherMint)

	if err := mgr.Atomic(func(tx *state.Tx) error {
		if _, err := tx.OpenTokenAccount(payerAcc, mint, payer); err != nil {
			return err
		}
		if _, err := tx.OpenTokenAccount(payeeAcc, mint, payee); err != nil {
			return err
		}
		if _, err := tx.OpenTokenAccount(strayAcc, otherMint, payee); err != nil {
			return err
		}
		return tx.MintTokens(payerAcc, 50)
	}); err != nil {
		t.Fatalf("setup: %v", err)
	}

	cases := map[string]struct {
		from, to Endpoint
	}{
		"missing account": {Endpoint{Owner: payer}, Endpoint{Owner: payee, TokenAccount: payeeAcc}},
		"wrong owner":     {Endpoint{Owner: payee, TokenAccount: payerAcc}, Endpoint{Owner: payee, TokenAccount: payeeAcc}},
		"wrong mint":      {Endpoint{Owner: payer, TokenAccount: payerAcc}, Endpoint{Owner: payee, TokenAccount: strayAcc}},
		"unknown account": {Endpoint{Owner: payer, TokenAccount: payerAcc}, Endpoint{Owner: payee, TokenAccount: common.HexToAddress("0x42")}},
	}
	for name, tc := range cases {
		err := mgr.Atomic(func(tx *state.Tx) error {
			return rail.Transfer(tx, tc.from, tc.to, 5)
		})
		if !errors.Is(err, ErrInvalidVault) {
			t.Fatalf("%s: expected ErrInvalidVault, got %v", name, err)
		}
	}

	if err := mgr.Atomic(func(tx *state.Tx) error {
		return rail.Transfer(tx, Endpoint{Owner: payer, TokenAccount: payerAcc}, Endpoint{Owner: payee, TokenAccount: payeeAcc}, 20)
	}); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	_ = mgr.View(func(tx *state.Tx) error {
		bal, err := Balance(tx, rail, Endpoint{Owner: payee, TokenAccount: payeeAcc})
		if err != nil || bal != 20 {
			t.Fatalf("expected payee token balance 20, got %d (%v)", bal, err)
		}
		return nil
	})
}
