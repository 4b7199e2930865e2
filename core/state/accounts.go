package state

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/events"
	"accesspay/core/types"
)

var (
	ErrInsufficientBalance  = errors.New("state: insufficient balance")
	ErrBalanceOverflow      = errors.New("state: balance overflow")
	ErrTokenAccountNotFound = errors.New("state: token account not found")
	ErrTokenAccountExists   = errors.New("state: token account already exists")
	ErrTokenAccountNotEmpty = errors.New("state: token account not empty")
	ErrMintMismatch         = errors.New("state: token mint mismatch")
)

const nativeMediumLabel = "native"

func nativeKey(addr common.Address) []byte { return Key("native:", addr.Bytes()) }

func tokenAccountKey(addr common.Address) []byte { return Key("token-account:", addr.Bytes()) }

func addChecked(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrBalanceOverflow
	}
	return sum, nil
}

// NativeBalance returns the native currency balance held by addr.
func (tx *Tx) NativeBalance(addr common.Address) (uint64, error) {
	acc := types.Account{}
	if _, err := tx.GetRLP(nativeKey(addr), &acc); err != nil {
		return 0, err
	}
	return acc.Native, nil
}

func (tx *Tx) putNative(addr common.Address, balance uint64) error {
	if balance == 0 {
		return tx.Delete(nativeKey(addr))
	}
	return tx.PutRLP(nativeKey(addr), &types.Account{Address: addr, Native: balance})
}

// CreditNative adds amount to the native balance of addr.
func (tx *Tx) CreditNative(addr common.Address, amount uint64) error {
	current, err := tx.NativeBalance(addr)
	if err != nil {
		return err
	}
	next, err := addChecked(current, amount)
	if err != nil {
		return fmt.Errorf("%w: credit %d to %s", err, amount, addr.Hex())
	}
	return tx.putNative(addr, next)
}

// DebitNative removes amount from the native balance of addr.
func (tx *Tx) DebitNative(addr common.Address, amount uint64) error {
	current, err := tx.NativeBalance(addr)
	if err != nil {
		return err
	}
	if current < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, addr.Hex(), current, amount)
	}
	return tx.putNative(addr, current-amount)
}

// TransferNative moves amount of native currency between two addresses.
// Zero-amount transfers are skipped.
func (tx *Tx) TransferNative(from, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.DebitNative(from, amount); err != nil {
		return err
	}
	if err := tx.CreditNative(to, amount); err != nil {
		return err
	}
	tx.Emit(events.Transfer{Medium: nativeMediumLabel, From: from, To: to, Amount: amount}.Event())
	return nil
}

// TokenAccount loads the token account stored at addr.
func (tx *Tx) TokenAccount(addr common.Address) (*types.TokenAccount, bool, error) {
	acc := &types.TokenAccount{}
	ok, err := tx.GetRLP(tokenAccountKey(addr), acc)
	if err != nil || !ok {
		return nil, false, err
	}
	return acc, true, nil
}

func (tx *Tx) putTokenAccount(acc *types.TokenAccount) error {
	return tx.PutRLP(tokenAccountKey(acc.Address), acc)
}

// OpenTokenAccount creates an empty token account for mint owned by owner.
// Reopening an existing account with the same mint and owner is a no-op.
func (tx *Tx) OpenTokenAccount(addr, mint, owner common.Address) (*types.TokenAccount, error) {
	existing, ok, err := tx.TokenAccount(addr)
	if err != nil {
		return nil, err
	}
	if ok {
		if existing.Mint != mint || existing.Owner != owner {
			return nil, fmt.Errorf("%w: %s", ErrTokenAccountExists, addr.Hex())
		}
		return existing, nil
	}
	acc := &types.TokenAccount{Address: addr, Mint: mint, Owner: owner}
	if err := tx.putTokenAccount(acc); err != nil {
		return nil, err
	}
	return acc.Clone(), nil
}

// MintTokens credits newly issued tokens to an existing token account.
func (tx *Tx) MintTokens(addr common.Address, amount uint64) error {
	acc, ok, err := tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenAccountNotFound, addr.Hex())
	}
	next, err := addChecked(acc.Amount, amount)
	if err != nil {
		return err
	}
	acc.Amount = next
	return tx.putTokenAccount(acc)
}

// TransferTokens moves amount between two token accounts of the same mint.
// Zero-amount transfers are skipped.
func (tx *Tx) TransferTokens(from, to common.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	src, ok, err := tx.TokenAccount(from)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenAccountNotFound, from.Hex())
	}
	dst, ok, err := tx.TokenAccount(to)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenAccountNotFound, to.Hex())
	}
	if src.Mint != dst.Mint {
		return fmt.Errorf("%w: %s -> %s", ErrMintMismatch, src.Mint.Hex(), dst.Mint.Hex())
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientBalance, from.Hex(), src.Amount, amount)
	}
	if from == to {
		return nil
	}
	next, err := addChecked(dst.Amount, amount)
	if err != nil {
		return err
	}
	src.Amount -= amount
	dst.Amount = next
	if err := tx.putTokenAccount(src); err != nil {
		return err
	}
	if err := tx.putTokenAccount(dst); err != nil {
		return err
	}
	tx.Emit(events.Transfer{Medium: src.Mint.Hex(), From: from, To: to, Amount: amount}.Event())
	return nil
}

// CloseTokenAccount removes an empty token account.
func (tx *Tx) CloseTokenAccount(addr common.Address) error {
	acc, ok, err := tx.TokenAccount(addr)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrTokenAccountNotFound, addr.Hex())
	}
	if acc.Amount != 0 {
		return fmt.Errorf("%w: %s holds %d", ErrTokenAccountNotEmpty, addr.Hex(), acc.Amount)
	}
	return tx.Delete(tokenAccountKey(addr))
}
