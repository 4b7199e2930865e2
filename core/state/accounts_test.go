package state

import (
	"math"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"accesspay/core/events"
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	mint  = common.HexToAddress("0x5050000000000000000000000000000000000003")
)

func TestNativeTransfer(t *testing.T) {
	mgr, _ := newTestManager(t)
	rec := &events.Recorder{}
	mgr.SetEmitter(rec)

	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		if err := tx.CreditNative(alice, 100); err != nil {
			return err
		}
		return tx.TransferNative(alice, bob, 40)
	}))

	require.NoError(t, mgr.View(func(tx *Tx) error {
		a, err := tx.NativeBalance(alice)
		require.NoError(t, err)
		b, err := tx.NativeBalance(bob)
		require.NoError(t, err)
		require.Equal(t, uint64(60), a)
		require.Equal(t, uint64(40), b)
		return nil
	}))
	transfers := rec.OfType(events.TypeTransfer)
	require.Len(t, transfers, 1)
	require.Equal(t, "40", transfers[0].Attributes["amount"])
}

func TestNativeDebitInsufficient(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Atomic(func(tx *Tx) error {
		if err := tx.CreditNative(alice, 10); err != nil {
			return err
		}
		return tx.TransferNative(alice, bob, 11)
	})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	require.NoError(t, mgr.View(func(tx *Tx) error {
		a, err := tx.NativeBalance(alice)
		require.Zero(t, a)
		return err
	}))
}

func TestNativeCreditOverflow(t *testing.T) {
	mgr, _ := newTestManager(t)
	err := mgr.Atomic(func(tx *Tx) error {
		if err := tx.CreditNative(alice, math.MaxUint64); err != nil {
			return err
		}
		return tx.CreditNative(alice, 1)
	})
	require.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestTokenAccountLifecycle(t *testing.T) {
	mgr, _ := newTestManager(t)
	src := common.HexToAddress("0x0100")
	dst := common.HexToAddress("0x0200")

	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		if _, err := tx.OpenTokenAccount(src, mint, alice); err != nil {
			return err
		}
		if _, err := tx.OpenTokenAccount(dst, mint, bob); err != nil {
			return err
		}
		if err := tx.MintTokens(src, 500); err != nil {
			return err
		}
		return tx.TransferTokens(src, dst, 200)
	}))

	require.NoError(t, mgr.View(func(tx *Tx) error {
		acc, ok, err := tx.TokenAccount(dst)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(200), acc.Amount)
		require.Equal(t, bob, acc.Owner)
		return nil
	}))

	err := mgr.Atomic(func(tx *Tx) error {
		_, err := tx.OpenTokenAccount(src, mint, bob)
		return err
	})
	require.ErrorIs(t, err, ErrTokenAccountExists)

	err = mgr.Atomic(func(tx *Tx) error { return tx.CloseTokenAccount(src) })
	require.ErrorIs(t, err, ErrTokenAccountNotEmpty)

	require.NoError(t, mgr.Atomic(func(tx *Tx) error {
		if err := tx.TransferTokens(dst, src, 200); err != nil {
			return err
		}
		return tx.TransferTokens(src, dst, 500)
	}))
}

func TestTransferTokensRejectsMintMismatch(t *testing.T) {
	mgr, _ := newTestManager(t)
	other := common.HexToAddress("0x0999")
	err := mgr.Atomic(func(tx *Tx) error {
		if _, err := tx.OpenTokenAccount(common.HexToAddress("0x01"), mint, alice); err != nil {
			return err
		}
		if _, err := tx.OpenTokenAccount(common.HexToAddress("0x02"), other, bob); err != nil {
			return err
		}
		if err := tx.MintTokens(common.HexToAddress("0x01"), 5); err != nil {
			return err
		}
		return tx.TransferTokens(common.HexToAddress("0x01"), common.HexToAddress("0x02"), 5)
	})
	require.ErrorIs(t, err, ErrMintMismatch)

	err = mgr.Atomic(func(tx *Tx) error {
		return tx.TransferTokens(common.HexToAddress("0x0a"), common.HexToAddress("0x0b"), 1)
	})
	require.ErrorIs(t, err, ErrTokenAccountNotFound)
}
