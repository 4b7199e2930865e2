package payment

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
)

var (
	// ErrInvalidVault reports token accounts or a token program that do not
	// match the payment medium.
	ErrInvalidVault = errors.New("payment: invalid vault or token account")
	// ErrInsufficientFunds reports a source balance that cannot cover a transfer.
	ErrInsufficientFunds = errors.New("payment: insufficient funds")
)

// Endpoint names one side of a transfer. Owner is the identity holding or
// receiving the value; TokenAccount is only consulted by the token rail.
type Endpoint struct {
	Owner        common.Address
	TokenAccount common.Address
}

// Rail moves value of one medium between endpoints inside a ledger transaction.
type Rail interface {
	Medium() Medium
	// Check validates an endpoint without moving value.
	Check(tx *state.Tx, ep Endpoint) error
	Transfer(tx *state.Tx, from, to Endpoint, amount uint64) error
}

// Accounts carries the caller-supplied token plumbing for one operation.
type Accounts struct {
	Program common.Address
	// Source and Destination are the token accounts on each side of the
	// primary transfer of the operation (buyer/vault for a purchase).
	Source      common.Address
	Destination common.Address
}

// Router resolves the rail for a medium.
type Router struct {
	tokenProgram common.Address
}

// NewRouter returns a router that only accepts tokenProgram as the token
// transfer mechanism.
func NewRouter(tokenProgram common.Address) Router {
	return Router{tokenProgram: tokenProgram}
}

// TokenProgram returns the accepted token program identity.
func (r Router) TokenProgram() common.Address { return r.tokenProgram }

// Rail returns the transfer implementation for medium. Token media require the
// caller to name the configured token program.
func (r Router) Rail(medium Medium, program common.Address) (Rail, error) {
	if err := medium.Validate(); err != nil {
		return nil, err
	}
	if medium.IsNative() {
		return nativeRail{}, nil
	}
	if r.tokenProgram == (common.Address{}) || program != r.tokenProgram {
		return nil, fmt.Errorf("%w: token program %s", ErrInvalidVault, program.Hex())
	}
	return tokenRail{mint: medium.Mint}, nil
}

type nativeRail struct{}

func (nativeRail) Medium() Medium { return Native() }

func (nativeRail) Check(*state.Tx, Endpoint) error { return nil }

func (nativeRail) Transfer(tx *state.Tx, from, to Endpoint, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := tx.TransferNative(from.Owner, to.Owner, amount); err != nil {
		return mapLedgerError(err)
	}
	return nil
}

type tokenRail struct {
	mint common.Address
}

func (r tokenRail) Medium() Medium { return Token(r.mint) }

func (r tokenRail) Check(tx *state.Tx, ep Endpoint) error {
	if ep.TokenAccount == (common.Address{}) {
		return fmt.Errorf("%w: missing token account for %s", ErrInvalidVault, ep.Owner.Hex())
	}
	acc, ok, err := tx.TokenAccount(ep.TokenAccount)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: token account %s not found", ErrInvalidVault, ep.TokenAccount.Hex())
	}
	if acc.Mint != r.mint {
		return fmt.Errorf("%w: token account %s holds mint %s", ErrInvalidVault, ep.TokenAccount.Hex(), acc.Mint.Hex())
	}
	if acc.Owner != ep.Owner {
		return fmt.Errorf("%w: token account %s not owned by %s", ErrInvalidVault, ep.TokenAccount.Hex(), ep.Owner.Hex())
	}
	return nil
}

func (r tokenRail) Transfer(tx *state.Tx, from, to Endpoint, amount uint64) error {
	if err := r.Check(tx, from); err != nil {
		return err
	}
	if err := r.Check(tx, to); err != nil {
		return err
	}
	if amount == 0 {
		return nil
	}
	if err := tx.TransferTokens(from.TokenAccount, to.TokenAccount, amount); err != nil {
		return mapLedgerError(err)
	}
	return nil
}

// Balance returns the amount of the rail's medium held at ep.
func Balance(tx *state.Tx, rail Rail, ep Endpoint) (uint64, error) {
	if rail.Medium().IsNative() {
		return tx.NativeBalance(ep.Owner)
	}
	if err := rail.Check(tx, ep); err != nil {
		return 0, err
	}
	acc, _, err := tx.TokenAccount(ep.TokenAccount)
	if err != nil {
		return 0, err
	}
	return acc.Amount, nil
}

func mapLedgerError(err error) error {
	if errors.Is(err, state.ErrInsufficientBalance) {
		return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	return err
}
