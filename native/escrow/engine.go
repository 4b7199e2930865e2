package escrow

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/access"
	"accesspay/native/custody"
	"accesspay/native/payment"
	"accesspay/observability/metrics"
)

var errNilIssuer = errors.New("escrow engine: credential issuer not configured")

// Engine runs the purchase escrow lifecycle. Every public operation executes
// inside one ledger transaction: it either commits all of its transfers and
// record changes or none of them.
type Engine struct {
	state     *state.Manager
	authority custody.Authority
	rails     payment.Router
	issuer    access.Issuer
	nowFn     func() int64
	logger    *slog.Logger
	metrics   *metrics.SettlementMetrics
}

// NewEngine creates an escrow engine whose vaults are derived by authority.
// Callers must configure a credential issuer before purchases can complete.
func NewEngine(mgr *state.Manager, authority custody.Authority) *Engine {
	return &Engine{
		state:     mgr,
		authority: authority,
		nowFn:     func() int64 { return time.Now().Unix() },
		logger:    slog.Default(),
	}
}

// SetRouter configures the payment rails, including the accepted token program.
func (e *Engine) SetRouter(router payment.Router) { e.rails = router }

// SetIssuer configures the access credential issuer invoked on purchase.
func (e *Engine) SetIssuer(issuer access.Issuer) { e.issuer = issuer }

// SetMetrics configures the metrics recorder. Nil disables recording.
func (e *Engine) SetMetrics(m *metrics.SettlementMetrics) { e.metrics = m }

// SetLogger configures the engine logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.authority == nil {
		return errNilState
	}
	return nil
}

func (e *Engine) observe(op string, start time.Time, err error) {
	e.metrics.ObserveOperation("escrow", op, metrics.Outcome(err, outcomeLabels), time.Since(start))
}

// vaultFor re-derives the escrow vault and checks it against the nonce
// recorded at initialisation.
func (e *Engine) vaultFor(esc *Escrow) (custody.Vault, error) {
	vault, err := e.authority.Derive(esc.ID, custody.TagVault)
	if err != nil {
		return custody.Vault{}, err
	}
	if vault.Nonce != esc.VaultNonce {
		return custody.Vault{}, fmt.Errorf("%w: vault nonce drifted for %s", ErrInvalidVault, esc.ID.Hex())
	}
	return vault, nil
}

// InitializeEscrow creates an escrow awaiting payment of price in medium.
func (e *Engine) InitializeEscrow(buyer, creator common.Address, content types.ContentID, price uint64, medium payment.Medium, seed uint64) (out *Escrow, err error) {
	start := time.Now()
	defer func() { e.observe("initialize_escrow", start, err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if price == 0 {
		return nil, ErrInvalidPrice
	}
	if buyer == (common.Address{}) {
		return nil, ErrInvalidBuyer
	}
	if creator == (common.Address{}) {
		return nil, ErrCreatorRequired
	}
	if err := medium.Validate(); err != nil {
		return nil, fmt.Errorf("escrow: %w", err)
	}

	id := ID(buyer, content, seed)
	err = e.state.Atomic(func(tx *state.Tx) error {
		found, err := exists(tx, id)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", ErrEscrowExists, id.Hex())
		}
		vault, err := e.authority.Derive(id, custody.TagVault)
		if err != nil {
			return err
		}
		esc := &Escrow{
			ID:         id,
			Buyer:      buyer,
			Creator:    creator,
			ContentID:  content,
			Price:      price,
			Medium:     medium,
			CreatedAt:  e.now(),
			Seed:       seed,
			Status:     StatusInitialized,
			VaultNonce: vault.Nonce,
		}
		if err := store(tx, esc); err != nil {
			return err
		}
		tx.Emit(NewInitializedEvent(esc))
		out = esc
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("escrow initialized",
		slog.String("escrow", id.Hex()),
		slog.String("medium", medium.String()),
		slog.Uint64("price", price))
	return out.Clone(), nil
}

// BuyAndMint moves the payment from the buyer into the escrow vault, issues
// the access credential and completes the escrow. Preconditions are checked in
// order: status, amount, caller, token accounts. A failure at any point,
// including inside the credential issuer, leaves no trace in the ledger.
func (e *Engine) BuyAndMint(id common.Hash, caller common.Address, amount uint64, accounts payment.Accounts) (receipt *Receipt, err error) {
	start := time.Now()
	defer func() { e.observe("buy_and_mint", start, err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.issuer == nil {
		return nil, errNilIssuer
	}
	var medium payment.Medium
	err = e.state.Atomic(func(tx *state.Tx) error {
		esc, err := load(tx, id)
		if err != nil {
			return err
		}
		if esc.Status != StatusInitialized {
			return fmt.Errorf("%w: status %s", ErrInvalidEscrowStatus, esc.Status)
		}
		if amount != esc.Price {
			return fmt.Errorf("%w: got %d, price %d", ErrInvalidPaymentAmount, amount, esc.Price)
		}
		if caller != esc.Buyer {
			return ErrInvalidBuyer
		}
		rail, err := e.rails.Rail(esc.Medium, accounts.Program)
		if err != nil {
			return err
		}
		vault, err := e.vaultFor(esc)
		if err != nil {
			return err
		}
		from := payment.Endpoint{Owner: esc.Buyer, TokenAccount: accounts.Source}
		to := payment.Endpoint{Owner: vault.Address, TokenAccount: accounts.Destination}
		if err := rail.Check(tx, from); err != nil {
			return err
		}
		if err := rail.Check(tx, to); err != nil {
			return err
		}
		if err := rail.Transfer(tx, from, to, amount); err != nil {
			return err
		}

		credential, err := e.issuer.MintAccess(tx, access.MintRequest{
			Buyer:     esc.Buyer,
			Payer:     esc.Buyer,
			Target:    esc.Buyer,
			Creator:   esc.Creator,
			ContentID: esc.ContentID,
		})
		if err != nil {
			return fmt.Errorf("%w: %w", ErrCredentialIssue, err)
		}

		esc.PaymentAmount = amount
		esc.Credential = credential
		esc.Status = StatusCompleted
		if err := store(tx, esc); err != nil {
			return err
		}
		tx.Emit(NewCompletedEvent(esc))
		medium = esc.Medium
		receipt = &Receipt{EscrowID: esc.ID, PaymentAmount: amount, Credential: credential}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddValue("escrow", medium.String(), "vault", amount)
	e.logger.Debug("escrow completed",
		slog.String("escrow", id.Hex()),
		slog.String("credential", receipt.Credential.Hex()),
		slog.Uint64("amount", amount))
	return receipt, nil
}

// CancelEscrow refunds any deposited value to the buyer, closes the vault and
// marks the escrow cancelled. Cancelled escrows keep a tombstone so repeated
// calls keep reporting ErrEscrowAlreadyCancelled.
//
// For token escrows accounts.Source is the buyer's token account and
// accounts.Destination the vault's; they are only required when there is
// value to move or when the caller asks to sweep the vault by naming the
// token program.
func (e *Engine) CancelEscrow(id common.Hash, caller common.Address, accounts payment.Accounts) (refund *Refund, err error) {
	start := time.Now()
	defer func() { e.observe("cancel_escrow", start, err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	var medium payment.Medium
	err = e.state.Atomic(func(tx *state.Tx) error {
		esc, err := load(tx, id)
		if err != nil {
			return err
		}
		switch esc.Status {
		case StatusCompleted:
			return ErrEscrowAlreadyCompleted
		case StatusCancelled:
			return ErrEscrowAlreadyCancelled
		}
		if caller != esc.Buyer {
			return ErrInvalidBuyer
		}
		vault, err := e.vaultFor(esc)
		if err != nil {
			return err
		}
		if !e.authority.Authorize(vault.Context()) {
			return fmt.Errorf("%w: vault authority rejected", ErrInvalidVault)
		}

		out := &Refund{EscrowID: esc.ID}
		sweep := esc.PaymentAmount > 0 || esc.Medium.IsNative() || accounts.Program != (common.Address{})
		if sweep {
			rail, err := e.rails.Rail(esc.Medium, accounts.Program)
			if err != nil {
				return err
			}
			from := payment.Endpoint{Owner: vault.Address, TokenAccount: accounts.Destination}
			to := payment.Endpoint{Owner: esc.Buyer, TokenAccount: accounts.Source}
			if err := rail.Check(tx, from); err != nil {
				return err
			}
			if err := rail.Check(tx, to); err != nil {
				return err
			}
			if esc.PaymentAmount > 0 {
				if err := rail.Transfer(tx, from, to, esc.PaymentAmount); err != nil {
					return err
				}
				out.Amount = esc.PaymentAmount
			}
			residual, err := payment.Balance(tx, rail, from)
			if err != nil {
				return err
			}
			if err := rail.Transfer(tx, from, to, residual); err != nil {
				return err
			}
			out.Residual = residual
			if !esc.Medium.IsNative() {
				if err := tx.CloseTokenAccount(accounts.Destination); err != nil {
					return err
				}
			}
		}

		esc.Status = StatusCancelled
		tx.Emit(NewCancelledEvent(esc, out))
		if err := bury(tx, esc, out.Amount+out.Residual, e.now()); err != nil {
			return err
		}
		medium = esc.Medium
		refund = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.AddValue("escrow", medium.String(), "buyer", refund.Amount+refund.Residual)
	e.logger.Debug("escrow cancelled",
		slog.String("escrow", id.Hex()),
		slog.Uint64("refund", refund.Amount),
		slog.Uint64("residual", refund.Residual))
	return refund, nil
}

// Escrow returns the current view of an escrow. Cancelled escrows are rebuilt
// from their tombstone and carry only identity fields and the status.
func (e *Engine) Escrow(id common.Hash) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var out *Escrow
	err := e.state.View(func(tx *state.Tx) error {
		var err error
		out, err = load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// VaultOf returns the custody vault bound to an escrow id.
func (e *Engine) VaultOf(id common.Hash) (custody.Vault, error) {
	if err := e.ready(); err != nil {
		return custody.Vault{}, err
	}
	return e.authority.Derive(id, custody.TagVault)
}

// VaultBalance returns the value held by an escrow vault. Token escrows report
// the balance of the vault's associated token account.
func (e *Engine) VaultBalance(id common.Hash) (uint64, error) {
	esc, err := e.Escrow(id)
	if err != nil {
		return 0, err
	}
	vault, err := e.VaultOf(id)
	if err != nil {
		return 0, err
	}
	var balance uint64
	err = e.state.View(func(tx *state.Tx) error {
		var err error
		if esc.Medium.IsNative() {
			balance, err = tx.NativeBalance(vault.Address)
			return err
		}
		acc, ok, err := tx.TokenAccount(payment.AssociatedAccount(vault.Address, esc.Medium.Mint))
		if err != nil || !ok {
			return err
		}
		balance = acc.Amount
		return nil
	})
	return balance, err
}

// EscrowTx loads an escrow inside the caller's transaction.
func (e *Engine) EscrowTx(tx *state.Tx, id common.Hash) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return load(tx, id)
}

// ReleaseTx moves the whole balance of a completed escrow's vault to dest on
// behalf of the creator and returns the amount moved. accounts.Source names
// the vault token account for token escrows. The escrow record itself is left
// untouched; an empty vault releases zero.
func (e *Engine) ReleaseTx(tx *state.Tx, id common.Hash, caller common.Address, dest payment.Endpoint, accounts payment.Accounts) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	esc, err := load(tx, id)
	if err != nil {
		return 0, err
	}
	if esc.Status != StatusCompleted {
		return 0, fmt.Errorf("%w: status %s", ErrInvalidEscrowStatus, esc.Status)
	}
	if caller != esc.Creator {
		return 0, ErrInvalidCreator
	}
	rail, err := e.rails.Rail(esc.Medium, accounts.Program)
	if err != nil {
		return 0, err
	}
	vault, err := e.vaultFor(esc)
	if err != nil {
		return 0, err
	}
	if !e.authority.Authorize(vault.Context()) {
		return 0, fmt.Errorf("%w: vault authority rejected", ErrInvalidVault)
	}
	from := payment.Endpoint{Owner: vault.Address, TokenAccount: accounts.Source}
	if err := rail.Check(tx, dest); err != nil {
		return 0, err
	}
	held, err := payment.Balance(tx, rail, from)
	if err != nil {
		return 0, err
	}
	if err := rail.Transfer(tx, from, dest, held); err != nil {
		return 0, err
	}
	return held, nil
}
