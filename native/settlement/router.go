// Package settlement forwards the proceeds of completed purchases into the
// revenue split of the purchased content.
package settlement

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/escrow"
	"accesspay/native/payment"
	"accesspay/native/split"
	"accesspay/observability/metrics"
)

const EventTypeSettled = "settlement.settled"

var (
	ErrNothingToSettle = errors.New("settlement: escrow vault is empty")
	ErrSplitMismatch   = errors.New("settlement: split does not belong to the escrow content")
	errNotConfigured   = errors.New("settlement: router not configured")
)

var outcomeLabels = map[string]error{
	"nothing_to_settle":    ErrNothingToSettle,
	"split_mismatch":       ErrSplitMismatch,
	"invalid_status":       escrow.ErrInvalidEscrowStatus,
	"invalid_creator":      escrow.ErrInvalidCreator,
	"invalid_vault":        payment.ErrInvalidVault,
	"insufficient_funds":   payment.ErrInsufficientFunds,
	"invalid_collaborator": split.ErrInvalidCollaborator,
}

// Accounts names the token accounts involved in a settlement. Split carries
// the distribution accounts used by SettleAndDistribute; its Vault should be
// the same account as SplitVault.
type Accounts struct {
	Program     common.Address
	EscrowVault common.Address
	SplitVault  common.Address
	Split       split.Accounts
}

// Settlement reports a committed hand-off.
type Settlement struct {
	EscrowID     common.Hash
	SplitID      common.Hash
	Medium       payment.Medium
	Amount       uint64
	Distribution *split.Distribution
}

// Router composes escrow release and split distribution in one transaction.
type Router struct {
	state   *state.Manager
	escrow  *escrow.Engine
	split   *split.Engine
	logger  *slog.Logger
	metrics *metrics.SettlementMetrics
}

// NewRouter wires a router over the given engines, which must share mgr.
func NewRouter(mgr *state.Manager, escrows *escrow.Engine, splits *split.Engine) *Router {
	return &Router{state: mgr, escrow: escrows, split: splits, logger: slog.Default()}
}

// SetLogger configures the router logger. Passing nil restores slog.Default.
func (r *Router) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.logger = logger
}

// SetMetrics configures the metrics recorder. Nil disables recording.
func (r *Router) SetMetrics(m *metrics.SettlementMetrics) { r.metrics = m }

// Settle moves the whole vault balance of a completed escrow into the vault
// of a split registered by the same creator for the same content.
func (r *Router) Settle(escrowID, splitID common.Hash, caller common.Address, accounts Accounts) (out *Settlement, err error) {
	start := time.Now()
	defer func() { r.observe("settle", start, err) }()

	if r == nil || r.state == nil || r.escrow == nil || r.split == nil {
		return nil, errNotConfigured
	}
	err = r.state.Atomic(func(tx *state.Tx) error {
		var err error
		out, err = r.settleTx(tx, escrowID, splitID, caller, accounts)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.metrics.AddValue("settlement", out.Medium.String(), "split_vault", out.Amount)
	r.logger.Debug("escrow settled",
		slog.String("escrow", escrowID.Hex()),
		slog.String("split", splitID.Hex()),
		slog.Uint64("amount", out.Amount))
	return out, nil
}

// SettleAndDistribute settles an escrow and immediately distributes the moved
// amount through the split. Either both steps commit or neither does.
func (r *Router) SettleAndDistribute(escrowID, splitID common.Hash, caller common.Address, accounts Accounts) (out *Settlement, err error) {
	start := time.Now()
	defer func() { r.observe("settle_and_distribute", start, err) }()

	if r == nil || r.state == nil || r.escrow == nil || r.split == nil {
		return nil, errNotConfigured
	}
	err = r.state.Atomic(func(tx *state.Tx) error {
		settled, err := r.settleTx(tx, escrowID, splitID, caller, accounts)
		if err != nil {
			return err
		}
		dist, err := r.split.DistributeTx(tx, splitID, settled.Medium, settled.Amount, accounts.Split)
		if err != nil {
			return err
		}
		settled.Distribution = dist
		out = settled
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.metrics.AddValue("settlement", out.Medium.String(), "split_vault", out.Amount)
	r.split.RecordDistribution(out.Distribution)
	return out, nil
}

func (r *Router) settleTx(tx *state.Tx, escrowID, splitID common.Hash, caller common.Address, accounts Accounts) (*Settlement, error) {
	esc, err := r.escrow.EscrowTx(tx, escrowID)
	if err != nil {
		return nil, err
	}
	cfg, err := r.split.SplitTx(tx, splitID)
	if err != nil {
		return nil, err
	}
	if cfg.Creator != esc.Creator || cfg.ContentID != esc.ContentID {
		return nil, fmt.Errorf("%w: escrow %s, split %s", ErrSplitMismatch, escrowID.Hex(), splitID.Hex())
	}
	vault, err := r.split.VaultOf(splitID)
	if err != nil {
		return nil, err
	}
	dest := payment.Endpoint{Owner: vault.Address, TokenAccount: accounts.SplitVault}
	amount, err := r.escrow.ReleaseTx(tx, escrowID, caller, dest, payment.Accounts{
		Program: accounts.Program,
		Source:  accounts.EscrowVault,
	})
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, ErrNothingToSettle
	}
	out := &Settlement{EscrowID: escrowID, SplitID: splitID, Medium: esc.Medium, Amount: amount}
	tx.Emit(newSettledEvent(out))
	return out, nil
}

func (r *Router) observe(op string, start time.Time, err error) {
	if r == nil {
		return
	}
	r.metrics.ObserveOperation("settlement", op, metrics.Outcome(err, outcomeLabels), time.Since(start))
}

func newSettledEvent(s *Settlement) *types.Event {
	return &types.Event{Type: EventTypeSettled, Attributes: map[string]string{
		"escrow": s.EscrowID.Hex(),
		"split":  s.SplitID.Hex(),
		"medium": s.Medium.String(),
		"amount": fmt.Sprintf("%d", s.Amount),
	}}
}
