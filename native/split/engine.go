package split

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/custody"
	"accesspay/native/payment"
	"accesspay/observability/metrics"
)

// Engine stores revenue split policies and disburses their vaults.
type Engine struct {
	state     *state.Manager
	authority custody.Authority
	rails     payment.Router
	treasury  common.Address
	nowFn     func() int64
	logger    *slog.Logger
	metrics   *metrics.SettlementMetrics
}

// NewEngine constructs a split engine whose vaults are derived by authority.
func NewEngine(mgr *state.Manager, authority custody.Authority) *Engine {
	return &Engine{
		state:     mgr,
		authority: authority,
		nowFn:     func() int64 { return time.Now().Unix() },
		logger:    slog.Default(),
	}
}

// SetRouter configures the payment rails.
func (e *Engine) SetRouter(router payment.Router) { e.rails = router }

// SetPlatformTreasury configures the identity receiving platform fees.
func (e *Engine) SetPlatformTreasury(addr common.Address) { e.treasury = addr }

// PlatformTreasury returns the configured platform treasury.
func (e *Engine) PlatformTreasury() common.Address { return e.treasury }

// SetMetrics configures the metrics recorder. Nil disables recording.
func (e *Engine) SetMetrics(m *metrics.SettlementMetrics) { e.metrics = m }

// SetLogger configures the engine logger. Passing nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the time source used for deterministic testing.
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
	e.metrics.ObserveOperation("split", op, metrics.Outcome(err, outcomeLabels), time.Since(start))
}

func validatePolicy(feeBps uint16, collaborators []Collaborator) error {
	if feeBps > MaxPlatformFeeBps {
		return fmt.Errorf("%w: %d bps", ErrPlatformFeeTooHigh, feeBps)
	}
	if len(collaborators) > MaxCollaborators {
		return fmt.Errorf("%w: %d", ErrTooManyCollaborators, len(collaborators))
	}
	seen := make(map[common.Address]struct{}, len(collaborators))
	total := uint32(feeBps)
	for _, collab := range collaborators {
		if collab.Identity == (common.Address{}) || collab.ShareBps == 0 {
			return fmt.Errorf("%w: %s with %d bps", ErrInvalidCollaborator, collab.Identity.Hex(), collab.ShareBps)
		}
		if _, dup := seen[collab.Identity]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCollaborator, collab.Identity.Hex())
		}
		seen[collab.Identity] = struct{}{}
		total += uint32(collab.ShareBps)
	}
	if total >= BasisPoints {
		return fmt.Errorf("%w: %d bps allocated", ErrSharesExceedTotal, total)
	}
	return nil
}

// InitializeSplit registers a split policy for a content item and binds an
// empty vault to it.
func (e *Engine) InitializeSplit(creator common.Address, content types.ContentID, feeBps uint16, collaborators []Collaborator, seed uint64) (out *Config, err error) {
	start := time.Now()
	defer func() { e.observe("initialize_split", start, err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	if creator == (common.Address{}) {
		return nil, ErrInvalidCreator
	}
	if err := validatePolicy(feeBps, collaborators); err != nil {
		return nil, err
	}
	id := ID(creator, content, seed)
	err = e.state.Atomic(func(tx *state.Tx) error {
		found, err := tx.Has(splitKey(id))
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", ErrSplitExists, id.Hex())
		}
		vault, err := e.authority.Derive(id, custody.TagVault)
		if err != nil {
			return err
		}
		now := e.now()
		cfg := &Config{
			ID:                id,
			Creator:           creator,
			ContentID:         content,
			PlatformFeeBps:    feeBps,
			Collaborators:     append([]Collaborator(nil), collaborators...),
			Seed:              seed,
			CreatedAt:         now,
			LastDistributedAt: now,
			VaultNonce:        vault.Nonce,
		}
		if err := store(tx, cfg); err != nil {
			return err
		}
		tx.Emit(NewInitializedEvent(cfg))
		out = cfg
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.logger.Debug("split initialized",
		slog.String("split", id.Hex()),
		slog.Int("collaborators", len(collaborators)),
		slog.Uint64("platformFeeBps", uint64(feeBps)))
	return out.Clone(), nil
}

// Distribute empties amount of medium from the split vault to the platform
// treasury, the collaborators and the creator in one transaction.
func (e *Engine) Distribute(id common.Hash, medium payment.Medium, amount uint64, accounts Accounts) (dist *Distribution, err error) {
	start := time.Now()
	defer func() { e.observe("distribute", start, err) }()

	if err := e.ready(); err != nil {
		return nil, err
	}
	err = e.state.Atomic(func(tx *state.Tx) error {
		var err error
		dist, err = e.DistributeTx(tx, id, medium, amount, accounts)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.RecordDistribution(dist)
	return dist, nil
}

// DistributeTx performs a distribution inside the caller's transaction so it
// can be composed with other operations. The caller owns commit and abort.
func (e *Engine) DistributeTx(tx *state.Tx, id common.Hash, medium payment.Medium, amount uint64, accounts Accounts) (*Distribution, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInsufficientFunds)
	}
	cfg, err := load(tx, id)
	if err != nil {
		return nil, err
	}
	if e.treasury == (common.Address{}) {
		return nil, ErrTreasuryNotConfigured
	}
	byIdentity, err := matchCollaborators(cfg, accounts.Collaborators)
	if err != nil {
		return nil, err
	}
	rail, err := e.rails.Rail(medium, accounts.Program)
	if err != nil {
		return nil, err
	}
	vault, err := e.vaultFor(cfg)
	if err != nil {
		return nil, err
	}
	if !e.authority.Authorize(vault.Context()) {
		return nil, fmt.Errorf("%w: vault authority rejected", ErrInvalidVault)
	}

	source := payment.Endpoint{Owner: vault.Address, TokenAccount: accounts.Vault}
	treasury := payment.Endpoint{Owner: e.treasury, TokenAccount: accounts.Treasury}
	creator := payment.Endpoint{Owner: cfg.Creator, TokenAccount: accounts.Creator}
	for _, ep := range []payment.Endpoint{source, treasury, creator} {
		if err := rail.Check(tx, ep); err != nil {
			return nil, err
		}
	}
	recipients := make([]payment.Endpoint, len(cfg.Collaborators))
	for i, collab := range cfg.Collaborators {
		supplied := byIdentity[collab.Identity]
		ep := payment.Endpoint{Owner: collab.Identity, TokenAccount: supplied.TokenAccount}
		if !medium.IsNative() {
			acc, ok, err := tx.TokenAccount(supplied.TokenAccount)
			if err != nil {
				return nil, err
			}
			if ok && acc.Owner != collab.Identity {
				return nil, fmt.Errorf("%w: token account %s not owned by %s", ErrInvalidCollaborator, supplied.TokenAccount.Hex(), collab.Identity.Hex())
			}
		}
		if err := rail.Check(tx, ep); err != nil {
			return nil, err
		}
		recipients[i] = ep
	}

	dist, err := Compute(cfg, medium, amount)
	if err != nil {
		return nil, err
	}
	held, err := payment.Balance(tx, rail, source)
	if err != nil {
		return nil, err
	}
	if held < amount {
		return nil, fmt.Errorf("%w: vault holds %d, distributing %d", ErrInsufficientFunds, held, amount)
	}

	if err := rail.Transfer(tx, source, treasury, dist.Platform); err != nil {
		return nil, err
	}
	for i, payout := range dist.Collaborators {
		if err := rail.Transfer(tx, source, recipients[i], payout.Amount); err != nil {
			return nil, err
		}
	}
	if err := rail.Transfer(tx, source, creator, dist.Creator); err != nil {
		return nil, err
	}

	cfg.LastDistributedAt = e.now()
	if err := store(tx, cfg); err != nil {
		return nil, err
	}
	tx.Emit(NewDistributedEvent(dist, cfg.LastDistributedAt))
	return dist, nil
}

// RecordDistribution reports a committed distribution to metrics and logs.
// Callers composing DistributeTx invoke it after their commit succeeds.
func (e *Engine) RecordDistribution(dist *Distribution) {
	if e == nil || dist == nil {
		return
	}
	medium := dist.Medium.String()
	e.metrics.AddValue("split", medium, "platform", dist.Platform)
	e.metrics.AddValue("split", medium, "collaborator", dist.CollaboratorTotal())
	e.metrics.AddValue("split", medium, "creator", dist.Creator)
	e.metrics.AddRoundingDust(medium, dist.Remainder)
	e.logger.Debug("split distributed",
		slog.String("split", dist.SplitID.Hex()),
		slog.String("medium", medium),
		slog.Uint64("amount", dist.Amount),
		slog.Uint64("platform", dist.Platform),
		slog.Uint64("creator", dist.Creator))
}

// matchCollaborators resolves the supplied accounts by identity. Every
// configured collaborator must appear exactly once and nothing else may.
func matchCollaborators(cfg *Config, supplied []CollaboratorAccount) (map[common.Address]CollaboratorAccount, error) {
	if len(supplied) != len(cfg.Collaborators) {
		return nil, fmt.Errorf("%w: expected %d collaborator accounts, got %d", ErrInvalidCollaborator, len(cfg.Collaborators), len(supplied))
	}
	byIdentity := make(map[common.Address]CollaboratorAccount, len(supplied))
	for _, acc := range supplied {
		if _, dup := byIdentity[acc.Identity]; dup {
			return nil, fmt.Errorf("%w: %s supplied twice", ErrInvalidCollaborator, acc.Identity.Hex())
		}
		byIdentity[acc.Identity] = acc
	}
	for _, collab := range cfg.Collaborators {
		if _, ok := byIdentity[collab.Identity]; !ok {
			return nil, fmt.Errorf("%w: no account for %s", ErrInvalidCollaborator, collab.Identity.Hex())
		}
	}
	return byIdentity, nil
}

func (e *Engine) vaultFor(cfg *Config) (custody.Vault, error) {
	vault, err := e.authority.Derive(cfg.ID, custody.TagVault)
	if err != nil {
		return custody.Vault{}, err
	}
	if vault.Nonce != cfg.VaultNonce {
		return custody.Vault{}, fmt.Errorf("%w: vault nonce drifted for %s", ErrInvalidVault, cfg.ID.Hex())
	}
	return vault, nil
}

// Split returns the stored policy.
func (e *Engine) Split(id common.Hash) (*Config, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	var cfg *Config
	err := e.state.View(func(tx *state.Tx) error {
		var err error
		cfg, err = load(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// VaultOf returns the custody vault bound to a split id.
func (e *Engine) VaultOf(id common.Hash) (custody.Vault, error) {
	if err := e.ready(); err != nil {
		return custody.Vault{}, err
	}
	return e.authority.Derive(id, custody.TagVault)
}

// Compute previews the distribution of amount under the stored policy.
func (e *Engine) Compute(id common.Hash, medium payment.Medium, amount uint64) (*Distribution, error) {
	cfg, err := e.Split(id)
	if err != nil {
		return nil, err
	}
	return Compute(cfg, medium, amount)
}

// SplitTx loads a split policy inside the caller's transaction.
func (e *Engine) SplitTx(tx *state.Tx, id common.Hash) (*Config, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return load(tx, id)
}
