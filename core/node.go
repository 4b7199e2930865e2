package core

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/config"
	"accesspay/core/events"
	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/access"
	"accesspay/native/custody"
	"accesspay/native/escrow"
	"accesspay/native/payment"
	"accesspay/native/settlement"
	"accesspay/native/split"
	"accesspay/observability/metrics"
	"accesspay/storage"
)

// ErrAccountOwnerRequired is returned when an associated account is requested
// without an owner or a mint.
var ErrAccountOwnerRequired = errors.New("node: token account owner and mint required")

// Options configures a Node.
type Options struct {
	Programs config.ProgramSet
	Treasury common.Address
	Emitter  events.Emitter
	Logger   *slog.Logger
	Metrics  *metrics.SettlementMetrics
	// Now overrides the clock of every engine, for tests.
	Now func() int64
	// AllowMigrate starts the node on a ledger written by another schema
	// version.
	AllowMigrate bool
}

// Node wires the ledger, the custody authorities and the settlement engines
// together.
type Node struct {
	state      *state.Manager
	router     payment.Router
	issuer     *access.LedgerIssuer
	escrows    *escrow.Engine
	splits     *split.Engine
	settlement *settlement.Router
	logger     *slog.Logger
}

// NewNode builds a node on db. The node does not own db.
func NewNode(db storage.Database, opts Options) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("node: database required")
	}
	if opts.Programs.Escrow == (common.Address{}) || opts.Programs.Split == (common.Address{}) || opts.Programs.Access == (common.Address{}) {
		return nil, fmt.Errorf("node: program identities required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mgr := state.NewManager(db)
	if err := mgr.EnsureSchemaVersion(opts.AllowMigrate); err != nil {
		return nil, err
	}
	mgr.SetEmitter(opts.Emitter)

	// A vault must never land on a well-known identity.
	reserved := map[common.Address]struct{}{
		opts.Programs.Escrow: {},
		opts.Programs.Split:  {},
		opts.Programs.Access: {},
		opts.Programs.Token:  {},
	}
	if opts.Treasury != (common.Address{}) {
		reserved[opts.Treasury] = struct{}{}
	}
	excluded := func(addr common.Address) bool {
		_, ok := reserved[addr]
		return ok
	}
	deriver := func(program common.Address) *custody.Deriver {
		d := custody.NewDeriver(program)
		d.SetExcluded(excluded)
		return d
	}

	router := payment.NewRouter(opts.Programs.Token)

	issuer := access.NewLedgerIssuer(mgr, deriver(opts.Programs.Access))

	escrows := escrow.NewEngine(mgr, deriver(opts.Programs.Escrow))
	escrows.SetRouter(router)
	escrows.SetIssuer(issuer)
	escrows.SetLogger(logger.With(slog.String("module", "escrow")))
	escrows.SetMetrics(opts.Metrics)

	splits := split.NewEngine(mgr, deriver(opts.Programs.Split))
	splits.SetRouter(router)
	splits.SetPlatformTreasury(opts.Treasury)
	splits.SetLogger(logger.With(slog.String("module", "split")))
	splits.SetMetrics(opts.Metrics)

	settle := settlement.NewRouter(mgr, escrows, splits)
	settle.SetLogger(logger.With(slog.String("module", "settlement")))
	settle.SetMetrics(opts.Metrics)

	if opts.Now != nil {
		issuer.SetNowFunc(opts.Now)
		escrows.SetNowFunc(opts.Now)
		splits.SetNowFunc(opts.Now)
	}

	return &Node{
		state:      mgr,
		router:     router,
		issuer:     issuer,
		escrows:    escrows,
		splits:     splits,
		settlement: settle,
		logger:     logger,
	}, nil
}

func (n *Node) State() *state.Manager          { return n.state }
func (n *Node) Router() payment.Router         { return n.router }
func (n *Node) Issuer() *access.LedgerIssuer   { return n.issuer }
func (n *Node) Escrows() *escrow.Engine        { return n.escrows }
func (n *Node) Splits() *split.Engine          { return n.splits }
func (n *Node) Settlement() *settlement.Router { return n.settlement }

// NativeBalance returns the native balance of addr.
func (n *Node) NativeBalance(addr common.Address) (uint64, error) {
	var balance uint64
	err := n.state.View(func(tx *state.Tx) error {
		var err error
		balance, err = tx.NativeBalance(addr)
		return err
	})
	return balance, err
}

// TokenAccount loads a token account.
func (n *Node) TokenAccount(addr common.Address) (*types.TokenAccount, bool, error) {
	var (
		acc *types.TokenAccount
		ok  bool
	)
	err := n.state.View(func(tx *state.Tx) error {
		var err error
		acc, ok, err = tx.TokenAccount(addr)
		return err
	})
	return acc, ok, err
}

// OpenAssociatedAccount opens the associated token account of owner for mint.
// Escrow and split vaults hold tokens this way, so clients open the vault's
// account after initialising a token-medium escrow or split. Opening an
// account that already exists returns it with created set to false.
func (n *Node) OpenAssociatedAccount(owner, mint common.Address) (acc *types.TokenAccount, created bool, err error) {
	if owner == (common.Address{}) || mint == (common.Address{}) {
		return nil, false, ErrAccountOwnerRequired
	}
	addr := payment.AssociatedAccount(owner, mint)
	err = n.state.Atomic(func(tx *state.Tx) error {
		_, ok, err := tx.TokenAccount(addr)
		if err != nil {
			return err
		}
		acc, err = tx.OpenTokenAccount(addr, mint, owner)
		if err != nil {
			return err
		}
		created = !ok
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		n.logger.Info("token account opened",
			slog.String("address", addr.Hex()),
			slog.String("owner", owner.Hex()),
			slog.String("mint", mint.Hex()))
	}
	return acc, created, nil
}

// BootstrapSummary counts what Bootstrap created.
type BootstrapSummary struct {
	Collections int
	Splits      int
	Accounts    int
}

// Bootstrap creates the records listed in m. Existing collections and splits
// are skipped, so the manifest can be applied on every start. Account funding
// tops balances up to the listed amounts and only runs when allowFunding is set.
func (n *Node) Bootstrap(m *config.Manifest, allowFunding bool) (BootstrapSummary, error) {
	var summary BootstrapSummary
	if m == nil {
		return summary, nil
	}
	for i, entry := range m.Collections {
		content, err := types.ParseContentID(entry.Content)
		if err != nil {
			return summary, fmt.Errorf("collections[%d]: %w", i, err)
		}
		_, err = n.issuer.InitializeCollection(config.Address(entry.Creator), content, entry.MaxSupply, entry.Seed)
		switch {
		case errors.Is(err, access.ErrCollectionExists):
		case err != nil:
			return summary, fmt.Errorf("collections[%d]: %w", i, err)
		default:
			summary.Collections++
		}
	}
	for i, entry := range m.Splits {
		content, err := types.ParseContentID(entry.Content)
		if err != nil {
			return summary, fmt.Errorf("splits[%d]: %w", i, err)
		}
		collaborators := make([]split.Collaborator, 0, len(entry.Collaborators))
		for _, c := range entry.Collaborators {
			collaborators = append(collaborators, split.Collaborator{Identity: config.Address(c.Identity), ShareBps: c.ShareBps})
		}
		_, err = n.splits.InitializeSplit(config.Address(entry.Creator), content, entry.PlatformFeeBps, collaborators, entry.Seed)
		switch {
		case errors.Is(err, split.ErrSplitExists):
		case err != nil:
			return summary, fmt.Errorf("splits[%d]: %w", i, err)
		default:
			summary.Splits++
		}
	}
	if len(m.Accounts) > 0 && !allowFunding {
		n.logger.Warn("bootstrap account funding skipped outside dev", slog.Int("accounts", len(m.Accounts)))
		return summary, nil
	}
	for i, entry := range m.Accounts {
		if err := n.state.Atomic(func(tx *state.Tx) error { return fund(tx, entry) }); err != nil {
			return summary, fmt.Errorf("accounts[%d]: %w", i, err)
		}
		summary.Accounts++
	}
	return summary, nil
}

func fund(tx *state.Tx, entry config.AccountEntry) error {
	owner := config.Address(entry.Owner)
	balance, err := tx.NativeBalance(owner)
	if err != nil {
		return err
	}
	if balance < entry.Native {
		if err := tx.CreditNative(owner, entry.Native-balance); err != nil {
			return err
		}
	}
	for _, ta := range entry.TokenAccounts {
		acc, err := tx.OpenTokenAccount(config.Address(ta.Address), config.Address(ta.Mint), owner)
		if err != nil {
			return err
		}
		if acc.Amount < ta.Balance {
			if err := tx.MintTokens(acc.Address, ta.Balance-acc.Amount); err != nil {
				return err
			}
		}
	}
	return nil
}
