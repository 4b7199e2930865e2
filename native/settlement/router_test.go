package settlement

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/events"
	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/access"
	"accesspay/native/custody"
	"accesspay/native/escrow"
	"accesspay/native/payment"
	"accesspay/native/split"
	"accesspay/storage"
)

var (
	escrowProgram = common.HexToAddress("0xe5c0000000000000000000000000000000000001")
	splitProgram  = common.HexToAddress("0x5b11000000000000000000000000000000000001")
	accessProgram = common.HexToAddress("0xacce550000000000000000000000000000000001")
	tokenProgram  = common.HexToAddress("0x70ce000000000000000000000000000000000001")
	buyerAddr     = common.HexToAddress("0xb0000000000000000000000000000000000000b1")
	creatorAddr   = common.HexToAddress("0xc0000000000000000000000000000000000000c1")
	collabAddr    = common.HexToAddress("0xc011000000000000000000000000000000000001")
	treasuryAddr  = common.HexToAddress("0x7e00000000000000000000000000000000000071")
	contentA      = types.ContentID{0xaa}
	contentB      = types.ContentID{0xbb}
)

type world struct {
	mgr     *state.Manager
	escrows *escrow.Engine
	splits  *split.Engine
	router  *Router
	events  *events.Recorder
}

func newWorld(t *testing.T) *world {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	rec := &events.Recorder{}
	mgr.SetEmitter(rec)
	rails := payment.NewRouter(tokenProgram)

	issuer := access.NewLedgerIssuer(mgr, custody.NewDeriver(accessProgram))
	for _, content := range []types.ContentID{contentA, contentB} {
		if _, err := issuer.InitializeCollection(creatorAddr, content, 0, 0); err != nil {
			t.Fatalf("collection: %v", err)
		}
	}
	escrows := escrow.NewEngine(mgr, custody.NewDeriver(escrowProgram))
	escrows.SetRouter(rails)
	escrows.SetIssuer(issuer)

	splits := split.NewEngine(mgr, custody.NewDeriver(splitProgram))
	splits.SetRouter(rails)
	splits.SetPlatformTreasury(treasuryAddr)

	return &world{mgr: mgr, escrows: escrows, splits: splits, router: NewRouter(mgr, escrows, splits), events: rec}
}

func (w *world) native(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	var balance uint64
	if err := w.mgr.View(func(tx *state.Tx) error {
		var err error
		balance, err = tx.NativeBalance(addr)
		return err
	}); err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

// purchase runs a completed native purchase of content for price.
func (w *world) purchase(t *testing.T, content types.ContentID, price, seed uint64) common.Hash {
	t.Helper()
	if err := w.mgr.Atomic(func(tx *state.Tx) error { return tx.CreditNative(buyerAddr, price) }); err != nil {
		t.Fatalf("fund buyer: %v", err)
	}
	esc, err := w.escrows.InitializeEscrow(buyerAddr, creatorAddr, content, price, payment.Native(), seed)
	if err != nil {
		t.Fatalf("init escrow: %v", err)
	}
	if _, err := w.escrows.BuyAndMint(esc.ID, buyerAddr, price, payment.Accounts{}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	return esc.ID
}

func (w *world) newSplit(t *testing.T, content types.ContentID) common.Hash {
	t.Helper()
	cfg, err := w.splits.InitializeSplit(creatorAddr, content, 500, []split.Collaborator{{Identity: collabAddr, ShareBps: 2000}}, 0)
	if err != nil {
		t.Fatalf("init split: %v", err)
	}
	return cfg.ID
}

func TestSettleMovesVaultIntoSplit(t *testing.T) {
	w := newWorld(t)
	escrowID := w.purchase(t, contentA, 1_000, 1)
	splitID := w.newSplit(t, contentA)
	escrowVault, _ := w.escrows.VaultOf(escrowID)
	splitVault, _ := w.splits.VaultOf(splitID)

	if _, err := w.router.Settle(escrowID, splitID, buyerAddr, Accounts{}); !errors.Is(err, escrow.ErrInvalidCreator) {
		t.Fatalf("expected ErrInvalidCreator, got %v", err)
	}

	settled, err := w.router.Settle(escrowID, splitID, creatorAddr, Accounts{})
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Amount != 1_000 {
		t.Fatalf("expected 1000 settled, got %d", settled.Amount)
	}
	if w.native(t, escrowVault.Address) != 0 || w.native(t, splitVault.Address) != 1_000 {
		t.Fatalf("vault balances not moved")
	}
	esc, err := w.escrows.Escrow(escrowID)
	if err != nil || esc.Status != escrow.StatusCompleted || esc.PaymentAmount != 1_000 {
		t.Fatalf("escrow record must be unchanged: %+v, %v", esc, err)
	}
	if _, err := w.router.Settle(escrowID, splitID, creatorAddr, Accounts{}); !errors.Is(err, ErrNothingToSettle) {
		t.Fatalf("expected ErrNothingToSettle, got %v", err)
	}
	if got := w.events.OfType(EventTypeSettled); len(got) != 1 {
		t.Fatalf("expected one settled event, got %d", len(got))
	}
}

func TestSettleRejectsForeignSplitAndOpenEscrow(t *testing.T) {
	w := newWorld(t)
	escrowID := w.purchase(t, contentA, 1_000, 1)
	otherSplit := w.newSplit(t, contentB)
	if _, err := w.router.Settle(escrowID, otherSplit, creatorAddr, Accounts{}); !errors.Is(err, ErrSplitMismatch) {
		t.Fatalf("expected ErrSplitMismatch, got %v", err)
	}

	open, err := w.escrows.InitializeEscrow(buyerAddr, creatorAddr, contentB, 10, payment.Native(), 2)
	if err != nil {
		t.Fatalf("init escrow: %v", err)
	}
	if _, err := w.router.Settle(open.ID, otherSplit, creatorAddr, Accounts{}); !errors.Is(err, escrow.ErrInvalidEscrowStatus) {
		t.Fatalf("expected ErrInvalidEscrowStatus, got %v", err)
	}
}

func TestSettleAndDistribute(t *testing.T) {
	w := newWorld(t)
	escrowID := w.purchase(t, contentA, 10_000, 1)
	splitID := w.newSplit(t, contentA)
	escrowVault, _ := w.escrows.VaultOf(escrowID)

	bad := Accounts{Split: split.Accounts{Collaborators: []split.CollaboratorAccount{{Identity: buyerAddr}}}}
	if _, err := w.router.SettleAndDistribute(escrowID, splitID, creatorAddr, bad); !errors.Is(err, split.ErrInvalidCollaborator) {
		t.Fatalf("expected ErrInvalidCollaborator, got %v", err)
	}
	if w.native(t, escrowVault.Address) != 10_000 {
		t.Fatalf("failed distribution must roll back the settlement")
	}

	good := Accounts{Split: split.Accounts{Collaborators: []split.CollaboratorAccount{{Identity: collabAddr}}}}
	settled, err := w.router.SettleAndDistribute(escrowID, splitID, creatorAddr, good)
	if err != nil {
		t.Fatalf("settle and distribute: %v", err)
	}
	if settled.Distribution == nil || settled.Distribution.Creator != 7_500 {
		t.Fatalf("unexpected distribution %+v", settled.Distribution)
	}
	for addr, want := range map[common.Address]uint64{
		treasuryAddr:        500,
		collabAddr:          2_000,
		creatorAddr:         7_500,
		escrowVault.Address: 0,
	} {
		if got := w.native(t, addr); got != want {
			t.Fatalf("balance of %s: expected %d, got %d", addr.Hex(), want, got)
		}
	}
}
