package escrow

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/events"
	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/access"
	"accesspay/native/custody"
	"accesspay/native/payment"
	"accesspay/storage"
)

var (
	escrowProgram = common.HexToAddress("0xe5c0000000000000000000000000000000000001")
	accessProgram = common.HexToAddress("0xacce550000000000000000000000000000000001")
	tokenProgram  = common.HexToAddress("0x70ce000000000000000000000000000000000001")
	mintAddr      = common.HexToAddress("0x3171000000000000000000000000000000000001")
	otherMint     = common.HexToAddress("0x3171000000000000000000000000000000000002")
	buyerAddr     = common.HexToAddress("0xb0000000000000000000000000000000000000b1")
	creatorAddr   = common.HexToAddress("0xc0000000000000000000000000000000000000c1")
	strangerAddr  = common.HexToAddress("0x5000000000000000000000000000000000000051")
	contentA      = types.ContentID{0xaa}
)

const testNow = int64(1_700_000_000)

type fixture struct {
	engine *Engine
	mgr    *state.Manager
	issuer *access.LedgerIssuer
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	rec := &events.Recorder{}
	mgr.SetEmitter(rec)

	issuer := access.NewLedgerIssuer(mgr, custody.NewDeriver(accessProgram))
	issuer.SetNowFunc(func() int64 { return testNow })
	if _, err := issuer.InitializeCollection(creatorAddr, contentA, 0, 0); err != nil {
		t.Fatalf("init collection: %v", err)
	}

	engine := NewEngine(mgr, custody.NewDeriver(escrowProgram))
	engine.SetRouter(payment.NewRouter(tokenProgram))
	engine.SetIssuer(issuer)
	engine.SetNowFunc(func() int64 { return testNow })
	return &fixture{engine: engine, mgr: mgr, issuer: issuer, events: rec}
}

func (f *fixture) credit(t *testing.T, addr common.Address, amount uint64) {
	t.Helper()
	if err := f.mgr.Atomic(func(tx *state.Tx) error { return tx.CreditNative(addr, amount) }); err != nil {
		t.Fatalf("credit: %v", err)
	}
}

func (f *fixture) native(t *testing.T, addr common.Address) uint64 {
	t.Helper()
	var balance uint64
	err := f.mgr.View(func(tx *state.Tx) error {
		var err error
		balance, err = tx.NativeBalance(addr)
		return err
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return balance
}

func (f *fixture) openTokenAccount(t *testing.T, owner, mint common.Address, amount uint64) common.Address {
	t.Helper()
	addr := payment.AssociatedAccount(owner, mint)
	err := f.mgr.Atomic(func(tx *state.Tx) error {
		if _, err := tx.OpenTokenAccount(addr, mint, owner); err != nil {
			return err
		}
		return tx.MintTokens(addr, amount)
	})
	if err != nil {
		t.Fatalf("open token account: %v", err)
	}
	return addr
}

func (f *fixture) tokenBalance(t *testing.T, addr common.Address) (uint64, bool) {
	t.Helper()
	var (
		amount uint64
		found  bool
	)
	err := f.mgr.View(func(tx *state.Tx) error {
		acc, ok, err := tx.TokenAccount(addr)
		if err != nil || !ok {
			return err
		}
		amount, found = acc.Amount, true
		return nil
	})
	if err != nil {
		t.Fatalf("token balance: %v", err)
	}
	return amount, found
}

func mustInit(t *testing.T, f *fixture, price uint64, medium payment.Medium, seed uint64) *Escrow {
	t.Helper()
	esc, err := f.engine.InitializeEscrow(buyerAddr, creatorAddr, contentA, price, medium, seed)
	if err != nil {
		t.Fatalf("initialize escrow: %v", err)
	}
	return esc
}

func TestInitializeEscrow(t *testing.T) {
	f := newFixture(t)
	esc := mustInit(t, f, 1_000, payment.Native(), 42)

	if esc.ID != ID(buyerAddr, contentA, 42) {
		t.Fatalf("unexpected escrow id %s", esc.ID.Hex())
	}
	if esc.Status != StatusInitialized || esc.PaymentAmount != 0 || esc.HasCredential() {
		t.Fatalf("unexpected initial escrow %+v", esc)
	}
	if esc.CreatedAt != testNow {
		t.Fatalf("expected created at %d, got %d", testNow, esc.CreatedAt)
	}
	vault, err := f.engine.VaultOf(esc.ID)
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if vault.Nonce != esc.VaultNonce || vault.Program != escrowProgram {
		t.Fatalf("vault mismatch: %+v vs nonce %d", vault, esc.VaultNonce)
	}

	stored, err := f.engine.Escrow(esc.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *stored != *esc {
		t.Fatalf("stored escrow differs: %+v vs %+v", stored, esc)
	}

	if got := f.events.OfType(EventTypeEscrowInitialized); len(got) != 1 || got[0].Attributes["id"] != esc.ID.Hex() {
		t.Fatalf("expected one initialized event, got %+v", got)
	}
}

func TestInitializeEscrowRejectsInvalidInput(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.InitializeEscrow(buyerAddr, creatorAddr, contentA, 0, payment.Native(), 1); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
	if _, err := f.engine.InitializeEscrow(common.Address{}, creatorAddr, contentA, 10, payment.Native(), 1); !errors.Is(err, ErrInvalidBuyer) {
		t.Fatalf("expected ErrInvalidBuyer, got %v", err)
	}
	if _, err := f.engine.InitializeEscrow(buyerAddr, common.Address{}, contentA, 10, payment.Native(), 1); !errors.Is(err, ErrCreatorRequired) {
		t.Fatalf("expected ErrCreatorRequired, got %v", err)
	}
	if _, err := f.engine.InitializeEscrow(buyerAddr, creatorAddr, contentA, 10, payment.Token(common.Address{}), 1); err == nil {
		t.Fatalf("expected malformed medium to be rejected")
	}

	mustInit(t, f, 10, payment.Native(), 1)
	if _, err := f.engine.InitializeEscrow(buyerAddr, creatorAddr, contentA, 10, payment.Native(), 1); !errors.Is(err, ErrEscrowExists) {
		t.Fatalf("expected ErrEscrowExists, got %v", err)
	}
	if _, err := f.engine.InitializeEscrow(buyerAddr, creatorAddr, contentA, 10, payment.Native(), 2); err != nil {
		t.Fatalf("distinct seed should create a new escrow: %v", err)
	}
}

func TestBuyAndMintNative(t *testing.T) {
	f := newFixture(t)
	f.credit(t, buyerAddr, 5_000)
	esc := mustInit(t, f, 1_000, payment.Native(), 1)
	vault, _ := f.engine.VaultOf(esc.ID)

	receipt, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{})
	if err != nil {
		t.Fatalf("buy and mint: %v", err)
	}
	if receipt.PaymentAmount != 1_000 || receipt.Credential == (common.Address{}) {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
	if got := f.native(t, buyerAddr); got != 4_000 {
		t.Fatalf("buyer balance: expected 4000, got %d", got)
	}
	if got := f.native(t, vault.Address); got != 1_000 {
		t.Fatalf("vault balance: expected 1000, got %d", got)
	}
	if held, err := f.engine.VaultBalance(esc.ID); err != nil || held != 1_000 {
		t.Fatalf("vault balance query: %d, %v", held, err)
	}

	stored, err := f.engine.Escrow(esc.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Status != StatusCompleted || stored.PaymentAmount != stored.Price || stored.Credential != receipt.Credential {
		t.Fatalf("unexpected completed escrow %+v", stored)
	}

	cred, ok, err := f.issuer.Credential(receipt.Credential)
	if err != nil || !ok {
		t.Fatalf("credential missing: ok=%v err=%v", ok, err)
	}
	if cred.Owner != buyerAddr {
		t.Fatalf("credential owner %s, want buyer", cred.Owner.Hex())
	}

	completed := f.events.OfType(EventTypeEscrowCompleted)
	if len(completed) != 1 || completed[0].Attributes["credential"] != receipt.Credential.Hex() {
		t.Fatalf("unexpected completed events %+v", completed)
	}
	// funding is a plain credit, so the purchase is the only transfer
	transfers := f.events.OfType(events.TypeTransfer)
	if len(transfers) != 1 || transfers[0].Attributes["to"] != vault.Address.Hex() {
		t.Fatalf("expected a single buyer to vault transfer, got %+v", transfers)
	}
}

func TestBuyAndMintPreconditions(t *testing.T) {
	f := newFixture(t)
	f.credit(t, buyerAddr, 500)
	esc := mustInit(t, f, 1_000, payment.Native(), 1)

	if _, err := f.engine.BuyAndMint(common.Hash{0x01}, buyerAddr, 1_000, payment.Accounts{}); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 999, payment.Accounts{}); !errors.Is(err, ErrInvalidPaymentAmount) {
		t.Fatalf("expected ErrInvalidPaymentAmount, got %v", err)
	}
	if _, err := f.engine.BuyAndMint(esc.ID, strangerAddr, 1_000, payment.Accounts{}); !errors.Is(err, ErrInvalidBuyer) {
		t.Fatalf("expected ErrInvalidBuyer, got %v", err)
	}
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := f.native(t, buyerAddr); got != 500 {
		t.Fatalf("failed purchase moved funds: %d", got)
	}
	stored, _ := f.engine.Escrow(esc.ID)
	if stored.Status != StatusInitialized {
		t.Fatalf("failed purchase changed status to %s", stored.Status)
	}

	f.credit(t, buyerAddr, 1_000)
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{}); !errors.Is(err, ErrInvalidEscrowStatus) {
		t.Fatalf("expected ErrInvalidEscrowStatus on repeat, got %v", err)
	}
	if got := f.native(t, buyerAddr); got != 500 {
		t.Fatalf("expected exactly one payment, buyer holds %d", got)
	}
}

type failingIssuer struct{ err error }

func (i failingIssuer) MintAccess(tx *state.Tx, _ access.MintRequest) (common.Address, error) {
	if err := tx.Put([]byte("partial-credential"), []byte{1}); err != nil {
		return common.Address{}, err
	}
	return common.Address{}, i.err
}

func TestBuyAndMintRollsBackWhenIssuerFails(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("issuer offline")
	f.engine.SetIssuer(failingIssuer{err: boom})
	f.credit(t, buyerAddr, 1_000)
	esc := mustInit(t, f, 1_000, payment.Native(), 1)
	vault, _ := f.engine.VaultOf(esc.ID)

	_, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{})
	if !errors.Is(err, ErrCredentialIssue) || !errors.Is(err, boom) {
		t.Fatalf("expected wrapped credential failure, got %v", err)
	}
	if got := f.native(t, buyerAddr); got != 1_000 {
		t.Fatalf("buyer must keep funds, has %d", got)
	}
	if got := f.native(t, vault.Address); got != 0 {
		t.Fatalf("vault must stay empty, has %d", got)
	}
	var partial bool
	_ = f.mgr.View(func(tx *state.Tx) error {
		var err error
		partial, err = tx.Has([]byte("partial-credential"))
		return err
	})
	if partial {
		t.Fatalf("issuer writes must be discarded")
	}
	if n := len(f.events.OfType(EventTypeEscrowCompleted)); n != 0 {
		t.Fatalf("no completion event expected, got %d", n)
	}
	stored, _ := f.engine.Escrow(esc.ID)
	if stored.Status != StatusInitialized || stored.HasCredential() {
		t.Fatalf("escrow must remain initialized: %+v", stored)
	}
}

func TestBuyAndMintToken(t *testing.T) {
	f := newFixture(t)
	esc := mustInit(t, f, 250, payment.Token(mintAddr), 9)
	vault, _ := f.engine.VaultOf(esc.ID)

	buyerATA := f.openTokenAccount(t, buyerAddr, mintAddr, 1_000)
	vaultATA := f.openTokenAccount(t, vault.Address, mintAddr, 0)
	wrongMintATA := f.openTokenAccount(t, vault.Address, otherMint, 0)
	strangerATA := f.openTokenAccount(t, strangerAddr, mintAddr, 0)

	cases := []struct {
		name     string
		accounts payment.Accounts
	}{
		{"wrong program", payment.Accounts{Program: strangerAddr, Source: buyerATA, Destination: vaultATA}},
		{"vault account wrong mint", payment.Accounts{Program: tokenProgram, Source: buyerATA, Destination: wrongMintATA}},
		{"vault account wrong owner", payment.Accounts{Program: tokenProgram, Source: buyerATA, Destination: strangerATA}},
		{"missing buyer account", payment.Accounts{Program: tokenProgram, Destination: vaultATA}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 250, tc.accounts); !errors.Is(err, ErrInvalidVault) {
				t.Fatalf("expected ErrInvalidVault, got %v", err)
			}
		})
	}
	if got, _ := f.tokenBalance(t, buyerATA); got != 1_000 {
		t.Fatalf("rejected purchases moved tokens: %d", got)
	}

	receipt, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 250, payment.Accounts{Program: tokenProgram, Source: buyerATA, Destination: vaultATA})
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if got, _ := f.tokenBalance(t, buyerATA); got != 750 {
		t.Fatalf("buyer tokens: expected 750, got %d", got)
	}
	if got, _ := f.tokenBalance(t, vaultATA); got != 250 {
		t.Fatalf("vault tokens: expected 250, got %d", got)
	}
	if held, err := f.engine.VaultBalance(esc.ID); err != nil || held != 250 {
		t.Fatalf("vault balance query: %d, %v", held, err)
	}
	if receipt.PaymentAmount != 250 {
		t.Fatalf("unexpected receipt %+v", receipt)
	}
}

func TestCancelEscrow(t *testing.T) {
	f := newFixture(t)
	f.credit(t, buyerAddr, 100)
	esc := mustInit(t, f, 1_000, payment.Native(), 3)

	if _, err := f.engine.CancelEscrow(esc.ID, strangerAddr, payment.Accounts{}); !errors.Is(err, ErrInvalidBuyer) {
		t.Fatalf("expected ErrInvalidBuyer, got %v", err)
	}

	refund, err := f.engine.CancelEscrow(esc.ID, buyerAddr, payment.Accounts{})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund.Amount != 0 || refund.Residual != 0 {
		t.Fatalf("unexpected refund %+v", refund)
	}
	if got := f.native(t, buyerAddr); got != 100 {
		t.Fatalf("buyer balance changed: %d", got)
	}

	stored, err := f.engine.Escrow(esc.ID)
	if err != nil {
		t.Fatalf("load cancelled: %v", err)
	}
	if stored.Status != StatusCancelled {
		t.Fatalf("expected cancelled status, got %s", stored.Status)
	}

	if _, err := f.engine.CancelEscrow(esc.ID, buyerAddr, payment.Accounts{}); !errors.Is(err, ErrEscrowAlreadyCancelled) {
		t.Fatalf("expected ErrEscrowAlreadyCancelled, got %v", err)
	}
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{}); !errors.Is(err, ErrInvalidEscrowStatus) {
		t.Fatalf("expected ErrInvalidEscrowStatus, got %v", err)
	}
	if _, err := f.engine.InitializeEscrow(buyerAddr, creatorAddr, contentA, 1_000, payment.Native(), 3); !errors.Is(err, ErrEscrowExists) {
		t.Fatalf("expected ErrEscrowExists for reused seed, got %v", err)
	}
	if got := f.events.OfType(EventTypeEscrowCancelled); len(got) != 1 {
		t.Fatalf("expected one cancelled event, got %d", len(got))
	}
}

func TestCancelEscrowSweepsNativeResidual(t *testing.T) {
	f := newFixture(t)
	esc := mustInit(t, f, 1_000, payment.Native(), 4)
	vault, _ := f.engine.VaultOf(esc.ID)
	f.credit(t, vault.Address, 37)

	refund, err := f.engine.CancelEscrow(esc.ID, buyerAddr, payment.Accounts{})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund.Residual != 37 {
		t.Fatalf("expected residual 37, got %d", refund.Residual)
	}
	if got := f.native(t, buyerAddr); got != 37 {
		t.Fatalf("buyer should receive residual, has %d", got)
	}
	if got := f.native(t, vault.Address); got != 0 {
		t.Fatalf("vault should be empty, has %d", got)
	}
}

func TestCancelEscrowClosesTokenVault(t *testing.T) {
	f := newFixture(t)
	esc := mustInit(t, f, 250, payment.Token(mintAddr), 5)
	vault, _ := f.engine.VaultOf(esc.ID)
	buyerATA := f.openTokenAccount(t, buyerAddr, mintAddr, 0)
	vaultATA := f.openTokenAccount(t, vault.Address, mintAddr, 12)

	refund, err := f.engine.CancelEscrow(esc.ID, buyerAddr, payment.Accounts{Program: tokenProgram, Source: buyerATA, Destination: vaultATA})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund.Residual != 12 {
		t.Fatalf("expected residual 12, got %d", refund.Residual)
	}
	if got, _ := f.tokenBalance(t, buyerATA); got != 12 {
		t.Fatalf("buyer tokens: expected 12, got %d", got)
	}
	if _, open := f.tokenBalance(t, vaultATA); open {
		t.Fatalf("vault token account should be closed")
	}
}

func TestCancelEscrowRejectsCompleted(t *testing.T) {
	f := newFixture(t)
	f.credit(t, buyerAddr, 1_000)
	esc := mustInit(t, f, 1_000, payment.Native(), 6)
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 1_000, payment.Accounts{}); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if _, err := f.engine.CancelEscrow(esc.ID, buyerAddr, payment.Accounts{}); !errors.Is(err, ErrEscrowAlreadyCompleted) {
		t.Fatalf("expected ErrEscrowAlreadyCompleted, got %v", err)
	}
	vault, _ := f.engine.VaultOf(esc.ID)
	if got := f.native(t, vault.Address); got != 1_000 {
		t.Fatalf("completed vault must keep payment, has %d", got)
	}
	if _, err := f.engine.CancelEscrow(common.Hash{0x02}, buyerAddr, payment.Accounts{}); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("expected ErrEscrowNotFound, got %v", err)
	}
}

func TestEngineRequiresIssuer(t *testing.T) {
	f := newFixture(t)
	f.engine.SetIssuer(nil)
	esc := mustInit(t, f, 10, payment.Native(), 7)
	if _, err := f.engine.BuyAndMint(esc.ID, buyerAddr, 10, payment.Accounts{}); err == nil {
		t.Fatalf("expected error without issuer")
	}
}
