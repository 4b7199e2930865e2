package escrow

import (
	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/payment"
)

// storedEscrow is the persisted layout of an escrow record. RLP has no signed
// integers, so the creation timestamp is kept as unsigned seconds.
type storedEscrow struct {
	ID            common.Hash
	Buyer         common.Address
	Creator       common.Address
	ContentID     types.ContentID
	Price         uint64
	MediumKind    uint8
	MediumMint    common.Address
	PaymentAmount uint64
	Credential    common.Address
	CreatedAt     uint64
	Seed          uint64
	Status        uint8
	VaultNonce    uint8
}

// tombstone replaces a cancelled escrow once its record and vault are closed,
// so later calls still observe the terminal status.
type tombstone struct {
	ID          common.Hash
	Buyer       common.Address
	Creator     common.Address
	ContentID   types.ContentID
	Refunded    uint64
	CancelledAt uint64
}

func escrowKey(id common.Hash) []byte    { return state.Key("escrow:", id.Bytes()) }
func tombstoneKey(id common.Hash) []byte { return state.Key("escrow-closed:", id.Bytes()) }

func toStored(e *Escrow) *storedEscrow {
	return &storedEscrow{
		ID:            e.ID,
		Buyer:         e.Buyer,
		Creator:       e.Creator,
		ContentID:     e.ContentID,
		Price:         e.Price,
		MediumKind:    uint8(e.Medium.Kind),
		MediumMint:    e.Medium.Mint,
		PaymentAmount: e.PaymentAmount,
		Credential:    e.Credential,
		CreatedAt:     uint64(e.CreatedAt),
		Seed:          e.Seed,
		Status:        uint8(e.Status),
		VaultNonce:    e.VaultNonce,
	}
}

func (s *storedEscrow) toEscrow() *Escrow {
	return &Escrow{
		ID:            s.ID,
		Buyer:         s.Buyer,
		Creator:       s.Creator,
		ContentID:     s.ContentID,
		Price:         s.Price,
		Medium:        payment.Medium{Kind: payment.Kind(s.MediumKind), Mint: s.MediumMint},
		PaymentAmount: s.PaymentAmount,
		Credential:    s.Credential,
		CreatedAt:     int64(s.CreatedAt),
		Seed:          s.Seed,
		Status:        Status(s.Status),
		VaultNonce:    s.VaultNonce,
	}
}

func (t *tombstone) toEscrow() *Escrow {
	return &Escrow{
		ID:        t.ID,
		Buyer:     t.Buyer,
		Creator:   t.Creator,
		ContentID: t.ContentID,
		Status:    StatusCancelled,
	}
}

// load returns the live escrow, or a cancelled view rebuilt from its tombstone.
func load(tx *state.Tx, id common.Hash) (*Escrow, error) {
	stored := &storedEscrow{}
	ok, err := tx.GetRLP(escrowKey(id), stored)
	if err != nil {
		return nil, err
	}
	if ok {
		return stored.toEscrow(), nil
	}
	closed := &tombstone{}
	ok, err = tx.GetRLP(tombstoneKey(id), closed)
	if err != nil {
		return nil, err
	}
	if ok {
		return closed.toEscrow(), nil
	}
	return nil, ErrEscrowNotFound
}

func store(tx *state.Tx, e *Escrow) error {
	return tx.PutRLP(escrowKey(e.ID), toStored(e))
}

func bury(tx *state.Tx, e *Escrow, refunded uint64, now int64) error {
	if err := tx.Delete(escrowKey(e.ID)); err != nil {
		return err
	}
	return tx.PutRLP(tombstoneKey(e.ID), &tombstone{
		ID:          e.ID,
		Buyer:       e.Buyer,
		Creator:     e.Creator,
		ContentID:   e.ContentID,
		Refunded:    refunded,
		CancelledAt: uint64(now),
	})
}

func exists(tx *state.Tx, id common.Hash) (bool, error) {
	live, err := tx.Has(escrowKey(id))
	if err != nil || live {
		return live, err
	}
	return tx.Has(tombstoneKey(id))
}
