package escrow

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"accesspay/core/types"
	"accesspay/native/payment"
)

// Status represents the lifecycle states of a purchase escrow. Completed and
// Cancelled are terminal.
type Status uint8

const (
	StatusInitialized Status = iota
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

// Escrow captures a single buyer to creator purchase attempt. PaymentAmount is
// zero until the buyer funds the escrow and equals Price once Completed.
type Escrow struct {
	ID            common.Hash
	Buyer         common.Address
	Creator       common.Address
	ContentID     types.ContentID
	Price         uint64
	Medium        payment.Medium
	PaymentAmount uint64
	// Credential is the zero address until access has been issued.
	Credential common.Address
	CreatedAt  int64
	Seed       uint64
	Status     Status
	VaultNonce uint8
}

// Clone returns a copy of the escrow so callers can safely mutate it.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// HasCredential reports whether an access credential has been issued.
func (e *Escrow) HasCredential() bool { return e.Credential != (common.Address{}) }

// Receipt is returned by a successful purchase.
type Receipt struct {
	EscrowID      common.Hash
	PaymentAmount uint64
	Credential    common.Address
}

// Refund is returned by a successful cancellation. Residual is value found in
// the vault beyond the recorded payment and swept back to the buyer on close.
type Refund struct {
	EscrowID common.Hash
	Amount   uint64
	Residual uint64
}

// ID derives the escrow identifier. The caller-supplied seed allows several
// concurrent escrows for the same buyer and content.
func ID(buyer common.Address, content types.ContentID, seed uint64) common.Hash {
	var seedLE [8]byte
	binary.LittleEndian.PutUint64(seedLE[:], seed)
	return ethcrypto.Keccak256Hash([]byte("escrow"), buyer.Bytes(), content[:], seedLE[:])
}
