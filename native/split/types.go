package split

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"accesspay/core/types"
	"accesspay/native/payment"
)

const (
	// BasisPoints is the denominator of every fee and share.
	BasisPoints = 10_000
	// MaxPlatformFeeBps caps the platform fee at 10%.
	MaxPlatformFeeBps = 1_000
	// MaxCollaborators bounds the collaborator list of one split.
	MaxCollaborators = 16
)

// Collaborator is one configured revenue recipient besides the creator and
// the platform.
type Collaborator struct {
	Identity common.Address
	ShareBps uint16
}

// Config is a revenue split policy bound to one content item. Only
// LastDistributedAt changes after initialisation.
type Config struct {
	ID                common.Hash
	Creator           common.Address
	ContentID         types.ContentID
	PlatformFeeBps    uint16
	Collaborators     []Collaborator
	Seed              uint64
	CreatedAt         int64
	LastDistributedAt int64
	VaultNonce        uint8
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Collaborators = append([]Collaborator(nil), c.Collaborators...)
	return &clone
}

// CreatorBps returns the share left to the creator after the platform fee and
// collaborator shares.
func (c *Config) CreatorBps() uint32 {
	total := uint32(c.PlatformFeeBps)
	for _, collab := range c.Collaborators {
		total += uint32(collab.ShareBps)
	}
	if total >= BasisPoints {
		return 0
	}
	return BasisPoints - total
}

// CollaboratorAccount is the per-call account supplied for one collaborator.
// TokenAccount is only consulted for token distributions.
type CollaboratorAccount struct {
	Identity     common.Address
	TokenAccount common.Address
}

// Accounts carries the token plumbing of a distribution. For native
// distributions only Collaborators is consulted, and only for identity.
type Accounts struct {
	Program       common.Address
	Vault         common.Address
	Treasury      common.Address
	Creator       common.Address
	Collaborators []CollaboratorAccount
}

// Payout is the amount owed to one collaborator.
type Payout struct {
	Identity common.Address
	Amount   uint64
}

// Distribution is the outcome of splitting one amount. Platform, Creator and
// the collaborator amounts always sum to Amount.
type Distribution struct {
	SplitID       common.Hash
	Medium        payment.Medium
	Amount        uint64
	Platform      uint64
	Creator       uint64
	Collaborators []Payout
	// Remainder is the rounding dust the creator absorbed.
	Remainder uint64
}

// CollaboratorTotal sums the collaborator payouts.
func (d *Distribution) CollaboratorTotal() uint64 {
	var total uint64
	for _, p := range d.Collaborators {
		total += p.Amount
	}
	return total
}

// ID derives the split identifier for (creator, content, seed).
func ID(creator common.Address, content types.ContentID, seed uint64) common.Hash {
	var seedLE [8]byte
	binary.LittleEndian.PutUint64(seedLE[:], seed)
	return ethcrypto.Keccak256Hash([]byte("split"), creator.Bytes(), content[:], seedLE[:])
}
