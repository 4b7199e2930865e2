// Package custody derives vault addresses that no private key controls. A vault
// address is a hash of the owning program, a fixed tag, the owning record id
// and a nonce; moving value out of it requires presenting those inputs, which
// the owning engine re-derives before it debits the vault.
package custody

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// TagVault is the fixed tag used for record-bound holding vaults.
const TagVault = "vault"

// domainByte prefixes every derivation so derived addresses never share a
// preimage shape with key-derived addresses.
const domainByte = 0xff

var errNoNonce = errors.New("custody: no usable derivation nonce")

// Vault is a derived custody address together with the proof inputs needed to
// authorise a move out of it.
type Vault struct {
	Address common.Address
	Program common.Address
	Owner   common.Hash
	Tag     string
	Nonce   uint8
}

// CallContext is the authorisation request presented by an engine before it
// moves value out of a vault.
type CallContext struct {
	Program common.Address
	Vault   common.Address
	Owner   common.Hash
	Tag     string
	Nonce   uint8
}

// Context returns the authorisation request proving control of v.
func (v Vault) Context() CallContext {
	return CallContext{Program: v.Program, Vault: v.Address, Owner: v.Owner, Tag: v.Tag, Nonce: v.Nonce}
}

// Authority is the custody capability: derive a vault for an owner record and
// check that a caller presents a valid derivation proof for a vault.
type Authority interface {
	Program() common.Address
	Derive(owner common.Hash, tag string) (Vault, error)
	Authorize(call CallContext) bool
}

// Deriver implements Authority for a single program identity.
type Deriver struct {
	program  common.Address
	excluded func(common.Address) bool
}

// NewDeriver returns a deriver bound to program.
func NewDeriver(program common.Address) *Deriver {
	return &Deriver{program: program}
}

// SetExcluded installs a predicate that rejects candidate addresses, e.g. ones
// already registered to an external key. The zero address is always rejected.
func (d *Deriver) SetExcluded(fn func(common.Address) bool) { d.excluded = fn }

// Program returns the program identity the deriver signs for.
func (d *Deriver) Program() common.Address { return d.program }

func address(program common.Address, tag string, owner common.Hash, nonce uint8) common.Address {
	hash := ethcrypto.Keccak256([]byte{domainByte}, program.Bytes(), []byte(tag), owner.Bytes(), []byte{nonce})
	return common.BytesToAddress(hash[12:])
}

// Derive returns the canonical vault for owner, trying nonces from 255 down.
func (d *Deriver) Derive(owner common.Hash, tag string) (Vault, error) {
	for n := 255; n >= 0; n-- {
		nonce := uint8(n)
		addr := address(d.program, tag, owner, nonce)
		if addr == (common.Address{}) {
			continue
		}
		if d.excluded != nil && d.excluded(addr) {
			continue
		}
		return Vault{Address: addr, Program: d.program, Owner: owner, Tag: tag, Nonce: nonce}, nil
	}
	return Vault{}, errNoNonce
}

// Authorize re-derives the vault from the proof and compares it with the
// claimed address. Only the canonical nonce is accepted.
func (d *Deriver) Authorize(call CallContext) bool {
	if call.Program != d.program {
		return false
	}
	canonical, err := d.Derive(call.Owner, call.Tag)
	if err != nil {
		return false
	}
	return canonical.Address == call.Vault && canonical.Nonce == call.Nonce
}
