package types

import "github.com/ethereum/go-ethereum/common"

// Account holds the native currency balance of a ledger address, expressed in
// the smallest currency unit.
type Account struct {
	Address common.Address `json:"address"`
	Native  uint64         `json:"native"`
}

// TokenAccount holds a fungible token balance for a single mint. The owner is
// the only identity allowed to authorise transfers out of the account.
type TokenAccount struct {
	Address common.Address `json:"address"`
	Mint    common.Address `json:"mint"`
	Owner   common.Address `json:"owner"`
	Amount  uint64         `json:"amount"`
}

// Clone returns a copy of the token account.
func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return nil
	}
	clone := *a
	return &clone
}
