package access

import (
	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/types"
)

// Collection is the access-credential series of one content item. Its mint
// authority is a custody-derived address, so only the issuer can mint.
type Collection struct {
	ID        common.Hash
	Creator   common.Address
	ContentID types.ContentID
	Authority common.Address
	// AuthorityNonce is the derivation nonce of Authority.
	AuthorityNonce uint8
	MaxSupply      uint64
	Supply         uint64
	Seed           uint64
	CreatedAt      uint64
}

// Credential proves a buyer purchased access to a content item.
type Credential struct {
	ID         common.Address
	Collection common.Hash
	Owner      common.Address
	Serial     uint64
	IssuedAt   uint64
}

// MintRequest mirrors the issuer contract: the buyer receiving access, the
// account paying for issuance and the account the credential is minted to.
type MintRequest struct {
	Buyer     common.Address
	Payer     common.Address
	Target    common.Address
	Creator   common.Address
	ContentID types.ContentID
}
