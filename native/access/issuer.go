package access

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"accesspay/core/state"
	"accesspay/core/types"
	"accesspay/native/custody"
	"accesspay/storage"
)

const (
	EventTypeCollectionInitialized = "access.collection.initialized"
	EventTypeCredentialIssued      = "access.credential.issued"

	// TagMintAuthority derives the mint authority of a collection.
	TagMintAuthority = "access_mint_authority"
)

var (
	ErrCollectionNotFound = errors.New("access: collection not found")
	ErrCollectionExists   = errors.New("access: collection already exists")
	ErrSupplyExhausted    = errors.New("access: collection supply exhausted")
	ErrInvalidTarget      = errors.New("access: invalid mint target")
	errNilState           = errors.New("access: state not configured")
)

// Issuer mints access credentials inside the caller's ledger transaction, so a
// failure anywhere in the caller's operation also discards the credential.
type Issuer interface {
	MintAccess(tx *state.Tx, req MintRequest) (common.Address, error)
}

// LedgerIssuer keeps collections and credentials in the ledger.
type LedgerIssuer struct {
	state     *state.Manager
	authority custody.Authority
	nowFn     func() int64
}

// NewLedgerIssuer returns an issuer whose mint authorities are derived by authority.
func NewLedgerIssuer(mgr *state.Manager, authority custody.Authority) *LedgerIssuer {
	return &LedgerIssuer{
		state:     mgr,
		authority: authority,
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source used for deterministic testing.
func (i *LedgerIssuer) SetNowFunc(now func() int64) {
	if now == nil {
		i.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	i.nowFn = now
}

func seedBytes(seed uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], seed)
	return buf[:]
}

// CollectionID derives the collection identifier for (creator, content, seed).
func CollectionID(creator common.Address, content types.ContentID, seed uint64) common.Hash {
	return ethcrypto.Keccak256Hash([]byte("access_mint_state"), creator.Bytes(), content[:], seedBytes(seed))
}

func collectionKey(id common.Hash) []byte { return state.Key("access-collection:", id.Bytes()) }

func contentIndexKey(creator common.Address, content types.ContentID) []byte {
	return state.Key("access-content:", creator.Bytes(), content[:])
}

func credentialKey(id common.Address) []byte { return state.Key("access-credential:", id.Bytes()) }

// InitializeCollection registers the credential series for a content item.
// A maxSupply of zero means unlimited.
func (i *LedgerIssuer) InitializeCollection(creator common.Address, content types.ContentID, maxSupply, seed uint64) (*Collection, error) {
	if i == nil || i.state == nil {
		return nil, errNilState
	}
	var out *Collection
	err := i.state.Atomic(func(tx *state.Tx) error {
		index := contentIndexKey(creator, content)
		exists, err := tx.Has(index)
		if err != nil {
			return err
		}
		if exists {
			return ErrCollectionExists
		}
		id := CollectionID(creator, content, seed)
		vault, err := i.authority.Derive(id, TagMintAuthority)
		if err != nil {
			return err
		}
		col := &Collection{
			ID:             id,
			Creator:        creator,
			ContentID:      content,
			Authority:      vault.Address,
			AuthorityNonce: vault.Nonce,
			MaxSupply:      maxSupply,
			Seed:           seed,
			CreatedAt:      uint64(i.nowFn()),
		}
		if err := tx.PutRLP(collectionKey(id), col); err != nil {
			return err
		}
		if err := tx.Put(index, id.Bytes()); err != nil {
			return err
		}
		tx.Emit(&types.Event{Type: EventTypeCollectionInitialized, Attributes: map[string]string{
			"id":        id.Hex(),
			"creator":   creator.Hex(),
			"contentId": content.String(),
			"maxSupply": strconv.FormatUint(maxSupply, 10),
		}})
		out = col
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (i *LedgerIssuer) collectionFor(tx *state.Tx, creator common.Address, content types.ContentID) (*Collection, error) {
	raw, err := tx.Get(contentIndexKey(creator, content))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: creator %s content %s", ErrCollectionNotFound, creator.Hex(), content)
	}
	if err != nil {
		return nil, err
	}
	col := &Collection{}
	ok, err := tx.GetRLP(collectionKey(common.BytesToHash(raw)), col)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrCollectionNotFound
	}
	return col, nil
}

// MintAccess issues the next credential of the content's collection to
// req.Target and returns its identifier.
func (i *LedgerIssuer) MintAccess(tx *state.Tx, req MintRequest) (common.Address, error) {
	if req.Target == (common.Address{}) || req.Target != req.Buyer {
		return common.Address{}, ErrInvalidTarget
	}
	col, err := i.collectionFor(tx, req.Creator, req.ContentID)
	if err != nil {
		return common.Address{}, err
	}
	if !i.authority.Authorize(custody.CallContext{
		Program: i.authority.Program(),
		Vault:   col.Authority,
		Owner:   col.ID,
		Tag:     TagMintAuthority,
		Nonce:   col.AuthorityNonce,
	}) {
		return common.Address{}, fmt.Errorf("access: mint authority rejected for %s", col.ID.Hex())
	}
	if col.MaxSupply != 0 && col.Supply >= col.MaxSupply {
		return common.Address{}, ErrSupplyExhausted
	}
	col.Supply++
	hash := ethcrypto.Keccak256([]byte("access-credential"), col.ID.Bytes(), seedBytes(col.Supply))
	cred := &Credential{
		ID:         common.BytesToAddress(hash[12:]),
		Collection: col.ID,
		Owner:      req.Target,
		Serial:     col.Supply,
		IssuedAt:   uint64(i.nowFn()),
	}
	if err := tx.PutRLP(collectionKey(col.ID), col); err != nil {
		return common.Address{}, err
	}
	if err := tx.PutRLP(credentialKey(cred.ID), cred); err != nil {
		return common.Address{}, err
	}
	tx.Emit(&types.Event{Type: EventTypeCredentialIssued, Attributes: map[string]string{
		"credential": cred.ID.Hex(),
		"collection": col.ID.Hex(),
		"owner":      cred.Owner.Hex(),
		"payer":      req.Payer.Hex(),
		"serial":     strconv.FormatUint(cred.Serial, 10),
	}})
	return cred.ID, nil
}

// Credential loads an issued credential.
func (i *LedgerIssuer) Credential(id common.Address) (*Credential, bool, error) {
	if i == nil || i.state == nil {
		return nil, false, errNilState
	}
	cred := &Credential{}
	var ok bool
	err := i.state.View(func(tx *state.Tx) error {
		var err error
		ok, err = tx.GetRLP(credentialKey(id), cred)
		return err
	})
	if err != nil || !ok {
		return nil, false, err
	}
	return cred, true, nil
}

// Collection loads the collection registered for a content item.
func (i *LedgerIssuer) Collection(creator common.Address, content types.ContentID) (*Collection, error) {
	if i == nil || i.state == nil {
		return nil, errNilState
	}
	var col *Collection
	err := i.state.View(func(tx *state.Tx) error {
		var err error
		col, err = i.collectionFor(tx, creator, content)
		return err
	})
	return col, err
}
