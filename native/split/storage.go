package split

import (
	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/state"
	"accesspay/core/types"
)

type storedCollaborator struct {
	Identity common.Address
	ShareBps uint16
}

type storedConfig struct {
	ID                common.Hash
	Creator           common.Address
	ContentID         types.ContentID
	PlatformFeeBps    uint16
	Collaborators     []storedCollaborator
	Seed              uint64
	CreatedAt         uint64
	LastDistributedAt uint64
	VaultNonce        uint8
}

func splitKey(id common.Hash) []byte { return state.Key("split:", id.Bytes()) }

func toStored(c *Config) *storedConfig {
	collaborators := make([]storedCollaborator, len(c.Collaborators))
	for i, collab := range c.Collaborators {
		collaborators[i] = storedCollaborator{Identity: collab.Identity, ShareBps: collab.ShareBps}
	}
	return &storedConfig{
		ID:                c.ID,
		Creator:           c.Creator,
		ContentID:         c.ContentID,
		PlatformFeeBps:    c.PlatformFeeBps,
		Collaborators:     collaborators,
		Seed:              c.Seed,
		CreatedAt:         uint64(c.CreatedAt),
		LastDistributedAt: uint64(c.LastDistributedAt),
		VaultNonce:        c.VaultNonce,
	}
}

func (s *storedConfig) toConfig() *Config {
	collaborators := make([]Collaborator, len(s.Collaborators))
	for i, collab := range s.Collaborators {
		collaborators[i] = Collaborator{Identity: collab.Identity, ShareBps: collab.ShareBps}
	}
	return &Config{
		ID:                s.ID,
		Creator:           s.Creator,
		ContentID:         s.ContentID,
		PlatformFeeBps:    s.PlatformFeeBps,
		Collaborators:     collaborators,
		Seed:              s.Seed,
		CreatedAt:         int64(s.CreatedAt),
		LastDistributedAt: int64(s.LastDistributedAt),
		VaultNonce:        s.VaultNonce,
	}
}

func load(tx *state.Tx, id common.Hash) (*Config, error) {
	stored := &storedConfig{}
	ok, err := tx.GetRLP(splitKey(id), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSplitNotFound
	}
	return stored.toConfig(), nil
}

func store(tx *state.Tx, c *Config) error {
	return tx.PutRLP(splitKey(c.ID), toStored(c))
}
