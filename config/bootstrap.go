package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"accesspay/core/types"
)

// Manifest lists ledger records to create when the node starts. Entries that
// already exist are left untouched.
type Manifest struct {
	Collections []CollectionEntry `yaml:"collections"`
	Splits      []SplitEntry      `yaml:"splits"`
	// Accounts pre-funds ledger accounts. Only honoured in the dev environment.
	Accounts []AccountEntry `yaml:"accounts"`
}

type CollectionEntry struct {
	Creator   string `yaml:"creator"`
	Content   string `yaml:"content"`
	MaxSupply uint64 `yaml:"maxSupply"`
	Seed      uint64 `yaml:"seed"`
}

type SplitEntry struct {
	Creator        string              `yaml:"creator"`
	Content        string              `yaml:"content"`
	PlatformFeeBps uint16              `yaml:"platformFeeBps"`
	Seed           uint64              `yaml:"seed"`
	Collaborators  []CollaboratorEntry `yaml:"collaborators"`
}

type CollaboratorEntry struct {
	Identity string `yaml:"identity"`
	ShareBps uint16 `yaml:"shareBps"`
}

type AccountEntry struct {
	Owner         string              `yaml:"owner"`
	Native        uint64              `yaml:"native"`
	TokenAccounts []TokenAccountEntry `yaml:"tokenAccounts"`
}

type TokenAccountEntry struct {
	Address string `yaml:"address"`
	Mint    string `yaml:"mint"`
	Balance uint64 `yaml:"balance"`
}

// LoadManifest reads a bootstrap manifest. An empty path yields an empty
// manifest.
func LoadManifest(path string) (*Manifest, error) {
	if strings.TrimSpace(path) == "" {
		return &Manifest{}, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()
	return DecodeManifest(file)
}

// DecodeManifest parses and validates a manifest. Unknown keys are rejected.
func DecodeManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(m); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("validate manifest: %w", err)
	}
	return m, nil
}

// Validate checks every address and content identifier in the manifest.
func (m *Manifest) Validate() error {
	for i, c := range m.Collections {
		if _, err := parseAddress(c.Creator); err != nil {
			return fmt.Errorf("collections[%d].creator: %w", i, err)
		}
		if _, err := types.ParseContentID(c.Content); err != nil {
			return fmt.Errorf("collections[%d].content: %w", i, err)
		}
	}
	for i, s := range m.Splits {
		if _, err := parseAddress(s.Creator); err != nil {
			return fmt.Errorf("splits[%d].creator: %w", i, err)
		}
		if _, err := types.ParseContentID(s.Content); err != nil {
			return fmt.Errorf("splits[%d].content: %w", i, err)
		}
		for j, c := range s.Collaborators {
			if _, err := parseAddress(c.Identity); err != nil {
				return fmt.Errorf("splits[%d].collaborators[%d].identity: %w", i, j, err)
			}
		}
	}
	for i, a := range m.Accounts {
		if _, err := parseAddress(a.Owner); err != nil {
			return fmt.Errorf("accounts[%d].owner: %w", i, err)
		}
		for j, t := range a.TokenAccounts {
			if _, err := parseAddress(t.Address); err != nil {
				return fmt.Errorf("accounts[%d].tokenAccounts[%d].address: %w", i, j, err)
			}
			if _, err := parseAddress(t.Mint); err != nil {
				return fmt.Errorf("accounts[%d].tokenAccounts[%d].mint: %w", i, j, err)
			}
		}
	}
	return nil
}

// Address parses a manifest address that Validate has already accepted.
func Address(raw string) common.Address {
	return common.HexToAddress(strings.TrimSpace(raw))
}
