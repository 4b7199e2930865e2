package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ProgramSet is the parsed form of Programs.
type ProgramSet struct {
	Escrow common.Address
	Split  common.Address
	Access common.Address
	Token  common.Address
}

// ProgramAddresses parses the configured program identities.
func (c *Config) ProgramAddresses() (ProgramSet, error) {
	var set ProgramSet
	fields := []struct {
		name string
		raw  string
		dst  *common.Address
	}{
		{"programs.Escrow", c.Programs.Escrow, &set.Escrow},
		{"programs.Split", c.Programs.Split, &set.Split},
		{"programs.Access", c.Programs.Access, &set.Access},
		{"programs.Token", c.Programs.Token, &set.Token},
	}
	seen := make(map[common.Address]string, len(fields))
	for _, f := range fields {
		addr, err := parseAddress(f.raw)
		if err != nil {
			return ProgramSet{}, fmt.Errorf("%s: %w", f.name, err)
		}
		if addr == (common.Address{}) {
			return ProgramSet{}, fmt.Errorf("%s must be set", f.name)
		}
		if other, dup := seen[addr]; dup {
			return ProgramSet{}, fmt.Errorf("%s duplicates %s", f.name, other)
		}
		seen[addr] = f.name
		*f.dst = addr
	}
	return set, nil
}

// TreasuryAddress returns the platform treasury, or the zero address when
// none is configured.
func (c *Config) TreasuryAddress() (common.Address, error) {
	if strings.TrimSpace(c.Treasury) == "" {
		return common.Address{}, nil
	}
	return parseAddress(c.Treasury)
}

// Validate checks the configuration for values the node cannot start with.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	switch c.Backend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("Backend: unsupported value %q", c.Backend)
	}
	if _, err := c.ProgramAddresses(); err != nil {
		return err
	}
	if _, err := c.TreasuryAddress(); err != nil {
		return fmt.Errorf("Treasury: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.Level: unsupported value %q", c.Logging.Level)
	}
	if c.Auth.Enabled && c.AuthSecret() == "" {
		return fmt.Errorf("auth.HMACSecret or auth.HMACSecretEnv must be set when auth is enabled")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	switch strings.ToLower(strings.TrimSpace(c.EventLog.Driver)) {
	case "":
	case "sqlite", "postgres":
		if strings.TrimSpace(c.EventLog.DSN) == "" {
			return fmt.Errorf("event_log.DSN must be set for driver %s", c.EventLog.Driver)
		}
	default:
		return fmt.Errorf("event_log.Driver: unsupported value %q", c.EventLog.Driver)
	}
	return nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
