package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Config is the accesspayd node configuration.
type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	// Backend selects the ledger store: "leveldb", "bolt" or "memory".
	Backend     string `toml:"Backend"`
	Environment string `toml:"Environment"`
	// Treasury receives platform fees. Distributions fail until it is set.
	Treasury      string `toml:"Treasury"`
	BootstrapFile string `toml:"BootstrapFile,omitempty"`

	Programs  Programs  `toml:"programs"`
	Logging   Logging   `toml:"logging"`
	Telemetry Telemetry `toml:"telemetry"`
	Auth      Auth      `toml:"auth"`
	RateLimit RateLimit `toml:"rate_limit"`
	EventLog  EventLog  `toml:"event_log"`
}

// Programs names the program identities vaults are derived under, plus the
// token program accepted for token payments.
type Programs struct {
	Escrow string `toml:"Escrow"`
	Split  string `toml:"Split"`
	Access string `toml:"Access"`
	Token  string `toml:"Token"`
}

type Logging struct {
	Level      string `toml:"Level"`
	File       string `toml:"File,omitempty"`
	MaxSizeMB  int    `toml:"MaxSizeMB,omitempty"`
	MaxBackups int    `toml:"MaxBackups,omitempty"`
	MaxAgeDays int    `toml:"MaxAgeDays,omitempty"`
}

type Telemetry struct {
	Endpoint string `toml:"Endpoint,omitempty"`
	// Headers uses the OTEL header syntax: key=value,foo=bar.
	Headers  string `toml:"Headers,omitempty"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Auth configures bearer token checks on the gateway's write routes. The
// token subject is the caller identity of the operation.
type Auth struct {
	Enabled          bool   `toml:"Enabled"`
	HMACSecret       string `toml:"HMACSecret,omitempty"`
	HMACSecretEnv    string `toml:"HMACSecretEnv,omitempty"`
	Issuer           string `toml:"Issuer,omitempty"`
	Audience         string `toml:"Audience,omitempty"`
	ClockSkewSeconds int    `toml:"ClockSkewSeconds"`
}

type RateLimit struct {
	RequestsPerMinute float64 `toml:"RequestsPerMinute"`
	Burst             int     `toml:"Burst"`
}

// EventLog configures the SQL copy of committed events. An empty Driver
// disables it.
type EventLog struct {
	Driver string `toml:"Driver,omitempty"`
	DSN    string `toml:"DSN,omitempty"`
}

// Load loads the configuration from path, writing a default file first when
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
	}

	cfg.applyDefaults()
	if cfg.BootstrapFile != "" && !filepath.IsAbs(cfg.BootstrapFile) {
		cfg.BootstrapFile = filepath.Join(filepath.Dir(path), cfg.BootstrapFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration written on first start.
func Default() *Config {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./accesspay-data",
		Backend:       "leveldb",
		Environment:   "dev",
		Programs: Programs{
			Escrow: programAddress("escrow").Hex(),
			Split:  programAddress("split").Hex(),
			Access: programAddress("access").Hex(),
			Token:  programAddress("token").Hex(),
		},
		Logging:   Logging{Level: "info"},
		Telemetry: Telemetry{Insecure: true},
		Auth:      Auth{ClockSkewSeconds: 120},
		RateLimit: RateLimit{RequestsPerMinute: 600, Burst: 60},
	}
	return cfg
}

// programAddress derives a stable default identity for a program name.
func programAddress(name string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("accesspay/program/" + name)))
}

func (c *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = def.ListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = def.DataDir
	}
	if strings.TrimSpace(c.Backend) == "" {
		c.Backend = def.Backend
	}
	if c.Programs.Escrow == "" {
		c.Programs.Escrow = def.Programs.Escrow
	}
	if c.Programs.Split == "" {
		c.Programs.Split = def.Programs.Split
	}
	if c.Programs.Access == "" {
		c.Programs.Access = def.Programs.Access
	}
	if c.Programs.Token == "" {
		c.Programs.Token = def.Programs.Token
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
	if c.Auth.ClockSkewSeconds <= 0 {
		c.Auth.ClockSkewSeconds = def.Auth.ClockSkewSeconds
	}
	if c.RateLimit.Burst <= 0 && c.RateLimit.RequestsPerMinute > 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// AuthSecret resolves the HMAC secret, preferring the environment variable
// named by HMACSecretEnv.
func (c *Config) AuthSecret() string {
	if env := strings.TrimSpace(c.Auth.HMACSecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return v
		}
	}
	return strings.TrimSpace(c.Auth.HMACSecret)
}
