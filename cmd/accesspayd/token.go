package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	jwt "github.com/golang-jwt/jwt/v5"

	"accesspay/cmd/internal/secret"
	"accesspay/config"
)

func runToken(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	configFile := fs.String("config", "./config.toml", "Path to the configuration file")
	subject := fs.String("subject", "", "Caller address the token acts for")
	ttl := fs.Duration("ttl", time.Hour, "Token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !common.IsHexAddress(*subject) {
		return fmt.Errorf("invalid subject %q", *subject)
	}
	if *ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	key, err := secret.NewSource("gateway signing secret", cfg.AuthSecret(), cfg.Auth.HMACSecretEnv).Get()
	if err != nil {
		return err
	}

	signed, err := signToken(key, cfg.Auth, common.HexToAddress(*subject), time.Now(), *ttl)
	if err != nil {
		return err
	}
	fmt.Println(signed)
	return nil
}

func signToken(key string, auth config.Auth, subject common.Address, now time.Time, ttl time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub": subject.Hex(),
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	if auth.Issuer != "" {
		claims["iss"] = auth.Issuer
	}
	if auth.Audience != "" {
		claims["aud"] = auth.Audience
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
}
