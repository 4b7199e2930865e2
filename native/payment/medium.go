package payment

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Kind distinguishes the supported payment media.
type Kind uint8

const (
	KindNative Kind = iota
	KindToken
)

// Medium is the payment medium of an escrow or a distribution: the native
// currency or one specific fungible token mint.
type Medium struct {
	Kind Kind
	Mint common.Address
}

// Native returns the native currency medium.
func Native() Medium { return Medium{Kind: KindNative} }

// Token returns the fungible token medium for mint.
func Token(mint common.Address) Medium { return Medium{Kind: KindToken, Mint: mint} }

// IsNative reports whether the medium is the native currency.
func (m Medium) IsNative() bool { return m.Kind == KindNative }

// Validate checks the variant is well formed.
func (m Medium) Validate() error {
	switch m.Kind {
	case KindNative:
		if m.Mint != (common.Address{}) {
			return fmt.Errorf("payment: native medium must not name a mint")
		}
		return nil
	case KindToken:
		if m.Mint == (common.Address{}) {
			return fmt.Errorf("payment: token medium requires a mint")
		}
		return nil
	default:
		return fmt.Errorf("payment: unknown medium kind %d", m.Kind)
	}
}

func (m Medium) String() string {
	if m.IsNative() {
		return "native"
	}
	return "token:" + strings.ToLower(m.Mint.Hex())
}

// ParseMedium accepts "native" or "token:<mint hex>".
func ParseMedium(raw string) (Medium, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	if trimmed == "" || trimmed == "native" {
		return Native(), nil
	}
	mintHex, ok := strings.CutPrefix(trimmed, "token:")
	if !ok || !common.IsHexAddress(mintHex) {
		return Medium{}, fmt.Errorf("payment: unsupported medium %q", raw)
	}
	m := Token(common.HexToAddress(mintHex))
	return m, m.Validate()
}

// AssociatedAccount derives the canonical token account address holding mint
// for owner.
func AssociatedAccount(owner, mint common.Address) common.Address {
	hash := ethcrypto.Keccak256([]byte("associated-token-account"), owner.Bytes(), mint.Bytes())
	return common.BytesToAddress(hash[12:])
}
