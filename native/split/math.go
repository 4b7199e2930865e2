package split

import (
	"fmt"

	"github.com/holiman/uint256"

	"accesspay/native/payment"
)

var bpsDenominator = uint256.NewInt(BasisPoints)

// portion returns floor(amount * bps / 10000). The product is computed in 256
// bits and any result that does not fit back into 64 bits aborts.
func portion(amount uint64, bps uint16) (uint64, error) {
	product, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount), uint256.NewInt(uint64(bps)))
	if overflow {
		return 0, fmt.Errorf("%w: %d * %d bps overflows", ErrInvalidPaymentAmount, amount, bps)
	}
	product.Div(product, bpsDenominator)
	if !product.IsUint64() {
		return 0, fmt.Errorf("%w: %d bps of %d exceeds 64 bits", ErrInvalidPaymentAmount, bps, amount)
	}
	return product.Uint64(), nil
}

// Compute splits amount according to cfg without touching the ledger. The
// creator receives whatever the platform fee and collaborator shares leave,
// so the parts always sum to amount.
func Compute(cfg *Config, medium payment.Medium, amount uint64) (*Distribution, error) {
	if cfg == nil {
		return nil, ErrSplitNotFound
	}
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInsufficientFunds)
	}
	out := &Distribution{
		SplitID:       cfg.ID,
		Medium:        medium,
		Amount:        amount,
		Collaborators: make([]Payout, 0, len(cfg.Collaborators)),
	}

	platform, err := portion(amount, cfg.PlatformFeeBps)
	if err != nil {
		return nil, err
	}
	out.Platform = platform

	allocated := uint256.NewInt(platform)
	for _, collab := range cfg.Collaborators {
		share, err := portion(amount, collab.ShareBps)
		if err != nil {
			return nil, err
		}
		var overflow bool
		allocated, overflow = allocated.AddOverflow(allocated, uint256.NewInt(share))
		if overflow {
			return nil, fmt.Errorf("%w: collaborator total overflows", ErrInvalidPaymentAmount)
		}
		out.Collaborators = append(out.Collaborators, Payout{Identity: collab.Identity, Amount: share})
	}

	remaining, underflow := new(uint256.Int).SubOverflow(uint256.NewInt(amount), allocated)
	if underflow || !remaining.IsUint64() {
		return nil, fmt.Errorf("%w: shares exceed amount %d", ErrInvalidPaymentAmount, amount)
	}
	out.Creator = remaining.Uint64()

	nominal, err := portion(amount, uint16(cfg.CreatorBps()))
	if err != nil {
		return nil, err
	}
	if out.Creator > nominal {
		out.Remainder = out.Creator - nominal
	}
	return out, nil
}
