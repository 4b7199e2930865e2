package escrow

import (
	"errors"

	"accesspay/native/payment"
)

var (
	ErrInvalidPrice           = errors.New("escrow: price must be positive")
	ErrInvalidPaymentAmount   = errors.New("escrow: payment amount does not match price")
	ErrInvalidBuyer           = errors.New("escrow: caller is not the buyer")
	ErrInvalidCreator         = errors.New("escrow: caller is not the creator")
	ErrCreatorRequired        = errors.New("escrow: creator required")
	ErrInvalidEscrowStatus    = errors.New("escrow: escrow is not awaiting payment")
	ErrEscrowAlreadyCompleted = errors.New("escrow: escrow already completed")
	ErrEscrowAlreadyCancelled = errors.New("escrow: escrow already cancelled")
	ErrEscrowNotFound         = errors.New("escrow: escrow not found")
	ErrEscrowExists           = errors.New("escrow: escrow already exists")
	ErrCredentialIssue        = errors.New("escrow: access credential issuance failed")

	ErrInvalidVault      = payment.ErrInvalidVault
	ErrInsufficientFunds = payment.ErrInsufficientFunds

	errNilState = errors.New("escrow engine: state not configured")
)

var outcomeLabels = map[string]error{
	"invalid_price":          ErrInvalidPrice,
	"invalid_payment_amount": ErrInvalidPaymentAmount,
	"invalid_buyer":          ErrInvalidBuyer,
	"invalid_creator":        ErrInvalidCreator,
	"creator_required":       ErrCreatorRequired,
	"invalid_status":         ErrInvalidEscrowStatus,
	"already_completed":      ErrEscrowAlreadyCompleted,
	"already_cancelled":      ErrEscrowAlreadyCancelled,
	"not_found":              ErrEscrowNotFound,
	"exists":                 ErrEscrowExists,
	"invalid_vault":          ErrInvalidVault,
	"insufficient_funds":     ErrInsufficientFunds,
	"credential":             ErrCredentialIssue,
}
