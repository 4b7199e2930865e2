package split

import (
	"errors"

	"accesspay/native/payment"
)

var (
	ErrPlatformFeeTooHigh    = errors.New("split: platform fee exceeds maximum")
	ErrSharesExceedTotal     = errors.New("split: shares must leave a creator remainder")
	ErrDuplicateCollaborator = errors.New("split: duplicate collaborator")
	ErrInvalidCollaborator   = errors.New("split: invalid collaborator")
	ErrTooManyCollaborators  = errors.New("split: too many collaborators")
	ErrSplitExists           = errors.New("split: split already exists")
	ErrSplitNotFound         = errors.New("split: split not found")
	ErrTreasuryNotConfigured = errors.New("split: platform treasury not configured")
	ErrInvalidPaymentAmount  = errors.New("split: invalid payment amount")
	ErrInvalidCreator        = errors.New("split: creator required")

	ErrInvalidVault      = payment.ErrInvalidVault
	ErrInsufficientFunds = payment.ErrInsufficientFunds

	errNilState = errors.New("split engine: state not configured")
)

var outcomeLabels = map[string]error{
	"fee_too_high":           ErrPlatformFeeTooHigh,
	"shares_exceed_total":    ErrSharesExceedTotal,
	"duplicate":              ErrDuplicateCollaborator,
	"invalid_collaborator":   ErrInvalidCollaborator,
	"too_many_collaborators": ErrTooManyCollaborators,
	"exists":                 ErrSplitExists,
	"not_found":              ErrSplitNotFound,
	"treasury":               ErrTreasuryNotConfigured,
	"invalid_amount":         ErrInvalidPaymentAmount,
	"invalid_vault":          ErrInvalidVault,
	"insufficient_funds":     ErrInsufficientFunds,
}
