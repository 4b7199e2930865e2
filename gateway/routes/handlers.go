package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"accesspay/core"
	"accesspay/core/state"
	"accesspay/gateway/middleware"
	"accesspay/native/access"
	"accesspay/native/escrow"
	"accesspay/native/payment"
	"accesspay/native/settlement"
	"accesspay/native/split"
)

const requestLimit = 1 << 20

var (
	errCallerRequired = errors.New("caller required")
	errCallerMismatch = errors.New("caller does not match the authenticated subject")
)

type handlers struct {
	node   *core.Node
	events EventQuerier
	auth   *middleware.Authenticator
	logger *slog.Logger
}

// statusFor maps engine errors onto HTTP status codes. The first match wins.
var statusFor = []struct {
	target error
	status int
}{
	{escrow.ErrEscrowNotFound, http.StatusNotFound},
	{split.ErrSplitNotFound, http.StatusNotFound},
	{access.ErrCollectionNotFound, http.StatusNotFound},
	{escrow.ErrEscrowExists, http.StatusConflict},
	{split.ErrSplitExists, http.StatusConflict},
	{state.ErrTokenAccountExists, http.StatusConflict},
	{escrow.ErrInvalidEscrowStatus, http.StatusConflict},
	{escrow.ErrEscrowAlreadyCompleted, http.StatusConflict},
	{escrow.ErrEscrowAlreadyCancelled, http.StatusConflict},
	{escrow.ErrInvalidBuyer, http.StatusForbidden},
	{escrow.ErrInvalidCreator, http.StatusForbidden},
	{errCallerMismatch, http.StatusForbidden},
	{payment.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{settlement.ErrNothingToSettle, http.StatusUnprocessableEntity},
	{access.ErrSupplyExhausted, http.StatusUnprocessableEntity},
	{escrow.ErrCredentialIssue, http.StatusUnprocessableEntity},
	{split.ErrTreasuryNotConfigured, http.StatusServiceUnavailable},
	{escrow.ErrInvalidPrice, http.StatusBadRequest},
	{escrow.ErrCreatorRequired, http.StatusBadRequest},
	{escrow.ErrInvalidPaymentAmount, http.StatusBadRequest},
	{payment.ErrInvalidVault, http.StatusBadRequest},
	{split.ErrPlatformFeeTooHigh, http.StatusBadRequest},
	{split.ErrSharesExceedTotal, http.StatusBadRequest},
	{split.ErrDuplicateCollaborator, http.StatusBadRequest},
	{split.ErrInvalidCollaborator, http.StatusBadRequest},
	{split.ErrTooManyCollaborators, http.StatusBadRequest},
	{split.ErrInvalidPaymentAmount, http.StatusBadRequest},
	{split.ErrInvalidCreator, http.StatusBadRequest},
	{settlement.ErrSplitMismatch, http.StatusBadRequest},
	{state.ErrTokenAccountNotFound, http.StatusBadRequest},
	{core.ErrAccountOwnerRequired, http.StatusBadRequest},
	{errCallerRequired, http.StatusBadRequest},
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	for _, entry := range statusFor {
		if errors.Is(err, entry.target) {
			status = entry.status
			break
		}
	}
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.Any("error", err))
		message = http.StatusText(status)
	}
	writeJSONError(w, status, message)
}

func badRequest(w http.ResponseWriter, err error) {
	writeJSONError(w, http.StatusBadRequest, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	message = strings.TrimSpace(message)
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func decodeRequest(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("missing request body")
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(io.LimitReader(r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

// caller resolves the identity a write acts for. With authentication enabled
// it is the token subject, and a caller named in the body must agree with it.
func (h *handlers) caller(r *http.Request, supplied common.Address) (common.Address, error) {
	if subject, ok := middleware.Subject(r.Context()); ok {
		if supplied != (common.Address{}) && supplied != subject {
			return common.Address{}, errCallerMismatch
		}
		return subject, nil
	}
	if h.auth.Enabled() {
		return common.Address{}, errCallerMismatch
	}
	if supplied == (common.Address{}) {
		return common.Address{}, errCallerRequired
	}
	return supplied, nil
}

func hashParam(r *http.Request, name string) (common.Hash, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	trimmed := strings.TrimPrefix(strings.ToLower(raw), "0x")
	if len(trimmed) != 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	for _, c := range trimmed {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return common.Hash{}, fmt.Errorf("invalid %s %q", name, raw)
		}
	}
	return common.HexToHash(trimmed), nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("invalid %s %q", name, raw)
	}
	return common.HexToAddress(raw), nil
}
