package routes

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/storage/eventlog"
)

type balanceView struct {
	Address common.Address `json:"address"`
	Native  uint64         `json:"native"`
}

func (h *handlers) getBalance(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		badRequest(w, err)
		return
	}
	balance, err := h.node.NativeBalance(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceView{Address: addr, Native: balance})
}

type tokenAccountView struct {
	Address common.Address `json:"address"`
	Mint    common.Address `json:"mint"`
	Owner   common.Address `json:"owner"`
	Amount  uint64         `json:"amount"`
}

func (h *handlers) getTokenAccount(w http.ResponseWriter, r *http.Request) {
	addr, err := addressParam(r, "address")
	if err != nil {
		badRequest(w, err)
		return
	}
	acc, ok, err := h.node.TokenAccount(addr)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "token account not found")
		return
	}
	writeJSON(w, http.StatusOK, tokenAccountView{Address: acc.Address, Mint: acc.Mint, Owner: acc.Owner, Amount: acc.Amount})
}

type openTokenAccountRequest struct {
	Owner common.Address `json:"owner"`
	Mint  common.Address `json:"mint"`
}

// openTokenAccount opens the associated token account of owner for mint. It
// answers 201 when the account was created and 200 when it already existed.
func (h *handlers) openTokenAccount(w http.ResponseWriter, r *http.Request) {
	var req openTokenAccountRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	acc, created, err := h.node.OpenAssociatedAccount(req.Owner, req.Mint)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, tokenAccountView{Address: acc.Address, Mint: acc.Mint, Owner: acc.Owner, Amount: acc.Amount})
}

type credentialView struct {
	ID         common.Address `json:"id"`
	Collection common.Hash    `json:"collection"`
	Owner      common.Address `json:"owner"`
	Serial     uint64         `json:"serial"`
	IssuedAt   uint64         `json:"issuedAt"`
}

func (h *handlers) getCredential(w http.ResponseWriter, r *http.Request) {
	id, err := addressParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	cred, ok, err := h.node.Issuer().Credential(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		writeJSONError(w, http.StatusNotFound, "credential not found")
		return
	}
	writeJSON(w, http.StatusOK, credentialView{
		ID:         cred.ID,
		Collection: cred.Collection,
		Owner:      cred.Owner,
		Serial:     cred.Serial,
		IssuedAt:   cred.IssuedAt,
	})
}

type eventView struct {
	Sequence    uint64            `json:"sequence"`
	UUID        string            `json:"uuid"`
	Type        string            `json:"type"`
	Attributes  map[string]string `json:"attributes"`
	Digest      string            `json:"digest"`
	CommittedAt time.Time         `json:"committedAt"`
}

func (h *handlers) listEvents(w http.ResponseWriter, r *http.Request) {
	if h.events == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "event log disabled")
		return
	}
	query := r.URL.Query()
	filter := eventlog.Filter{Type: query.Get("type"), Subject: query.Get("subject")}
	if raw := query.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(w, fmt.Errorf("invalid after %q", raw))
			return
		}
		filter.After = after
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(w, fmt.Errorf("invalid limit %q", raw))
			return
		}
		filter.Limit = limit
	}
	records, err := h.events.Query(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]eventView, 0, len(records))
	for _, rec := range records {
		evt, err := rec.Event()
		if err != nil {
			h.fail(w, r, err)
			return
		}
		out = append(out, eventView{
			Sequence:    rec.ID,
			UUID:        rec.UUID,
			Type:        rec.Type,
			Attributes:  evt.Attributes,
			Digest:      rec.Digest,
			CommittedAt: rec.CommittedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
