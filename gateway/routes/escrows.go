package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/types"
	"accesspay/native/escrow"
	"accesspay/native/payment"
)

type escrowView struct {
	ID            common.Hash     `json:"id"`
	Buyer         common.Address  `json:"buyer"`
	Creator       common.Address  `json:"creator"`
	ContentID     string          `json:"contentId"`
	Price         uint64          `json:"price"`
	Medium        string          `json:"medium"`
	PaymentAmount uint64          `json:"paymentAmount"`
	Credential    *common.Address `json:"credential,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     int64           `json:"createdAt"`
	Vault         common.Address  `json:"vault"`
	VaultBalance  *uint64         `json:"vaultBalance,omitempty"`
}

func newEscrowView(e *escrow.Escrow, vault common.Address) escrowView {
	view := escrowView{
		ID:            e.ID,
		Buyer:         e.Buyer,
		Creator:       e.Creator,
		ContentID:     e.ContentID.String(),
		Price:         e.Price,
		Medium:        e.Medium.String(),
		PaymentAmount: e.PaymentAmount,
		Status:        e.Status.String(),
		CreatedAt:     e.CreatedAt,
		Vault:         vault,
	}
	if e.HasCredential() {
		cred := e.Credential
		view.Credential = &cred
	}
	return view
}

// accountsRequest is the token plumbing of a purchase or cancellation. It is
// ignored for native escrows.
type accountsRequest struct {
	Program     common.Address `json:"program"`
	Source      common.Address `json:"source"`
	Destination common.Address `json:"destination"`
}

func (a accountsRequest) accounts() payment.Accounts {
	return payment.Accounts{Program: a.Program, Source: a.Source, Destination: a.Destination}
}

type initializeEscrowRequest struct {
	Caller  common.Address `json:"caller"`
	Creator common.Address `json:"creator"`
	Content string         `json:"content"`
	Price   uint64         `json:"price"`
	Medium  string         `json:"medium"`
	Seed    uint64         `json:"seed"`
}

func (h *handlers) initializeEscrow(w http.ResponseWriter, r *http.Request) {
	var req initializeEscrowRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	buyer, err := h.caller(r, req.Caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	content, err := types.ParseContentID(req.Content)
	if err != nil {
		badRequest(w, err)
		return
	}
	medium, err := payment.ParseMedium(req.Medium)
	if err != nil {
		badRequest(w, err)
		return
	}
	esc, err := h.node.Escrows().InitializeEscrow(buyer, req.Creator, content, req.Price, medium, req.Seed)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	vault, err := h.node.Escrows().VaultOf(esc.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEscrowView(esc, vault.Address))
}

type buyRequest struct {
	Caller   common.Address  `json:"caller"`
	Amount   uint64          `json:"amount"`
	Accounts accountsRequest `json:"accounts"`
}

type receiptView struct {
	EscrowID      common.Hash    `json:"escrowId"`
	PaymentAmount uint64         `json:"paymentAmount"`
	Credential    common.Address `json:"credential"`
}

func (h *handlers) buyAndMint(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var req buyRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller, err := h.caller(r, req.Caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	receipt, err := h.node.Escrows().BuyAndMint(id, caller, req.Amount, req.Accounts.accounts())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptView{
		EscrowID:      receipt.EscrowID,
		PaymentAmount: receipt.PaymentAmount,
		Credential:    receipt.Credential,
	})
}

type cancelRequest struct {
	Caller   common.Address  `json:"caller"`
	Accounts accountsRequest `json:"accounts"`
}

type refundView struct {
	EscrowID common.Hash `json:"escrowId"`
	Amount   uint64      `json:"amount"`
	Residual uint64      `json:"residual"`
}

func (h *handlers) cancelEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var req cancelRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller, err := h.caller(r, req.Caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	refund, err := h.node.Escrows().CancelEscrow(id, caller, req.Accounts.accounts())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, refundView{EscrowID: refund.EscrowID, Amount: refund.Amount, Residual: refund.Residual})
}

func (h *handlers) getEscrow(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	esc, err := h.node.Escrows().Escrow(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	vault, err := h.node.Escrows().VaultOf(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	view := newEscrowView(esc, vault.Address)
	if balance, err := h.node.Escrows().VaultBalance(id); err == nil {
		view.VaultBalance = &balance
	}
	writeJSON(w, http.StatusOK, view)
}
