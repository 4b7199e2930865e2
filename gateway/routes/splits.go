package routes

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/types"
	"accesspay/native/payment"
	"accesspay/native/split"
)

type collaboratorView struct {
	Identity common.Address `json:"identity"`
	ShareBps uint16         `json:"shareBps"`
}

type splitView struct {
	ID                common.Hash        `json:"id"`
	Creator           common.Address     `json:"creator"`
	ContentID         string             `json:"contentId"`
	PlatformFeeBps    uint16             `json:"platformFeeBps"`
	CreatorBps        uint32             `json:"creatorBps"`
	Collaborators     []collaboratorView `json:"collaborators"`
	CreatedAt         int64              `json:"createdAt"`
	LastDistributedAt int64              `json:"lastDistributedAt"`
	Vault             common.Address     `json:"vault"`
}

func newSplitView(cfg *split.Config, vault common.Address) splitView {
	view := splitView{
		ID:                cfg.ID,
		Creator:           cfg.Creator,
		ContentID:         cfg.ContentID.String(),
		PlatformFeeBps:    cfg.PlatformFeeBps,
		CreatorBps:        cfg.CreatorBps(),
		Collaborators:     make([]collaboratorView, 0, len(cfg.Collaborators)),
		CreatedAt:         cfg.CreatedAt,
		LastDistributedAt: cfg.LastDistributedAt,
		Vault:             vault,
	}
	for _, c := range cfg.Collaborators {
		view.Collaborators = append(view.Collaborators, collaboratorView{Identity: c.Identity, ShareBps: c.ShareBps})
	}
	return view
}

type payoutView struct {
	Identity common.Address `json:"identity"`
	Amount   uint64         `json:"amount"`
}

type distributionView struct {
	SplitID       common.Hash  `json:"splitId"`
	Medium        string       `json:"medium"`
	Amount        uint64       `json:"amount"`
	Platform      uint64       `json:"platform"`
	Creator       uint64       `json:"creator"`
	Collaborators []payoutView `json:"collaborators"`
	Remainder     uint64       `json:"remainder"`
}

func newDistributionView(d *split.Distribution) *distributionView {
	if d == nil {
		return nil
	}
	view := &distributionView{
		SplitID:       d.SplitID,
		Medium:        d.Medium.String(),
		Amount:        d.Amount,
		Platform:      d.Platform,
		Creator:       d.Creator,
		Collaborators: make([]payoutView, 0, len(d.Collaborators)),
		Remainder:     d.Remainder,
	}
	for _, p := range d.Collaborators {
		view.Collaborators = append(view.Collaborators, payoutView{Identity: p.Identity, Amount: p.Amount})
	}
	return view
}

type initializeSplitRequest struct {
	Caller         common.Address     `json:"caller"`
	Content        string             `json:"content"`
	PlatformFeeBps uint16             `json:"platformFeeBps"`
	Collaborators  []collaboratorView `json:"collaborators"`
	Seed           uint64             `json:"seed"`
}

func (h *handlers) initializeSplit(w http.ResponseWriter, r *http.Request) {
	var req initializeSplitRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	creator, err := h.caller(r, req.Caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	content, err := types.ParseContentID(req.Content)
	if err != nil {
		badRequest(w, err)
		return
	}
	collaborators := make([]split.Collaborator, 0, len(req.Collaborators))
	for _, c := range req.Collaborators {
		collaborators = append(collaborators, split.Collaborator{Identity: c.Identity, ShareBps: c.ShareBps})
	}
	cfg, err := h.node.Splits().InitializeSplit(creator, content, req.PlatformFeeBps, collaborators, req.Seed)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	vault, err := h.node.Splits().VaultOf(cfg.ID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newSplitView(cfg, vault.Address))
}

type collaboratorAccountRequest struct {
	Identity     common.Address `json:"identity"`
	TokenAccount common.Address `json:"tokenAccount"`
}

type distributionAccountsRequest struct {
	Program       common.Address               `json:"program"`
	Vault         common.Address               `json:"vault"`
	Treasury      common.Address               `json:"treasury"`
	Creator       common.Address               `json:"creator"`
	Collaborators []collaboratorAccountRequest `json:"collaborators"`
}

func (a distributionAccountsRequest) accounts() split.Accounts {
	out := split.Accounts{
		Program:       a.Program,
		Vault:         a.Vault,
		Treasury:      a.Treasury,
		Creator:       a.Creator,
		Collaborators: make([]split.CollaboratorAccount, 0, len(a.Collaborators)),
	}
	for _, c := range a.Collaborators {
		out.Collaborators = append(out.Collaborators, split.CollaboratorAccount{Identity: c.Identity, TokenAccount: c.TokenAccount})
	}
	return out
}

type distributeRequest struct {
	Medium   string                      `json:"medium"`
	Amount   uint64                      `json:"amount"`
	Accounts distributionAccountsRequest `json:"accounts"`
}

// distribute is open to any authenticated caller: the split policy alone
// decides who is paid.
func (h *handlers) distribute(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	var req distributeRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	medium, err := payment.ParseMedium(req.Medium)
	if err != nil {
		badRequest(w, err)
		return
	}
	dist, err := h.node.Splits().Distribute(id, medium, req.Amount, req.Accounts.accounts())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDistributionView(dist))
}

func (h *handlers) getSplit(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	cfg, err := h.node.Splits().Split(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	vault, err := h.node.Splits().VaultOf(id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newSplitView(cfg, vault.Address))
}

func (h *handlers) previewSplit(w http.ResponseWriter, r *http.Request) {
	id, err := hashParam(r, "id")
	if err != nil {
		badRequest(w, err)
		return
	}
	query := r.URL.Query()
	medium, err := payment.ParseMedium(query.Get("medium"))
	if err != nil {
		badRequest(w, err)
		return
	}
	amount, err := strconv.ParseUint(query.Get("amount"), 10, 64)
	if err != nil {
		badRequest(w, fmt.Errorf("invalid amount %q", query.Get("amount")))
		return
	}
	dist, err := h.node.Splits().Compute(id, medium, amount)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDistributionView(dist))
}
