package routes

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/native/settlement"
)

type settleRequest struct {
	Caller   common.Address `json:"caller"`
	EscrowID common.Hash    `json:"escrowId"`
	SplitID  common.Hash    `json:"splitId"`
	// Distribute also pays the split out in the same transaction.
	Distribute bool `json:"distribute"`
	Accounts   struct {
		Program     common.Address              `json:"program"`
		EscrowVault common.Address              `json:"escrowVault"`
		SplitVault  common.Address              `json:"splitVault"`
		Split       distributionAccountsRequest `json:"split"`
	} `json:"accounts"`
}

type settlementView struct {
	EscrowID     common.Hash       `json:"escrowId"`
	SplitID      common.Hash       `json:"splitId"`
	Medium       string            `json:"medium"`
	Amount       uint64            `json:"amount"`
	Distribution *distributionView `json:"distribution,omitempty"`
}

func (h *handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := decodeRequest(r, &req); err != nil {
		badRequest(w, err)
		return
	}
	caller, err := h.caller(r, req.Caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	accounts := settlement.Accounts{
		Program:     req.Accounts.Program,
		EscrowVault: req.Accounts.EscrowVault,
		SplitVault:  req.Accounts.SplitVault,
		Split:       req.Accounts.Split.accounts(),
	}
	router := h.node.Settlement()
	var out *settlement.Settlement
	if req.Distribute {
		out, err = router.SettleAndDistribute(req.EscrowID, req.SplitID, caller, accounts)
	} else {
		out, err = router.Settle(req.EscrowID, req.SplitID, caller, accounts)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settlementView{
		EscrowID:     out.EscrowID,
		SplitID:      out.SplitID,
		Medium:       out.Medium.String(),
		Amount:       out.Amount,
		Distribution: newDistributionView(out.Distribution),
	})
}
