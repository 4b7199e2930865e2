package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"accesspay/core/types"
)

const (
	// TypeTransfer is emitted for every committed value movement between
	// ledger accounts, in either payment medium.
	TypeTransfer = "transfer.value"
)

type Transfer struct {
	Medium string
	From   common.Address
	To     common.Address
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"medium": e.Medium,
		"from":   e.From.Hex(),
		"to":     e.To.Hex(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}
