package escrow

import (
	"strconv"

	"accesspay/core/types"
)

const (
	EventTypeEscrowInitialized = "escrow.initialized"
	EventTypeEscrowCompleted   = "escrow.completed"
	EventTypeEscrowCancelled   = "escrow.cancelled"
)

// NewInitializedEvent returns the canonical event payload for a newly created
// escrow.
func NewInitializedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowInitialized, e) }

// NewCompletedEvent returns the canonical event payload emitted when the buyer
// has paid and access has been issued.
func NewCompletedEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowCompleted, e)
	if e != nil && e.HasCredential() {
		evt.Attributes["credential"] = e.Credential.Hex()
	}
	return evt
}

// NewCancelledEvent returns the canonical event payload for a cancellation.
func NewCancelledEvent(e *Escrow, refund *Refund) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowCancelled, e)
	if refund != nil {
		evt.Attributes["refund"] = strconv.FormatUint(refund.Amount, 10)
		evt.Attributes["residual"] = strconv.FormatUint(refund.Residual, 10)
	}
	return evt
}

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = e.ID.Hex()
	attrs["buyer"] = e.Buyer.Hex()
	attrs["creator"] = e.Creator.Hex()
	attrs["contentId"] = e.ContentID.String()
	attrs["medium"] = e.Medium.String()
	attrs["price"] = strconv.FormatUint(e.Price, 10)
	attrs["paymentAmount"] = strconv.FormatUint(e.PaymentAmount, 10)
	attrs["status"] = e.Status.String()
	attrs["createdAt"] = strconv.FormatInt(e.CreatedAt, 10)
	return &types.Event{Type: eventType, Attributes: attrs}
}
