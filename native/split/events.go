package split

import (
	"strconv"

	"accesspay/core/types"
)

const (
	EventTypeSplitInitialized = "split.initialized"
	EventTypeSplitDistributed = "split.distributed"
)

// NewInitializedEvent describes a newly registered split policy.
func NewInitializedEvent(c *Config) *types.Event {
	attrs := map[string]string{
		"id":             c.ID.Hex(),
		"creator":        c.Creator.Hex(),
		"contentId":      c.ContentID.String(),
		"platformFeeBps": strconv.FormatUint(uint64(c.PlatformFeeBps), 10),
		"collaborators":  strconv.Itoa(len(c.Collaborators)),
		"creatorBps":     strconv.FormatUint(uint64(c.CreatorBps()), 10),
	}
	return &types.Event{Type: EventTypeSplitInitialized, Attributes: attrs}
}

// NewDistributedEvent summarises a committed distribution. Per-collaborator
// movements are visible through the transfer events of the same commit.
func NewDistributedEvent(d *Distribution, at int64) *types.Event {
	attrs := map[string]string{
		"id":            d.SplitID.Hex(),
		"medium":        d.Medium.String(),
		"amount":        strconv.FormatUint(d.Amount, 10),
		"platform":      strconv.FormatUint(d.Platform, 10),
		"creator":       strconv.FormatUint(d.Creator, 10),
		"collaborator":  strconv.FormatUint(d.CollaboratorTotal(), 10),
		"remainder":     strconv.FormatUint(d.Remainder, 10),
		"distributedAt": strconv.FormatInt(at, 10),
	}
	return &types.Event{Type: EventTypeSplitDistributed, Attributes: attrs}
}
