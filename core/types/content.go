package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ContentID is the fixed-size opaque identifier of a purchasable content item.
type ContentID [32]byte

// ParseContentID decodes a 32-byte hex identifier, with or without 0x prefix.
func ParseContentID(raw string) (ContentID, error) {
	var id ContentID
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return id, fmt.Errorf("content id: %w", err)
	}
	if len(decoded) != len(id) {
		return id, fmt.Errorf("content id: expected %d bytes, got %d", len(id), len(decoded))
	}
	copy(id[:], decoded)
	return id, nil
}

func (c ContentID) String() string { return "0x" + hex.EncodeToString(c[:]) }
