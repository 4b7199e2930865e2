package eventlog

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"lukechampine.com/blake3"

	"accesspay/core/types"
)

// Digest returns the canonical hash of an event: the type followed by the
// attributes in key order, each length-prefixed. Records carry it so an export
// can be checked against the live log.
func Digest(evt *types.Event) string {
	buf := bytes.NewBuffer(nil)
	writeDelimited(buf, []byte(evt.Type))
	keys := make([]string, 0, len(evt.Attributes))
	for k := range evt.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(keys)))
	buf.Write(n[:])
	for _, k := range keys {
		writeDelimited(buf, []byte(k))
		writeDelimited(buf, []byte(evt.Attributes[k]))
	}
	sum := blake3.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func writeDelimited(buf *bytes.Buffer, data []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	buf.Write(n[:])
	buf.Write(data)
}
