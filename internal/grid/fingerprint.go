package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// DomainReport prefixes report fingerprints. The version suffix leaves room
// for changing the encoding later.
const DomainReport = "reportgrid/report/v1"

// Fingerprint returns a stable hash of a report's stored form: its normalized
// title and its items in the current shape. Two reports with the same
// fingerprint would be persisted identically.
//
// Format: hex(SHA256(domain + 0x00 + json)).
func Fingerprint(r Report) string {
	normalized := NormalizeReport(r)
	data, err := MarshalReport(normalized)
	if err != nil {
		// Only reachable with an invalid spec payload; hash the title and ids
		// so that the fingerprint still changes when the layout does.
		data = fallbackBytes(normalized)
	}
	h := sha256.New()
	h.Write([]byte(DomainReport))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// MarshalReport encodes a report in the persisted shape. Empty item lists
// encode as [] rather than null.
func MarshalReport(r Report) ([]byte, error) {
	if r.Items == nil {
		r.Items = []Item{}
	}
	return json.Marshal(r)
}

// MarshalItems encodes an item list, never as null.
func MarshalItems(items []Item) ([]byte, error) {
	if items == nil {
		items = []Item{}
	}
	return json.Marshal(items)
}

func fallbackBytes(r Report) []byte {
	buf := []byte(r.Title)
	for _, it := range r.Items {
		buf = fmt.Appendf(buf, "\x00%s:%d:%d:%d:%s", it.ID, it.Span, it.Row, it.Col, it.Spec)
	}
	return buf
}
