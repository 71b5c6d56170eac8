package ledger

import "encoding/json"

// Header is the identity tag of a ledger. It is not content: it names the
// kernel that sealed the ledger.
type Header struct {
	KernelVersion string `json:"kernel_version"`
	SpecVersion   string `json:"spec_version"`
	HashAlgorithm string `json:"hash_algorithm"`
}

// Entry is one position in the ledger.
//
// PreviousHash is nil for the first entry; nil stands for the sentinel and
// is written as JSON null. Any non-nil value, including "", is a hash.
type Entry struct {
	Index        int
	EventID      any
	EventHash    string
	PreviousHash *string
	Event        any
	EntryHash    string
}

// entryDocument fixes the field order of a serialized entry.
type entryDocument struct {
	Index        int     `json:"index"`
	EventID      any     `json:"event_id"`
	EventHash    string  `json:"event_hash"`
	PreviousHash *string `json:"previous_hash"`
	Event        any     `json:"event"`
	EntryHash    string  `json:"entry_hash"`
}

// MarshalJSON writes index, event_id, event_hash, previous_hash, event and
// entry_hash in that order.
func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(entryDocument{
		Index:        e.Index,
		EventID:      e.EventID,
		EventHash:    e.EventHash,
		PreviousHash: e.PreviousHash,
		Event:        e.Event,
		EntryHash:    e.EntryHash,
	})
}

// previous returns the hash-input form of PreviousHash.
func (e Entry) previous() any {
	if e.PreviousHash == nil {
		return nil
	}
	return *e.PreviousHash
}

// document returns the generic form of the entry.
func (e Entry) document() map[string]any {
	return map[string]any{
		"index":         e.Index,
		"event_id":      e.EventID,
		"event_hash":    e.EventHash,
		"previous_hash": e.previous(),
		"event":         e.Event,
		"entry_hash":    e.EntryHash,
	}
}
