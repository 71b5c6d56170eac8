// Package ledger builds sealed, hash-chained ledgers over ordered events.
//
// Chain rules:
//   - event_hash   = H(C(event))
//   - entry_hash   = H(C({index, event_id, event_hash, previous_hash, event}))
//   - previous_hash of entry 0 is null, of entry i the entry_hash of i-1
//   - ledger_hash  = H(C({kernel_version, spec_version, entry_count, final_entry_hash}))
//
// where C is canonicalize.Marshal and H the kernel digest. A Ledger is
// built once and never changes. Build stores deep copies of the events and
// every accessor hands out deep copies, so no caller can reach the sealed
// values.
package ledger

import (
	"encoding/json"
	"log/slog"
	"reflect"

	"github.com/Mindburn-Labs/veritas/pkg/digest"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

// Ledger is a sealed ledger.
type Ledger struct {
	header     Header
	entries    []Entry
	ledgerHash string
}

// Option configures Build.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// Build seals events into a new ledger.
//
// events must be a slice or array. Events are processed strictly in the
// order given: nothing is sorted, deduplicated or filtered, and event_id
// values are copied verbatim without validation. An empty sequence gives a
// ledger with no entries whose ledger_hash covers the null sentinel.
// Changing an input event after Build returns does not affect the ledger.
func Build(events any, opts ...Option) (*Ledger, error) {
	o := options{logger: slog.Default().With("component", "ledger")}
	for _, opt := range opts {
		opt(&o)
	}

	seq, err := sequence(events)
	if err != nil {
		return nil, err
	}

	id := versioning.Current()
	l := &Ledger{
		header: Header{
			KernelVersion: id.KernelVersion,
			SpecVersion:   id.SpecVersion,
			HashAlgorithm: id.HashAlgorithm,
		},
		entries: make([]Entry, 0, len(seq)),
	}

	var previous *string
	for i, event := range seq {
		eventHash, err := HashEvent(event)
		if err != nil {
			return nil, withIndex(err, i)
		}
		// Hashing has already rejected cyclic events.
		event = clone(event)
		entry := Entry{
			Index:        i,
			EventID:      EventIDOf(event),
			EventHash:    eventHash,
			PreviousHash: previous,
			Event:        event,
		}
		entry.EntryHash, err = HashEntry(entry.Index, entry.EventID, entry.EventHash, entry.previous(), entry.Event)
		if err != nil {
			return nil, withIndex(err, i)
		}

		l.entries = append(l.entries, entry)
		hash := entry.EntryHash
		previous = &hash
	}

	var final any
	if previous != nil {
		final = *previous
	}
	l.ledgerHash, err = HashLedger(id.KernelVersion, id.SpecVersion, len(l.entries), final)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("ledger sealed",
		"entry_count", len(l.entries),
		"ledger_hash", l.ledgerHash,
	)
	return l, nil
}

// Assemble returns a ledger made of the given parts without checking them.
// entry_count is len(entries). Use it to build a logically distinct ledger
// from an existing one; only the verifier decides whether it is valid.
// The entries are deep-copied.
func Assemble(header Header, entries []Entry, ledgerHash string) *Ledger {
	return &Ledger{
		header:     header,
		entries:    cloneEntries(entries),
		ledgerHash: ledgerHash,
	}
}

// Header returns the identity tag.
func (l *Ledger) Header() Header { return l.header }

// EntryCount returns the number of entries.
func (l *Ledger) EntryCount() int { return len(l.entries) }

// Entries returns a deep copy of the entries.
func (l *Ledger) Entries() []Entry {
	entries := cloneEntries(l.entries)
	if entries == nil {
		entries = []Entry{}
	}
	return entries
}

// Entry returns a deep copy of the entry at index i.
func (l *Ledger) Entry(i int) (Entry, bool) {
	if i < 0 || i >= len(l.entries) {
		return Entry{}, false
	}
	return cloneEntry(l.entries[i]), true
}

// Events returns deep copies of the events in ledger order.
func (l *Ledger) Events() []any {
	events := make([]any, len(l.entries))
	for i, e := range l.entries {
		events[i] = clone(e.Event)
	}
	return events
}

// LedgerHash returns the ledger-level digest.
func (l *Ledger) LedgerHash() string { return l.ledgerHash }

// FinalEntryHash returns the entry_hash of the last entry, or "" when the
// ledger is empty.
func (l *Ledger) FinalEntryHash() string {
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1].EntryHash
}

type document struct {
	Header     Header  `json:"header"`
	EntryCount int     `json:"entry_count"`
	Entries    []Entry `json:"entries"`
	LedgerHash string  `json:"ledger_hash"`
}

func (l *Ledger) doc() document {
	entries := l.entries
	if entries == nil {
		entries = []Entry{}
	}
	return document{
		Header:     l.header,
		EntryCount: len(l.entries),
		Entries:    entries,
		LedgerHash: l.ledgerHash,
	}
}

// MarshalJSON writes header, entry_count, entries and ledger_hash.
func (l *Ledger) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.doc())
}

// Encode returns the indented ledger document with a trailing newline.
func Encode(l *Ledger) ([]byte, error) {
	data, err := json.MarshalIndent(l.doc(), "", "  ")
	if err != nil {
		return nil, kernelerr.NewInvalidInput("ledger is not serializable", kernelerr.StageLedger,
			map[string]any{"reason": err.Error()})
	}
	return append(data, '\n'), nil
}

// Document returns the ledger as generic values, the same shape a JSON
// decoder would produce. Events in the document are deep copies.
func (l *Ledger) Document() map[string]any {
	entries := make([]any, len(l.entries))
	for i, e := range l.entries {
		entries[i] = cloneEntry(e).document()
	}
	return map[string]any{
		"header": map[string]any{
			"kernel_version": l.header.KernelVersion,
			"spec_version":   l.header.SpecVersion,
			"hash_algorithm": l.header.HashAlgorithm,
		},
		"entry_count": len(l.entries),
		"entries":     entries,
		"ledger_hash": l.ledgerHash,
	}
}

// EventIDOf returns the event_id field of a mapping event, or nil.
func EventIDOf(event any) any {
	switch m := event.(type) {
	case map[string]any:
		return m["event_id"]
	case nil:
		return nil
	}
	rv := reflect.ValueOf(event)
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String && !rv.IsNil() {
		v := rv.MapIndex(reflect.ValueOf("event_id").Convert(rv.Type().Key()))
		if v.IsValid() {
			return v.Interface()
		}
	}
	return nil
}

func sequence(events any) ([]any, error) {
	switch t := events.(type) {
	case nil:
		return nil, kernelerr.NewInvalidInput("ledger input must be an ordered sequence", kernelerr.StageLedger,
			map[string]any{"got": "nil"})
	case []any:
		return t, nil
	}
	rv := reflect.ValueOf(events)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, kernelerr.NewInvalidInput("ledger input must be an ordered sequence", kernelerr.StageLedger,
			map[string]any{"got": rv.Type().String()})
	}
	seq := make([]any, rv.Len())
	for i := range seq {
		seq[i] = rv.Index(i).Interface()
	}
	return seq, nil
}

func withIndex(err error, index int) error {
	ke, ok := kernelerr.As(err)
	if !ok {
		return err
	}
	details := ke.Details()
	if details == nil {
		details = map[string]any{}
	}
	details["index"] = index
	return kernelerr.New(ke.Code(), ke.Stage(), ke.Message(), details)
}

// HashEvent returns event_hash for an event.
func HashEvent(event any) (string, error) {
	return digest.NewCanonicalHasher().Hash(event)
}

// HashEntry returns entry_hash for the given entry fields. The fields are
// taken as-is so the verifier can pass decoded document values.
func HashEntry(index, eventID, eventHash, previousHash, event any) (string, error) {
	return digest.NewCanonicalHasher().Hash(map[string]any{
		"index":         index,
		"event_id":      eventID,
		"event_hash":    eventHash,
		"previous_hash": previousHash,
		"event":         event,
	})
}

// HashLedger returns ledger_hash. finalEntryHash is nil for an empty ledger.
func HashLedger(kernelVersion, specVersion string, entryCount, finalEntryHash any) (string, error) {
	return digest.NewCanonicalHasher().Hash(map[string]any{
		"kernel_version":   kernelVersion,
		"spec_version":     specVersion,
		"entry_count":      entryCount,
		"final_entry_hash": finalEntryHash,
	})
}
