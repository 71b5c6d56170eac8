// Package replay re-derives the event sequence of a sealed ledger and checks
// every hash on the way.
//
// All entry points run the same walk over the generic document form of a
// ledger (maps, slices, strings, numbers), so a ledger built in process and
// one read back from disk fail with the same codes in the same order. The
// first failing check aborts the walk; no partial result is returned.
package replay

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strings"

	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/ledger"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

// Result is the outcome of a successful replay. For Replay the events are
// copies owned by the caller; for ReplayValue they are the values found in
// the given document.
type Result struct {
	Events     []any
	LedgerHash string
	EntryCount int
	State      State
}

// Option configures a replay.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	expectedHash   *string
	expectedEvents any
	checkEvents    bool
}

// WithExpectedHash requires ledger_hash to equal hash exactly.
func WithExpectedHash(hash string) Option {
	return func(o *options) { o.expectedHash = &hash }
}

// WithExpectedEvents requires the replayed events to be canonically equal
// to events.
func WithExpectedEvents(events any) Option {
	return func(o *options) {
		o.expectedEvents = events
		o.checkEvents = true
	}
}

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default().With("component", "replay")}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Replay verifies an in-memory ledger.
func Replay(l *ledger.Ledger, opts ...Option) (*Result, error) {
	if l == nil {
		return nil, kernelerr.NewInvalidInput("ledger is required", kernelerr.StageReplay, nil)
	}
	return ReplayValue(l.Document(), opts...)
}

// ReplayDocument decodes a JSON ledger document and verifies it.
func ReplayDocument(data []byte, opts ...Option) (*Result, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return ReplayValue(doc, opts...)
}

// ReplayValue verifies a decoded ledger document.
func ReplayValue(doc any, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	w := &walker{state: StateStart, index: -1, id: versioning.Current()}

	res, err := w.run(doc)
	if err != nil {
		o.logger.Debug("replay failed", "state", w.failedAt, "index", w.index, "error", err)
		return nil, err
	}

	if o.expectedHash != nil && *o.expectedHash != res.LedgerHash {
		return nil, kernelerr.New(kernelerr.VerificationFailed, kernelerr.StageVerify,
			"ledger_hash does not match expected digest",
			map[string]any{"expected": *o.expectedHash, "actual": res.LedgerHash})
	}

	if o.checkEvents {
		if err := compareEvents(res.Events, o.expectedEvents); err != nil {
			return nil, err
		}
	}

	o.logger.Debug("replay verified", "entry_count", res.EntryCount, "ledger_hash", res.LedgerHash)
	return res, nil
}

// Verify checks ledger_hash against expected before replaying the whole
// ledger.
func Verify(doc any, expected string, opts ...Option) (*Result, error) {
	m, ok := doc.(map[string]any)
	if !ok {
		return nil, kernelerr.NewInvalidInput("ledger must be an object", kernelerr.StageVerify,
			map[string]any{"got": typeName(doc)})
	}
	actual, ok := m["ledger_hash"].(string)
	if !ok {
		return nil, kernelerr.New(kernelerr.LedgerHashMissing, kernelerr.StageVerify,
			"ledger_hash is missing", nil)
	}
	if actual != expected {
		return nil, kernelerr.New(kernelerr.VerificationFailed, kernelerr.StageVerify,
			"ledger_hash does not match expected digest",
			map[string]any{"expected": expected, "actual": actual})
	}
	return ReplayValue(doc, opts...)
}

// ReadExpectedHash reads a digest file and trims surrounding whitespace.
func ReadExpectedHash(r io.Reader) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", kernelerr.New(kernelerr.IOFailure, kernelerr.StageVerify,
			"failed to read expected digest", map[string]any{"reason": err.Error()})
	}
	hash := strings.TrimSpace(string(data))
	if hash == "" {
		return "", kernelerr.NewInvalidInput("expected digest is empty", kernelerr.StageVerify, nil)
	}
	return hash, nil
}

// Decode parses a single JSON value, keeping numbers as json.Number.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, kernelerr.NewInvalidInput("document is not valid JSON", kernelerr.StageReplay,
			map[string]any{"reason": err.Error()})
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, kernelerr.NewInvalidInput("document has trailing data", kernelerr.StageReplay, nil)
	}
	return doc, nil
}

type walker struct {
	state    State
	failedAt State
	index    int
	id       versioning.Identity
}

func (w *walker) enter(s State) { w.state = s }

func (w *walker) fail(code kernelerr.Code, message string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	details["state"] = string(w.state)
	if w.index >= 0 {
		details["index"] = w.index
	}
	w.failedAt = w.state
	w.state = StateFailed
	return kernelerr.New(code, kernelerr.StageReplay, message, details)
}

// fatal records a failure that already carries its own payload.
func (w *walker) fatal(err error) error {
	w.failedAt = w.state
	w.state = StateFailed
	return err
}

func (w *walker) run(doc any) (*Result, error) {
	root, ok := doc.(map[string]any)
	if !ok {
		return nil, w.fail(kernelerr.InvalidInput, "ledger must be an object",
			map[string]any{"got": typeName(doc)})
	}

	w.enter(StateCheckHeader)
	header, ok := root["header"].(map[string]any)
	if !ok {
		return nil, w.fail(kernelerr.HeaderMissing, "ledger header is missing", nil)
	}
	kv, _ := header["kernel_version"].(string)
	sv, _ := header["spec_version"].(string)
	alg, _ := header["hash_algorithm"].(string)
	if !w.id.Matches(kv, sv, alg) {
		return nil, w.fail(kernelerr.HeaderVersionMismatch, "ledger header does not match kernel identity",
			map[string]any{
				"expected": map[string]any{
					"kernel_version": w.id.KernelVersion,
					"spec_version":   w.id.SpecVersion,
					"hash_algorithm": w.id.HashAlgorithm,
				},
				"actual": map[string]any{
					"kernel_version": header["kernel_version"],
					"spec_version":   header["spec_version"],
					"hash_algorithm": header["hash_algorithm"],
				},
			})
	}

	entries, ok := root["entries"].([]any)
	if !ok {
		return nil, w.fail(kernelerr.EntriesNotArray, "ledger entries must be an array",
			map[string]any{"got": typeName(root["entries"])})
	}

	events := make([]any, 0, len(entries))
	var previous any
	for i, raw := range entries {
		w.index = i
		w.enter(StateCheckIndex)
		entry, ok := raw.(map[string]any)
		if !ok {
			return nil, w.fail(kernelerr.EntryInvalid, "ledger entry must be an object",
				map[string]any{"got": typeName(raw)})
		}
		if got, ok := intValue(entry["index"]); !ok || got != i {
			return nil, w.fail(kernelerr.IndexMismatch, "entry index does not match position",
				map[string]any{"expected": i, "actual": entry["index"]})
		}

		w.enter(StateCheckChain)
		prev, present := entry["previous_hash"]
		if !present || !sameHash(prev, previous) {
			return nil, w.fail(kernelerr.ChainBroken, "previous_hash does not link to prior entry",
				map[string]any{"expected": previous, "actual": prev})
		}

		w.enter(StateCheckEventHash)
		event := entry["event"]
		eventHash, err := ledger.HashEvent(event)
		if err != nil {
			return nil, w.fatal(err)
		}
		if !sameHash(entry["event_hash"], eventHash) {
			return nil, w.fail(kernelerr.EventHashMismatch, "event_hash does not match event",
				map[string]any{"expected": eventHash, "actual": entry["event_hash"]})
		}

		w.enter(StateCheckEntryHash)
		entryHash, err := ledger.HashEntry(entry["index"], entry["event_id"], entry["event_hash"], prev, event)
		if err != nil {
			return nil, w.fatal(err)
		}
		if !sameHash(entry["entry_hash"], entryHash) {
			return nil, w.fail(kernelerr.EntryHashMismatch, "entry_hash does not match entry",
				map[string]any{"expected": entryHash, "actual": entry["entry_hash"]})
		}

		w.enter(StateAdvance)
		events = append(events, event)
		previous = entryHash
	}
	w.index = -1

	w.enter(StateCheckSeal)
	if got, ok := intValue(root["entry_count"]); !ok || got != len(entries) {
		return nil, w.fail(kernelerr.EntryCountMismatch, "entry_count does not match entries",
			map[string]any{"expected": len(entries), "actual": root["entry_count"]})
	}
	stored, ok := root["ledger_hash"].(string)
	if !ok {
		return nil, w.fail(kernelerr.LedgerHashMissing, "ledger_hash is missing", nil)
	}
	ledgerHash, err := ledger.HashLedger(w.id.KernelVersion, w.id.SpecVersion, len(entries), previous)
	if err != nil {
		return nil, w.fatal(err)
	}
	if stored != ledgerHash {
		return nil, w.fail(kernelerr.LedgerHashMismatch, "ledger_hash does not match entries",
			map[string]any{"expected": ledgerHash, "actual": stored})
	}

	w.enter(StateDone)
	return &Result{
		Events:     events,
		LedgerHash: stored,
		EntryCount: len(entries),
		State:      StateDone,
	}, nil
}

func compareEvents(events []any, expected any) error {
	rv := reflect.ValueOf(expected)
	if expected == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return kernelerr.NewInvalidInput("expected events must be an ordered sequence", kernelerr.StageReplay,
			map[string]any{"got": typeName(expected)})
	}
	got, err := canonicalize.Marshal(events)
	if err != nil {
		return err
	}
	want, err := canonicalize.Marshal(expected)
	if err != nil {
		return err
	}
	if !bytes.Equal(got, want) {
		return kernelerr.New(kernelerr.AtomsMismatch, kernelerr.StageReplay,
			"replayed events do not match expected events",
			map[string]any{"replayed_count": len(events), "expected_count": rv.Len()})
	}
	return nil
}

// sameHash compares a stored hash field with a computed one. A nil want
// stands for the sentinel.
func sameHash(got, want any) bool {
	if want == nil {
		return got == nil
	}
	s, ok := got.(string)
	return ok && s == want.(string)
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	}
	return 0, false
}

func typeName(v any) string {
	if v == nil {
		return "null"
	}
	switch v.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number, float64, int, int64:
		return "number"
	}
	return reflect.TypeOf(v).String()
}
