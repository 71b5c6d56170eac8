package replay

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/ledger"
)

func sampleEvents() []any {
	return []any{
		map[string]any{"event_id": "e-1", "kind": "open", "amount": 10},
		map[string]any{"event_id": "e-2", "kind": "move", "amount": 5.5},
		map[string]any{"event_id": "e-3", "kind": "close", "tags": []any{"a", "b"}},
	}
}

func sealed(t *testing.T) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Build(sampleEvents())
	require.NoError(t, err)
	return l
}

// decoded returns the ledger as a document read back from JSON, so tests
// can tamper with it freely.
func decoded(t *testing.T, l *ledger.Ledger) map[string]any {
	t.Helper()
	data, err := ledger.Encode(l)
	require.NoError(t, err)
	doc, err := Decode(data)
	require.NoError(t, err)
	return doc.(map[string]any)
}

func entryOf(doc map[string]any, i int) map[string]any {
	return doc["entries"].([]any)[i].(map[string]any)
}

func requireCode(t *testing.T, err error, code kernelerr.Code) *kernelerr.Error {
	t.Helper()
	require.Error(t, err)
	ke, ok := kernelerr.As(err)
	require.True(t, ok, "expected kernel error, got %v", err)
	require.Equal(t, code, ke.Code(), ke.Error())
	return ke
}

func TestReplayRoundTrip(t *testing.T) {
	l := sealed(t)

	res, err := Replay(l)
	require.NoError(t, err)
	assert.Equal(t, l.LedgerHash(), res.LedgerHash)
	assert.Equal(t, 3, res.EntryCount)
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, sampleEvents(), res.Events)
}

func TestReplayDocumentRoundTrip(t *testing.T) {
	l := sealed(t)
	data, err := ledger.Encode(l)
	require.NoError(t, err)

	res, err := ReplayDocument(data, WithExpectedEvents(sampleEvents()))
	require.NoError(t, err)
	assert.Equal(t, l.LedgerHash(), res.LedgerHash)
	require.Len(t, res.Events, 3)
	assert.Equal(t, json.Number("5.5"), res.Events[1].(map[string]any)["amount"])
}

func TestReplayPlainDecodedDocument(t *testing.T) {
	l := sealed(t)
	data, err := json.Marshal(l)
	require.NoError(t, err)

	var doc any
	require.NoError(t, json.Unmarshal(data, &doc))
	res, err := ReplayValue(doc)
	require.NoError(t, err)
	assert.Equal(t, l.LedgerHash(), res.LedgerHash)
}

func TestReplayEmptyLedger(t *testing.T) {
	l, err := ledger.Build([]any{})
	require.NoError(t, err)

	res, err := Replay(l, WithExpectedEvents([]any{}))
	require.NoError(t, err)
	assert.Empty(t, res.Events)
	assert.Equal(t, 0, res.EntryCount)
	assert.Equal(t, l.LedgerHash(), res.LedgerHash)
}

func TestReplayRejectsNonObject(t *testing.T) {
	for _, doc := range []any{nil, "ledger", []any{}, json.Number("1")} {
		requireCode(t, func() error { _, err := ReplayValue(doc); return err }(), kernelerr.InvalidInput)
	}
	_, err := Replay(nil)
	requireCode(t, err, kernelerr.InvalidInput)
}

func TestReplayDocumentRejectsBadJSON(t *testing.T) {
	_, err := ReplayDocument([]byte(`{"header":`))
	requireCode(t, err, kernelerr.InvalidInput)

	_, err = ReplayDocument([]byte(`{} {}`))
	requireCode(t, err, kernelerr.InvalidInput)
}

func TestHeaderChecks(t *testing.T) {
	doc := decoded(t, sealed(t))
	delete(doc, "header")
	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.HeaderMissing)

	doc = decoded(t, sealed(t))
	doc["header"] = "1.0.0"
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.HeaderMissing)

	for _, field := range []string{"kernel_version", "spec_version", "hash_algorithm"} {
		doc = decoded(t, sealed(t))
		doc["header"].(map[string]any)[field] = "9.9.9"
		_, err = ReplayValue(doc)
		ke := requireCode(t, err, kernelerr.HeaderVersionMismatch)
		assert.Equal(t, string(StateCheckHeader), ke.Details()["state"])
	}

	doc = decoded(t, sealed(t))
	doc["header"].(map[string]any)["kernel_version"] = "1.0.0 "
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.HeaderVersionMismatch)
}

func TestEntriesNotArray(t *testing.T) {
	for _, v := range []any{nil, "x", map[string]any{}} {
		doc := decoded(t, sealed(t))
		doc["entries"] = v
		_, err := ReplayValue(doc)
		requireCode(t, err, kernelerr.EntriesNotArray)
	}
	doc := decoded(t, sealed(t))
	delete(doc, "entries")
	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.EntriesNotArray)
}

func TestEntryInvalid(t *testing.T) {
	doc := decoded(t, sealed(t))
	doc["entries"].([]any)[1] = "not an entry"
	_, err := ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.EntryInvalid)
	assert.Equal(t, 1, ke.Details()["index"])
}

func TestIndexMismatch(t *testing.T) {
	doc := decoded(t, sealed(t))
	entryOf(doc, 2)["index"] = json.Number("5")
	_, err := ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.IndexMismatch)
	assert.Equal(t, 2, ke.Details()["index"])
	assert.Equal(t, string(StateCheckIndex), ke.Details()["state"])

	doc = decoded(t, sealed(t))
	entryOf(doc, 0)["index"] = "0"
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.IndexMismatch)
}

func TestReorderIsDetected(t *testing.T) {
	doc := decoded(t, sealed(t))
	entries := doc["entries"].([]any)
	entries[0], entries[1] = entries[1], entries[0]
	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.IndexMismatch)

	// Renumbering after a swap still breaks the chain.
	entryOf(doc, 0)["index"] = json.Number("0")
	entryOf(doc, 1)["index"] = json.Number("1")
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.ChainBroken)
}

func TestChainBroken(t *testing.T) {
	doc := decoded(t, sealed(t))
	entryOf(doc, 1)["previous_hash"] = strings.Repeat("0", 64)
	_, err := ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.ChainBroken)
	assert.Equal(t, 1, ke.Details()["index"])
	assert.Equal(t, string(StateCheckChain), ke.Details()["state"])

	doc = decoded(t, sealed(t))
	entryOf(doc, 0)["previous_hash"] = strings.Repeat("0", 64)
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.ChainBroken)

	doc = decoded(t, sealed(t))
	delete(entryOf(doc, 0), "previous_hash")
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.ChainBroken)

	doc = decoded(t, sealed(t))
	entryOf(doc, 2)["previous_hash"] = nil
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.ChainBroken)
}

func TestEventMutation(t *testing.T) {
	doc := decoded(t, sealed(t))
	entryOf(doc, 1)["event"].(map[string]any)["amount"] = json.Number("6")
	_, err := ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.EventHashMismatch)
	assert.Equal(t, 1, ke.Details()["index"])
}

func TestEventMutationWithRecomputedEventHash(t *testing.T) {
	doc := decoded(t, sealed(t))
	e := entryOf(doc, 1)
	e["event"].(map[string]any)["amount"] = json.Number("6")
	h, err := ledger.HashEvent(e["event"])
	require.NoError(t, err)
	e["event_hash"] = h

	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.EntryHashMismatch)
}

func TestEntryHashMismatch(t *testing.T) {
	doc := decoded(t, sealed(t))
	entryOf(doc, 0)["event_id"] = "forged"
	_, err := ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.EntryHashMismatch)
	assert.Equal(t, string(StateCheckEntryHash), ke.Details()["state"])

	doc = decoded(t, sealed(t))
	entryOf(doc, 2)["entry_hash"] = strings.Repeat("f", 64)
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.EntryHashMismatch)
}

func TestEntryCountMismatch(t *testing.T) {
	doc := decoded(t, sealed(t))
	doc["entry_count"] = json.Number("4")
	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.EntryCountMismatch)

	doc = decoded(t, sealed(t))
	delete(doc, "entry_count")
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.EntryCountMismatch)
}

func TestTruncationIsDetected(t *testing.T) {
	doc := decoded(t, sealed(t))
	doc["entries"] = doc["entries"].([]any)[:2]
	doc["entry_count"] = json.Number("2")
	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.LedgerHashMismatch)
}

func TestLedgerHashChecks(t *testing.T) {
	doc := decoded(t, sealed(t))
	delete(doc, "ledger_hash")
	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.LedgerHashMissing)

	doc = decoded(t, sealed(t))
	doc["ledger_hash"] = json.Number("1")
	_, err = ReplayValue(doc)
	requireCode(t, err, kernelerr.LedgerHashMissing)

	doc = decoded(t, sealed(t))
	doc["ledger_hash"] = strings.Repeat("a", 64)
	_, err = ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.LedgerHashMismatch)
	assert.Equal(t, string(StateCheckSeal), ke.Details()["state"])
}

func TestAssembledLedgerIsChecked(t *testing.T) {
	l := sealed(t)
	entries := l.Entries()
	zeros := strings.Repeat("0", 64)
	entries[1].PreviousHash = &zeros

	_, err := Replay(ledger.Assemble(l.Header(), entries, l.LedgerHash()))
	requireCode(t, err, kernelerr.ChainBroken)

	_, err = Replay(ledger.Assemble(ledger.Header{KernelVersion: "2.0.0"}, l.Entries(), l.LedgerHash()))
	requireCode(t, err, kernelerr.HeaderVersionMismatch)
}

func TestFirstFailureWins(t *testing.T) {
	doc := decoded(t, sealed(t))
	entryOf(doc, 2)["index"] = json.Number("9")
	entryOf(doc, 1)["event_hash"] = "bad"
	doc["ledger_hash"] = "bad"

	_, err := ReplayValue(doc)
	ke := requireCode(t, err, kernelerr.EventHashMismatch)
	assert.Equal(t, 1, ke.Details()["index"])
}

func TestCyclicEventSurfacesInvariantViolation(t *testing.T) {
	doc := decoded(t, sealed(t))
	cyclic := map[string]any{}
	cyclic["self"] = cyclic
	entryOf(doc, 0)["event"] = cyclic

	_, err := ReplayValue(doc)
	requireCode(t, err, kernelerr.InvariantViolation)
}

func TestExpectedHash(t *testing.T) {
	l := sealed(t)

	_, err := Replay(l, WithExpectedHash(l.LedgerHash()))
	require.NoError(t, err)

	_, err = Replay(l, WithExpectedHash(strings.ToUpper(l.LedgerHash())))
	ke := requireCode(t, err, kernelerr.VerificationFailed)
	assert.Equal(t, kernelerr.StageVerify, ke.Stage())
}

func TestExpectedEvents(t *testing.T) {
	l := sealed(t)

	_, err := Replay(l, WithExpectedEvents(sampleEvents()[:2]))
	requireCode(t, err, kernelerr.AtomsMismatch)

	other := sampleEvents()
	other[0].(map[string]any)["amount"] = 11
	_, err = Replay(l, WithExpectedEvents(other))
	requireCode(t, err, kernelerr.AtomsMismatch)

	_, err = Replay(l, WithExpectedEvents(map[string]any{}))
	requireCode(t, err, kernelerr.InvalidInput)

	_, err = Replay(l, WithExpectedEvents(nil))
	requireCode(t, err, kernelerr.InvalidInput)
}

func TestVerify(t *testing.T) {
	l := sealed(t)

	res, err := Verify(decoded(t, l), l.LedgerHash())
	require.NoError(t, err)
	assert.Equal(t, l.LedgerHash(), res.LedgerHash)

	_, err = Verify("nope", l.LedgerHash())
	requireCode(t, err, kernelerr.InvalidInput)

	doc := decoded(t, l)
	delete(doc, "ledger_hash")
	_, err = Verify(doc, l.LedgerHash())
	ke := requireCode(t, err, kernelerr.LedgerHashMissing)
	assert.Equal(t, kernelerr.StageVerify, ke.Stage())

	_, err = Verify(decoded(t, l), strings.Repeat("0", 64))
	requireCode(t, err, kernelerr.VerificationFailed)
}

func TestVerifyChecksDigestBeforeChain(t *testing.T) {
	l := sealed(t)
	doc := decoded(t, l)
	entryOf(doc, 1)["previous_hash"] = strings.Repeat("0", 64)

	_, err := Verify(doc, strings.Repeat("0", 64))
	requireCode(t, err, kernelerr.VerificationFailed)

	_, err = Verify(doc, l.LedgerHash())
	requireCode(t, err, kernelerr.ChainBroken)
}

func TestReadExpectedHash(t *testing.T) {
	h, err := ReadExpectedHash(strings.NewReader("  abc123\n"))
	require.NoError(t, err)
	assert.Equal(t, "abc123", h)

	_, err = ReadExpectedHash(strings.NewReader(" \n\t"))
	requireCode(t, err, kernelerr.InvalidInput)

	_, err = ReadExpectedHash(iotest.ErrReader(errors.New("boom")))
	requireCode(t, err, kernelerr.IOFailure)
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateCheckChain.Terminal())
}

func TestWithLoggerDoesNotChangeResult(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := sealed(t)

	res, err := Replay(l, WithLogger(logger))
	require.NoError(t, err)
	assert.Equal(t, l.LedgerHash(), res.LedgerHash)
	assert.Contains(t, buf.String(), `"msg":"replay verified"`)

	doc := decoded(t, l)
	doc["ledger_hash"] = "x"
	_, err = ReplayValue(doc, WithLogger(logger))
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"state":"CHECK_SEAL"`)
}

func TestSealedLedgerSurvivesCallerMutation(t *testing.T) {
	input := sampleEvents()
	l, err := ledger.Build(input)
	require.NoError(t, err)

	input[0].(map[string]any)["amount"] = 11
	input[2].(map[string]any)["tags"].([]any)[0] = "z"
	l.Events()[1].(map[string]any)["kind"] = "stop"
	l.Entries()[0].Event.(map[string]any)["kind"] = "shut"

	res, err := Replay(l)
	require.NoError(t, err)
	res.Events[0].(map[string]any)["amount"] = 12

	again, err := Replay(l)
	require.NoError(t, err)
	assert.Equal(t, 10, again.Events[0].(map[string]any)["amount"])
	assert.Equal(t, sampleEvents(), again.Events)
}

func TestEmptyPreviousHashIsNotTheSentinel(t *testing.T) {
	l := sealed(t)
	entries := l.Entries()
	empty := ""
	entries[0].PreviousHash = &empty
	forged := ledger.Assemble(l.Header(), entries, l.LedgerHash())

	_, err := Replay(forged)
	fromMemory := requireCode(t, err, kernelerr.ChainBroken)

	data, err := ledger.Encode(forged)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"previous_hash": ""`)
	_, err = ReplayDocument(data)
	fromDocument := requireCode(t, err, kernelerr.ChainBroken)

	assert.Equal(t, fromMemory.Details()["index"], fromDocument.Details()["index"])
	assert.Equal(t, fromMemory.Details()["state"], fromDocument.Details()["state"])
}
