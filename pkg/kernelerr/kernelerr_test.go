package kernelerr

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequiresFields(t *testing.T) {
	tests := []struct {
		name    string
		code    Code
		stage   Stage
		message string
	}{
		{"missing code", "", StageLedger, "msg"},
		{"missing stage", InvalidInput, "", "msg"},
		{"missing message", InvalidInput, StageLedger, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Build(tt.code, tt.stage, tt.message, nil)
			require.ErrorIs(t, err, ErrIncomplete)
			require.Nil(t, e)
		})
	}
}

func TestNewIncompleteIsInvariantViolation(t *testing.T) {
	e := New(ChainBroken, "", "", nil)
	require.Equal(t, InvariantViolation, e.Code())
	require.Equal(t, StageErrors, e.Stage())
	require.Equal(t, "CHAIN_BROKEN", e.Details()["code"])
}

func TestPayloadShape(t *testing.T) {
	e := New(IndexMismatch, StageReplay, "entry index mismatch", map[string]any{"index": 3})

	data, err := json.Marshal(e)
	require.NoError(t, err)
	require.Equal(t,
		`{"type":"PRIMA_VERITAS_KERNEL_ERROR","version":"1.0","code":"INDEX_MISMATCH","stage":"REPLAY","message":"entry index mismatch","details":{"index":3}}`,
		string(data))
}

func TestNilDetailsSerializeAsNull(t *testing.T) {
	data, err := json.Marshal(NewIOFailure("read failed", nil))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"details":null`)
	assert.Contains(t, string(data), `"stage":"INGEST"`)
}

func TestPayloadIsDeterministic(t *testing.T) {
	a := New(ChainBroken, StageReplay, "chain broken", map[string]any{"index": 1, "expected": "x"})
	b := New(ChainBroken, StageReplay, "chain broken", map[string]any{"expected": "x", "index": 1})
	require.Equal(t, a.Format(), b.Format())
}

func TestPayloadDoesNotEscapeHTML(t *testing.T) {
	e := New(InvalidInput, StageLedger, "a < b && c > d", map[string]any{"path": "<dir>&"})

	data, err := e.MarshalJSON()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"a < b && c > d"`)
	assert.Contains(t, string(data), `"details":{"path":"<dir>&"}`)
	assert.NotContains(t, e.Format(), `\u003c`)
	assert.False(t, strings.HasSuffix(e.Format(), "\n"))
}

func TestDetailsAreCopied(t *testing.T) {
	details := map[string]any{"nested": map[string]any{"k": "v"}}
	e := New(InvalidInput, StageLedger, "bad", details)

	details["nested"].(map[string]any)["k"] = "changed"
	require.Equal(t, "v", e.Details()["nested"].(map[string]any)["k"])

	got := e.Details()
	got["nested"] = "overwritten"
	require.IsType(t, map[string]any{}, e.Details()["nested"])
}

func TestErrorsIsMatchesCode(t *testing.T) {
	err := fmt.Errorf("replay: %w", New(EventHashMismatch, StageReplay, "event hash mismatch", nil))

	require.True(t, errors.Is(err, EventHashMismatch))
	require.False(t, errors.Is(err, EntryHashMismatch))
	require.True(t, errors.Is(err, New(EventHashMismatch, StageVerify, "other", nil)))
	require.Equal(t, EventHashMismatch, CodeOf(err))
	require.Equal(t, Code(""), CodeOf(errors.New("plain")))
}

func TestCategoryConstructors(t *testing.T) {
	require.Equal(t, IOFailure, NewIOFailure("x", nil).Code())
	require.Equal(t, InvalidInput, NewInvalidInput("x", StageNormalize, nil).Code())
	require.Equal(t, StageNormalize, NewInvalidInput("x", StageNormalize, nil).Stage())
	require.Equal(t, InvariantViolation, NewInvariantViolation("x", StageCanonicalize, nil).Code())
}

func TestErrorString(t *testing.T) {
	e := Newf(VerificationFailed, StageVerify, nil, "ledger hash %s does not match", "abc")
	require.Equal(t, "VERIFICATION_FAILED [VERIFY]: ledger hash abc does not match", e.Error())
}
