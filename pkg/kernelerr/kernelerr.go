// Package kernelerr defines the single canonical error value of the kernel.
//
// Errors are deterministic data: no timestamps, no stack frames, no paths
// or other environment-derived fields beyond what a caller puts in details.
// Two runs that fail the same way produce byte-identical payloads.
package kernelerr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	// PayloadType tags every serialized kernel error.
	PayloadType = "PRIMA_VERITAS_KERNEL_ERROR"
	// PayloadVersion is the version of the payload shape.
	PayloadVersion = "1.0"
)

// Code identifies what went wrong. Codes are comparable with errors.Is:
//
//	if errors.Is(err, kernelerr.ChainBroken) { ... }
type Code string

func (c Code) Error() string { return string(c) }

// Category codes.
const (
	InvalidInput       Code = "INVALID_INPUT"
	IOFailure          Code = "IO_FAILURE"
	InvariantViolation Code = "INVARIANT_VIOLATION"
	CLIArgumentError   Code = "CLI_ARGUMENT_ERROR"
)

// Replay and verification codes. Each names exactly one broken invariant.
const (
	HeaderMissing         Code = "HEADER_MISSING"
	HeaderVersionMismatch Code = "HEADER_VERSION_MISMATCH"
	EntriesNotArray       Code = "ENTRIES_NOT_ARRAY"
	EntryInvalid          Code = "ENTRY_INVALID"
	IndexMismatch         Code = "INDEX_MISMATCH"
	ChainBroken           Code = "CHAIN_BROKEN"
	EventHashMismatch     Code = "EVENT_HASH_MISMATCH"
	EntryHashMismatch     Code = "ENTRY_HASH_MISMATCH"
	EntryCountMismatch    Code = "ENTRY_COUNT_MISMATCH"
	LedgerHashMissing     Code = "LEDGER_HASH_MISSING"
	LedgerHashMismatch    Code = "LEDGER_HASH_MISMATCH"
	VerificationFailed    Code = "VERIFICATION_FAILED"
	AtomsMismatch         Code = "ATOMS_MISMATCH"
)

// Stage names the pipeline stage that raised the error.
type Stage string

const (
	StageIngest       Stage = "INGEST"
	StageNormalize    Stage = "NORMALIZE"
	StageAtomize      Stage = "ATOMIZE"
	StageCanonicalize Stage = "CANONICALIZE"
	StageDigest       Stage = "DIGEST"
	StageLedger       Stage = "LEDGER"
	StageReplay       Stage = "REPLAY"
	StageVerify       Stage = "VERIFY"
	StageCLI          Stage = "CLI"
	StageErrors       Stage = "ERRORS"
)

// ErrIncomplete is returned by Build when code, stage or message is empty.
var ErrIncomplete = errors.New("kernelerr: code, stage and message are required")

// Error is an immutable kernel error. The zero value is not valid; use
// Build, New or one of the category constructors.
type Error struct {
	code    Code
	stage   Stage
	message string
	details map[string]any
}

// Build constructs an Error. Details are deep-copied so later changes to the
// caller's map do not leak into the error.
func Build(code Code, stage Stage, message string, details map[string]any) (*Error, error) {
	if code == "" || stage == "" || message == "" {
		return nil, ErrIncomplete
	}
	return &Error{
		code:    code,
		stage:   stage,
		message: message,
		details: copyMap(details),
	}, nil
}

// New is Build for call sites with literal arguments. An incomplete call is
// itself an invariant violation and yields that error instead of a
// defaulted one.
func New(code Code, stage Stage, message string, details map[string]any) *Error {
	e, err := Build(code, stage, message, details)
	if err != nil {
		return &Error{
			code:    InvariantViolation,
			stage:   StageErrors,
			message: "kernel error requires code, stage, and message",
			details: map[string]any{
				"code":    string(code),
				"stage":   string(stage),
				"message": message,
			},
		}
	}
	return e
}

// Newf formats the message.
func Newf(code Code, stage Stage, details map[string]any, format string, args ...any) *Error {
	return New(code, stage, fmt.Sprintf(format, args...), details)
}

// NewIOFailure reports a failed read or access by an external collaborator.
func NewIOFailure(message string, details map[string]any) *Error {
	return New(IOFailure, StageIngest, message, details)
}

// NewInvalidInput reports a caller-supplied value that violates a contract.
func NewInvalidInput(message string, stage Stage, details map[string]any) *Error {
	return New(InvalidInput, stage, message, details)
}

// NewInvariantViolation reports a broken internal contract.
func NewInvariantViolation(message string, stage Stage, details map[string]any) *Error {
	return New(InvariantViolation, stage, message, details)
}

func (e *Error) Code() Code      { return e.code }
func (e *Error) Stage() Stage    { return e.stage }
func (e *Error) Message() string { return e.message }
func (e *Error) Type() string    { return PayloadType }
func (e *Error) Version() string { return PayloadVersion }

// Details returns a copy of the error details, or nil.
func (e *Error) Details() map[string]any { return copyMap(e.details) }

func (e *Error) Error() string {
	return fmt.Sprintf("%s [%s]: %s", e.code, e.stage, e.message)
}

// Is matches on code, against either a Code or another *Error.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Code:
		return e.code == t
	case *Error:
		return t != nil && e.code == t.code
	}
	return false
}

type payload struct {
	Type    string         `json:"type"`
	Version string         `json:"version"`
	Code    Code           `json:"code"`
	Stage   Stage          `json:"stage"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (e *Error) payload() payload {
	return payload{
		Type:    PayloadType,
		Version: PayloadVersion,
		Code:    e.code,
		Stage:   e.stage,
		Message: e.message,
		Details: e.details,
	}
}

// MarshalJSON emits type, version, code, stage, message, details in that
// order. Detail keys are sorted and HTML characters are not escaped.
func (e *Error) MarshalJSON() ([]byte, error) {
	return encodePayload(e.payload(), "")
}

// Format returns the indented payload printed by the command line.
func (e *Error) Format() string {
	data, err := encodePayload(e.payload(), "  ")
	if err != nil {
		// details hold caller values; fall back to the fixed fields
		p := e.payload()
		p.Details = map[string]any{"unserializable_details": true}
		data, _ = encodePayload(p, "  ")
	}
	return string(data)
}

func encodePayload(p payload, indent string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// As extracts the kernel error from an error chain.
func As(err error) (*Error, bool) {
	var ke *Error
	if errors.As(err, &ke) {
		return ke, true
	}
	return nil, false
}

// CodeOf returns the kernel code of err, or "" when err is not a kernel error.
func CodeOf(err error) Code {
	if ke, ok := As(err); ok {
		return ke.code
	}
	return ""
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = copyValue(elem)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
