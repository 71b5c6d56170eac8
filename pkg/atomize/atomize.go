// Package atomize turns normalized records into atomic events ready to be
// sealed into a ledger. Records keep their input order; nothing is merged,
// inferred or repaired.
package atomize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strconv"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
	"github.com/Mindburn-Labs/veritas/pkg/versioning"
)

// Context carries provenance for a batch of records. A nil Context is
// allowed; a non-nil one must be complete.
type Context struct {
	IngestID       string `json:"ingest_id" yaml:"ingest_id"`
	NormalizeID    string `json:"normalize_id" yaml:"normalize_id"`
	SourceOrigin   string `json:"source_origin" yaml:"source_origin"`
	SourceLocation string `json:"source_location" yaml:"source_location"`
}

func (c *Context) validate() error {
	var missing []string
	if c.IngestID == "" {
		missing = append(missing, "ingest_id")
	}
	if c.NormalizeID == "" {
		missing = append(missing, "normalize_id")
	}
	if c.SourceOrigin == "" {
		missing = append(missing, "source_origin")
	}
	if c.SourceLocation == "" {
		missing = append(missing, "source_location")
	}
	if len(missing) > 0 {
		return kernelerr.NewInvalidInput("atomize context is incomplete", kernelerr.StageAtomize,
			map[string]any{"missing": missing})
	}
	return nil
}

// Atomize wraps each record in an event. Event i gets event_id
// "<normalize_id>:i", or "deterministic:i" without a context.
func Atomize(records []any, ctx *Context) ([]any, error) {
	if records == nil {
		return nil, kernelerr.NewInvalidInput("records must be an array", kernelerr.StageAtomize, nil)
	}
	if ctx != nil {
		if err := ctx.validate(); err != nil {
			return nil, err
		}
	}

	id := versioning.Current()
	events := make([]any, 0, len(records))
	for i, record := range records {
		idx := strconv.Itoa(i)
		event := map[string]any{
			"event_id":       "deterministic:" + idx,
			"sequence_index": i,
			"timestamp":      field(record, "timestamp"),
			"source":         nil,
			"payload":        record,
			"provenance":     nil,
			"notes":          field(record, "notes"),
		}
		if ctx != nil {
			event["event_id"] = ctx.NormalizeID + ":" + idx
			event["source"] = map[string]any{
				"origin":   ctx.SourceOrigin,
				"location": ctx.SourceLocation + "#" + idx,
			}
			event["provenance"] = map[string]any{
				"ingest_id":      ctx.IngestID,
				"normalize_id":   ctx.NormalizeID,
				"kernel_version": id.KernelVersion,
				"spec_version":   id.SpecVersion,
			}
		}
		events = append(events, event)
	}
	return events, nil
}

// ReadRecords reads a JSON array of records. Numbers stay json.Number.
func ReadRecords(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, kernelerr.New(kernelerr.IOFailure, kernelerr.StageAtomize,
			"unable to read records file", map[string]any{"path": path, "error": err.Error()})
	}
	return DecodeRecords(data)
}

// DecodeRecords parses a JSON array of records.
func DecodeRecords(data []byte) ([]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, kernelerr.NewInvalidInput("records are not valid JSON", kernelerr.StageAtomize,
			map[string]any{"error": err.Error()})
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, kernelerr.NewInvalidInput("records have trailing data", kernelerr.StageAtomize, nil)
	}
	records, ok := v.([]any)
	if !ok {
		return nil, kernelerr.NewInvalidInput("records must be an array", kernelerr.StageAtomize, nil)
	}
	return records, nil
}

// AtomizeFile reads records from path and atomizes them.
func AtomizeFile(path string, ctx *Context) ([]any, error) {
	records, err := ReadRecords(path)
	if err != nil {
		return nil, err
	}
	return Atomize(records, ctx)
}

func field(record any, name string) any {
	m, ok := record.(map[string]any)
	if !ok {
		return nil
	}
	return m[name]
}
