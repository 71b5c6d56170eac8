// Package normalize applies declared, mechanical transforms to text and
// structured records. Only what a rule names is changed; there are no
// defaults, inference or repair.
package normalize

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// Newline conventions.
const (
	NewlinesLF   = "LF"
	NewlinesCRLF = "CRLF"
)

// Unicode normalization forms.
const (
	FormNFC = "NFC"
	FormNFD = "NFD"
)

// Rules lists the transforms to apply. The zero value changes nothing,
// except that Structured refuses arrays unless EnforceArrayOrder is set.
type Rules struct {
	NormalizeNewlines       string `json:"normalize_newlines,omitempty" yaml:"normalize_newlines,omitempty"`
	StripTrailingWhitespace bool   `json:"strip_trailing_whitespace,omitempty" yaml:"strip_trailing_whitespace,omitempty"`
	UnicodeForm             string `json:"unicode_form,omitempty" yaml:"unicode_form,omitempty"`
	SortObjectKeys          bool   `json:"sort_object_keys,omitempty" yaml:"sort_object_keys,omitempty"`
	EnforceArrayOrder       bool   `json:"enforce_array_order,omitempty" yaml:"enforce_array_order,omitempty"`
}

// Validate reports an unknown newline convention or unicode form.
func (r Rules) Validate() error {
	switch r.NormalizeNewlines {
	case "", NewlinesLF, NewlinesCRLF:
	default:
		return kernelerr.NewInvalidInput("unsupported normalize_newlines rule", kernelerr.StageNormalize,
			map[string]any{"normalize_newlines": r.NormalizeNewlines})
	}
	switch r.UnicodeForm {
	case "", FormNFC, FormNFD:
	default:
		return kernelerr.NewInvalidInput("unsupported unicode_form rule", kernelerr.StageNormalize,
			map[string]any{"unicode_form": r.UnicodeForm})
	}
	return nil
}

//go:embed rules.schema.json
var rulesSchemaJSON string

const rulesSchemaURL = "https://veritas.schemas.local/normalize/rules.schema.json"

var (
	rulesSchemaOnce sync.Once
	rulesSchema     *jsonschema.Schema
	rulesSchemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	rulesSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(rulesSchemaURL, strings.NewReader(rulesSchemaJSON)); err != nil {
			rulesSchemaErr = err
			return
		}
		rulesSchema, rulesSchemaErr = c.Compile(rulesSchemaURL)
	})
	return rulesSchema, rulesSchemaErr
}

// Format selects the syntax of a rules document.
type Format int

const (
	// FormatJSON accepts JSON with comments and trailing commas.
	FormatJSON Format = iota
	FormatYAML
)

// LoadRules reads a rules file. Files ending in .yaml or .yml are YAML,
// anything else is JSON with comments allowed.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, kernelerr.New(kernelerr.IOFailure, kernelerr.StageNormalize,
			"unable to read rules file", map[string]any{"path": path, "error": err.Error()})
	}
	format := FormatJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		format = FormatYAML
	}
	return ParseRules(data, format)
}

// ParseRules decodes and validates a rules document. A document of the form
// {"rules": {...}} is unwrapped first.
func ParseRules(data []byte, format Format) (Rules, error) {
	doc, err := decodeRules(data, format)
	if err != nil {
		return Rules{}, kernelerr.NewInvalidInput("rules document is malformed", kernelerr.StageNormalize,
			map[string]any{"error": err.Error()})
	}
	if m, ok := doc.(map[string]any); ok {
		if inner, ok := m["rules"].(map[string]any); ok && len(m) == 1 {
			doc = inner
		}
	}

	schema, err := compiledSchema()
	if err != nil {
		return Rules{}, kernelerr.NewInvariantViolation("rules schema failed to compile", kernelerr.StageNormalize,
			map[string]any{"error": err.Error()})
	}
	if err := schema.Validate(doc); err != nil {
		return Rules{}, kernelerr.NewInvalidInput("rules document violates schema", kernelerr.StageNormalize,
			map[string]any{"error": err.Error()})
	}

	// The document is known good; a round trip through JSON fills the struct.
	raw, err := json.Marshal(doc)
	if err != nil {
		return Rules{}, kernelerr.NewInvariantViolation("rules document not re-encodable", kernelerr.StageNormalize,
			map[string]any{"error": err.Error()})
	}
	var rules Rules
	if err := json.Unmarshal(raw, &rules); err != nil {
		return Rules{}, kernelerr.NewInvalidInput("rules document is malformed", kernelerr.StageNormalize,
			map[string]any{"error": err.Error()})
	}
	return rules, rules.Validate()
}

// decodeRules returns the document as JSON-decoded values so the schema
// sees one representation regardless of source syntax.
func decodeRules(data []byte, format Format) (any, error) {
	if format == FormatYAML {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, err
		}
		var err error
		if data, err = json.Marshal(v); err != nil {
			return nil, err
		}
	} else {
		data = jsonc.ToJSON(data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}
