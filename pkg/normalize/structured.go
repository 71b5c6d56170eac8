package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"reflect"
	"sort"

	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// Structured walks a decoded record (maps, slices and JSON scalars) and
// returns a normalized copy. Arrays are only accepted when the rules
// declare their order significant. Values are never coerced.
//
// Go maps carry no key order, so SortObjectKeys only matters for
// StructuredJSON; serialized output of Structured is always key sorted.
func Structured(value any, rules Rules) (any, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	w := &structWalker{rules: rules, path: make(map[uintptr]bool)}
	return w.walk(value)
}

type structWalker struct {
	rules Rules
	path  map[uintptr]bool
}

func (w *structWalker) enter(v any) (uintptr, error) {
	p := reflect.ValueOf(v).Pointer()
	if p == 0 {
		return 0, nil
	}
	if w.path[p] {
		return 0, kernelerr.NewInvalidInput("record contains a cycle", kernelerr.StageNormalize, nil)
	}
	w.path[p] = true
	return p, nil
}

func (w *structWalker) leave(p uintptr) {
	if p != 0 {
		delete(w.path, p)
	}
}

func (w *structWalker) walk(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, json.Number, float64, int, int64:
		return t, nil
	case string:
		return w.text(t)
	case map[string]any:
		p, err := w.enter(t)
		if err != nil {
			return nil, err
		}
		defer w.leave(p)

		out := make(map[string]any, len(t))
		for k, elem := range t {
			key, err := w.text(k)
			if err != nil {
				return nil, err
			}
			if _, dup := out[key]; dup {
				return nil, kernelerr.NewInvalidInput("keys collide after normalization", kernelerr.StageNormalize,
					map[string]any{"key": key})
			}
			if out[key], err = w.walk(elem); err != nil {
				return nil, err
			}
		}
		return out, nil
	case []any:
		if !w.rules.EnforceArrayOrder {
			return nil, arrayOrderUndeclared()
		}
		if len(t) == 0 {
			return []any{}, nil
		}
		p, err := w.enter(t)
		if err != nil {
			return nil, err
		}
		defer w.leave(p)

		out := make([]any, len(t))
		for i, elem := range t {
			if out[i], err = w.walk(elem); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return nil, kernelerr.NewInvalidInput("unsupported value in record", kernelerr.StageNormalize,
		map[string]any{"type": reflect.TypeOf(v).String()})
}

func (w *structWalker) text(s string) (string, error) {
	if w.rules.UnicodeForm == "" {
		return s, nil
	}
	return unicodeForm(s, w.rules.UnicodeForm)
}

func arrayOrderUndeclared() error {
	return kernelerr.NewInvalidInput("array order is not declared significant", kernelerr.StageNormalize,
		map[string]any{"rule": "enforce_array_order"})
}

// StructuredJSON normalizes a JSON document without losing member order.
// Members keep their input order unless SortObjectKeys is set. Output is
// compact; number literals are copied verbatim. Duplicate member names are
// rejected.
func StructuredJSON(data []byte, rules Rules) ([]byte, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	p := &streamNormalizer{dec: dec, walker: &structWalker{rules: rules}}

	var buf bytes.Buffer
	if err := p.value(&buf); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, kernelerr.NewInvalidInput("document has trailing data", kernelerr.StageNormalize, nil)
	}
	return buf.Bytes(), nil
}

type streamNormalizer struct {
	dec    *json.Decoder
	walker *structWalker
}

type member struct {
	key   string
	value []byte
}

func malformed(err error) error {
	return kernelerr.NewInvalidInput("document is not valid JSON", kernelerr.StageNormalize,
		map[string]any{"error": err.Error()})
}

func (p *streamNormalizer) value(buf *bytes.Buffer) error {
	tok, err := p.dec.Token()
	if err != nil {
		return malformed(err)
	}
	switch t := tok.(type) {
	case json.Delim:
		if t == '{' {
			return p.object(buf)
		}
		return p.array(buf)
	case string:
		return p.str(buf, t)
	case json.Number:
		buf.WriteString(t.String())
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	}
	return nil
}

func (p *streamNormalizer) str(buf *bytes.Buffer, s string) error {
	s, err := p.walker.text(s)
	if err != nil {
		return err
	}
	enc, err := canonicalize.Marshal(s)
	if err != nil {
		return err
	}
	buf.Write(enc)
	return nil
}

func (p *streamNormalizer) object(buf *bytes.Buffer) error {
	var members []member
	seen := make(map[string]bool)
	for p.dec.More() {
		tok, err := p.dec.Token()
		if err != nil {
			return malformed(err)
		}
		key, err := p.walker.text(tok.(string))
		if err != nil {
			return err
		}
		if seen[key] {
			return kernelerr.NewInvalidInput("duplicate member name", kernelerr.StageNormalize,
				map[string]any{"key": key})
		}
		seen[key] = true

		var v bytes.Buffer
		if err := p.value(&v); err != nil {
			return err
		}
		members = append(members, member{key: key, value: v.Bytes()})
	}
	if _, err := p.dec.Token(); err != nil {
		return malformed(err)
	}

	if p.walker.rules.SortObjectKeys {
		sort.Slice(members, func(i, j int) bool { return members[i].key < members[j].key })
	}
	buf.WriteByte('{')
	for i, m := range members {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := p.str(buf, m.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		buf.Write(m.value)
	}
	buf.WriteByte('}')
	return nil
}

func (p *streamNormalizer) array(buf *bytes.Buffer) error {
	if !p.walker.rules.EnforceArrayOrder {
		return arrayOrderUndeclared()
	}
	buf.WriteByte('[')
	for i := 0; p.dec.More(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := p.value(buf); err != nil {
			return err
		}
	}
	if _, err := p.dec.Token(); err != nil {
		return malformed(err)
	}
	buf.WriteByte(']')
	return nil
}
