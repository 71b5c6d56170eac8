// Package canonicalize provides the canonical byte form of structured values
// used as hash input by the ledger kernel.
//
// The form is JSON without whitespace:
//  1. Map keys are sorted by code point (byte order of their UTF-8 form).
//  2. Sequences keep their order; nothing is deduplicated.
//  3. Strings use RFC 8785 escaping; HTML escaping is DISABLED.
//  4. Integers are written as decimal literals; other numbers use the ES6
//     shortest round-trip form. NaN and Infinity are rejected.
//
// It is a hashing representation, not a display format.
package canonicalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/veritas/pkg/kernelerr"
)

// Marshal returns the canonical bytes of v.
//
// Supported values are nil, booleans, numbers (Go numeric kinds and
// json.Number), strings, slices and arrays, maps with string keys, and
// pointers to these. Structs and json.Marshaler values are pre-marshaled
// with encoding/json so their json tags apply.
//
// A value graph that contains itself fails with INVARIANT_VIOLATION.
// Unsupported values fail with INVALID_INPUT.
func Marshal(v any) ([]byte, error) {
	e := &encoder{visiting: make(map[visitKey]struct{})}
	if err := e.encode(v); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

// MarshalString returns the canonical form as a string.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// visitKey identifies a container by the memory it refers to. Slices also
// carry their length so that a sub-slice sharing a backing array is not
// mistaken for its parent.
type visitKey struct {
	ptr  uintptr
	kind reflect.Kind
	len  int
}

// encoder holds the state of one top-level Marshal call. The visited set
// tracks containers on the current descent path only, so shared acyclic
// references are allowed.
type encoder struct {
	buf      bytes.Buffer
	visiting map[visitKey]struct{}
}

var integerLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)

func (e *encoder) encode(v any) error {
	switch t := v.(type) {
	case nil:
		e.buf.WriteString("null")
		return nil
	case bool:
		e.writeBool(t)
		return nil
	case string:
		return e.writeString(t)
	case json.Number:
		return e.writeNumber(t)
	case int:
		e.buf.WriteString(strconv.FormatInt(int64(t), 10))
		return nil
	case int64:
		e.buf.WriteString(strconv.FormatInt(t, 10))
		return nil
	case uint64:
		e.buf.WriteString(strconv.FormatUint(t, 10))
		return nil
	case float64:
		return e.writeFloat(t)
	case []any:
		return e.encodeSlice(reflect.ValueOf(t))
	case map[string]any:
		return e.encodeMap(reflect.ValueOf(t))
	case json.Marshaler:
		return e.encodePremarshaled(v)
	}
	return e.encodeReflect(reflect.ValueOf(v))
}

func (e *encoder) encodeReflect(rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Invalid:
		e.buf.WriteString("null")
		return nil
	case reflect.Bool:
		e.writeBool(rv.Bool())
		return nil
	case reflect.String:
		return e.writeString(rv.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		e.buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32:
		// float32 widening adds digits the value never had; go through its
		// own shortest form first.
		f, _ := strconv.ParseFloat(strconv.FormatFloat(rv.Float(), 'g', -1, 32), 64)
		return e.writeFloat(f)
	case reflect.Float64:
		return e.writeFloat(rv.Float())
	case reflect.Interface:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.encode(rv.Elem().Interface())
	case reflect.Pointer:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		key := visitKey{ptr: rv.Pointer(), kind: reflect.Pointer}
		if err := e.enter(key); err != nil {
			return err
		}
		defer e.leave(key)
		return e.encode(rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			// encoding/json writes []byte as a base64 string
			return e.encodePremarshaled(rv.Interface())
		}
		return e.encodeSlice(rv)
	case reflect.Array:
		return e.encodeSlice(rv)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return kernelerr.NewInvalidInput("map keys must be strings", kernelerr.StageCanonicalize,
				map[string]any{"key_type": rv.Type().Key().String()})
		}
		return e.encodeMap(rv)
	case reflect.Struct:
		return e.encodePremarshaled(rv.Interface())
	default:
		return kernelerr.NewInvalidInput("value is not canonicalizable", kernelerr.StageCanonicalize,
			map[string]any{"type": rv.Type().String()})
	}
}

func (e *encoder) encodeSlice(rv reflect.Value) error {
	if rv.Kind() == reflect.Slice {
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		if rv.Len() > 0 {
			key := visitKey{ptr: rv.Pointer(), kind: reflect.Slice, len: rv.Len()}
			if err := e.enter(key); err != nil {
				return err
			}
			defer e.leave(key)
		}
	}

	e.buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.encode(rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	e.buf.WriteByte(']')
	return nil
}

func (e *encoder) encodeMap(rv reflect.Value) error {
	if rv.IsNil() {
		e.buf.WriteString("null")
		return nil
	}
	key := visitKey{ptr: rv.Pointer(), kind: reflect.Map}
	if err := e.enter(key); err != nil {
		return err
	}
	defer e.leave(key)

	keys := make([]string, 0, rv.Len())
	values := make(map[string]reflect.Value, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		k := iter.Key().String()
		keys = append(keys, k)
		values[k] = iter.Value()
	}
	// Byte order of valid UTF-8 is code point order.
	sort.Strings(keys)

	e.buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			e.buf.WriteByte(',')
		}
		if err := e.writeString(k); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.encode(values[k].Interface()); err != nil {
			return err
		}
	}
	e.buf.WriteByte('}')
	return nil
}

// encodePremarshaled runs v through encoding/json once and canonicalizes the
// generic result.
func (e *encoder) encodePremarshaled(v any) error {
	intermediate, err := json.Marshal(v)
	if err != nil {
		var unsupported *json.UnsupportedValueError
		if errors.As(err, &unsupported) && strings.Contains(unsupported.Str, "cycle") {
			return kernelerr.NewInvariantViolation("cyclic value graph", kernelerr.StageCanonicalize, nil)
		}
		return kernelerr.NewInvalidInput("value is not canonicalizable", kernelerr.StageCanonicalize,
			map[string]any{"reason": err.Error()})
	}

	var generic any
	dec := json.NewDecoder(bytes.NewReader(intermediate))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return kernelerr.NewInvalidInput("value is not canonicalizable", kernelerr.StageCanonicalize,
			map[string]any{"reason": err.Error()})
	}
	return e.encode(generic)
}

func (e *encoder) enter(key visitKey) error {
	if _, seen := e.visiting[key]; seen {
		return kernelerr.NewInvariantViolation("cyclic value graph", kernelerr.StageCanonicalize,
			map[string]any{"kind": key.kind.String()})
	}
	e.visiting[key] = struct{}{}
	return nil
}

func (e *encoder) leave(key visitKey) {
	delete(e.visiting, key)
}

func (e *encoder) writeBool(b bool) {
	if b {
		e.buf.WriteString("true")
		return
	}
	e.buf.WriteString("false")
}

func (e *encoder) writeFloat(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return kernelerr.NewInvalidInput("NaN and Infinity are not canonicalizable", kernelerr.StageCanonicalize,
			map[string]any{"value": strconv.FormatFloat(f, 'g', -1, 64)})
	}
	s, err := jcs.NumberToJSON(f)
	if err != nil {
		return kernelerr.NewInvalidInput("number is not canonicalizable", kernelerr.StageCanonicalize,
			map[string]any{"reason": err.Error()})
	}
	e.buf.WriteString(s)
	return nil
}

func (e *encoder) writeNumber(n json.Number) error {
	s := string(n)
	if integerLiteral.MatchString(s) {
		if s == "-0" {
			s = "0"
		}
		e.buf.WriteString(s)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return kernelerr.NewInvalidInput("invalid number literal", kernelerr.StageCanonicalize,
			map[string]any{"literal": s})
	}
	return e.writeFloat(f)
}

const hexDigits = "0123456789abcdef"

// writeString quotes s the way RFC 8785 (and ES JSON.stringify) do.
func (e *encoder) writeString(s string) error {
	if !utf8.ValidString(s) {
		return kernelerr.NewInvalidInput("string is not valid UTF-8", kernelerr.StageCanonicalize, nil)
	}
	e.buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x20 && c != '"' && c != '\\' {
			continue
		}
		e.buf.WriteString(s[start:i])
		switch c {
		case '"':
			e.buf.WriteString(`\"`)
		case '\\':
			e.buf.WriteString(`\\`)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		default:
			e.buf.WriteString(`\u00`)
			e.buf.WriteByte(hexDigits[c>>4])
			e.buf.WriteByte(hexDigits[c&0xf])
		}
		start = i + 1
	}
	e.buf.WriteString(s[start:])
	e.buf.WriteByte('"')
	return nil
}
