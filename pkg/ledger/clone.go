package ledger

import "reflect"

// cloneKey identifies a reference value already copied during one clone
// call. Slices carry their length so a sub-slice is copied on its own.
type cloneKey struct {
	ptr uintptr
	typ reflect.Type
	len int
}

// clone returns a deep copy of v with the same dynamic types. Maps, slices,
// arrays, pointers and exported struct fields are copied; scalars are
// immutable and returned as is. Shared references stay shared inside the
// copy and cycles are reproduced rather than followed forever.
func clone(v any) any {
	if v == nil {
		return nil
	}
	c := cloner{seen: make(map[cloneKey]reflect.Value)}
	return c.value(reflect.ValueOf(v)).Interface()
}

type cloner struct {
	seen map[cloneKey]reflect.Value
}

func (c *cloner) value(rv reflect.Value) reflect.Value {
	switch rv.Kind() {
	case reflect.Interface:
		if rv.IsNil() {
			return rv
		}
		out := reflect.New(rv.Type()).Elem()
		out.Set(c.value(rv.Elem()))
		return out

	case reflect.Pointer:
		if rv.IsNil() {
			return rv
		}
		key := cloneKey{ptr: rv.Pointer(), typ: rv.Type()}
		if done, ok := c.seen[key]; ok {
			return done
		}
		out := reflect.New(rv.Type().Elem())
		c.seen[key] = out
		out.Elem().Set(c.value(rv.Elem()))
		return out

	case reflect.Map:
		if rv.IsNil() {
			return rv
		}
		key := cloneKey{ptr: rv.Pointer(), typ: rv.Type()}
		if done, ok := c.seen[key]; ok {
			return done
		}
		out := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		c.seen[key] = out
		iter := rv.MapRange()
		for iter.Next() {
			out.SetMapIndex(iter.Key(), c.value(iter.Value()))
		}
		return out

	case reflect.Slice:
		if rv.IsNil() {
			return rv
		}
		out := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		if rv.Len() > 0 {
			key := cloneKey{ptr: rv.Pointer(), typ: rv.Type(), len: rv.Len()}
			if done, ok := c.seen[key]; ok {
				return done
			}
			c.seen[key] = out
		}
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(c.value(rv.Index(i)))
		}
		return out

	case reflect.Array:
		out := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			out.Index(i).Set(c.value(rv.Index(i)))
		}
		return out

	case reflect.Struct:
		out := reflect.New(rv.Type()).Elem()
		out.Set(rv)
		for i := 0; i < rv.NumField(); i++ {
			if f := out.Field(i); f.CanSet() {
				f.Set(c.value(rv.Field(i)))
			}
		}
		return out

	default:
		return rv
	}
}

// cloneEntry returns e with its event, event_id and previous_hash detached
// from any other holder.
func cloneEntry(e Entry) Entry {
	e.EventID = clone(e.EventID)
	e.Event = clone(e.Event)
	if e.PreviousHash != nil {
		prev := *e.PreviousHash
		e.PreviousHash = &prev
	}
	return e
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}
