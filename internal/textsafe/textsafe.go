// Package textsafe converts values holding raw bytes into values that can be
// written to a text serialization without loss.
package textsafe

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// Decode returns b as text. Valid UTF-8 is kept as is; anything else is read
// as Latin-1, which maps every byte to exactly one rune.
func Decode(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// ISO 8859-1 defines all 256 bytes; kept for completeness.
		return string(b)
	}
	return string(s)
}

// Encode reverses Decode. latin1 must be true when the text came from the
// Latin-1 fallback (see IsLatin1Fallback).
func Encode(s string, latin1 bool) []byte {
	if !latin1 {
		return []byte(s)
	}
	b, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// IsLatin1Fallback reports whether Decode(b) used the Latin-1 fallback.
func IsLatin1Fallback(b []byte) bool { return !utf8.Valid(b) }

// Convert walks v and replaces every byte slice, and every string that is
// not valid UTF-8, with its decoded text.
// Maps and structs become map[string]any, structs keyed by their json names
// (`-` and omitempty honoured); slices, arrays and sets (map[T]struct{})
// become []any. Values that marshal themselves, such as time.Time or
// json.RawMessage, and other scalars are returned unchanged.
func Convert(v any) any {
	if v == nil {
		return nil
	}
	switch x := v.(type) {
	case []byte:
		return Decode(x)
	case string:
		// strings read off the wire may hold arbitrary bytes
		if !utf8.ValidString(x) {
			return Decode([]byte(x))
		}
		return x
	case bool, int, int8, int16, int32, int64, uint, uint16, uint32, uint64,
		float32, float64:
		return x
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Convert(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Convert(e)
		}
		return out
	}
	return convertValue(reflect.ValueOf(v))
}

var (
	jsonMarshaler = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	textMarshaler = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
)

func convertValue(rv reflect.Value) any {
	if t := rv.Type(); t.Implements(jsonMarshaler) || t.Implements(textMarshaler) {
		if rv.Kind() == reflect.Pointer && rv.IsNil() {
			return nil
		}
		return rv.Interface()
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Convert(rv.Elem().Interface())
	case reflect.Struct:
		out := make(map[string]any, rv.NumField())
		structFields(rv, out)
		return out
	case reflect.String:
		if x := rv.String(); !utf8.ValidString(x) {
			return Decode([]byte(x))
		}
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return Decode(b)
		}
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Convert(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if isSet(rv.Type()) {
			return setMembers(rv)
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[keyString(iter.Key())] = Convert(iter.Value().Interface())
		}
		return out
	}
	return rv.Interface()
}

// structFields copies the exported fields of rv into out under the names
// encoding/json would use. Untagged embedded structs are flattened after the
// direct fields, so outer fields shadow promoted ones.
func structFields(rv reflect.Value, out map[string]any) {
	t := rv.Type()
	var embedded []reflect.Value
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		fv := rv.Field(i)
		if f.Anonymous && name == "" {
			ev := fv
			if ev.Kind() == reflect.Pointer && !ev.IsNil() {
				ev = ev.Elem()
			}
			if ev.Kind() == reflect.Struct && !ev.Type().Implements(jsonMarshaler) {
				embedded = append(embedded, ev)
				continue
			}
			if ev.Kind() == reflect.Pointer {
				continue
			}
		}
		if !fv.CanInterface() {
			continue
		}
		if name == "" {
			name = f.Name
		}
		if hasOption(opts, "omitempty") && isEmpty(fv) {
			continue
		}
		out[name] = Convert(fv.Interface())
	}
	for _, ev := range embedded {
		inner := make(map[string]any)
		structFields(ev, inner)
		for k, v := range inner {
			if _, taken := out[k]; !taken {
				out[k] = v
			}
		}
	}
}

func hasOption(opts, want string) bool {
	for opts != "" {
		var o string
		o, opts, _ = strings.Cut(opts, ",")
		if o == want {
			return true
		}
	}
	return false
}

// isEmpty mirrors the omitempty rule of encoding/json.
func isEmpty(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Array, reflect.Map, reflect.Slice, reflect.String:
		return v.Len() == 0
	case reflect.Bool:
		return !v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint() == 0
	case reflect.Float32, reflect.Float64:
		return v.Float() == 0
	case reflect.Interface, reflect.Pointer:
		return v.IsNil()
	}
	return false
}

// isSet matches the map[T]struct{} set idiom.
func isSet(t reflect.Type) bool {
	e := t.Elem()
	return e.Kind() == reflect.Struct && e.NumField() == 0
}

func setMembers(rv reflect.Value) []any {
	out := make([]any, 0, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out = append(out, Convert(iter.Key().Interface()))
	}
	// Map iteration order is random; keep the output stable.
	sort.Slice(out, func(i, j int) bool { return fmt.Sprint(out[i]) < fmt.Sprint(out[j]) })
	return out
}

func keyString(k reflect.Value) string {
	switch c := Convert(k.Interface()).(type) {
	case string:
		return c
	default:
		return fmt.Sprint(c)
	}
}
