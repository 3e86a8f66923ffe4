package fingerprint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
	"time"
)

// Normalize maps an arbitrary Go value onto the JSON-like domain:
// nil, bool, string, int64, float64, []any, and map[string]any, nested
// arbitrarily. Maps get stringified keys, structs go through their JSON
// encoding, and anything that cannot be represented becomes its textual
// representation. The result is what the store serializes and fingerprints;
// callers get it back from append operations so they can keep using the
// canonical form.
func Normalize(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool:
		return x
	case string:
		return x
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case int64:
		return x
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return x.Seconds()
	case error:
		return x.Error()
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = Normalize(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = Normalize(e)
		}
		return out
	}
	return normalizeReflect(v)
}

func normalizeUint(u uint64) any {
	if u <= math.MaxInt64 {
		return int64(u)
	}
	return float64(u)
}

func normalizeReflect(v any) any {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			return nil
		}
		return Normalize(rv.Elem().Interface())
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		it := rv.MapRange()
		for it.Next() {
			out[fmt.Sprint(it.Key().Interface())] = Normalize(it.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	case reflect.Struct:
		return normalizeViaJSON(v)
	default:
		return fmt.Sprint(v)
	}
}

// normalizeViaJSON round-trips a value through its JSON encoding. UseNumber
// keeps integers integral so that a struct field and the equivalent map entry
// normalize identically.
func normalizeViaJSON(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return fmt.Sprint(v)
	}
	return Normalize(out)
}

// appendCanonical serializes a normalized value to compact JSON with object
// keys in sorted order, so structurally equal values serialize to identical
// bytes. The input must come from [Normalize].
func appendCanonical(buf *bytes.Buffer, v any) {
	switch x := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if x {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case int64:
		b := buf.AvailableBuffer()
		buf.Write(strconv.AppendInt(b, x, 10))
	case float64:
		data, err := json.Marshal(x)
		if err != nil {
			// NaN or an infinity; store the textual form like any other
			// unsupported value.
			appendCanonical(buf, fmt.Sprint(x))
			return
		}
		buf.Write(data)
	case string:
		data, _ := json.Marshal(x)
		buf.Write(data)
	case []any:
		buf.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendCanonical(buf, e)
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			appendCanonical(buf, k)
			buf.WriteByte(':')
			appendCanonical(buf, x[k])
		}
		buf.WriteByte('}')
	default:
		appendCanonical(buf, Normalize(x))
	}
}

// Canonical returns the canonical JSON encoding of v.
func Canonical(v any) []byte {
	var buf bytes.Buffer
	appendCanonical(&buf, Normalize(v))
	return buf.Bytes()
}
