package expr

import (
	"encoding/json"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

type undefinedType struct{}

func (undefinedType) String() string { return "undefined" }

// Undefined is the value of a missing property or an uninitialized variable.
// It never leaves the evaluator: exported results turn it into nil.
var Undefined any = undefinedType{}

// Array is the mutable array representation used during evaluation.
type Array struct {
	elems []any
}

// function is implemented by closures and built-ins.
type function interface {
	call(in *interp, this any, args []any) (any, error)
}

type closure struct {
	fn  *arrowFunc
	env *scope
}

type builtin struct {
	name string
	fn   func(in *interp, this any, args []any) (any, error)
}

func (b *builtin) call(in *interp, this any, args []any) (any, error) { return b.fn(in, this, args) }

func arg(args []any, i int) any {
	if i < len(args) {
		return args[i]
	}
	return Undefined
}

// importValue converts a JSON-like Go value into the evaluator's
// representation. Numbers become float64, slices become *Array.
func importValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, string, float64:
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = importValue(el)
		}
		return &Array{elems: out}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = importValue(el)
		}
		return out
	case *Array, function, undefinedType:
		return t
	}
	// structs, typed slices and maps go through their JSON form
	data, err := json.Marshal(v)
	if err != nil {
		return Undefined
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Undefined
	}
	return importValue(generic)
}

// Conversions stop after maxWalk values or maxNesting levels, so
// self-referencing arrays and objects terminate.
const (
	maxWalk    = 1_000_000
	maxNesting = 256
)

type walker struct{ left int }

func (w *walker) enter(depth int) bool {
	w.left--
	return w.left >= 0 && depth <= maxNesting
}

// exportValue converts an evaluator value back into plain Go values that
// encode as JSON. Undefined and functions are dropped from objects and become
// nil elsewhere; non-finite numbers become nil.
func exportValue(v any) any {
	return (&walker{left: maxWalk}).export(v, 0)
}

func (w *walker) export(v any, depth int) any {
	if !w.enter(depth) {
		return nil
	}
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return nil
		}
		return t
	case *Array:
		out := make([]any, len(t.elems))
		for i, el := range t.elems {
			out[i] = w.export(el, depth+1)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			if isUndefined(el) || isFunction(el) {
				continue
			}
			out[k] = w.export(el, depth+1)
		}
		return out
	case undefinedType, function:
		return nil
	}
	return v
}

func isUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

func isFunction(v any) bool {
	_, ok := v.(function)
	return ok
}

func isNullish(v any) bool { return v == nil || isUndefined(v) }

func truthy(v any) bool {
	switch t := v.(type) {
	case nil, undefinedType:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	}
	return true
}

func toNumber(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case bool:
		if t {
			return 1
		}
		return 0
	case nil:
		return 0
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	case *Array:
		return toNumber(toString(t))
	}
	return math.NaN()
}

func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == math.Trunc(f) && math.Abs(f) < 1e21:
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func toString(v any) string {
	return (&walker{left: maxWalk}).str(v, 0)
}

// stringSize returns len(toString(v)) without building the string.
func stringSize(v any) int {
	return (&walker{left: maxWalk}).size(v, 0)
}

func (w *walker) size(v any, depth int) int {
	if !w.enter(depth) {
		return 0
	}
	switch t := v.(type) {
	case string:
		return len(t)
	case *Array:
		n := max(len(t.elems)-1, 0)
		for _, el := range t.elems {
			if !isNullish(el) {
				n += w.size(el, depth+1)
			}
		}
		return n
	}
	return len((&walker{left: 1}).str(v, 0))
}

// jsonSize estimates the encoded JSON length of v.
func jsonSize(v any) int {
	return (&walker{left: maxWalk}).jsonSize(v, 0)
}

func (w *walker) jsonSize(v any, depth int) int {
	if !w.enter(depth) {
		return 0
	}
	switch t := v.(type) {
	case string:
		return len(t) + 2
	case *Array:
		n := len(t.elems) + 2
		for _, el := range t.elems {
			n += w.jsonSize(el, depth+1)
		}
		return n
	case map[string]any:
		n := 2
		for k, el := range t {
			n += len(k) + 4 + w.jsonSize(el, depth+1)
		}
		return n
	}
	return 4 + stringSize(v)
}

func (w *walker) str(v any, depth int) string {
	if !w.enter(depth) {
		return ""
	}
	switch t := v.(type) {
	case nil:
		return "null"
	case undefinedType:
		return "undefined"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return formatNumber(t)
	case *Array:
		parts := make([]string, len(t.elems))
		for i, el := range t.elems {
			if !isNullish(el) {
				parts[i] = w.str(el, depth+1)
			}
		}
		return strings.Join(parts, ",")
	case map[string]any:
		return "[object Object]"
	case function:
		return "function"
	}
	return ""
}

func typeOf(v any) string {
	switch v.(type) {
	case nil:
		return "object"
	case undefinedType:
		return "undefined"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case function:
		return "function"
	}
	return "object"
}

func strictEqual(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case undefinedType:
		return isUndefined(b)
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case *Array:
		y, ok := b.(*Array)
		return ok && x == y
	case map[string]any:
		y, ok := b.(map[string]any)
		return ok && reflect.ValueOf(x).Pointer() == reflect.ValueOf(y).Pointer()
	}
	return false
}

func looseEqual(a, b any) bool {
	if isNullish(a) || isNullish(b) {
		return isNullish(a) && isNullish(b)
	}
	if typeOf(a) == typeOf(b) {
		return strictEqual(a, b)
	}
	_, aObj := a.(*Array)
	_, bObj := b.(*Array)
	if aObj || bObj {
		return toString(a) == toString(b)
	}
	return toNumber(a) == toNumber(b)
}

func compare(op string, a, b any) bool {
	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		switch op {
		case "<":
			return as < bs
		case "<=":
			return as <= bs
		case ">":
			return as > bs
		default:
			return as >= bs
		}
	}
	x, y := toNumber(a), toNumber(b)
	switch op {
	case "<":
		return x < y
	case "<=":
		return x <= y
	case ">":
		return x > y
	default:
		return x >= y
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
