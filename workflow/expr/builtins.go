package expr

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

var (
	globals       map[string]any
	arrayMethods  map[string]*builtin
	stringMethods map[string]*builtin
	numberMethods map[string]*builtin
)

func init() {
	globals = map[string]any{
		"Math": map[string]any{
			"PI":    math.Pi,
			"E":     math.E,
			"abs":   mathFunc("abs", math.Abs),
			"floor": mathFunc("floor", math.Floor),
			"ceil":  mathFunc("ceil", math.Ceil),
			"sqrt":  mathFunc("sqrt", math.Sqrt),
			"trunc": mathFunc("trunc", math.Trunc),
			"round": mathFunc("round", func(f float64) float64 { return math.Floor(f + 0.5) }),
			"pow": fn("pow", func(_ *interp, _ any, args []any) (any, error) {
				return math.Pow(toNumber(arg(args, 0)), toNumber(arg(args, 1))), nil
			}),
			"max": fn("max", func(_ *interp, _ any, args []any) (any, error) {
				out := math.Inf(-1)
				for _, a := range args {
					out = math.Max(out, toNumber(a))
				}
				return out, nil
			}),
			"min": fn("min", func(_ *interp, _ any, args []any) (any, error) {
				out := math.Inf(1)
				for _, a := range args {
					out = math.Min(out, toNumber(a))
				}
				return out, nil
			}),
		},
		"JSON": map[string]any{
			"stringify": fn("stringify", jsonStringify),
			"parse":     fn("parse", jsonParse),
		},
		"Object": map[string]any{
			"keys": fn("keys", func(_ *interp, _ any, args []any) (any, error) {
				m, _ := arg(args, 0).(map[string]any)
				out := &Array{}
				for _, k := range sortedKeys(m) {
					out.elems = append(out.elems, k)
				}
				return out, nil
			}),
			"values": fn("values", func(_ *interp, _ any, args []any) (any, error) {
				m, _ := arg(args, 0).(map[string]any)
				out := &Array{}
				for _, k := range sortedKeys(m) {
					out.elems = append(out.elems, m[k])
				}
				return out, nil
			}),
			"entries": fn("entries", func(_ *interp, _ any, args []any) (any, error) {
				m, _ := arg(args, 0).(map[string]any)
				out := &Array{}
				for _, k := range sortedKeys(m) {
					out.elems = append(out.elems, &Array{elems: []any{k, m[k]}})
				}
				return out, nil
			}),
			"assign": fn("assign", func(_ *interp, _ any, args []any) (any, error) {
				target, ok := arg(args, 0).(map[string]any)
				if !ok {
					return nil, fmt.Errorf("Object.assign target must be an object")
				}
				for _, src := range args[1:] {
					if m, ok := src.(map[string]any); ok {
						for k, v := range m {
							target[k] = v
						}
					}
				}
				return target, nil
			}),
		},
		"Array": map[string]any{
			"isArray": fn("isArray", func(_ *interp, _ any, args []any) (any, error) {
				_, ok := arg(args, 0).(*Array)
				return ok, nil
			}),
		},
		"String": fn("String", func(in *interp, _ any, args []any) (any, error) {
			if len(args) == 0 {
				return "", nil
			}
			return in.stringify(args[0])
		}),
		"Number": fn("Number", func(_ *interp, _ any, args []any) (any, error) {
			if len(args) == 0 {
				return 0.0, nil
			}
			return toNumber(args[0]), nil
		}),
		"Boolean": fn("Boolean", func(_ *interp, _ any, args []any) (any, error) {
			return truthy(arg(args, 0)), nil
		}),
		"parseInt": fn("parseInt", func(_ *interp, _ any, args []any) (any, error) {
			return parseLeadingNumber(toString(arg(args, 0)), true), nil
		}),
		"parseFloat": fn("parseFloat", func(_ *interp, _ any, args []any) (any, error) {
			return parseLeadingNumber(toString(arg(args, 0)), false), nil
		}),
		"isNaN": fn("isNaN", func(_ *interp, _ any, args []any) (any, error) {
			return math.IsNaN(toNumber(arg(args, 0))), nil
		}),
		"NaN":      math.NaN(),
		"Infinity": math.Inf(1),
	}

	arrayMethods = map[string]*builtin{
		"map":       fn("map", arrayMap),
		"filter":    fn("filter", arrayFilter),
		"forEach":   fn("forEach", arrayForEach),
		"reduce":    fn("reduce", arrayReduce),
		"find":      fn("find", arrayFind(false)),
		"findIndex": fn("findIndex", arrayFind(true)),
		"some":      fn("some", arrayTest(true)),
		"every":     fn("every", arrayTest(false)),
		"includes":  fn("includes", arrayIncludes),
		"indexOf":   fn("indexOf", arrayIndexOf),
		"join":      fn("join", arrayJoin),
		"slice":     fn("slice", arraySlice),
		"concat":    fn("concat", arrayConcat),
		"push":      fn("push", arrayPush),
		"pop":       fn("pop", arrayPop),
		"reverse":   fn("reverse", arrayReverse),
		"sort":      fn("sort", arraySort),
	}

	stringMethods = map[string]*builtin{
		"toUpperCase": strFunc("toUpperCase", func(s string, _ []any) any { return strings.ToUpper(s) }),
		"toLowerCase": strFunc("toLowerCase", func(s string, _ []any) any { return strings.ToLower(s) }),
		"trim":        strFunc("trim", func(s string, _ []any) any { return strings.TrimSpace(s) }),
		"includes":    strFunc("includes", func(s string, a []any) any { return strings.Contains(s, toString(arg(a, 0))) }),
		"startsWith":  strFunc("startsWith", func(s string, a []any) any { return strings.HasPrefix(s, toString(arg(a, 0))) }),
		"endsWith":    strFunc("endsWith", func(s string, a []any) any { return strings.HasSuffix(s, toString(arg(a, 0))) }),
		"repeat": strFunc("repeat", func(s string, a []any) any {
			n := int(toNumber(arg(a, 0)))
			if n < 0 || (len(s) > 0 && n > (1<<20)/len(s)) {
				return ""
			}
			return strings.Repeat(s, n)
		}),
		"replace": strFunc("replace", func(s string, a []any) any {
			return strings.Replace(s, toString(arg(a, 0)), toString(arg(a, 1)), 1)
		}),
		"replaceAll": sizedStrFunc("replaceAll", func(s string, a []any) int {
			old, repl := toString(arg(a, 0)), toString(arg(a, 1))
			n := strings.Count(s, old)
			return len(s) + max(n*(len(repl)-len(old)), 0)
		}, func(s string, a []any) any {
			return strings.ReplaceAll(s, toString(arg(a, 0)), toString(arg(a, 1)))
		}),
		"indexOf": strFunc("indexOf", func(s string, a []any) any {
			i := strings.Index(s, toString(arg(a, 0)))
			if i < 0 {
				return -1.0
			}
			return float64(utf8.RuneCountInString(s[:i]))
		}),
		"charAt": strFunc("charAt", func(s string, a []any) any {
			r := []rune(s)
			i := int(toNumber(arg(a, 0)))
			if i < 0 || i >= len(r) {
				return ""
			}
			return string(r[i])
		}),
		"slice": strFunc("slice", func(s string, a []any) any {
			r := []rune(s)
			start, end := sliceBounds(len(r), a)
			return string(r[start:end])
		}),
		"substring": strFunc("substring", func(s string, a []any) any {
			r := []rune(s)
			clamp := func(v any, def int) int {
				if isUndefined(v) {
					return def
				}
				n := int(toNumber(v))
				return max(0, min(n, len(r)))
			}
			start, end := clamp(arg(a, 0), 0), clamp(arg(a, 1), len(r))
			if start > end {
				start, end = end, start
			}
			return string(r[start:end])
		}),
		"split": sizedStrFunc("split", func(s string, a []any) int {
			sep := arg(a, 0)
			if isUndefined(sep) {
				return slotBytes
			}
			return (strings.Count(s, toString(sep)) + 1) * slotBytes
		}, func(s string, a []any) any {
			out := &Array{}
			sep := arg(a, 0)
			if isUndefined(sep) {
				out.elems = []any{s}
				return out
			}
			for _, part := range strings.Split(s, toString(sep)) {
				out.elems = append(out.elems, part)
			}
			return out
		}),
		"padStart": strFunc("padStart", func(s string, a []any) any {
			width := int(toNumber(arg(a, 0)))
			pad := " "
			if p := arg(a, 1); !isUndefined(p) {
				pad = toString(p)
			}
			n := utf8.RuneCountInString(s)
			if pad == "" || n >= width || width > 1<<20 {
				return s
			}
			fill := strings.Repeat(pad, (width-n)/utf8.RuneCountInString(pad)+1)
			return string([]rune(fill)[:width-n]) + s
		}),
	}

	numberMethods = map[string]*builtin{
		"toFixed": fn("toFixed", func(_ *interp, this any, args []any) (any, error) {
			digits := int(toNumber(arg(args, 0)))
			if digits < 0 || digits > 100 {
				return nil, fmt.Errorf("toFixed() digits argument must be between 0 and 100")
			}
			return strconv.FormatFloat(toNumber(this), 'f', digits, 64), nil
		}),
		"toString": fn("toString", func(_ *interp, this any, _ []any) (any, error) {
			return toString(this), nil
		}),
	}
}

func fn(name string, f func(in *interp, this any, args []any) (any, error)) *builtin {
	return &builtin{name: name, fn: f}
}

func mathFunc(name string, f func(float64) float64) *builtin {
	return fn(name, func(_ *interp, _ any, args []any) (any, error) {
		return f(toNumber(arg(args, 0))), nil
	})
}

// strFunc charges the string it returns against the byte budget.
func strFunc(name string, f func(s string, args []any) any) *builtin {
	return sizedStrFunc(name, nil, f)
}

// sizedStrFunc charges grow(s, args) bytes before running f, for methods
// whose result can be far larger than their receiver.
func sizedStrFunc(name string, grow func(s string, args []any) int, f func(s string, args []any) any) *builtin {
	return fn(name, func(in *interp, this any, args []any) (any, error) {
		s, ok := this.(string)
		if !ok {
			return nil, fmt.Errorf("String.prototype.%s called on %s", name, typeOf(this))
		}
		if grow != nil {
			if err := in.alloc(grow(s, args)); err != nil {
				return nil, err
			}
			return f(s, args), nil
		}
		out := f(s, args)
		if str, ok := out.(string); ok {
			if err := in.alloc(len(str)); err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// getProperty reads key from obj. Missing properties yield Undefined; reading
// from null or undefined is an error.
func getProperty(obj any, key string) (any, error) {
	switch t := obj.(type) {
	case nil, undefinedType:
		return nil, fmt.Errorf("cannot read properties of %s (reading '%s')", toString(obj), key)
	case map[string]any:
		if v, ok := t[key]; ok {
			return v, nil
		}
		return Undefined, nil
	case *Array:
		if key == "length" {
			return float64(len(t.elems)), nil
		}
		if i, err := strconv.Atoi(key); err == nil {
			if i >= 0 && i < len(t.elems) {
				return t.elems[i], nil
			}
			return Undefined, nil
		}
		if m, ok := arrayMethods[key]; ok {
			return m, nil
		}
	case string:
		if key == "length" {
			return float64(utf8.RuneCountInString(t)), nil
		}
		if i, err := strconv.Atoi(key); err == nil {
			r := []rune(t)
			if i >= 0 && i < len(r) {
				return string(r[i]), nil
			}
			return Undefined, nil
		}
		if m, ok := stringMethods[key]; ok {
			return m, nil
		}
	case float64:
		if m, ok := numberMethods[key]; ok {
			return m, nil
		}
	}
	return Undefined, nil
}

func thisArray(this any, method string) (*Array, error) {
	arr, ok := this.(*Array)
	if !ok {
		return nil, fmt.Errorf("Array.prototype.%s called on %s", method, typeOf(this))
	}
	return arr, nil
}

func callbackArg(args []any, method string) (function, error) {
	f, ok := arg(args, 0).(function)
	if !ok {
		return nil, fmt.Errorf("%s callback is not a function", method)
	}
	return f, nil
}

// iterate calls cb(item, index, array) for each element present at start.
func iterate(in *interp, arr *Array, cb function, visit func(i int, item, result any) (stop bool)) error {
	items := append([]any(nil), arr.elems...)
	for i, item := range items {
		res, err := in.invoke(cb, Undefined, []any{item, float64(i), arr})
		if err != nil {
			return err
		}
		if visit(i, item, res) {
			return nil
		}
	}
	return nil
}

func arrayMap(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "map")
	if err != nil {
		return nil, err
	}
	cb, err := callbackArg(args, "map")
	if err != nil {
		return nil, err
	}
	out := &Array{elems: make([]any, 0, len(arr.elems))}
	err = iterate(in, arr, cb, func(_ int, _, res any) bool {
		out.elems = append(out.elems, res)
		return false
	})
	return out, err
}

func arrayFilter(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "filter")
	if err != nil {
		return nil, err
	}
	cb, err := callbackArg(args, "filter")
	if err != nil {
		return nil, err
	}
	out := &Array{}
	err = iterate(in, arr, cb, func(_ int, item, res any) bool {
		if truthy(res) {
			out.elems = append(out.elems, item)
		}
		return false
	})
	return out, err
}

func arrayForEach(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "forEach")
	if err != nil {
		return nil, err
	}
	cb, err := callbackArg(args, "forEach")
	if err != nil {
		return nil, err
	}
	return Undefined, iterate(in, arr, cb, func(int, any, any) bool { return false })
}

func arrayReduce(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "reduce")
	if err != nil {
		return nil, err
	}
	cb, err := callbackArg(args, "reduce")
	if err != nil {
		return nil, err
	}
	items := append([]any(nil), arr.elems...)
	start := 0
	var acc any
	if len(args) > 1 {
		acc = args[1]
	} else {
		if len(items) == 0 {
			return nil, fmt.Errorf("reduce of empty array with no initial value")
		}
		acc = items[0]
		start = 1
	}
	for i := start; i < len(items); i++ {
		if acc, err = in.invoke(cb, Undefined, []any{acc, items[i], float64(i), arr}); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func arrayFind(wantIndex bool) func(in *interp, this any, args []any) (any, error) {
	return func(in *interp, this any, args []any) (any, error) {
		arr, err := thisArray(this, "find")
		if err != nil {
			return nil, err
		}
		cb, err := callbackArg(args, "find")
		if err != nil {
			return nil, err
		}
		var found any = Undefined
		if wantIndex {
			found = -1.0
		}
		err = iterate(in, arr, cb, func(i int, item, res any) bool {
			if !truthy(res) {
				return false
			}
			if wantIndex {
				found = float64(i)
			} else {
				found = item
			}
			return true
		})
		return found, err
	}
}

// arrayTest implements some (stopOn true) and every (stopOn false).
func arrayTest(stopOn bool) func(in *interp, this any, args []any) (any, error) {
	return func(in *interp, this any, args []any) (any, error) {
		arr, err := thisArray(this, "some")
		if err != nil {
			return nil, err
		}
		cb, err := callbackArg(args, "some")
		if err != nil {
			return nil, err
		}
		result := !stopOn
		err = iterate(in, arr, cb, func(_ int, _, res any) bool {
			if truthy(res) == stopOn {
				result = stopOn
				return true
			}
			return false
		})
		return result, err
	}
}

func arrayIncludes(_ *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "includes")
	if err != nil {
		return nil, err
	}
	for _, el := range arr.elems {
		if strictEqual(el, arg(args, 0)) {
			return true, nil
		}
	}
	return false, nil
}

func arrayIndexOf(_ *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "indexOf")
	if err != nil {
		return nil, err
	}
	for i, el := range arr.elems {
		if strictEqual(el, arg(args, 0)) {
			return float64(i), nil
		}
	}
	return -1.0, nil
}

func arrayJoin(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "join")
	if err != nil {
		return nil, err
	}
	sep := ","
	if s := arg(args, 0); !isUndefined(s) {
		if sep, err = in.stringify(s); err != nil {
			return nil, err
		}
	}
	size := max(len(arr.elems)-1, 0) * len(sep)
	for _, el := range arr.elems {
		if !isNullish(el) {
			size += stringSize(el)
		}
	}
	if err := in.alloc(size); err != nil {
		return nil, err
	}
	parts := make([]string, len(arr.elems))
	for i, el := range arr.elems {
		if !isNullish(el) {
			parts[i] = toString(el)
		}
	}
	return strings.Join(parts, sep), nil
}

func sliceBounds(n int, args []any) (int, int) {
	rel := func(v any, def int) int {
		if isUndefined(v) {
			return def
		}
		i := int(toNumber(v))
		if i < 0 {
			i += n
		}
		return max(0, min(i, n))
	}
	start, end := rel(arg(args, 0), 0), rel(arg(args, 1), n)
	if end < start {
		end = start
	}
	return start, end
}

func arraySlice(_ *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "slice")
	if err != nil {
		return nil, err
	}
	start, end := sliceBounds(len(arr.elems), args)
	return &Array{elems: append([]any(nil), arr.elems[start:end]...)}, nil
}

func arrayConcat(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "concat")
	if err != nil {
		return nil, err
	}
	n := len(arr.elems)
	for _, a := range args {
		if other, ok := a.(*Array); ok {
			n += len(other.elems)
		} else {
			n++
		}
	}
	if err := in.alloc(n * slotBytes); err != nil {
		return nil, err
	}
	out := &Array{elems: append([]any(nil), arr.elems...)}
	for _, a := range args {
		if other, ok := a.(*Array); ok {
			out.elems = append(out.elems, other.elems...)
			continue
		}
		out.elems = append(out.elems, a)
	}
	return out, nil
}

func arrayPush(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "push")
	if err != nil {
		return nil, err
	}
	if err := in.alloc(len(args) * slotBytes); err != nil {
		return nil, err
	}
	arr.elems = append(arr.elems, args...)
	return float64(len(arr.elems)), nil
}

func arrayPop(_ *interp, this any, _ []any) (any, error) {
	arr, err := thisArray(this, "pop")
	if err != nil {
		return nil, err
	}
	if len(arr.elems) == 0 {
		return Undefined, nil
	}
	last := arr.elems[len(arr.elems)-1]
	arr.elems = arr.elems[:len(arr.elems)-1]
	return last, nil
}

func arrayReverse(_ *interp, this any, _ []any) (any, error) {
	arr, err := thisArray(this, "reverse")
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(arr.elems)-1; i < j; i, j = i+1, j-1 {
		arr.elems[i], arr.elems[j] = arr.elems[j], arr.elems[i]
	}
	return arr, nil
}

func arraySort(in *interp, this any, args []any) (any, error) {
	arr, err := thisArray(this, "sort")
	if err != nil {
		return nil, err
	}
	cmp, hasCmp := arg(args, 0).(function)
	items := append([]any(nil), arr.elems...)
	var firstErr error
	sort.SliceStable(items, func(i, j int) bool {
		if firstErr != nil {
			return false
		}
		a, b := items[i], items[j]
		if !hasCmp {
			return toString(a) < toString(b)
		}
		res, err := in.invoke(cmp, Undefined, []any{a, b})
		if err != nil {
			firstErr = err
			return false
		}
		return toNumber(res) < 0
	})
	if firstErr != nil {
		return nil, firstErr
	}
	arr.elems = items
	return arr, nil
}

func jsonStringify(in *interp, _ any, args []any) (any, error) {
	v := arg(args, 0)
	if isUndefined(v) || isFunction(v) {
		return Undefined, nil
	}
	indent := ""
	switch t := arg(args, 2).(type) {
	case float64:
		if t > 0 {
			indent = strings.Repeat(" ", min(int(t), 10))
		}
	case string:
		indent = t
	}
	// every value may sit on its own indented line
	if err := in.alloc(jsonSize(v) * (1 + len(indent))); err != nil {
		return nil, err
	}

	var (
		data []byte
		err  error
	)
	if indent != "" {
		data, err = json.MarshalIndent(exportValue(v), "", indent)
	} else {
		data, err = json.Marshal(exportValue(v))
	}
	if err != nil {
		return nil, fmt.Errorf("JSON.stringify: %w", err)
	}
	return string(data), nil
}

func jsonParse(_ *interp, _ any, args []any) (any, error) {
	var v any
	if err := json.Unmarshal([]byte(toString(arg(args, 0))), &v); err != nil {
		return nil, &ThrownError{Value: map[string]any{"name": "SyntaxError", "message": "JSON.parse: " + err.Error()}}
	}
	return importValue(v), nil
}

// parseLeadingNumber parses the longest numeric prefix of s, like parseInt
// and parseFloat.
func parseLeadingNumber(s string, integer bool) float64 {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digitsStart := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if !integer && end < len(s) && s[end] == '.' {
		end++
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
	}
	if end == digitsStart || s[digitsStart:end] == "." {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
