package expr

import (
	"context"
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultMaxSteps bounds the number of evaluation steps of one run.
	DefaultMaxSteps = 1_000_000
	// DefaultMaxBytes bounds the bytes of strings and array slots one run
	// may build.
	DefaultMaxBytes = 16 << 20
	maxCallDepth    = 200
	ctxCheckEvery   = 1024

	// slotBytes is charged per array element appended.
	slotBytes = 16
)

var (
	// ErrStepLimit is returned when a program exceeds its step budget.
	ErrStepLimit = errors.New("expression step limit exceeded")
	// ErrMemoryLimit is returned when a program builds more string or array
	// data than its byte budget allows.
	ErrMemoryLimit = errors.New("expression memory limit exceeded")
)

// ThrownError carries a value raised with throw.
type ThrownError struct {
	Value any
}

func (e *ThrownError) Error() string {
	if m, ok := e.Value.(map[string]any); ok {
		if msg, ok := m["message"].(string); ok {
			return msg
		}
	}
	return toString(e.Value)
}

type binding struct {
	value    any
	constant bool
}

type scope struct {
	vars   map[string]*binding
	parent *scope
}

func newScope(parent *scope) *scope {
	return &scope{vars: make(map[string]*binding), parent: parent}
}

func (s *scope) lookup(name string) (*binding, bool) {
	for cur := s; cur != nil; cur = cur.parent {
		if b, ok := cur.vars[name]; ok {
			return b, true
		}
	}
	return nil, false
}

type control int

const (
	ctrlNone control = iota
	ctrlReturn
	ctrlBreak
	ctrlContinue
)

type interp struct {
	ctx      context.Context
	steps    int
	maxSteps int
	bytes    int
	maxBytes int
	depth    int
}

// alloc charges n bytes against the run's budget. It must be called before
// the data is built.
func (in *interp) alloc(n int) error {
	if n < 0 || n > in.maxBytes-in.bytes {
		in.bytes = in.maxBytes
		return ErrMemoryLimit
	}
	in.bytes += n
	return nil
}

// stringify converts v to a string, charging for any string it has to build.
func (in *interp) stringify(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	if err := in.alloc(stringSize(v)); err != nil {
		return "", err
	}
	return toString(v), nil
}

func (in *interp) step() error {
	in.steps++
	if in.steps > in.maxSteps {
		return ErrStepLimit
	}
	if in.steps%ctxCheckEvery == 0 {
		if err := in.ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// run executes a statement list. The completion value is the returned value,
// or the value of the last expression statement when nothing is returned.
func (in *interp) run(stmts []stmt, env *scope) (any, control, error) {
	var last any = Undefined
	for _, s := range stmts {
		v, ctrl, err := in.exec(s, env)
		if err != nil {
			return nil, ctrlNone, err
		}
		if ctrl != ctrlNone {
			return v, ctrl, nil
		}
		if _, ok := s.(*exprStmt); ok {
			last = v
		}
	}
	return last, ctrlNone, nil
}

func (in *interp) exec(s stmt, env *scope) (any, control, error) {
	if err := in.step(); err != nil {
		return nil, ctrlNone, err
	}
	switch s := s.(type) {
	case *exprStmt:
		v, err := in.eval(s.x, env)
		return v, ctrlNone, err

	case *declStmt:
		if _, dup := env.vars[s.name]; dup {
			return nil, ctrlNone, fmt.Errorf("identifier %q has already been declared", s.name)
		}
		var v any = Undefined
		if s.init != nil {
			var err error
			if v, err = in.eval(s.init, env); err != nil {
				return nil, ctrlNone, err
			}
		}
		env.vars[s.name] = &binding{value: v, constant: s.constant}
		return Undefined, ctrlNone, nil

	case *assignStmt:
		return Undefined, ctrlNone, in.assign(s, env)

	case *ifStmt:
		test, err := in.eval(s.test, env)
		if err != nil {
			return nil, ctrlNone, err
		}
		if truthy(test) {
			return in.exec(s.then, newScope(env))
		}
		if s.orElse != nil {
			return in.exec(s.orElse, newScope(env))
		}
		return Undefined, ctrlNone, nil

	case *blockStmt:
		v, ctrl, err := in.run(s.stmts, newScope(env))
		if ctrl == ctrlNone {
			v = Undefined
		}
		return v, ctrl, err

	case *forOfStmt:
		iterable, err := in.eval(s.iterable, env)
		if err != nil {
			return nil, ctrlNone, err
		}
		var items []any
		switch t := iterable.(type) {
		case *Array:
			items = append([]any(nil), t.elems...)
		case string:
			for _, r := range t {
				items = append(items, string(r))
			}
		default:
			return nil, ctrlNone, fmt.Errorf("%s is not iterable", typeOf(iterable))
		}
		for _, item := range items {
			body := newScope(env)
			body.vars[s.name] = &binding{value: item}
			v, ctrl, err := in.exec(s.body, body)
			if err != nil {
				return nil, ctrlNone, err
			}
			if ctrl == ctrlReturn {
				return v, ctrl, nil
			}
			if ctrl == ctrlBreak {
				break
			}
		}
		return Undefined, ctrlNone, nil

	case *whileStmt:
		for {
			test, err := in.eval(s.test, env)
			if err != nil {
				return nil, ctrlNone, err
			}
			if !truthy(test) {
				return Undefined, ctrlNone, nil
			}
			v, ctrl, err := in.exec(s.body, newScope(env))
			if err != nil {
				return nil, ctrlNone, err
			}
			if ctrl == ctrlReturn {
				return v, ctrl, nil
			}
			if ctrl == ctrlBreak {
				return Undefined, ctrlNone, nil
			}
		}

	case *returnStmt:
		if s.value == nil {
			return Undefined, ctrlReturn, nil
		}
		v, err := in.eval(s.value, env)
		return v, ctrlReturn, err

	case *throwStmt:
		v, err := in.eval(s.value, env)
		if err != nil {
			return nil, ctrlNone, err
		}
		return nil, ctrlNone, &ThrownError{Value: v}

	case *breakStmt:
		return Undefined, ctrlBreak, nil

	case *continueStmt:
		return Undefined, ctrlContinue, nil
	}
	return nil, ctrlNone, fmt.Errorf("unsupported statement at position %d", s.stmtPos())
}

func (in *interp) assign(s *assignStmt, env *scope) error {
	value, err := in.eval(s.value, env)
	if err != nil {
		return err
	}
	if s.op != "=" {
		current, err := in.eval(s.target, env)
		if err != nil {
			return err
		}
		if value, err = in.arithmetic(s.op[:1], current, value); err != nil {
			return err
		}
	}

	switch t := s.target.(type) {
	case *ident:
		b, ok := env.lookup(t.name)
		if !ok {
			return fmt.Errorf("%s is not defined", t.name)
		}
		if b.constant {
			return fmt.Errorf("assignment to constant variable %s", t.name)
		}
		b.value = value
		return nil
	case *member:
		obj, err := in.eval(t.object, env)
		if err != nil {
			return err
		}
		return setProperty(obj, t.property, value)
	case *indexExpr:
		obj, err := in.eval(t.object, env)
		if err != nil {
			return err
		}
		idx, err := in.eval(t.index, env)
		if err != nil {
			return err
		}
		if arr, ok := obj.(*Array); ok {
			if f, ok := idx.(float64); ok {
				i := int(f)
				if float64(i) != f || i < 0 || i > 1_000_000 {
					return fmt.Errorf("invalid array index %s", formatNumber(f))
				}
				for len(arr.elems) <= i {
					arr.elems = append(arr.elems, Undefined)
				}
				arr.elems[i] = value
				return nil
			}
		}
		return setProperty(obj, toString(idx), value)
	}
	return fmt.Errorf("invalid assignment target")
}

func setProperty(obj any, key string, value any) error {
	switch t := obj.(type) {
	case map[string]any:
		t[key] = value
		return nil
	case *Array:
		if key == "length" {
			n := int(toNumber(value))
			if n < 0 || n > len(t.elems) {
				return fmt.Errorf("invalid array length")
			}
			t.elems = t.elems[:n]
			return nil
		}
	}
	return fmt.Errorf("cannot set property %q of %s", key, typeOf(obj))
}

func (in *interp) eval(n node, env *scope) (any, error) {
	if err := in.step(); err != nil {
		return nil, err
	}
	switch n := n.(type) {
	case *literal:
		return n.value, nil

	case *ident:
		if b, ok := env.lookup(n.name); ok {
			return b.value, nil
		}
		if g, ok := globals[n.name]; ok {
			return g, nil
		}
		return nil, fmt.Errorf("%s is not defined", n.name)

	case *arrayLit:
		arr := &Array{elems: make([]any, 0, len(n.elems))}
		for _, el := range n.elems {
			v, err := in.eval(el, env)
			if err != nil {
				return nil, err
			}
			arr.elems = append(arr.elems, v)
		}
		return arr, nil

	case *objectLit:
		obj := make(map[string]any, len(n.keys))
		for i, k := range n.keys {
			v, err := in.eval(n.values[i], env)
			if err != nil {
				return nil, err
			}
			obj[k] = v
		}
		return obj, nil

	case *member:
		obj, err := in.eval(n.object, env)
		if err != nil {
			return nil, err
		}
		if n.optional && isNullish(obj) {
			return Undefined, nil
		}
		return getProperty(obj, n.property)

	case *indexExpr:
		obj, err := in.eval(n.object, env)
		if err != nil {
			return nil, err
		}
		idx, err := in.eval(n.index, env)
		if err != nil {
			return nil, err
		}
		if f, ok := idx.(float64); ok {
			if arr, ok := obj.(*Array); ok {
				i := int(f)
				if float64(i) != f || i < 0 || i >= len(arr.elems) {
					return Undefined, nil
				}
				return arr.elems[i], nil
			}
		}
		return getProperty(obj, toString(idx))

	case *call:
		return in.evalCall(n, env)

	case *unary:
		v, err := in.eval(n.operand, env)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "!":
			return !truthy(v), nil
		case "-":
			return -toNumber(v), nil
		case "+":
			return toNumber(v), nil
		case "typeof":
			return typeOf(v), nil
		}

	case *binary:
		left, err := in.eval(n.left, env)
		if err != nil {
			return nil, err
		}
		right, err := in.eval(n.right, env)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "===":
			return strictEqual(left, right), nil
		case "!==":
			return !strictEqual(left, right), nil
		case "==":
			return looseEqual(left, right), nil
		case "!=":
			return !looseEqual(left, right), nil
		case "<", "<=", ">", ">=":
			return compare(n.op, left, right), nil
		default:
			return in.arithmetic(n.op, left, right)
		}

	case *logical:
		left, err := in.eval(n.left, env)
		if err != nil {
			return nil, err
		}
		switch n.op {
		case "&&":
			if !truthy(left) {
				return left, nil
			}
		case "||":
			if truthy(left) {
				return left, nil
			}
		case "??":
			if !isNullish(left) {
				return left, nil
			}
		}
		return in.eval(n.right, env)

	case *conditional:
		test, err := in.eval(n.test, env)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return in.eval(n.then, env)
		}
		return in.eval(n.orElse, env)

	case *arrowFunc:
		return &closure{fn: n, env: env}, nil
	}
	return nil, fmt.Errorf("unsupported expression at position %d", n.pos())
}

func (in *interp) arithmetic(op string, a, b any) (any, error) {
	switch op {
	case "+":
		_, aStr := a.(string)
		_, bStr := b.(string)
		_, aArr := a.(*Array)
		_, bArr := b.(*Array)
		_, aObj := a.(map[string]any)
		_, bObj := b.(map[string]any)
		if aStr || bStr || aArr || bArr || aObj || bObj {
			sa, err := in.stringify(a)
			if err != nil {
				return nil, err
			}
			sb, err := in.stringify(b)
			if err != nil {
				return nil, err
			}
			if err := in.alloc(len(sa) + len(sb)); err != nil {
				return nil, err
			}
			return sa + sb, nil
		}
		return toNumber(a) + toNumber(b), nil
	case "-":
		return toNumber(a) - toNumber(b), nil
	case "*":
		return toNumber(a) * toNumber(b), nil
	case "/":
		return toNumber(a) / toNumber(b), nil
	case "%":
		return math.Mod(toNumber(a), toNumber(b)), nil
	}
	return nil, fmt.Errorf("unsupported operator %q", op)
}

func (in *interp) evalCall(n *call, env *scope) (any, error) {
	var (
		this   any = Undefined
		callee any
		err    error
	)
	switch c := n.callee.(type) {
	case *member:
		if this, err = in.eval(c.object, env); err != nil {
			return nil, err
		}
		if c.optional && isNullish(this) {
			return Undefined, nil
		}
		if callee, err = getProperty(this, c.property); err != nil {
			return nil, err
		}
	default:
		if callee, err = in.eval(n.callee, env); err != nil {
			return nil, err
		}
	}

	fn, ok := callee.(function)
	if !ok {
		return nil, fmt.Errorf("%s is not a function", describe(n.callee))
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		if args[i], err = in.eval(a, env); err != nil {
			return nil, err
		}
	}
	return in.invoke(fn, this, args)
}

func (in *interp) invoke(fn function, this any, args []any) (any, error) {
	in.depth++
	defer func() { in.depth-- }()
	if in.depth > maxCallDepth {
		return nil, fmt.Errorf("maximum call depth exceeded")
	}
	return fn.call(in, this, args)
}

func (c *closure) call(in *interp, _ any, args []any) (any, error) {
	env := newScope(c.env)
	for i, p := range c.fn.params {
		env.vars[p] = &binding{value: arg(args, i)}
	}
	if c.fn.body != nil {
		return in.eval(c.fn.body, env)
	}
	v, ctrl, err := in.run(c.fn.block, env)
	if err != nil {
		return nil, err
	}
	if ctrl != ctrlReturn {
		return Undefined, nil
	}
	return v, nil
}

func describe(n node) string {
	switch t := n.(type) {
	case *ident:
		return t.name
	case *member:
		return describe(t.object) + "." + t.property
	}
	return "expression"
}
