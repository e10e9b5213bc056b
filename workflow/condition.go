package workflow

import (
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Operator is a condition predicate.
type Operator string

const (
	OpEquals             Operator = "equals"
	OpNotEquals          Operator = "notEquals"
	OpContains           Operator = "contains"
	OpNotContains        Operator = "notContains"
	OpStartsWith         Operator = "startsWith"
	OpEndsWith           Operator = "endsWith"
	OpGreaterThan        Operator = "greaterThan"
	OpGreaterThanOrEqual Operator = "greaterThanOrEqual"
	OpLessThan           Operator = "lessThan"
	OpLessThanOrEqual    Operator = "lessThanOrEqual"
	OpIsEmpty            Operator = "isEmpty"
	OpIsNotEmpty         Operator = "isNotEmpty"
	OpIsTrue             Operator = "isTrue"
	OpIsFalse            Operator = "isFalse"
)

// Resolver looks up a reference; ok is false when the value is undefined.
type Resolver func(SourceKey) (any, bool)

// EvaluateBranch applies every condition of branch and combines the results
// with its logical operator. AND is the default; an empty AND is true and an
// empty OR is false.
func EvaluateBranch(branch ConditionBranch, resolve Resolver) (bool, error) {
	or := branch.LogicalOperator == LogicalOr
	for i, c := range branch.Conditions {
		var (
			v  any
			ok bool
		)
		if c.Source != nil {
			v, ok = resolve(*c.Source)
		}
		res, err := EvaluateCondition(c.Operator, v, ok, c.Value)
		if err != nil {
			return false, fmt.Errorf("branch %s condition %d: %w", branch.ID, i, err)
		}
		if or && res {
			return true, nil
		}
		if !or && !res {
			return false, nil
		}
	}
	return !or, nil
}

// SelectBranch returns the first if/elseIf branch that evaluates true, or the
// else branch when none does.
func SelectBranch(branches []ConditionBranch, resolve Resolver) (*ConditionBranch, error) {
	var elseBranch *ConditionBranch
	for _, typ := range []BranchType{BranchIf, BranchElseIf} {
		for i := range branches {
			if branches[i].Type != typ {
				continue
			}
			ok, err := EvaluateBranch(branches[i], resolve)
			if err != nil {
				return nil, err
			}
			if ok {
				return &branches[i], nil
			}
		}
	}
	for i := range branches {
		if branches[i].Type == BranchElse {
			elseBranch = &branches[i]
			break
		}
	}
	if elseBranch == nil {
		return nil, fmt.Errorf("no branch matched and no else branch is defined")
	}
	return elseBranch, nil
}

// EvaluateCondition applies op to the resolved value (defined reports whether
// it resolved) and the comparison operand.
func EvaluateCondition(op Operator, value any, defined bool, operand any) (bool, error) {
	switch op {
	case OpEquals:
		return defined && looseEqual(value, operand), nil
	case OpNotEquals:
		return !defined || !looseEqual(value, operand), nil
	case OpContains:
		return defined && contains(value, operand), nil
	case OpNotContains:
		return !defined || !contains(value, operand), nil
	case OpStartsWith:
		return defined && strings.HasPrefix(textOf(value), textOf(operand)), nil
	case OpEndsWith:
		return defined && strings.HasSuffix(textOf(value), textOf(operand)), nil
	case OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual:
		a, okA := toNumber(value)
		b, okB := toNumber(operand)
		if !defined || !okA || !okB {
			return false, nil
		}
		switch op {
		case OpGreaterThan:
			return a > b, nil
		case OpGreaterThanOrEqual:
			return a >= b, nil
		case OpLessThan:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIsEmpty:
		return isEmpty(value, defined), nil
	case OpIsNotEmpty:
		return !isEmpty(value, defined), nil
	case OpIsTrue:
		return defined && truthyLiteral(value, true), nil
	case OpIsFalse:
		return defined && truthyLiteral(value, false), nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func looseEqual(a, b any) bool {
	if na, ok := toNumber(a); ok {
		if nb, ok := toNumber(b); ok {
			return na == nb
		}
	}
	if _, ok := a.(string); ok {
		return textOf(a) == textOf(b)
	}
	if _, ok := b.(string); ok {
		return textOf(a) == textOf(b)
	}
	return reflect.DeepEqual(a, b) || textOf(a) == textOf(b)
}

func contains(haystack, needle any) bool {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, textOf(needle))
	case []any:
		for _, el := range h {
			if looseEqual(el, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, el := range h {
			if el == textOf(needle) {
				return true
			}
		}
		return false
	case map[string]any:
		_, ok := h[textOf(needle)]
		return ok
	}
	return strings.Contains(textOf(haystack), textOf(needle))
}

func textOf(v any) string {
	if v == nil {
		return ""
	}
	return stringify(v, true)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(f) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func isEmpty(v any, defined bool) bool {
	if !defined || v == nil {
		return true
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

func truthyLiteral(v any, want bool) bool {
	switch t := v.(type) {
	case bool:
		return t == want
	case string:
		return strings.EqualFold(strings.TrimSpace(t), strconv.FormatBool(want))
	}
	return false
}
