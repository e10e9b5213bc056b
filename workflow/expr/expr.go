package expr

import (
	"context"
	"fmt"
	"strings"
)

// Options bounds one evaluation.
type Options struct {
	// MaxSteps caps evaluation steps; 0 means DefaultMaxSteps.
	MaxSteps int
	// MaxBytes caps the string and array data built by one run; 0 means
	// DefaultMaxBytes.
	MaxBytes int
}

// Program is a parsed snippet, safe to run concurrently.
type Program struct {
	stmts []stmt
}

// Compile parses src.
func Compile(src string) (*Program, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("code is empty")
	}
	stmts, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Program{stmts: stmts}, nil
}

// Run evaluates the program with vars bound as read-only globals. The result
// is the value passed to return, or the value of the last expression
// statement. Evaluation stops when ctx is done or the step or byte budget
// runs out.
func (p *Program) Run(ctx context.Context, vars map[string]any, opts Options) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("code evaluation panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	in := &interp{ctx: ctx, maxSteps: maxSteps, maxBytes: maxBytes}

	root := newScope(nil)
	for k, v := range vars {
		root.vars[k] = &binding{value: importValue(v), constant: true}
	}
	v, _, runErr := in.run(p.stmts, newScope(root))
	if runErr != nil {
		return nil, runErr
	}
	return exportValue(v), nil
}

// Evaluate compiles and runs src in one step.
func Evaluate(ctx context.Context, src string, vars map[string]any) (any, error) {
	p, err := Compile(src)
	if err != nil {
		return nil, err
	}
	return p.Run(ctx, vars, Options{})
}
