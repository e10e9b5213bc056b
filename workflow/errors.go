package workflow

import (
	"errors"
	"fmt"
	"sort"

	"github.com/BaSui01/flowengine/types"
)

// ValidationError rejects a graph before any node runs. NodeID is empty for
// graph-level problems such as a missing Input node.
type ValidationError struct {
	NodeID   string `json:"nodeId,omitempty"`
	NodeName string `json:"nodeName,omitempty"`
	Message  string `json:"errorMessage"`
}

func (e *ValidationError) Error() string {
	switch {
	case e.NodeName != "":
		return fmt.Sprintf("validation failed at node %q: %s", e.NodeName, e.Message)
	case e.NodeID != "":
		return fmt.Sprintf("validation failed at node %s: %s", e.NodeID, e.Message)
	default:
		return "validation failed: " + e.Message
	}
}

// Code returns the error taxonomy code.
func (e *ValidationError) Code() types.ErrorCode { return types.ErrValidation }

// RunError is returned when a run fails. It names the failing node when one is
// responsible; stalls and run-level timeouts leave the node fields empty.
type RunError struct {
	RunID    string
	NodeID   string
	NodeName string
	NodeKind Kind
	Err      error
}

func (e *RunError) Error() string {
	if e.NodeID == "" {
		return fmt.Sprintf("run %s failed: %v", e.RunID, e.Err)
	}
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeKind, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// HTTPErrorKind classifies Http node failures.
type HTTPErrorKind string

const (
	HTTPErrorTimeout    HTTPErrorKind = "timeout"
	HTTPErrorDNS        HTTPErrorKind = "dns"
	HTTPErrorConnection HTTPErrorKind = "connection"
	HTTPErrorUnknown    HTTPErrorKind = "unknown"
	HTTPErrorStatus     HTTPErrorKind = "status"
)

// HTTPError is raised by the Http node after the audit record has been written.
type HTTPError struct {
	Kind   HTTPErrorKind
	Method string
	URL    string
	Status int
	Err    error
}

func (e *HTTPError) Error() string {
	if e.Kind == HTTPErrorStatus {
		return fmt.Sprintf("http %s %s: status %d", e.Method, e.URL, e.Status)
	}
	return fmt.Sprintf("http %s %s: %s error: %v", e.Method, e.URL, e.Kind, e.Err)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// LoopError aggregates failed iterations of a Loop node.
type LoopError struct {
	NodeID string
	Failed map[int]error
}

func (e *LoopError) Error() string {
	idx := make([]int, 0, len(e.Failed))
	for i := range e.Failed {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	if len(idx) == 1 {
		return fmt.Sprintf("loop iteration %d failed: %v", idx[0], e.Failed[idx[0]])
	}
	return fmt.Sprintf("%d loop iterations failed %v, first: %v", len(idx), idx, e.Failed[idx[0]])
}

// Unwrap exposes the iteration errors to errors.Is / errors.As.
func (e *LoopError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		out = append(out, err)
	}
	return out
}

// IsValidation reports whether err rejects the graph before execution.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsTimeout reports whether err stems from an exceeded suspension bound.
func IsTimeout(err error) bool {
	return types.IsErrorCode(err, types.ErrTimeout)
}

// IsStall reports whether the run ended without reaching its Output node.
func IsStall(err error) bool {
	return types.IsErrorCode(err, types.ErrStall)
}

// newStallError names the undecided nodes and the nodes skipped because no
// live edge reached them, so a pruned Output node shows up in the message.
func newStallError(pending, skipped []string) error {
	msg := fmt.Sprintf("no ready nodes remain and output never ran (unresolved: %v)", pending)
	if len(skipped) > 0 {
		msg += fmt.Sprintf("; skipped on untaken branches: %v", skipped)
	}
	return types.NewError(types.ErrStall, msg)
}
