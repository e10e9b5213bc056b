package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/BaSui01/flowengine/types"
)

// maxResponseBytes caps how much of a response body is read into state.
const maxResponseBytes = 10 << 20

type httpRequestPlan struct {
	method  string
	url     string
	headers http.Header
	body    []byte
	hasBody bool
}

func (e *Engine) buildHTTPRequest(n *HTTPNode, state *RuntimeState) (*httpRequestPlan, error) {
	method := strings.ToUpper(strings.TrimSpace(n.Method))
	if method == "" {
		method = http.MethodGet
	}
	raw := ""
	if n.URL != nil {
		raw = strings.TrimSpace(n.URL.Render(state))
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("url %q must be absolute", raw)
	}
	if len(n.QueryParams) > 0 {
		q := u.Query()
		for _, p := range n.QueryParams {
			if strings.TrimSpace(p.Key) == "" {
				continue
			}
			q.Add(p.Key, stringify(resolveOperand(&p.Value, state)))
		}
		u.RawQuery = q.Encode()
	}

	plan := &httpRequestPlan{method: method, url: u.String(), headers: make(http.Header)}
	for _, h := range n.Headers {
		if strings.TrimSpace(h.Key) == "" {
			continue
		}
		plan.headers.Set(h.Key, stringify(resolveOperand(&h.Value, state)))
	}

	if n.Body == nil || !methodAllowsBody(method) {
		return plan, nil
	}
	v, ok := resolveOperand(n.Body, state)
	if !ok {
		return plan, nil
	}
	body, contentType, err := encodeBody(v, n.BodyType)
	if err != nil {
		return nil, err
	}
	plan.body, plan.hasBody = body, true
	if plan.headers.Get("Content-Type") == "" {
		plan.headers.Set("Content-Type", contentType)
	}
	return plan, nil
}

func methodAllowsBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// encodeBody serializes v for bodyType. An empty bodyType is inferred from
// the value: objects and arrays are sent as JSON, strings that hold a JSON
// document as JSON, other strings as text.
func encodeBody(v any, bodyType BodyType) ([]byte, string, error) {
	if bodyType == "" {
		bodyType = inferBodyType(v)
	}
	switch bodyType {
	case BodyForm:
		switch t := v.(type) {
		case string:
			return []byte(t), "application/x-www-form-urlencoded", nil
		case map[string]any:
			form := url.Values{}
			for k, val := range t {
				form.Set(k, stringify(val, true))
			}
			return []byte(form.Encode()), "application/x-www-form-urlencoded", nil
		}
		return nil, "", fmt.Errorf("form body must be an object or an encoded string")
	case BodyText:
		return []byte(stringify(v, true)), "text/plain; charset=utf-8", nil
	default:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return []byte(s), "application/json", nil
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("encode json body: %w", err)
		}
		return data, "application/json", nil
	}
}

func inferBodyType(v any) BodyType {
	s, ok := v.(string)
	if !ok {
		return BodyJSON
	}
	trimmed := strings.TrimSpace(s)
	if (strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")) && json.Valid([]byte(trimmed)) {
		return BodyJSON
	}
	return BodyText
}

func (e *Engine) execHTTP(ctx context.Context, n *HTTPNode, state *RuntimeState) (Result, error) {
	plan, err := e.buildHTTPRequest(n, state)
	if err != nil {
		return Result{}, types.NewExecutionError("invalid http request", err)
	}

	timeout := e.opts.HTTPTimeout
	if n.Timeout != nil && *n.Timeout > 0 {
		timeout = time.Duration(*n.Timeout) * time.Millisecond
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	request := map[string]any{
		"method":  plan.method,
		"url":     plan.url,
		"headers": flattenHeaders(plan.headers),
	}
	if plan.hasBody {
		request["body"] = string(plan.body)
	}

	var body io.Reader
	if plan.hasBody {
		body = bytes.NewReader(plan.body)
	}
	req, err := http.NewRequestWithContext(reqCtx, plan.method, plan.url, body)
	if err != nil {
		return Result{}, types.NewExecutionError("invalid http request", err)
	}
	req.Header = plan.headers.Clone()
	// Trace context goes on the wire only; the audit record keeps the node's headers.
	otel.GetTextMapPropagator().Inject(reqCtx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := e.httpClient.Do(req)
	if err == nil {
		var data []byte
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		_ = resp.Body.Close()
		if err == nil {
			return e.httpResult(plan, request, resp, data, time.Since(start))
		}
	}

	duration := time.Since(start)
	kind := classifyHTTPError(reqCtx, err)
	response := map[string]any{
		"ok":        false,
		"status":    0,
		"error":     err.Error(),
		"errorType": string(kind),
		"duration":  duration.Milliseconds(),
	}
	input := map[string]any{"request": request, "response": response}
	if ctx.Err() != nil {
		return Result{Input: input}, ctx.Err()
	}
	httpErr := &HTTPError{Kind: kind, Method: plan.method, URL: plan.url, Err: err}
	if kind == HTTPErrorTimeout {
		return Result{Input: input}, types.NewTimeoutError(
			fmt.Sprintf("http request timeout after %dms", timeout.Milliseconds())).WithCause(httpErr)
	}
	return Result{Input: input}, types.NewExecutionError("http request failed", httpErr)
}

func (e *Engine) httpResult(plan *httpRequestPlan, request map[string]any, resp *http.Response, data []byte, duration time.Duration) (Result, error) {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	output := map[string]any{
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"ok":         ok,
		"headers":    flattenHeaders(resp.Header),
		"body":       decodeResponseBody(resp.Header.Get("Content-Type"), data),
		"duration":   duration.Milliseconds(),
		"size":       len(data),
	}
	input := map[string]any{"request": request, "response": output}
	if !ok {
		return Result{Input: input}, types.NewExecutionError(
			fmt.Sprintf("http request failed with status %d", resp.StatusCode),
			&HTTPError{Kind: HTTPErrorStatus, Method: plan.method, URL: plan.url, Status: resp.StatusCode})
	}
	return Result{Input: input, Output: output}, nil
}

// decodeResponseBody parses JSON bodies and returns everything else as text.
func decodeResponseBody(contentType string, data []byte) any {
	if len(data) == 0 {
		return ""
	}
	trimmed := bytes.TrimSpace(data)
	looksJSON := len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[')
	if strings.Contains(contentType, "json") || looksJSON {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			return v
		}
	}
	return string(data)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[strings.ToLower(k)] = strings.Join(h[k], ", ")
	}
	return out
}

func classifyHTTPError(ctx context.Context, err error) HTTPErrorKind {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return HTTPErrorTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return HTTPErrorDNS
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return HTTPErrorTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return HTTPErrorConnection
	}
	return HTTPErrorUnknown
}
