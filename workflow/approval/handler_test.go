package approval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
)

func TestHTTPHandler(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewHTTPHandler(m, nil)

	done := make(chan *Response, 1)
	go func() {
		resp, err := m.Wait(context.Background(), Options{ID: "ap-1", WorkflowID: "wf", Message: "deploy?", Timeout: 5 * time.Second})
		assert.NoError(t, err)
		done <- resp
	}()
	waitPending(t, m)

	t.Run("list pending", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/approvals?workflowId=wf", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			Success bool        `json:"success"`
			Data    []*Approval `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.Success)
		require.Len(t, body.Data, 1)
		assert.Equal(t, "deploy?", body.Data[0].Message)
	})

	t.Run("bad request", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/approvals", strings.NewReader(`{"nope":1}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/approvals", strings.NewReader(`{"id":"zzz","approved":true}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/approvals", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})

	t.Run("resolve", func(t *testing.T) {
		rec := httptest.NewRecorder()
		body := `{"id":"ap-1","approved":true,"comment":"ship it"}`
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/approvals", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)

		resp := <-done
		assert.True(t, resp.Approved)
		assert.Equal(t, "ship it", resp.Comment)
	})
}

func TestHTTPHandler_AuthenticatedUserWins(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewHTTPHandler(m, nil)

	done := make(chan *Response, 1)
	go func() {
		resp, err := m.Wait(context.Background(), Options{ID: "ap-2", UserID: "alice", Timeout: 5 * time.Second})
		assert.NoError(t, err)
		done <- resp
	}()
	waitPending(t, m)

	body := `{"id":"ap-2","approved":false,"userId":"mallory"}`
	req := httptest.NewRequest(http.MethodPost, "/approvals", strings.NewReader(body))
	req = req.WithContext(ctxkeys.WithUserID(req.Context(), "alice"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := <-done
	assert.False(t, resp.Approved)
	assert.Equal(t, "alice", resp.UserID)
}

type accessFunc func(ctx context.Context, workflowID, userID string) (bool, error)

func (f accessFunc) CheckAccess(ctx context.Context, workflowID, userID string) (bool, error) {
	return f(ctx, workflowID, userID)
}

// carol collaborates on "shared"; nobody else is granted anything.
var carolOnShared = accessFunc(func(_ context.Context, workflowID, userID string) (bool, error) {
	return workflowID == "shared" && userID == "carol", nil
})

func asUser(req *http.Request, userID string) *http.Request {
	return req.WithContext(ctxkeys.WithUserID(req.Context(), userID))
}

func listAs(t *testing.T, h http.Handler, userID string) []string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodGet, "/approvals", nil), userID))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data []*Approval `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	ids := make([]string, 0, len(body.Data))
	for _, a := range body.Data {
		ids = append(ids, a.ID)
	}
	return ids
}

func TestHTTPHandler_ScopedToUser(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewHTTPHandler(m, nil).WithAccessChecker(carolOnShared)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan *Response, 1)
	go func() {
		resp, err := m.Wait(ctx, Options{ID: "ap-alice", WorkflowID: "shared", UserID: "alice", Timeout: 5 * time.Second})
		assert.NoError(t, err)
		done <- resp
	}()
	go func() {
		_, _ = m.Wait(ctx, Options{ID: "ap-bob", WorkflowID: "private", UserID: "bob", Timeout: 5 * time.Second})
	}()
	require.Eventually(t, func() bool { return len(m.Pending("")) == 2 }, time.Second, time.Millisecond)

	assert.Equal(t, []string{"ap-alice"}, listAs(t, h, "alice"))
	assert.Equal(t, []string{"ap-bob"}, listAs(t, h, "bob"))
	assert.Equal(t, []string{"ap-alice"}, listAs(t, h, "carol"))
	assert.Len(t, listAs(t, h, ""), 2, "unauthenticated requests see everything")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/approvals",
		strings.NewReader(`{"id":"ap-alice","approved":false}`)), "bob"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, m.Pending(""), 2, "denied signal leaves the approval pending")

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/approvals",
		strings.NewReader(`{"id":"ap-alice","approved":true}`)), "carol"))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := <-done
	assert.True(t, resp.Approved)
	assert.Equal(t, "carol", resp.UserID)
}

func TestHTTPHandler_OwnerOnlyWithoutChecker(t *testing.T) {
	m := NewManager(nil, nil)
	h := NewHTTPHandler(m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		_, _ = m.Wait(ctx, Options{ID: "ap-1", WorkflowID: "wf", UserID: "alice", Timeout: 5 * time.Second})
	}()
	waitPending(t, m)

	assert.Empty(t, listAs(t, h, "bob"))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, asUser(httptest.NewRequest(http.MethodPost, "/approvals",
		strings.NewReader(`{"id":"ap-1","approved":true}`)), "bob"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
