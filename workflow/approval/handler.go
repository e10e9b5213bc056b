package approval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
)

// signalRequest 是外部审批信号的请求体.
type signalRequest struct {
	ID       string `json:"id"`
	Approved bool   `json:"approved"`
	Comment  string `json:"comment,omitempty"`
	UserID   string `json:"userId,omitempty"`
}

// apiResponse 统一响应结构
type apiResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AccessChecker 判断用户能否访问某个工作流；repository.Repository 实现了它.
type AccessChecker interface {
	CheckAccess(ctx context.Context, workflowID, userID string) (bool, error)
}

// visible 判断已认证用户 userID 能否查看并处理审批 a：发起运行的用户，
// 或对审批所属工作流有访问权限的用户。userID 为空表示未启用认证。
func visible(ctx context.Context, access AccessChecker, a *Approval, userID string) (bool, error) {
	if userID == "" || a.UserID == userID {
		return true, nil
	}
	if access == nil || a.WorkflowID == "" {
		return false, nil
	}
	return access.CheckAccess(ctx, a.WorkflowID, userID)
}

// HTTPHandler 暴露审批信号通道：
//
//	GET  ?workflowId=...          列出待处理审批
//	POST {id, approved, comment}  投递审批结果
//
// 请求上下文带有用户身份时，只能看到并处理自己有权访问的审批.
type HTTPHandler struct {
	manager *Manager
	access  AccessChecker
	logger  *zap.Logger
}

// NewHTTPHandler 创建审批 HTTP 处理器.
func NewHTTPHandler(m *Manager, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{manager: m, logger: logger.With(zap.String("component", "approval_handler"))}
}

// WithAccessChecker 让工作流的协作者也能处理他人发起的审批.
func (h *HTTPHandler) WithAccessChecker(c AccessChecker) *HTTPHandler {
	h.access = c
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleSignal(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *HTTPHandler) handleList(w http.ResponseWriter, r *http.Request) {
	uid, _ := ctxkeys.UserID(r.Context())
	pending := h.manager.Pending(r.URL.Query().Get("workflowId"))
	results := make([]*Approval, 0, len(pending))
	for _, a := range pending {
		ok, err := visible(r.Context(), h.access, a, uid)
		if err != nil {
			h.logger.Error("check approval access failed", zap.String("id", a.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list approvals")
			return
		}
		if ok {
			results = append(results, a)
		}
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: results, Timestamp: time.Now()})
}

func (h *HTTPHandler) handleSignal(w http.ResponseWriter, r *http.Request) {
	var req signalRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}

	// 已认证的身份优先于请求体
	if uid, ok := ctxkeys.UserID(r.Context()); ok {
		req.UserID = uid
		a, err := h.manager.Get(r.Context(), req.ID)
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		allowed := false
		if err == nil {
			allowed, err = visible(r.Context(), h.access, a, uid)
		}
		if err != nil {
			h.logger.Error("check approval access failed", zap.String("id", req.ID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to resolve approval")
			return
		}
		if !allowed {
			writeError(w, http.StatusForbidden, "access to approval denied")
			return
		}
	}

	err := h.manager.Resolve(r.Context(), req.ID, &Response{
		Approved: req.Approved,
		Comment:  req.Comment,
		UserID:   req.UserID,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		h.logger.Error("resolve approval failed", zap.String("id", req.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve approval")
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{
		Success:   true,
		Data:      map[string]any{"id": req.ID, "approved": req.Approved},
		Timestamp: time.Now(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg, Timestamp: time.Now()})
}
