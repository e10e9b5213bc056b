package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/internal/ctxkeys"
	"github.com/BaSui01/flowengine/internal/server"
	"github.com/BaSui01/flowengine/llm/circuitbreaker"
	"github.com/BaSui01/flowengine/types"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/approval"
	"github.com/BaSui01/flowengine/workflow/repository"
)

// =============================================================================
// 🌐 serve 命令
// =============================================================================

// maxRunBody 限制运行请求体大小
const maxRunBody = 1 << 20

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := commonFlags(fs)
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer logger.Sync()

	logger.Info("Starting flowengine",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("shutdown error", zap.Error(cerr))
		}
	}()

	if cfg.Workflows.Watch && cfg.Workflows.Dir != "" {
		w, err := repository.NewDirWatcher(a.repo, cfg.Workflows.Dir,
			repository.WithPollInterval(cfg.Workflows.PollInterval),
			repository.WithWatcherLogger(logger),
		)
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	srv := server.NewManager(newRouter(ctx, a), server.ConfigFrom(cfg.Server), logger)
	if err := srv.Run(ctx); err != nil {
		return err
	}
	logger.Info("flowengine stopped")
	return nil
}

// newRouter 注册路由并套上中间件链；ctx 控制限流器的后台清理
func newRouter(ctx context.Context, a *app) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := map[string]any{"status": "ok"}
		// 熔断打开时标记为降级，仍返回 200
		if a.breaker != nil {
			state := a.breaker.State()
			health["model_circuit"] = state.String()
			if state == circuitbreaker.StateOpen {
				health["status"] = "degraded"
			}
		}
		writeResponse(w, http.StatusOK, health)
	})
	mux.HandleFunc("GET /version", func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusOK, map[string]any{
			"version":    Version,
			"build_time": BuildTime,
			"git_commit": GitCommit,
		})
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	mux.Handle("/api/v1/approvals", approval.NewHTTPHandler(a.approvals, a.logger).WithAccessChecker(approvalAccess{a.repo}))
	mux.Handle("GET /api/v1/approvals/feed",
		approval.NewFeed(a.approvals, a.logger, a.cfg.Server.AllowedOrigins...).WithAccessChecker(approvalAccess{a.repo}))

	rh := &runHandler{engine: a.engine, history: a.history, logger: a.logger}
	mux.HandleFunc("POST /api/v1/workflows/{id}/runs", rh.start)
	mux.HandleFunc("GET /api/v1/runs", rh.list)
	mux.HandleFunc("GET /api/v1/runs/{runId}", rh.get)

	sc := a.cfg.Server
	chain := []Middleware{
		Recovery(a.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(a.logger),
		MetricsMiddleware(a.collector),
		OTelTracing(),
		CORS(sc.AllowedOrigins),
	}
	if sc.RateLimitRPS > 0 {
		chain = append(chain, RateLimiter(ctx, sc.RateLimitRPS, sc.RateLimitBurst, a.logger))
	}
	if sc.JWT.Enabled() {
		chain = append(chain, JWTAuth(sc.JWT, []string{"/healthz", "/version", "/metrics"}, a.logger))
	} else {
		a.logger.Warn("JWT authentication disabled, callers are anonymous")
	}
	return Chain(mux, chain...)
}

// runHandler 通过 HTTP 启动与查询工作流运行
type runHandler struct {
	engine  *workflow.Engine
	history *workflow.HistoryStore
	logger  *zap.Logger
}

// start 同步执行仓库中的工作流；运行失败时仍返回带历史的结果
func (h *runHandler) start(w http.ResponseWriter, r *http.Request) {
	var input any
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRunBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "failed to read body")
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &input); err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "body must be JSON")
			return
		}
	}

	opts := workflow.RunOptions{}
	if uid, ok := ctxkeys.UserID(r.Context()); ok {
		opts.UserID = uid
	}
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 {
			writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "timeout must be a positive duration")
			return
		}
		opts.Timeout = d
	}

	result, err := h.engine.RunWorkflow(r.Context(), r.PathValue("id"), input, opts)
	if result != nil {
		status := http.StatusOK
		if result.Status == workflow.RunFailed {
			status = http.StatusUnprocessableEntity
		}
		writeResponse(w, status, result)
		return
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, string(types.ErrNotFound), err.Error())
	case types.IsErrorCode(err, types.ErrForbidden):
		writeJSONError(w, http.StatusForbidden, string(types.ErrForbidden), err.Error())
	case workflow.IsValidation(err):
		writeJSONError(w, http.StatusUnprocessableEntity, "VALIDATION", err.Error())
	default:
		h.logger.Error("run workflow failed", zap.String("workflow_id", r.PathValue("id")), zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to run workflow")
	}
}

func (h *runHandler) get(w http.ResponseWriter, r *http.Request) {
	result, ok := h.history.Get(r.PathValue("runId"))
	// 他人的运行记录按不存在处理
	if !ok || !ownsRun(r, result) {
		writeJSONError(w, http.StatusNotFound, string(types.ErrNotFound), "run not found")
		return
	}
	writeResponse(w, http.StatusOK, result)
}

// list 按 workflowId、status 或 since/until（RFC 3339，含端点）过滤运行记录
func (h *runHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var runs []*workflow.RunResult
	switch {
	case q.Get("workflowId") != "":
		runs = h.history.ListByWorkflow(q.Get("workflowId"))
	case q.Get("status") != "":
		runs = h.history.ListByStatus(workflow.RunStatus(q.Get("status")))
	default:
		since, err := queryTime(q.Get("since"), time.Time{})
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid since: "+err.Error())
			return
		}
		until, err := queryTime(q.Get("until"), time.Now())
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid until: "+err.Error())
			return
		}
		runs = h.history.ListByTimeRange(since, until)
	}
	visible := make([]*workflow.RunResult, 0, len(runs))
	for _, run := range runs {
		if ownsRun(r, run) {
			visible = append(visible, run)
		}
	}
	writeResponse(w, http.StatusOK, visible)
}

// ownsRun 判断请求用户是否发起了该运行；未启用认证时所有记录可见
func ownsRun(r *http.Request, run *workflow.RunResult) bool {
	uid, _ := ctxkeys.UserID(r.Context())
	return run.UserID == uid
}

// approvalAccess 把已删除的工作流视为无权访问
type approvalAccess struct{ repo repository.Repository }

func (a approvalAccess) CheckAccess(ctx context.Context, workflowID, userID string) (bool, error) {
	ok, err := a.repo.CheckAccess(ctx, workflowID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func queryTime(v string, def time.Time) (time.Time, error) {
	if v == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, v)
}

func writeResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 400, "data": data})
}
