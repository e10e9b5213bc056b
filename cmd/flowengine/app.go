package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/flowengine/config"
	"github.com/BaSui01/flowengine/internal/database"
	"github.com/BaSui01/flowengine/internal/metrics"
	"github.com/BaSui01/flowengine/internal/telemetry"
	"github.com/BaSui01/flowengine/internal/tlsutil"
	"github.com/BaSui01/flowengine/llm"
	"github.com/BaSui01/flowengine/llm/circuitbreaker"
	"github.com/BaSui01/flowengine/llm/providers/langchain"
	"github.com/BaSui01/flowengine/llm/tokenizer"
	"github.com/BaSui01/flowengine/llm/tools"
	"github.com/BaSui01/flowengine/workflow"
	"github.com/BaSui01/flowengine/workflow/approval"
	"github.com/BaSui01/flowengine/workflow/repository"
	"github.com/BaSui01/flowengine/workflow/storage"
)

// =============================================================================
// 🧩 组件装配
// =============================================================================

// app 持有进程内共享的引擎及其协作者
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	telemetry *telemetry.Providers
	pool      *database.PoolManager
	store     storage.Store
	repo      repository.Repository
	approvals *approval.Manager
	tools     *tools.Registry
	history   *workflow.HistoryStore
	engine    *workflow.Engine
	breaker   *circuitbreaker.Breaker

	closers []func(context.Context) error
}

// newApp 按配置装配全部组件；失败时释放已创建的资源
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
			a = nil
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.collector = metrics.NewCollectorWith(a.registry, cfg.Metrics.Namespace, logger)

	if cfg.Telemetry.Enabled {
		tp, terr := telemetry.Init(ctx, cfg.Telemetry, logger)
		if terr != nil {
			logger.Warn("failed to initialize telemetry", zap.Error(terr))
		} else {
			a.telemetry = tp
			a.closers = append(a.closers, tp.Shutdown)
		}
	}

	if err = a.initStorage(ctx); err != nil {
		return a, err
	}
	if err = a.initRepository(ctx); err != nil {
		return a, err
	}

	a.approvals = approval.NewManager(nil, logger)
	a.approvals.SetObserver(a.collector)

	a.tools = tools.NewRegistry(logger)
	if err = registerBuiltinTools(a.tools); err != nil {
		return a, err
	}

	model, err := a.newModel()
	if err != nil {
		return a, err
	}

	httpClient, err := tlsutil.NewHTTPClient(0, cfg.Engine.HTTPCAFile)
	if err != nil {
		return a, fmt.Errorf("http node client: %w", err)
	}

	a.history = workflow.NewHistoryStore(cfg.Engine.HistoryLimit)
	a.engine = workflow.NewEngine(workflow.Dependencies{
		Model:      model,
		AppTools:   a.tools,
		Workflows:  a.repo,
		Storage:    a.store,
		Approvals:  a.approvals,
		HTTPClient: httpClient,
		History:    a.history,
		Metrics:    a.collector,
		Tracer:     a.telemetry.Tracer(),
		Logger:     logger,
	}, workflow.WithOptions(engineOptions(cfg.Engine)))

	return a, nil
}

func engineOptions(ec config.EngineConfig) workflow.Options {
	return workflow.Options{
		RunTimeout:         ec.RunTimeout,
		MaxConcurrency:     ec.MaxConcurrency,
		MaxDepth:           ec.MaxDepth,
		HTTPTimeout:        ec.HTTPTimeout,
		CodeTimeout:        ec.CodeTimeout,
		CodeMaxSteps:       ec.CodeMaxSteps,
		CodeMaxBytes:       ec.CodeMaxBytes,
		SubWorkflowTimeout: ec.SubWorkflowTimeout,
		ApprovalTimeout:    ec.ApprovalTimeout,
	}
}

// initStorage 按 storage.backend 选择 Storage 节点后端
func (a *app) initStorage(ctx context.Context) error {
	cfg := a.cfg
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		rs, err := storage.NewRedisStore(storage.RedisConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Storage.KeyPrefix,
			MaxRetries:   3,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			TLS:          cfg.Redis.TLS,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("redis storage: %w", err)
		}
		a.store = rs
		a.closers = append(a.closers, closeFunc(rs))

	case config.BackendSQL:
		if err := a.openDatabase(); err != nil {
			return err
		}
		ss, err := storage.NewSQLStore(a.pool.DB(), cfg.Storage.AutoMigrate, a.logger)
		if err != nil {
			return fmt.Errorf("sql storage: %w", err)
		}
		a.store = ss

	default:
		a.store = storage.NewMemoryStore()
	}

	a.logger.Info("storage backend ready", zap.String("backend", cfg.Storage.Backend))
	return nil
}

func (a *app) openDatabase() error {
	pool, err := database.Open(a.cfg.Database, a.logger,
		database.WithStatsReporter(a.collector, a.cfg.Database.Driver))
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func(context.Context) error { return pool.Close() })
	return nil
}

// initRepository 有数据库时使用 GORM 仓库，否则使用内存仓库；
// 配置了 workflows.dir 时导入其中的定义
func (a *app) initRepository(ctx context.Context) error {
	if a.pool != nil {
		repo, err := repository.NewGormRepository(a.pool.DB(), a.cfg.Storage.AutoMigrate, a.logger)
		if err != nil {
			return fmt.Errorf("workflow repository: %w", err)
		}
		a.repo = repo
	} else {
		a.repo = repository.NewMemoryRepository()
	}

	if dir := a.cfg.Workflows.Dir; dir != "" {
		n, err := repository.ImportDir(ctx, a.repo, dir)
		if err != nil {
			return fmt.Errorf("import workflows from %s: %w", dir, err)
		}
		a.logger.Info("workflows imported", zap.String("dir", dir), zap.Int("count", n))
	}
	return nil
}

// newModel 未配置 API Key 时返回 nil，LLM 节点在运行时报错
func (a *app) newModel() (llm.Provider, error) {
	lc := a.cfg.LLM
	if lc.APIKey == "" {
		a.logger.Info("LLM API key not configured, llm nodes disabled")
		return nil, nil
	}

	base, err := langchain.NewOpenAI(langchain.Config{
		BaseURL:    lc.BaseURL,
		APIKey:     lc.APIKey,
		Model:      lc.DefaultModel,
		HTTPClient: tlsutil.SecureHTTPClient(lc.Timeout),
	})
	if err != nil {
		return nil, err
	}
	tokenizer.RegisterOpenAITokenizers()

	rc := llm.DefaultResilientConfig()
	rc.MaxRetries = lc.MaxRetries
	rc.Breaker.OnStateChange = func(from, to circuitbreaker.State) {
		a.collector.SetCircuitState(base.Name(), int(to))
		a.logger.Info("model circuit state changed",
			zap.String("provider", base.Name()),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	provider := llm.NewResilientProvider(base, rc, a.logger)
	a.breaker = provider.Breaker()

	a.logger.Info("model provider ready",
		zap.String("provider", base.Name()),
		zap.String("model", lc.DefaultModel),
	)
	return metrics.InstrumentProvider(provider, a.collector), nil
}

// Close 逆序释放资源
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func closeFunc(c io.Closer) func(context.Context) error {
	return func(context.Context) error { return c.Close() }
}
