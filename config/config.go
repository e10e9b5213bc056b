package config

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 FlowEngine 的完整配置结构
type Config struct {
	// Engine 工作流引擎配置
	Engine EngineConfig `yaml:"engine" env:"ENGINE"`

	// Server 审批与指标 HTTP 服务配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Storage 存储节点后端配置
	Storage StorageConfig `yaml:"storage" env:"STORAGE"`

	// Redis 配置（storage.backend = redis 时使用）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置（storage.backend = sql 或仓库使用数据库时）
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics 指标配置
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Workflows 工作流定义目录
	Workflows WorkflowsConfig `yaml:"workflows" env:"WORKFLOWS"`
}

// EngineConfig 引擎配置
type EngineConfig struct {
	// 顶层运行超时，0 表示不限制
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT"`
	// 同时执行的节点上限
	MaxConcurrency int `yaml:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 子工作流最大嵌套深度
	MaxDepth int `yaml:"max_depth" env:"MAX_DEPTH"`
	// HTTP 节点默认超时
	HTTPTimeout time.Duration `yaml:"http_timeout" env:"HTTP_TIMEOUT"`
	// Code 节点默认超时
	CodeTimeout time.Duration `yaml:"code_timeout" env:"CODE_TIMEOUT"`
	// Code 节点最大求值步数，0 表示不限制
	CodeMaxSteps int `yaml:"code_max_steps" env:"CODE_MAX_STEPS"`
	// Code 节点单次运行可构造的字符串与数组字节上限，0 表示默认 16MiB
	CodeMaxBytes int `yaml:"code_max_bytes" env:"CODE_MAX_BYTES"`
	// 子工作流默认超时
	SubWorkflowTimeout time.Duration `yaml:"sub_workflow_timeout" env:"SUB_WORKFLOW_TIMEOUT"`
	// 审批默认超时
	ApprovalTimeout time.Duration `yaml:"approval_timeout" env:"APPROVAL_TIMEOUT"`
	// HTTP 节点额外信任的 CA 证书（PEM），为空时仅使用系统根证书
	HTTPCAFile string `yaml:"http_ca_file" env:"HTTP_CA_FILE"`
	// 内存中保留的运行记录数，超出后淘汰最早的记录
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 允许的跨域来源，为空时不设置 CORS 头
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// TLS 证书与私钥，均设置时启用 HTTPS
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
	// 每个客户端 IP 的请求速率，0 表示不限流
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 审批接口的 JWT 认证，Secret 与 PublicKey 均为空时不启用
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
}

// JWTConfig JWT 校验配置，支持 HS256 与 RS256
type JWTConfig struct {
	// HMAC 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// RSA 公钥（PEM）
	PublicKey string `yaml:"public_key" env:"PUBLIC_KEY"`
	// 期望的签发者，为空不校验
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 期望的受众，为空不校验
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// Enabled 是否配置了任一校验密钥
func (j JWTConfig) Enabled() bool {
	return j.Secret != "" || j.PublicKey != ""
}

// StorageConfig 存储节点后端配置
type StorageConfig struct {
	// 后端类型: memory, redis, sql
	Backend string `yaml:"backend" env:"BACKEND"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 是否由 GORM 自动建表（否则使用 migrate 命令）
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig storage.backend = redis 时的连接参数
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	TLS          bool   `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 工作流仓库与 sql 存储后端共用的数据库
type DatabaseConfig struct {
	// postgres, mysql, sqlite
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig OpenAI 兼容的模型服务
type LLMConfig struct {
	// 为空时不启用 llm 节点
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 为空时使用 OpenAI 官方地址
	BaseURL      string        `yaml:"base_url" env:"BASE_URL"`
	DefaultModel string        `yaml:"default_model" env:"DEFAULT_MODEL"`
	Timeout      time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

// LogConfig zap 日志配置
type LogConfig struct {
	// debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// json, console
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig OpenTelemetry 导出配置
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP/gRPC collector 地址
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string `yaml:"service_name" env:"SERVICE_NAME"`
	// 根 span 的采样比例，上游已采样的请求始终记录
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 明文 gRPC 连接 collector，关闭时使用系统根证书走 TLS
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// Prometheus 命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// WorkflowsConfig 工作流定义目录配置
type WorkflowsConfig struct {
	// 定义目录，启动时导入为共享工作流
	Dir string `yaml:"dir" env:"DIR"`
	// 是否监听目录变更
	Watch bool `yaml:"watch" env:"WATCH"`
	// 轮询间隔
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// 存储后端
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// Validate 验证配置，返回所有问题
func (c *Config) Validate() error {
	var errs []error

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, errors.New("server.http_port must be between 1 and 65535"))
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, errors.New("server.tls_cert_file and server.tls_key_file must be set together"))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, errors.New("server.rate_limit_rps must not be negative"))
	}
	if c.Server.RateLimitRPS > 0 && c.Server.RateLimitBurst <= 0 {
		errs = append(errs, errors.New("server.rate_limit_burst must be positive when rate limiting is enabled"))
	}
	if c.Engine.RunTimeout < 0 {
		errs = append(errs, errors.New("engine.run_timeout must not be negative"))
	}
	if c.Engine.MaxConcurrency < 0 {
		errs = append(errs, errors.New("engine.max_concurrency must not be negative"))
	}
	if c.Engine.MaxDepth <= 0 {
		errs = append(errs, errors.New("engine.max_depth must be positive"))
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required for the redis storage backend"))
		}
	case BackendSQL:
		if c.Database.DSN() == "" {
			errs = append(errs, fmt.Errorf("unsupported database.driver %q", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage.backend %q", c.Storage.Backend))
	}

	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("unsupported log.format %q", c.Log.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, errors.New("telemetry.sample_rate must be between 0 and 1"))
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, errors.New("llm.max_retries must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %w", errors.Join(errs...))
	}
	return nil
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
