// =============================================================================
// 📦 CounselFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("COUNSELFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultEnvPrefix 环境变量前缀
const DefaultEnvPrefix = "COUNSELFLOW"

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CounselFlow 的完整配置结构
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server" env:"SERVER"`
	Pipeline  PipelineConfig  `yaml:"pipeline" json:"pipeline" env:"PIPELINE"`
	Safety    SafetyConfig    `yaml:"safety" json:"safety" env:"SAFETY"`
	Retrieval RetrievalConfig `yaml:"retrieval" json:"retrieval" env:"RETRIEVAL"`
	LLM       LLMConfig       `yaml:"llm" json:"llm" env:"LLM"`
	Redis     RedisConfig     `yaml:"redis" json:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" json:"database" env:"DATABASE"`
	Log       LogConfig       `yaml:"log" json:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry" env:"TELEMETRY"`
	Auth      AuthConfig      `yaml:"auth" json:"auth" env:"AUTH"`
}

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" json:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" env:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" json:"idle_timeout" env:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个客户端的限流，0 表示关闭
	RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// 允许跨域与 WebSocket 连接的来源，如 https://console.example.com；为空时只接受同源
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// TLS 证书，均为空时使用明文 HTTP
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file" env:"TLS_KEY_FILE"`
}

// PipelineConfig 流水线预算与行为
type PipelineConfig struct {
	AnalysisBudget    time.Duration `yaml:"analysis_budget" json:"analysis_budget" env:"ANALYSIS_BUDGET"`
	LiveBudget        time.Duration `yaml:"live_budget" json:"live_budget" env:"LIVE_BUDGET"`
	PreparationBudget time.Duration `yaml:"preparation_budget" json:"preparation_budget" env:"PREPARATION_BUDGET"`
	EvidenceBudget    int           `yaml:"evidence_budget" json:"evidence_budget" env:"EVIDENCE_BUDGET"`
	// 单次检索调用的超时
	RetrievalTimeout time.Duration `yaml:"retrieval_timeout" json:"retrieval_timeout" env:"RETRIEVAL_TIMEOUT"`
	MaxConcurrency   int           `yaml:"max_concurrency" json:"max_concurrency" env:"MAX_CONCURRENCY"`
	// 生产环境下安全等级冲突只记录日志并升级为 escalate
	Production          bool          `yaml:"production" json:"production" env:"PRODUCTION"`
	AuditTimeout        time.Duration `yaml:"audit_timeout" json:"audit_timeout" env:"AUDIT_TIMEOUT"`
	EvidenceTokenBudget int           `yaml:"evidence_token_budget" json:"evidence_token_budget" env:"EVIDENCE_TOKEN_BUDGET"`
	TokenizerModel      string        `yaml:"tokenizer_model" json:"tokenizer_model" env:"TOKENIZER_MODEL"`
	LocalizeEscalation  bool          `yaml:"localize_escalation" json:"localize_escalation" env:"LOCALIZE_ESCALATION"`
	Live                StrategyK     `yaml:"live" json:"live" env:"LIVE"`
	Preparation         StrategyK     `yaml:"preparation" json:"preparation" env:"PREPARATION"`
}

// StrategyK 单个模式下的 top-k
type StrategyK struct {
	Simple   int `yaml:"simple" json:"simple" env:"SIMPLE"`
	MultiHop int `yaml:"multi_hop" json:"multi_hop" env:"MULTI_HOP"`
	SubLimit int `yaml:"sub_limit" json:"sub_limit" env:"SUB_LIMIT"`
}

// SafetyConfig 安全分类器配置。关键词为空时使用内置词表。
type SafetyConfig struct {
	ClassifierBudget time.Duration `yaml:"classifier_budget" json:"classifier_budget" env:"CLASSIFIER_BUDGET"`
	// KeywordsFile 指向 YAML 词表文件，优先于下面的内联词表
	KeywordsFile     string   `yaml:"keywords_file" json:"keywords_file" env:"KEYWORDS_FILE"`
	EscalateKeywords []string `yaml:"escalate_keywords" json:"escalate_keywords" env:"ESCALATE_KEYWORDS"`
	CautionKeywords  []string `yaml:"caution_keywords" json:"caution_keywords" env:"CAUTION_KEYWORDS"`
}

// RetrievalConfig 检索后端
type RetrievalConfig struct {
	Qdrant QdrantConfig `yaml:"qdrant" json:"qdrant" env:"QDRANT"`
	// GraphFile 为知识图谱 JSON 文件；为空时图检索回退到向量检索
	GraphFile            string `yaml:"graph_file" json:"graph_file" env:"GRAPH_FILE"`
	GraphMaxHops         int    `yaml:"graph_max_hops" json:"graph_max_hops" env:"GRAPH_MAX_HOPS"`
	GraphKeywordFallback bool   `yaml:"graph_keyword_fallback" json:"graph_keyword_fallback" env:"GRAPH_KEYWORD_FALLBACK"`
	EnableRewrite        bool   `yaml:"enable_rewrite" json:"enable_rewrite" env:"ENABLE_REWRITE"`
	MaxSubQuestions      int    `yaml:"max_sub_questions" json:"max_sub_questions" env:"MAX_SUB_QUESTIONS"`
}

// QdrantConfig Qdrant 向量存储配置
type QdrantConfig struct {
	Host           string        `yaml:"host" json:"host" env:"HOST"`
	Port           int           `yaml:"port" json:"port" env:"PORT"`
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	APIKey         string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	Collection     string        `yaml:"collection" json:"collection" env:"COLLECTION"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	ScoreThreshold float64       `yaml:"score_threshold" json:"score_threshold" env:"SCORE_THRESHOLD"`
}

// LLMConfig OpenAI 兼容的生成与向量化后端
type LLMConfig struct {
	Provider       string        `yaml:"provider" json:"provider" env:"PROVIDER"`
	APIKey         string        `yaml:"api_key" json:"api_key" env:"API_KEY"`
	BaseURL        string        `yaml:"base_url" json:"base_url" env:"BASE_URL"`
	Model          string        `yaml:"model" json:"model" env:"MODEL"`
	EmbeddingModel string        `yaml:"embedding_model" json:"embedding_model" env:"EMBEDDING_MODEL"`
	Temperature    float64       `yaml:"temperature" json:"temperature" env:"TEMPERATURE"`
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens" env:"MAX_TOKENS"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" env:"TIMEOUT"`
	MaxRetries     int           `yaml:"max_retries" json:"max_retries" env:"MAX_RETRIES"`
}

// RedisConfig FAQ 缓存配置
type RedisConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	Addr         string `yaml:"addr" json:"addr" env:"ADDR"`
	Password     string `yaml:"password" json:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" json:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" json:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// FAQ 缓存
	FAQTTL              time.Duration `yaml:"faq_ttl" json:"faq_ttl" env:"FAQ_TTL"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" json:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	MaxScan             int64         `yaml:"max_scan" json:"max_scan" env:"MAX_SCAN"`
}

// DatabaseConfig 运行审计库配置
type DatabaseConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled" env:"ENABLED"`
	// 驱动类型: postgres, mysql, sqlite
	Driver   string `yaml:"driver" json:"driver" env:"DRIVER"`
	Host     string `yaml:"host" json:"host" env:"HOST"`
	Port     int    `yaml:"port" json:"port" env:"PORT"`
	User     string `yaml:"user" json:"user" env:"USER"`
	Password string `yaml:"password" json:"password" env:"PASSWORD"`
	// sqlite 时为文件路径
	Name    string `yaml:"name" json:"name" env:"NAME"`
	SSLMode string `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE"`
	// DSN 非空时覆盖上面的连接字段
	DSN             string        `yaml:"dsn" json:"dsn" env:"DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time" env:"CONN_MAX_IDLE_TIME"`
	// 启动时执行迁移
	AutoMigrate bool `yaml:"auto_migrate" json:"auto_migrate" env:"AUTO_MIGRATE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" json:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format           string   `yaml:"format" json:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" json:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" json:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" json:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" json:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate" env:"SAMPLE_RATE"`
}

// AuthConfig /v1 路由的可选 Bearer 认证
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled" env:"ENABLED"`
	JWTSecret string `yaml:"jwt_secret" json:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" json:"issuer" env:"ISSUER"`
	Audience  string `yaml:"audience" json:"audience" env:"AUDIENCE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	lookupEnv  func(string) (string, bool)
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithLookupEnv replaces os.LookupEnv.
func (l *Loader) WithLookupEnv(fn func(string) (string, bool)) *Loader {
	l.lookupEnv = fn
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置并执行 Validate 与额外验证器
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// setFieldsFromEnv 按 env tag 递归覆盖，键为 PREFIX_SECTION_FIELD
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		envTag := t.Field(i).Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		key := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, key); err != nil {
				return err
			}
			continue
		}

		value, ok := l.lookupEnv(key)
		if !ok || value == "" {
			continue
		}
		if err := setFieldValue(field, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(i)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := parts[:0]
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}
	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
		errs = append(errs, "rate limit must not be negative")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "tls_cert_file and tls_key_file must be set together")
	}

	p := c.Pipeline
	if p.AnalysisBudget <= 0 || p.LiveBudget <= 0 || p.PreparationBudget <= 0 {
		errs = append(errs, "pipeline budgets must be positive")
	}
	if p.EvidenceBudget <= 0 {
		errs = append(errs, "evidence_budget must be positive")
	}
	for name, k := range map[string]StrategyK{"live": p.Live, "preparation": p.Preparation} {
		if k.Simple <= 0 || k.MultiHop <= 0 || k.SubLimit <= 0 {
			errs = append(errs, fmt.Sprintf("pipeline.%s k values must be positive", name))
		}
	}

	if t := c.Redis.SimilarityThreshold; t <= 0 || t > 1 {
		errs = append(errs, "redis.similarity_threshold must be in (0, 1]")
	}
	if c.Database.Enabled && c.Database.Driver == "" {
		errs = append(errs, "database.driver is required when the audit store is enabled")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required when auth is enabled")
	}

	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
