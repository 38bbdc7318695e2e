package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/analysis"
	"github.com/BaSui01/counselflow/api/handlers"
	"github.com/BaSui01/counselflow/config"
	"github.com/BaSui01/counselflow/internal/cache"
	"github.com/BaSui01/counselflow/internal/database"
	"github.com/BaSui01/counselflow/internal/metrics"
	"github.com/BaSui01/counselflow/internal/migration"
	"github.com/BaSui01/counselflow/internal/resilience"
	"github.com/BaSui01/counselflow/internal/server"
	"github.com/BaSui01/counselflow/internal/telemetry"
	"github.com/BaSui01/counselflow/llm"
	"github.com/BaSui01/counselflow/llm/providers/openaicompat"
	"github.com/BaSui01/counselflow/pipeline"
	"github.com/BaSui01/counselflow/rag"
	"github.com/BaSui01/counselflow/safety"
	"github.com/BaSui01/counselflow/strategy"
	"github.com/BaSui01/counselflow/synthesis"
)

// =============================================================================
// 🖥️ 服务器
// =============================================================================

// Server 组装流水线各组件并管理 HTTP 生命周期
type Server struct {
	cfg        *config.Config
	configPath string
	logger     *zap.Logger
	level      zap.AtomicLevel
	telemetry  *telemetry.Providers

	collector  *metrics.Collector
	controller *pipeline.Controller
	health     *handlers.HealthHandler
	limiter    *RateLimiter
	reloader   *config.Reloader
	cache      *cache.Manager
	db         *database.PoolManager

	httpManager *server.Manager

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer 构建全部依赖；可选依赖（Redis、数据库）初始化失败时降级运行
func NewServer(cfg *config.Config, configPath string, logger *zap.Logger, level zap.AtomicLevel, otelProviders *telemetry.Providers) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())
	collector := metrics.NewCollector("counselflow", logger)
	s := &Server{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
		level:      level,
		telemetry:  otelProviders,
		collector:  collector,
		health:     handlers.NewHealthHandler(Version, collector.Latency(), logger),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := s.initPipeline(); err != nil {
		cancel()
		s.closeResources()
		return nil, err
	}
	s.initReloader()

	s.httpManager = server.NewManager(s.routes(), server.Config{
		Addr:            fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)
	return s, nil
}

// =============================================================================
// 🔧 流水线组装
// =============================================================================

func (s *Server) initPipeline() error {
	cfg := s.cfg
	logger := s.logger

	classifier, err := buildClassifier(cfg.Safety, logger)
	if err != nil {
		return err
	}
	analyzer := analysis.NewAnalyzer(analysis.Config{
		Budget:     cfg.Pipeline.AnalysisBudget,
		Vocabulary: analysis.DefaultVocabulary(),
	}, classifier, logger)

	table := strategy.Table{
		Live:        strategy.ModeK(cfg.Pipeline.Live),
		Preparation: strategy.ModeK(cfg.Pipeline.Preparation),
	}
	if err := table.Validate(); err != nil {
		return err
	}

	provider := openaicompat.New(openaicompat.Config{
		ProviderName:   cfg.LLM.Provider,
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Temperature:    float32(cfg.LLM.Temperature),
		MaxTokens:      cfg.LLM.MaxTokens,
		Timeout:        cfg.LLM.Timeout,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
	}, logger)
	policy := resilience.DefaultRetryPolicy()
	policy.MaxRetries = cfg.LLM.MaxRetries
	breaker := resilience.NewBreaker("llm", resilience.DefaultBreakerConfig(), logger)
	generator := llm.NewResilient(provider, policy, breaker, logger)

	vector := rag.NewQdrantRetriever(rag.QdrantConfig{
		Host:           cfg.Retrieval.Qdrant.Host,
		Port:           cfg.Retrieval.Qdrant.Port,
		BaseURL:        cfg.Retrieval.Qdrant.BaseURL,
		APIKey:         cfg.Retrieval.Qdrant.APIKey,
		Collection:     cfg.Retrieval.Qdrant.Collection,
		Timeout:        cfg.Retrieval.Qdrant.Timeout,
		ScoreThreshold: cfg.Retrieval.Qdrant.ScoreThreshold,
	}, provider, logger)

	// 图检索不可用时为 nil，由编排器降级为向量检索（仅一层降级）
	var graph rag.Retriever
	if cfg.Retrieval.GraphFile != "" {
		kg, err := rag.LoadKnowledgeGraph(cfg.Retrieval.GraphFile, logger)
		if err != nil {
			logger.Warn("knowledge graph unavailable, graph retrieval falls back to vector", zap.Error(err))
		} else {
			graph = rag.NewGraphRetriever(kg, rag.GraphRAGConfig{
				MaxHops:         cfg.Retrieval.GraphMaxHops,
				KeywordFallback: cfg.Retrieval.GraphKeywordFallback,
			}, logger)
		}
	}

	tcfg := rag.DefaultQueryTransformConfig()
	tcfg.MaxSubQuestions = cfg.Retrieval.MaxSubQuestions
	tcfg.EnableRewrite = cfg.Retrieval.EnableRewrite
	transformer := rag.NewQueryTransformer(tcfg, generator, logger)

	orchestrator := rag.NewOrchestrator(vector, graph, transformer, rag.OrchestratorConfig{
		CallTimeout:    cfg.Pipeline.RetrievalTimeout,
		MaxConcurrency: cfg.Pipeline.MaxConcurrency,
	}, logger)

	synthesizer := synthesis.New(generator, synthesis.Config{
		EvidenceTokenBudget: cfg.Pipeline.EvidenceTokenBudget,
		TokenizerModel:      cfg.Pipeline.TokenizerModel,
		LocalizeEscalation:  cfg.Pipeline.LocalizeEscalation,
	}, logger)

	opts := []pipeline.Option{pipeline.WithObserver(s.collector)}
	if faq := s.initCache(); faq != nil {
		opts = append(opts, pipeline.WithCache(faq))
	}
	if runs := s.initDatabase(); runs != nil {
		opts = append(opts, pipeline.WithRecorder(runs))
	}

	s.controller = pipeline.NewController(analyzer, table, orchestrator, synthesizer, pipeline.Config{
		AnalysisBudget:    cfg.Pipeline.AnalysisBudget,
		LiveBudget:        cfg.Pipeline.LiveBudget,
		PreparationBudget: cfg.Pipeline.PreparationBudget,
		EvidenceBudget:    cfg.Pipeline.EvidenceBudget,
		Production:        cfg.Pipeline.Production,
		AuditTimeout:      cfg.Pipeline.AuditTimeout,
	}, logger, opts...)

	s.health.RegisterCheck(handlers.NewPingCheck("qdrant", vector.HealthCheck))
	s.health.RegisterCheck(handlers.NewPingCheck("llm", provider.HealthCheck))
	return nil
}

// buildClassifier 词表来源优先级：keywords_file → 内置词表；内联词表追加在后
func buildClassifier(cfg config.SafetyConfig, logger *zap.Logger) (*safety.Classifier, error) {
	kcfg := safety.DefaultKeywordConfig()
	if cfg.KeywordsFile != "" {
		loaded, err := safety.LoadKeywordConfig(cfg.KeywordsFile)
		if err != nil {
			return nil, fmt.Errorf("load safety keywords: %w", err)
		}
		kcfg = loaded
	}
	kcfg.EscalateKeywords = append(kcfg.EscalateKeywords, cfg.EscalateKeywords...)
	kcfg.CautionKeywords = append(kcfg.CautionKeywords, cfg.CautionKeywords...)

	tables, err := safety.NewKeywordTables(kcfg)
	if err != nil {
		return nil, fmt.Errorf("compile safety keywords: %w", err)
	}
	return safety.NewClassifier(tables, logger, safety.WithBudget(cfg.ClassifierBudget)), nil
}

// initCache 连接 Redis；失败时不启用 FAQ 缓存
func (s *Server) initCache() *cache.FAQCache {
	rc := s.cfg.Redis
	if !rc.Enabled {
		return nil
	}
	manager, err := cache.NewManager(cache.Config{
		Addr:                rc.Addr,
		Password:            rc.Password,
		DB:                  rc.DB,
		DefaultTTL:          rc.FAQTTL,
		MaxRetries:          3,
		PoolSize:            rc.PoolSize,
		MinIdleConns:        rc.MinIdleConns,
		HealthCheckInterval: 30 * time.Second,
	}, s.logger)
	if err != nil {
		s.logger.Warn("redis unavailable, FAQ cache disabled", zap.Error(err))
		return nil
	}
	s.cache = manager

	fcfg := cache.DefaultFAQConfig()
	fcfg.TTL = rc.FAQTTL
	fcfg.SimilarityThreshold = rc.SimilarityThreshold
	fcfg.MaxScan = int(rc.MaxScan)
	faq := cache.NewFAQCache(manager, fcfg, s.logger)
	s.health.RegisterCheck(handlers.NewPingCheck("redis", faq.Ping))
	return faq
}

// initDatabase 打开审计库并按需执行迁移；失败时不记录运行
func (s *Server) initDatabase() *database.RunRepository {
	dc := s.cfg.Database
	if !dc.Enabled {
		return nil
	}
	if dc.AutoMigrate {
		if err := s.migrateUp(dc); err != nil {
			s.logger.Error("auto-migrate failed, run audit disabled", zap.Error(err))
			return nil
		}
	}

	_, dsn, err := migration.DatabaseURL(dc)
	if err != nil {
		s.logger.Warn("invalid database config, run audit disabled", zap.Error(err))
		return nil
	}
	pool, err := database.Open(dc.Driver, dsn, database.PoolConfig{
		MaxIdleConns:        dc.MaxIdleConns,
		MaxOpenConns:        dc.MaxOpenConns,
		ConnMaxLifetime:     dc.ConnMaxLifetime,
		ConnMaxIdleTime:     dc.ConnMaxIdleTime,
		HealthCheckInterval: 30 * time.Second,
	}, s.logger)
	if err != nil {
		s.logger.Warn("database unavailable, run audit disabled", zap.Error(err))
		return nil
	}
	pool.StartHealthCheck(func(open, idle int) {
		s.collector.RecordDBConnections(dc.Driver, open, idle)
	})
	s.db = pool
	s.health.RegisterCheck(handlers.NewPingCheck("database", pool.Ping))
	return database.NewRunRepository(pool, s.logger)
}

func (s *Server) migrateUp(dc config.DatabaseConfig) error {
	m, err := migration.NewMigratorFromDatabaseConfig(dc, s.logger)
	if err != nil {
		return err
	}
	defer m.Close()
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	return m.Up(ctx)
}

// =============================================================================
// 🔄 热重载
// =============================================================================

func (s *Server) initReloader() {
	s.limiter = NewRateLimiter(s.ctx, s.cfg.Server.RateLimitRPS, s.cfg.Server.RateLimitBurst, s.logger)
	s.reloader = config.NewReloader(s.cfg, s.configPath, config.WithReloaderLogger(s.logger))
	s.reloader.OnReload(func(old, next *config.Config) error {
		if old.Log.Level != next.Log.Level {
			s.level.SetLevel(parseLevel(next.Log.Level))
		}
		if old.Server.RateLimitRPS != next.Server.RateLimitRPS || old.Server.RateLimitBurst != next.Server.RateLimitBurst {
			s.limiter.SetLimit(next.Server.RateLimitRPS, next.Server.RateLimitBurst)
		}
		s.logger.Info("config reloaded",
			zap.String("log_level", next.Log.Level),
			zap.Float64("rate_limit_rps", next.Server.RateLimitRPS),
			zap.Int("rate_limit_burst", next.Server.RateLimitBurst))
		return nil
	})
}

// =============================================================================
// 🛣️ 路由
// =============================================================================

func (s *Server) routes() http.Handler {
	cfg := s.cfg
	mux := http.NewServeMux()

	rcfg := handlers.DefaultRetrieveConfig()
	rcfg.OriginPatterns = originHosts(cfg.Server.AllowedOrigins)
	retrieve := handlers.NewRetrieveHandler(s.controller, rcfg, s.logger)

	// /v1 路由：认证在前，限流按认证后的咨询师计数
	protect := func(h http.Handler) http.Handler {
		mws := []Middleware{}
		if cfg.Auth.Enabled {
			mws = append(mws, JWTAuth(cfg.Auth, nil, s.logger))
		}
		mws = append(mws, s.limiter.Middleware())
		return Chain(h, mws...)
	}

	mux.Handle("POST /v1/retrieve", protect(http.HandlerFunc(retrieve.HandleRetrieve)))
	mux.Handle("POST /v1/retrieve/stream", protect(http.HandlerFunc(retrieve.HandleStream)))
	mux.Handle("GET /v1/retrieve/ws", protect(http.HandlerFunc(retrieve.HandleWebSocket)))

	mux.HandleFunc("GET /healthz", s.health.HandleHealthz)
	mux.HandleFunc("GET /readyz", s.health.HandleReady)
	mux.HandleFunc("GET /version", s.health.HandleVersion(BuildTime, GitCommit))
	mux.HandleFunc("GET /metrics/latency", s.health.HandleLatency)
	mux.Handle("GET /metrics", promhttp.Handler())

	if cfg.Auth.Enabled {
		config.NewAPIHandler(s.reloader, s.logger).RegisterRoutes(mux, JWTAuth(cfg.Auth, nil, s.logger))
	} else {
		s.logger.Warn("auth disabled, config management API not exposed")
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		CORS(cfg.Server.AllowedOrigins),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
	)
}

// originHosts 把完整来源转换为 WebSocket Accept 使用的 host 模式
func originHosts(origins []string) []string {
	var hosts []string
	for _, o := range origins {
		u, err := url.Parse(o)
		if err != nil || u.Host == "" {
			continue
		}
		hosts = append(hosts, u.Host)
	}
	return hosts
}

// =============================================================================
// 🚀 生命周期
// =============================================================================

// Start 启动 HTTP 服务与配置监听
func (s *Server) Start() error {
	if err := s.reloader.Start(s.ctx); err != nil {
		s.logger.Warn("config watcher not started", zap.Error(err))
	}

	if s.cfg.Server.TLSCertFile != "" {
		if err := s.httpManager.StartTLS(s.cfg.Server.TLSCertFile, s.cfg.Server.TLSKeyFile); err != nil {
			return fmt.Errorf("start https server: %w", err)
		}
	} else if err := s.httpManager.Start(); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	s.logger.Info("server started",
		zap.String("addr", s.httpManager.Addr()),
		zap.Bool("tls", s.cfg.Server.TLSCertFile != ""),
		zap.Bool("auth", s.cfg.Auth.Enabled),
		zap.Bool("faq_cache", s.cache != nil),
		zap.Bool("run_audit", s.db != nil),
	)
	return nil
}

// WaitForShutdown 等待信号或服务异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-s.httpManager.Errors():
		if err != nil {
			s.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}
	s.Shutdown()
}

// Shutdown 停止监听 → 关闭 HTTP（等待在途请求）→ 释放 Redis/数据库 → 刷新遥测
func (s *Server) Shutdown() {
	s.reloader.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.httpManager.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown error", zap.Error(err))
	}

	s.cancel()
	s.closeResources()

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}
}

func (s *Server) closeResources() {
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("redis close error", zap.Error(err))
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
	}
}
