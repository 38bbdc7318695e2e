// =============================================================================
// 📦 CounselFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Safety:    DefaultSafetyConfig(),
		Retrieval: DefaultRetrievalConfig(),
		LLM:       DefaultLLMConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Auth:      AuthConfig{Issuer: "counselflow"},
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultPipelineConfig live 5s，preparation 30s，分析 2s
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		AnalysisBudget:      2 * time.Second,
		LiveBudget:          5 * time.Second,
		PreparationBudget:   30 * time.Second,
		EvidenceBudget:      10,
		RetrievalTimeout:    3 * time.Second,
		MaxConcurrency:      7,
		AuditTimeout:        2 * time.Second,
		EvidenceTokenBudget: 3000,
		TokenizerModel:      "gpt-4o",
		Live:                StrategyK{Simple: 3, MultiHop: 5, SubLimit: 5},
		Preparation:         StrategyK{Simple: 5, MultiHop: 7, SubLimit: 7},
	}
}

// DefaultSafetyConfig 使用内置词表
func DefaultSafetyConfig() SafetyConfig {
	return SafetyConfig{ClassifierBudget: 1500 * time.Millisecond}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6333,
			Collection: "counsel_chunks",
			Timeout:    3 * time.Second,
		},
		GraphMaxHops:         2,
		GraphKeywordFallback: true,
		EnableRewrite:        true,
		MaxSubQuestions:      4,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:       "openai",
		BaseURL:        "https://api.openai.com",
		Model:          "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		Temperature:    0.2,
		MaxTokens:      1024,
		Timeout:        30 * time.Second,
		MaxRetries:     2,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:                "localhost:6379",
		PoolSize:            10,
		MinIdleConns:        2,
		FAQTTL:              30 * 24 * time.Hour,
		SimilarityThreshold: 0.85,
		MaxScan:             500,
	}
}

// DefaultDatabaseConfig 默认使用本地 sqlite 文件
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "counselflow.db",
		SSLMode:         "disable",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "counselflow",
		SampleRate:   0.1,
	}
}
