// =============================================================================
// OpenAI-Compatible Generator
// =============================================================================
// Text generation against any OpenAI Chat Completions compatible endpoint
// (OpenAI, vLLM, Ollama, DeepSeek ...). Only non-streaming single-prompt
// completion is needed by the pipeline.
// =============================================================================

package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/internal/tlsutil"
	"github.com/BaSui01/counselflow/types"
)

// Config holds the configuration for an OpenAI-compatible endpoint.
type Config struct {
	// ProviderName identifies the backend in logs and errors.
	ProviderName string `yaml:"provider" json:"provider"`
	APIKey       string `yaml:"api_key" json:"-"`
	BaseURL      string `yaml:"base_url" json:"base_url"`
	Model        string `yaml:"model" json:"model"`
	// SystemPrompt is prepended as the system message when set.
	SystemPrompt string        `yaml:"system_prompt" json:"system_prompt"`
	Temperature  float32       `yaml:"temperature" json:"temperature"`
	MaxTokens    int           `yaml:"max_tokens" json:"max_tokens"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	// EndpointPath defaults to "/v1/chat/completions".
	EndpointPath string `yaml:"endpoint_path" json:"endpoint_path"`
	// ModelsEndpoint defaults to "/v1/models".
	ModelsEndpoint string `yaml:"models_endpoint" json:"models_endpoint"`
	// EmbeddingModel is used by Embed; falls back to Model.
	EmbeddingModel string `yaml:"embedding_model" json:"embedding_model"`
	// EmbeddingsEndpoint defaults to "/v1/embeddings".
	EmbeddingsEndpoint string `yaml:"embeddings_endpoint" json:"embeddings_endpoint"`
}

// Provider generates text through the chat completions API.
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New creates a new OpenAI-compatible provider with the given config.
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = "/v1/chat/completions"
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = "/v1/models"
	}
	if cfg.EmbeddingsEndpoint == "" {
		cfg.EmbeddingsEndpoint = "/v1/embeddings"
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = cfg.Model
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.NewHTTPClient(tlsutil.ClientConfig{Timeout: cfg.Timeout}),
		Logger: logger.With(zap.String("component", "llm_provider"), zap.String("provider", cfg.ProviderName)),
	}
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.Cfg.ProviderName }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

func (p *Provider) endpoint(path string) string {
	return fmt.Sprintf("%s%s", strings.TrimRight(p.Cfg.BaseURL, "/"), path)
}

func (p *Provider) buildHeaders(req *http.Request) {
	if p.Cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")
}

// Generate sends the prompt as a single user message.
func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if p.Cfg.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: p.Cfg.SystemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	payload, err := json.Marshal(chatRequest{
		Model:       p.Cfg.Model,
		Messages:    messages,
		Temperature: p.Cfg.Temperature,
		MaxTokens:   p.Cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EndpointPath), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return "", types.NewError(types.ErrUpstreamError, "llm request failed").
			WithCause(err).
			WithHTTPStatus(http.StatusBadGateway).
			WithRetryable(ctx.Err() == nil).
			WithSource(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", types.NewError(types.ErrUpstreamError, "malformed llm response").
			WithCause(err).
			WithSource(p.Name())
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding vector for text.
func (p *Provider) Embed(ctx context.Context, text string) ([]float64, error) {
	payload, err := json.Marshal(embeddingRequest{Model: p.Cfg.EmbeddingModel, Input: []string{text}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(p.Cfg.EmbeddingsEndpoint), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "embedding request failed").
			WithCause(err).
			WithRetryable(ctx.Err() == nil).
			WithSource(p.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "malformed embedding response").
			WithCause(err).
			WithSource(p.Name())
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "empty embedding").WithSource(p.Name())
	}
	return out.Data[0].Embedding, nil
}

// HealthCheck verifies the endpoint is reachable.
func (p *Provider) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%s health check: %w", p.Name(), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return mapHTTPError(resp.StatusCode, readErrorMessage(resp.Body), p.Name())
	}
	return nil
}

// mapHTTPError 将 HTTP 状态码映射为带重试标记的 types.Error
func mapHTTPError(status int, msg, provider string) *types.Error {
	var code types.ErrorCode
	retryable := false
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		code = types.ErrUnauthorized
	case status == http.StatusTooManyRequests:
		code, retryable = types.ErrRateLimited, true
	case status == http.StatusBadRequest:
		code = types.ErrInvalidRequest
	case status >= 500:
		code, retryable = types.ErrUpstreamError, true
	default:
		code = types.ErrUpstreamError
	}
	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithRetryable(retryable).
		WithSource(provider)
}

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil {
		return "failed to read error response"
	}
	var errResp struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(data, &errResp) == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
