package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/internal/tlsutil"
	"github.com/BaSui01/counselflow/types"
)

// QdrantConfig configures the Qdrant vector retriever.
//
// Notes:
//   - Chunks are expected to carry content, source and section_path in payload.
//   - Evidence IDs fall back to a stable UUID derived from the point ID.
type QdrantConfig struct {
	Host       string        `yaml:"host" json:"host"`
	Port       int           `yaml:"port" json:"port"`
	BaseURL    string        `yaml:"base_url" json:"base_url,omitempty"`
	APIKey     string        `yaml:"api_key" json:"-"`
	Collection string        `yaml:"collection" json:"collection"`
	Timeout    time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// ScoreThreshold drops hits below this similarity (0 disables).
	ScoreThreshold float64 `yaml:"score_threshold" json:"score_threshold,omitempty"`

	PayloadIDField      string `yaml:"payload_id_field" json:"payload_id_field"`           // default "doc_id"
	PayloadContentField string `yaml:"payload_content_field" json:"payload_content_field"` // default "content"
	PayloadSourceField  string `yaml:"payload_source_field" json:"payload_source_field"`   // default "source"
	PayloadSectionField string `yaml:"payload_section_field" json:"payload_section_field"` // default "section_path"
}

// QdrantRetriever 基于 Qdrant REST API 的向量检索
type QdrantRetriever struct {
	cfg      QdrantConfig
	baseURL  string
	client   *http.Client
	embedder Embedder
	logger   *zap.Logger
}

// NewQdrantRetriever creates a Qdrant-backed Retriever.
func NewQdrantRetriever(cfg QdrantConfig, embedder Embedder, logger *zap.Logger) *QdrantRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PayloadIDField == "" {
		cfg.PayloadIDField = "doc_id"
	}
	if cfg.PayloadContentField == "" {
		cfg.PayloadContentField = "content"
	}
	if cfg.PayloadSourceField == "" {
		cfg.PayloadSourceField = "source"
	}
	if cfg.PayloadSectionField == "" {
		cfg.PayloadSectionField = "section_path"
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &QdrantRetriever{
		cfg:      cfg,
		baseURL:  baseURL,
		client:   tlsutil.NewHTTPClient(tlsutil.ClientConfig{Timeout: cfg.Timeout}),
		embedder: embedder,
		logger:   logger.With(zap.String("component", "qdrant_retriever")),
	}
}

var evidenceNamespace = uuid.MustParse("d9bde6d4-4f3a-4e6b-8f7a-5d8d2f3b4c1a")

func evidenceID(seed string) string {
	return uuid.NewSHA1(evidenceNamespace, []byte(seed)).String()
}

func (s *QdrantRetriever) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(s.cfg.APIKey) != "" {
		req.Header.Set("api-key", s.cfg.APIKey)
	}
}

func (s *QdrantRetriever) doJSON(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return err
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("qdrant request failed: method=%s path=%s status=%d body=%s", method, path, resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type qdrantSearchRequest struct {
	Vector         []float64 `json:"vector"`
	Limit          int       `json:"limit"`
	WithPayload    bool      `json:"with_payload"`
	ScoreThreshold *float64  `json:"score_threshold,omitempty"`
}

type qdrantHit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// Retrieve embeds the query and runs a top-k similarity search.
func (s *QdrantRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Evidence, error) {
	if k <= 0 {
		return []types.Evidence{}, nil
	}
	if strings.TrimSpace(s.cfg.Collection) == "" {
		return nil, types.NewSourceUnavailableError("qdrant", fmt.Errorf("qdrant collection is required"))
	}
	if s.embedder == nil {
		return nil, types.NewSourceUnavailableError("qdrant", fmt.Errorf("no embedder configured"))
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, types.NewSourceUnavailableError("qdrant", fmt.Errorf("embed query: %w", err))
	}

	req := qdrantSearchRequest{Vector: vec, Limit: k, WithPayload: true}
	if s.cfg.ScoreThreshold > 0 {
		threshold := s.cfg.ScoreThreshold
		req.ScoreThreshold = &threshold
	}

	var resp struct {
		Result []qdrantHit `json:"result"`
		Status string      `json:"status"`
	}
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(s.cfg.Collection))
	if err := s.doJSON(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, types.NewSourceUnavailableError("qdrant", err)
	}

	out := make([]types.Evidence, 0, len(resp.Result))
	for _, hit := range resp.Result {
		ev, ok := s.toEvidence(hit)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	s.logger.Debug("vector search done", zap.Int("k", k), zap.Int("hits", len(out)))
	return out, nil
}

func (s *QdrantRetriever) toEvidence(hit qdrantHit) (types.Evidence, bool) {
	ev := types.Evidence{
		Score:      hit.Score,
		Provenance: types.Provenance{Kind: types.ProvenanceVector, SubQuestion: -1, Retriever: "qdrant"},
	}
	if v, ok := hit.Payload[s.cfg.PayloadContentField].(string); ok {
		ev.Text = v
	}
	if strings.TrimSpace(ev.Text) == "" {
		return ev, false
	}
	if v, ok := hit.Payload[s.cfg.PayloadSourceField].(string); ok {
		ev.Source = v
	}
	switch v := hit.Payload[s.cfg.PayloadSectionField].(type) {
	case []any:
		for _, p := range v {
			if str, ok := p.(string); ok {
				ev.SectionPath = append(ev.SectionPath, str)
			}
		}
	case string:
		if v != "" {
			ev.SectionPath = strings.Split(v, " > ")
		}
	}
	if v, ok := hit.Payload[s.cfg.PayloadIDField].(string); ok && v != "" {
		ev.ID = v
	} else {
		ev.ID = evidenceID(fmt.Sprint(hit.ID))
	}
	return ev, true
}

// HealthCheck verifies the collection exists.
func (s *QdrantRetriever) HealthCheck(ctx context.Context) error {
	path := fmt.Sprintf("/collections/%s", url.PathEscape(s.cfg.Collection))
	return s.doJSON(ctx, http.MethodGet, path, nil, nil)
}
