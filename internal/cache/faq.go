package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/types"
)

// DefaultFAQTTL FAQ 条目默认保留 30 天
const DefaultFAQTTL = 30 * 24 * time.Hour

// FAQConfig FAQ 缓存配置
type FAQConfig struct {
	Prefix              string        `yaml:"prefix" json:"prefix" env:"PREFIX"`
	TTL                 time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
	SimilarityThreshold float64       `yaml:"similarity_threshold" json:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// MaxScan bounds the similarity scan over the index.
	MaxScan int `yaml:"max_scan" json:"max_scan" env:"MAX_SCAN"`
}

// DefaultFAQConfig 返回默认 FAQ 配置
func DefaultFAQConfig() FAQConfig {
	return FAQConfig{
		Prefix:              "counselflow:faq",
		TTL:                 DefaultFAQTTL,
		SimilarityThreshold: 0.85,
		MaxScan:             500,
	}
}

type faqEntry struct {
	Question string       `json:"question"`
	Tokens   []string     `json:"tokens"`
	Answer   types.Answer `json:"answer"`
	CachedAt time.Time    `json:"cached_at"`
}

// FAQCache 常见问题答案缓存：先按规范化文本精确匹配，再按词集 Jaccard 相似度扫描
type FAQCache struct {
	manager *Manager
	config  FAQConfig
	logger  *zap.Logger
}

// NewFAQCache 创建 FAQ 缓存
func NewFAQCache(manager *Manager, config FAQConfig, logger *zap.Logger) *FAQCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultFAQConfig()
	if config.Prefix == "" {
		config.Prefix = def.Prefix
	}
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.SimilarityThreshold <= 0 || config.SimilarityThreshold > 1 {
		config.SimilarityThreshold = def.SimilarityThreshold
	}
	if config.MaxScan <= 0 {
		config.MaxScan = def.MaxScan
	}
	return &FAQCache{
		manager: manager,
		config:  config,
		logger:  logger.With(zap.String("component", "faq_cache")),
	}
}

func (f *FAQCache) entryKey(hash string) string { return f.config.Prefix + ":entry:" + hash }
func (f *FAQCache) indexKey() string           { return f.config.Prefix + ":index" }

// Lookup 查找缓存答案。未命中返回 ok=false 且 err=nil。
func (f *FAQCache) Lookup(ctx context.Context, q types.Question) (types.Answer, bool, error) {
	norm := normalize(q.Text)
	if norm == "" {
		return types.Answer{}, false, nil
	}
	hash := questionHash(norm)

	var entry faqEntry
	err := f.manager.GetJSON(ctx, f.entryKey(hash), &entry)
	switch {
	case err == nil:
		f.logger.Debug("faq cache exact hit", zap.String("hash", hash[:12]))
		return entry.Answer, true, nil
	case !IsCacheMiss(err):
		return types.Answer{}, false, err
	}

	return f.scan(ctx, tokenSet(norm))
}

func (f *FAQCache) scan(ctx context.Context, tokens map[string]struct{}) (types.Answer, bool, error) {
	if len(tokens) == 0 {
		return types.Answer{}, false, nil
	}
	c, err := f.manager.client()
	if err != nil {
		return types.Answer{}, false, err
	}
	members, err := c.SRandMemberN(ctx, f.indexKey(), int64(f.config.MaxScan)).Result()
	if err != nil {
		return types.Answer{}, false, fmt.Errorf("faq index read failed: %w", err)
	}

	var (
		best      faqEntry
		bestScore float64
		stale     []any
	)
	for _, hash := range members {
		if err := ctx.Err(); err != nil {
			return types.Answer{}, false, err
		}
		var entry faqEntry
		err := f.manager.GetJSON(ctx, f.entryKey(hash), &entry)
		if IsCacheMiss(err) {
			stale = append(stale, hash)
			continue
		}
		if err != nil {
			f.logger.Debug("skipping unreadable faq entry", zap.String("hash", hash), zap.Error(err))
			continue
		}
		if s := jaccard(tokens, entry.Tokens); s > bestScore {
			best, bestScore = entry, s
		}
	}
	if len(stale) > 0 {
		// 条目已过期，索引随之清理
		if err := c.SRem(ctx, f.indexKey(), stale...).Err(); err != nil {
			f.logger.Debug("faq index cleanup failed", zap.Error(err))
		}
	}
	if bestScore >= f.config.SimilarityThreshold {
		f.logger.Debug("faq cache similarity hit", zap.Float64("similarity", bestScore))
		return best.Answer, true, nil
	}
	return types.Answer{}, false, nil
}

// Store 写入答案，仅接受 clear 等级
func (f *FAQCache) Store(ctx context.Context, q types.Question, answer types.Answer) error {
	if answer.SafetyBanner != nil && answer.SafetyBanner.Level != types.SafetyClear {
		return errors.New("only clear answers are cacheable")
	}
	norm := normalize(q.Text)
	if norm == "" || strings.TrimSpace(answer.Text) == "" {
		return nil
	}
	hash := questionHash(norm)
	entry := faqEntry{
		Question: norm,
		Tokens:   sortedTokens(tokenSet(norm)),
		Answer:   answer,
		CachedAt: time.Now().UTC(),
	}
	if err := f.manager.SetJSON(ctx, f.entryKey(hash), entry, f.config.TTL); err != nil {
		return err
	}
	c, err := f.manager.client()
	if err != nil {
		return err
	}
	if err := c.SAdd(ctx, f.indexKey(), hash).Err(); err != nil {
		return fmt.Errorf("faq index write failed: %w", err)
	}
	return nil
}

// Invalidate 删除单个问题的缓存
func (f *FAQCache) Invalidate(ctx context.Context, q types.Question) error {
	norm := normalize(q.Text)
	if norm == "" {
		return nil
	}
	hash := questionHash(norm)
	if err := f.manager.Delete(ctx, f.entryKey(hash)); err != nil {
		return err
	}
	c, err := f.manager.client()
	if err != nil {
		return err
	}
	return c.SRem(ctx, f.indexKey(), hash).Err()
}

// Ping 检查底层连接
func (f *FAQCache) Ping(ctx context.Context) error { return f.manager.Ping(ctx) }

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func questionHash(norm string) string {
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

func tokenSet(norm string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(norm) {
		w = strings.Trim(w, "?？.,!。，")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func sortedTokens(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for w := range set {
		out = append(out, w)
	}
	slices.Sort(out)
	return out
}

func jaccard(a map[string]struct{}, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	seen := make(map[string]struct{}, len(b))
	for _, w := range b {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		if _, ok := a[w]; ok {
			inter++
		}
	}
	union := len(a) + len(seen) - inter
	return float64(inter) / float64(union)
}
