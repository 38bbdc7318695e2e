package rag

import (
	"context"
	"strings"
	"unicode"

	"github.com/BaSui01/counselflow/types"
)

// Retriever 检索接口：向量检索与图检索共用
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]types.Evidence, error)
}

// RetrieverFunc 函数适配器
type RetrieverFunc func(ctx context.Context, query string, k int) ([]types.Evidence, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, query string, k int) ([]types.Evidence, error) {
	return f(ctx, query, k)
}

// Embedder turns text into a query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// keywordSeparators are stripped when extracting lookup keywords.
const keywordSeparators = ",.;:?!？。，"

// extractKeywords 按空白与标点切分，保留长度大于 1 的词
func extractKeywords(query string) []string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune(keywordSeparators, r)
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.ToLower(f)
		if len([]rune(f)) <= 1 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
