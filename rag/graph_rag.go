package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/types"
)

// 节点类型
const (
	NodeTypeEntity = "entity"
	NodeTypeChunk  = "chunk"
)

// Node 知识图节点：实体（疾病、营养素、生活习惯）或文档片段
type Node struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label"`
	// Chunk nodes only.
	Text        string   `json:"text,omitempty"`
	Source      string   `json:"source,omitempty"`
	SectionPath []string `json:"section_path,omitempty"`
}

// Edge 节点间关系
type Edge struct {
	Source string  `json:"source"`
	Target string  `json:"target"`
	Type   string  `json:"type"`
	Weight float64 `json:"weight"`
}

// GraphSnapshot is the on-disk JSON form of a KnowledgeGraph.
type GraphSnapshot struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// KnowledgeGraph 内存知识图，加载后只读
type KnowledgeGraph struct {
	nodes    map[string]*Node
	chunks   []*Node // insertion order, for deterministic keyword scans
	outEdges map[string][]*Edge
	inEdges  map[string][]*Edge
	logger   *zap.Logger
	mu       sync.RWMutex
}

// NewKnowledgeGraph creates an empty graph.
func NewKnowledgeGraph(logger *zap.Logger) *KnowledgeGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KnowledgeGraph{
		nodes:    make(map[string]*Node),
		outEdges: make(map[string][]*Edge),
		inEdges:  make(map[string][]*Edge),
		logger:   logger.With(zap.String("component", "knowledge_graph")),
	}
}

// LoadKnowledgeGraph 从 JSON 快照文件构建知识图
func LoadKnowledgeGraph(path string, logger *zap.Logger) (*KnowledgeGraph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph snapshot: %w", err)
	}
	var snap GraphSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse graph snapshot %s: %w", path, err)
	}
	g := NewKnowledgeGraph(logger)
	for _, n := range snap.Nodes {
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, e := range snap.Edges {
		if err := g.AddEdge(e); err != nil {
			return nil, err
		}
	}
	g.logger.Info("knowledge graph loaded",
		zap.String("path", path),
		zap.Int("nodes", len(snap.Nodes)),
		zap.Int("edges", len(snap.Edges)),
	)
	return g, nil
}

// AddNode adds a node; IDs must be unique.
func (g *KnowledgeGraph) AddNode(node *Node) error {
	if node == nil || node.ID == "" {
		return fmt.Errorf("graph node requires an id")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.nodes[node.ID]; exists {
		return fmt.Errorf("duplicate graph node %q", node.ID)
	}
	if node.Type == "" {
		node.Type = NodeTypeEntity
	}
	g.nodes[node.ID] = node
	if node.Type == NodeTypeChunk {
		g.chunks = append(g.chunks, node)
	}
	return nil
}

// AddEdge adds a directed edge between two known nodes.
func (g *KnowledgeGraph) AddEdge(edge *Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[edge.Source]; !ok {
		return fmt.Errorf("edge source %q not found", edge.Source)
	}
	if _, ok := g.nodes[edge.Target]; !ok {
		return fmt.Errorf("edge target %q not found", edge.Target)
	}
	if edge.Weight <= 0 {
		edge.Weight = 1
	}
	g.outEdges[edge.Source] = append(g.outEdges[edge.Source], edge)
	g.inEdges[edge.Target] = append(g.inEdges[edge.Target], edge)
	return nil
}

// GetNode returns a node by ID.
func (g *KnowledgeGraph) GetNode(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// hop 记录邻居距离与路径权重
type hop struct {
	node   *Node
	depth  int
	weight float64
}

// neighbors 广度优先遍历，双向边，返回 depth 以内的节点（不含起点）
func (g *KnowledgeGraph) neighbors(nodeID string, depth int) []hop {
	g.mu.RLock()
	defer g.mu.RUnlock()

	visited := map[string]bool{nodeID: true}
	frontier := []hop{{node: g.nodes[nodeID], depth: 0, weight: 1}}
	var out []hop
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []hop
		for _, h := range frontier {
			visit := func(e *Edge, other string) {
				if visited[other] {
					return
				}
				n, ok := g.nodes[other]
				if !ok {
					return
				}
				visited[other] = true
				nh := hop{node: n, depth: d, weight: h.weight * e.Weight}
				out = append(out, nh)
				next = append(next, nh)
			}
			for _, e := range g.outEdges[h.node.ID] {
				visit(e, e.Target)
			}
			for _, e := range g.inEdges[h.node.ID] {
				visit(e, e.Source)
			}
		}
		frontier = next
	}
	return out
}

// matchEntities 返回标签出现在查询中的实体节点（稳定顺序）
func (g *KnowledgeGraph) matchEntities(query string) []*Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	q := strings.ToLower(query)
	var out []*Node
	for _, n := range g.nodes {
		if n.Type == NodeTypeEntity && n.Label != "" && strings.Contains(q, strings.ToLower(n.Label)) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// GraphRAGConfig 图检索配置
type GraphRAGConfig struct {
	MaxHops int `yaml:"max_hops" json:"max_hops"`
	// KeywordFallback scans chunk text when no entity matches.
	KeywordFallback bool `yaml:"keyword_fallback" json:"keyword_fallback"`
}

// DefaultGraphRAGConfig returns defaults.
func DefaultGraphRAGConfig() GraphRAGConfig {
	return GraphRAGConfig{MaxHops: 2, KeywordFallback: true}
}

// GraphRetriever 图检索：实体匹配后沿关系扩展到片段节点
type GraphRetriever struct {
	graph  *KnowledgeGraph
	config GraphRAGConfig
	logger *zap.Logger
}

// NewGraphRetriever creates a graph-backed Retriever.
func NewGraphRetriever(graph *KnowledgeGraph, config GraphRAGConfig, logger *zap.Logger) *GraphRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxHops <= 0 {
		config.MaxHops = 2
	}
	return &GraphRetriever{
		graph:  graph,
		config: config,
		logger: logger.With(zap.String("component", "graph_retriever")),
	}
}

type scoredChunk struct {
	node  *Node
	raw   float64
	order int
}

// Retrieve implements Retriever.
func (r *GraphRetriever) Retrieve(ctx context.Context, query string, k int) ([]types.Evidence, error) {
	if k <= 0 {
		return []types.Evidence{}, nil
	}
	if r.graph == nil {
		return nil, types.NewSourceUnavailableError("graph", fmt.Errorf("knowledge graph not loaded"))
	}

	seeds := r.graph.matchEntities(query)
	scores := make(map[string]*scoredChunk)
	order := 0
	for _, seed := range seeds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, h := range r.graph.neighbors(seed.ID, r.config.MaxHops) {
			if h.node.Type != NodeTypeChunk {
				continue
			}
			sc, ok := scores[h.node.ID]
			if !ok {
				sc = &scoredChunk{node: h.node, order: order}
				order++
				scores[h.node.ID] = sc
			}
			sc.raw += h.weight / float64(h.depth)
		}
	}

	retriever := "graph"
	if len(scores) == 0 {
		if !r.config.KeywordFallback {
			return []types.Evidence{}, nil
		}
		retriever = "graph_keyword"
		if err := r.keywordScan(ctx, query, scores); err != nil {
			return nil, err
		}
	}

	ranked := make([]*scoredChunk, 0, len(scores))
	for _, sc := range scores {
		ranked = append(ranked, sc)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].raw != ranked[j].raw {
			return ranked[i].raw > ranked[j].raw
		}
		return ranked[i].order < ranked[j].order
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	out := make([]types.Evidence, 0, len(ranked))
	for _, sc := range ranked {
		out = append(out, types.Evidence{
			ID:          sc.node.ID,
			Text:        sc.node.Text,
			Source:      sc.node.Source,
			SectionPath: sc.node.SectionPath,
			// (0,1), same range as cosine similarity
			Score:      sc.raw / (1 + sc.raw),
			Provenance: types.Provenance{Kind: types.ProvenanceGraph, SubQuestion: -1, Retriever: retriever},
		})
	}
	r.logger.Debug("graph search done",
		zap.Int("seeds", len(seeds)),
		zap.String("retriever", retriever),
		zap.Int("hits", len(out)),
	)
	return out, nil
}

// keywordScan 关键词出现次数之和作为分数
func (r *GraphRetriever) keywordScan(ctx context.Context, query string, scores map[string]*scoredChunk) error {
	keywords := extractKeywords(query)
	if len(keywords) == 0 {
		return nil
	}
	r.graph.mu.RLock()
	defer r.graph.mu.RUnlock()
	for i, n := range r.graph.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		text := strings.ToLower(n.Text)
		total := 0
		for _, kw := range keywords {
			total += strings.Count(text, kw)
		}
		if total > 0 {
			scores[n.ID] = &scoredChunk{node: n, raw: float64(total), order: i}
		}
	}
	return nil
}
