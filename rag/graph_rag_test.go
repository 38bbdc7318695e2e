package rag

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/counselflow/types"
)

func testSnapshot() GraphSnapshot {
	return GraphSnapshot{
		Nodes: []*Node{
			{ID: "e-diabetes", Type: NodeTypeEntity, Label: "당뇨"},
			{ID: "e-exercise", Type: NodeTypeEntity, Label: "운동"},
			{ID: "e-sodium", Type: NodeTypeEntity, Label: "나트륨"},
			{ID: "c-walk", Type: NodeTypeChunk, Text: "식후 걷기는 당뇨 환자의 혈당을 낮춘다", Source: "ada.pdf", SectionPath: []string{"운동"}},
			{ID: "c-hba1c", Type: NodeTypeChunk, Text: "당화혈색소 목표는 6.5% 미만", Source: "ada.pdf", SectionPath: []string{"목표"}},
			{ID: "c-salt", Type: NodeTypeChunk, Text: "나트륨 섭취 제한은 혈압 관리에 도움", Source: "kdca.pdf", SectionPath: []string{"식이", "나트륨"}},
		},
		Edges: []*Edge{
			{Source: "e-diabetes", Target: "c-walk", Type: "mentions"},
			{Source: "e-diabetes", Target: "c-hba1c", Type: "mentions"},
			{Source: "e-exercise", Target: "c-walk", Type: "mentions"},
			{Source: "e-sodium", Target: "c-salt", Type: "mentions"},
		},
	}
}

func newTestGraph(t *testing.T) *KnowledgeGraph {
	t.Helper()
	g := NewKnowledgeGraph(nil)
	snap := testSnapshot()
	for _, n := range snap.Nodes {
		require.NoError(t, g.AddNode(n))
	}
	for _, e := range snap.Edges {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func TestKnowledgeGraph_AddValidation(t *testing.T) {
	g := NewKnowledgeGraph(nil)
	assert.Error(t, g.AddNode(&Node{}))
	require.NoError(t, g.AddNode(&Node{ID: "a"}))
	assert.Error(t, g.AddNode(&Node{ID: "a"}), "duplicate id")
	assert.Error(t, g.AddEdge(&Edge{Source: "a", Target: "missing"}))

	n, ok := g.GetNode("a")
	require.True(t, ok)
	assert.Equal(t, NodeTypeEntity, n.Type)
}

func TestLoadKnowledgeGraph(t *testing.T) {
	data, err := json.Marshal(testSnapshot())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	g, err := LoadKnowledgeGraph(path, nil)
	require.NoError(t, err)
	_, ok := g.GetNode("c-walk")
	assert.True(t, ok)

	_, err = LoadKnowledgeGraph(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)
}

func TestGraphRetriever_EntityExpansion(t *testing.T) {
	r := NewGraphRetriever(newTestGraph(t), DefaultGraphRAGConfig(), nil)

	got, err := r.Retrieve(context.Background(), "당뇨와 운동의 관계는?", 5)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	// c-walk is reached from both seeds and ranks first
	assert.Equal(t, "c-walk", got[0].ID)
	assert.Equal(t, types.ProvenanceGraph, got[0].Provenance.Kind)
	assert.Equal(t, "graph", got[0].Provenance.Retriever)
	for _, ev := range got {
		assert.Greater(t, ev.Score, 0.0)
		assert.Less(t, ev.Score, 1.0)
		assert.NotEqual(t, "c-salt", ev.ID)
	}
}

func TestGraphRetriever_KeywordFallback(t *testing.T) {
	r := NewGraphRetriever(newTestGraph(t), DefaultGraphRAGConfig(), nil)

	got, err := r.Retrieve(context.Background(), "혈압 관리 방법", 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c-salt", got[0].ID)
	assert.Equal(t, "graph_keyword", got[0].Provenance.Retriever)
}

func TestGraphRetriever_KeywordFallbackDisabled(t *testing.T) {
	r := NewGraphRetriever(newTestGraph(t), GraphRAGConfig{MaxHops: 2}, nil)
	got, err := r.Retrieve(context.Background(), "혈압 관리 방법", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGraphRetriever_NilGraph(t *testing.T) {
	r := NewGraphRetriever(nil, DefaultGraphRAGConfig(), nil)
	_, err := r.Retrieve(context.Background(), "q", 2)
	assert.True(t, types.IsErrorCode(err, types.ErrRetrievalSourceUnavailable))
}

func TestExtractKeywords(t *testing.T) {
	got := extractKeywords("혈당 관리, 운동? 또 A 혈당!")
	assert.Equal(t, []string{"혈당", "관리", "운동"}, got)
}
