package rag

import (
	"sort"

	"github.com/BaSui01/counselflow/types"
)

// DefaultEvidenceBudget 合并后保留的证据上限
const DefaultEvidenceBudget = 10

// Merger 证据合并：按 (source, section_path) 去重保留最高分，稳定降序排序后截断
type Merger struct {
	Budget int
}

// NewMerger creates a merger; budget <= 0 uses DefaultEvidenceBudget.
func NewMerger(budget int) Merger {
	if budget <= 0 {
		budget = DefaultEvidenceBudget
	}
	return Merger{Budget: budget}
}

// Merge 确定性且幂等：Merge(Merge(x)) == Merge(x)
func (m Merger) Merge(lists ...[]types.Evidence) []types.Evidence {
	budget := m.Budget
	if budget <= 0 {
		budget = DefaultEvidenceBudget
	}

	index := make(map[string]int)
	var merged []types.Evidence
	for _, list := range lists {
		for _, ev := range list {
			key := ev.Key()
			if i, ok := index[key]; ok {
				// keep first-seen position, upgrade content on strictly higher score
				if ev.Score > merged[i].Score {
					merged[i] = ev
				}
				continue
			}
			index[key] = len(merged)
			merged = append(merged, ev)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > budget {
		merged = merged[:budget]
	}
	if merged == nil {
		merged = []types.Evidence{}
	}
	return merged
}

// Merge merges with the default budget.
func Merge(lists ...[]types.Evidence) []types.Evidence {
	return NewMerger(DefaultEvidenceBudget).Merge(lists...)
}
