package pipeline

import (
	"fmt"

	"github.com/BaSui01/counselflow/types"
)

// validTransitions 定义合法的阶段迁移；Complete 与 Failed 为终态
var validTransitions = map[types.Stage][]types.Stage{
	types.StageCreated:      {types.StageAnalyzing, types.StageFailed},
	types.StageAnalyzing:    {types.StageSelecting, types.StageFailed},
	types.StageSelecting:    {types.StageRetrieving, types.StageFailed},
	types.StageRetrieving:   {types.StageMerging, types.StageFailed},
	types.StageMerging:      {types.StageSynthesizing, types.StageFailed},
	types.StageSynthesizing: {types.StageComplete, types.StageFailed},
	types.StageComplete:     {},
	types.StageFailed:       {},
}

// CompletedSequence is the exact stage order of every completed run.
var CompletedSequence = []types.Stage{
	types.StageAnalyzing,
	types.StageSelecting,
	types.StageRetrieving,
	types.StageMerging,
	types.StageSynthesizing,
	types.StageComplete,
}

// CanTransition 检查阶段迁移是否合法
func CanTransition(from, to types.Stage) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s types.Stage) bool {
	next, ok := validTransitions[s]
	return ok && len(next) == 0
}

func invalidTransition(from, to types.Stage) *types.Error {
	return types.NewError(types.ErrInvalidTransition,
		fmt.Sprintf("invalid stage transition: %s -> %s", from, to))
}
