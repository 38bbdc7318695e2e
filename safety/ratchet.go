package safety

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/counselflow/types"
)

// Ratchet 单次运行内的安全等级棘轮，只升不降。
// 不是并发安全的：由流水线当前执行阶段独占写入。
type Ratchet struct {
	level      types.SafetyLevel
	production bool
	logger     *zap.Logger
}

// NewRatchet 以初始等级创建棘轮
func NewRatchet(initial types.SafetyLevel, production bool, logger *zap.Logger) *Ratchet {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ratchet{level: initial, production: production, logger: logger}
}

// Level 当前等级
func (r *Ratchet) Level() types.SafetyLevel { return r.level }

// Raise 提升到更严重的等级，较低等级被忽略
func (r *Ratchet) Raise(level types.SafetyLevel) types.SafetyLevel {
	r.level = r.level.Max(level)
	return r.level
}

// Observe 校验后续阶段报告的等级。
// 报告值低于当前等级即为 SafetyEscalationConflict：
// 非生产环境直接 panic，生产环境记录日志并保持 escalate。
func (r *Ratchet) Observe(stage types.Stage, level types.SafetyLevel) types.SafetyLevel {
	if level >= r.level {
		return r.Raise(level)
	}
	err := types.NewError(types.ErrSafetyEscalationConflict,
		fmt.Sprintf("stage %s reported %s after %s", stage, level, r.level))
	if !r.production {
		panic(err)
	}
	r.logger.Error("safety level downgrade detected",
		zap.String("stage", string(stage)),
		zap.String("reported", level.String()),
		zap.String("current", r.level.String()))
	r.level = types.SafetyEscalate
	return r.level
}
