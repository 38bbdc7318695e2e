package database

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/counselflow/types"
)

// CounselRun 一次运行的审计记录，只保存问题哈希
type CounselRun struct {
	ID            string    `gorm:"primaryKey;size:36" json:"id"`
	QuestionHash  string    `gorm:"size:64;index;not null" json:"question_hash"`
	Mode          string    `gorm:"size:16;not null" json:"mode"`
	Strategy      string    `gorm:"size:16" json:"strategy"`
	Safety        string    `gorm:"size:16;not null" json:"safety"`
	Status        string    `gorm:"size:16;not null" json:"status"`
	ErrorCode     string    `gorm:"size:64" json:"error_code,omitempty"`
	Cached        bool      `gorm:"not null;default:false" json:"cached"`
	EvidenceCount int       `gorm:"not null;default:0" json:"evidence_count"`
	LatencyMS     int64     `gorm:"not null" json:"latency_ms"`
	StartedAt     time.Time `gorm:"not null" json:"started_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName 表名
func (CounselRun) TableName() string { return "counsel_runs" }

// HashQuestion 返回规范化问题文本的 SHA-256
func HashQuestion(q string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(q)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// RunRepository 运行审计存储
type RunRepository struct {
	pool    *PoolManager
	retries int
	logger  *zap.Logger
}

// NewRunRepository 创建审计存储
func NewRunRepository(pool *PoolManager, logger *zap.Logger) *RunRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunRepository{
		pool:    pool,
		retries: 3,
		logger:  logger.With(zap.String("component", "run_repository")),
	}
}

// Record 写入一条运行记录
func (r *RunRepository) Record(ctx context.Context, s types.RunSummary) error {
	if s.RunID == "" {
		return types.NewError(types.ErrInvalidRequest, "run id is required")
	}
	row := CounselRun{
		ID:            s.RunID,
		QuestionHash:  HashQuestion(s.Question),
		Mode:          string(s.Mode.OrDefault()),
		Strategy:      string(s.Strategy),
		Safety:        s.Safety.String(),
		Status:        string(s.Status),
		ErrorCode:     string(s.ErrorCode),
		Cached:        s.Cached,
		EvidenceCount: s.Evidence,
		LatencyMS:     s.Elapsed.Milliseconds(),
		StartedAt:     s.StartedAt.UTC(),
	}
	err := r.pool.WithTransactionRetry(ctx, r.retries, func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	})
	if err != nil {
		return fmt.Errorf("record run %s: %w", s.RunID, err)
	}
	r.logger.Debug("run recorded", zap.String("run_id", s.RunID), zap.String("status", row.Status))
	return nil
}

// Get 按 ID 读取
func (r *RunRepository) Get(ctx context.Context, id string) (*CounselRun, error) {
	var row CounselRun
	err := r.pool.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrInvalidRequest, "run not found").WithHTTPStatus(404)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return &row, nil
}

// Recent 最近的运行，按开始时间倒序
func (r *RunRepository) Recent(ctx context.Context, limit int) ([]CounselRun, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []CounselRun
	err := r.pool.DB().WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return rows, nil
}

// SafetyCount 按安全等级汇总
type SafetyCount struct {
	Safety string `json:"safety"`
	Count  int64  `json:"count"`
}

// CountBySafety 统计 since 之后各安全等级的运行数
func (r *RunRepository) CountBySafety(ctx context.Context, since time.Time) ([]SafetyCount, error) {
	var out []SafetyCount
	err := r.pool.DB().WithContext(ctx).
		Model(&CounselRun{}).
		Select("safety, COUNT(*) AS count").
		Where("started_at >= ?", since.UTC()).
		Group("safety").
		Order("safety").
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("count runs by safety: %w", err)
	}
	return out, nil
}
