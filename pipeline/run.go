package pipeline

import (
	"time"

	"github.com/BaSui01/counselflow/safety"
	"github.com/BaSui01/counselflow/types"
)

// Run 单次运行的聚合根，只由执行它的 goroutine 写入。
type Run struct {
	ID        string
	Question  types.Question
	Mode      types.Mode
	Patient   types.PatientContext
	StartedAt time.Time

	Analysis     types.Analysis
	Strategy     types.Strategy
	SubQuestions []types.SubQuestion
	Evidence     []types.Evidence
	Answer       *types.Answer
	Events       []types.Event
	Observations []types.Observation
	Warnings     []*types.Error
	// Timings holds per-stage wall time in milliseconds.
	Timings map[string]float64
	Cached  bool

	stage   types.Stage
	ratchet *safety.Ratchet
}

func newRun(id string, q types.Question, mode types.Mode, patient types.PatientContext, now time.Time) *Run {
	return &Run{
		ID:        id,
		Question:  q,
		Mode:      mode.OrDefault(),
		Patient:   patient,
		StartedAt: now,
		Timings:   make(map[string]float64),
		stage:     types.StageCreated,
	}
}

// Stage 当前阶段
func (r *Run) Stage() types.Stage { return r.stage }

// Safety returns the ratcheted level, or the analysis level before the ratchet exists.
func (r *Run) Safety() types.SafetyLevel {
	if r.ratchet == nil {
		return r.Analysis.Safety
	}
	return r.ratchet.Level()
}

func (r *Run) transition(to types.Stage) error {
	if !CanTransition(r.stage, to) {
		return invalidTransition(r.stage, to)
	}
	r.stage = to
	return nil
}

func (r *Run) observe(role types.ObservationRole, title, content string) {
	r.Observations = append(r.Observations, types.Observation{Role: role, Title: title, Content: content})
}

func (r *Run) timing(stage types.Stage, d time.Duration) {
	r.Timings[string(stage)] = float64(d.Microseconds()) / 1000
}

// StageSequence 返回已发出事件的阶段序列
func (r *Run) StageSequence() []types.Stage {
	out := make([]types.Stage, 0, len(r.Events))
	for _, ev := range r.Events {
		out = append(out, ev.Stage)
	}
	return out
}
