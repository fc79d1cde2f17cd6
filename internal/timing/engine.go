package timing

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/zbstctc/botool/internal/batch"
	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/store"
)

// Input is one reconciliation pass's view of the world.
type Input struct {
	ProgressLog  string
	Tasks        []models.Task
	Cohort       *models.CohortFile // nil when absent
	Status       models.AgentStatus
	ActiveTaskID string
	AgentStart   time.Time
}

// Lane groups the timings that share a batch index.
type Lane struct {
	Index   int                 `json:"index"`
	Timings []models.TaskTiming `json:"timings"`
}

// Timeline is the reconciled result. Durations are in seconds.
type Timeline struct {
	Timings         []models.TaskTiming `json:"timings"`
	Lanes           []Lane              `json:"lanes"`
	Cohort          batch.Cohort        `json:"cohort"`
	Unscheduled     []string            `json:"unscheduled,omitempty"`
	AverageDuration float64             `json:"averageDuration"`
	ActiveElapsed   float64             `json:"activeElapsed"`
	TotalElapsed    float64             `json:"totalElapsed"`
	MaxDuration     float64             `json:"maxDuration"`
	InFlight        bool                `json:"inFlight"`
	ComputedAt      time.Time           `json:"computedAt"`
}

// Engine runs reconciliation passes for one scope.
type Engine struct {
	history    store.HistoryStore
	scope      string
	loc        *time.Location
	now        func() time.Time
	staleAfter time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocation sets the zone progress-log headings are read in.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStaleAfter sets the cohort file staleness threshold.
func WithStaleAfter(d time.Duration) Option {
	return func(e *Engine) { e.staleAfter = d }
}

// NewEngine creates an Engine writing batch history for scope.
func NewEngine(history store.HistoryStore, scope string, opts ...Option) *Engine {
	e := &Engine{
		history:    history,
		scope:      scope,
		loc:        time.Local,
		now:        time.Now,
		staleAfter: batch.DefaultStaleAfter,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Scope returns the history scope.
func (e *Engine) Scope() string {
	return e.scope
}

// ResetScope forgets every batch assignment of the engine's scope.
func (e *Engine) ResetScope(ctx context.Context) error {
	return e.history.ResetScope(ctx, e.scope)
}

// Reconcile runs one pass.
func (e *Engine) Reconcile(ctx context.Context, in Input) (*Timeline, error) {
	now := e.now()

	cohort := batch.SelectCohort(batch.SelectInput{
		Cohort:     in.Cohort,
		Status:     in.Status,
		Tasks:      in.Tasks,
		Now:        now,
		StaleAfter: e.staleAfter,
	})
	layers := batch.ComputeBatches(in.Tasks)
	layerOf := batch.LayerIndex(layers)

	current := make(map[string]int, len(cohort.TaskIDs))
	for _, id := range cohort.TaskIDs {
		current[id] = cohort.BatchIndex
	}
	history, err := e.history.Assign(ctx, e.scope, current)
	if err != nil {
		return nil, fmt.Errorf("update batch history: %w", err)
	}

	var teammate map[string]models.TaskTiming
	if cohort.Source == batch.SourceAuthoritative {
		teammate = FromTeammates(cohort.Teammates, now)
	}
	logged := FromProgressLog(ParseProgressLog(in.ProgressLog, e.loc), now)
	known := Merge(teammate, logged, nil)
	estimated := Estimate(EstimateInput{
		Tasks:        in.Tasks,
		Known:        known,
		ActiveTaskID: in.ActiveTaskID,
		AgentStart:   in.AgentStart,
		Now:          now,
	})
	merged := Merge(teammate, logged, estimated)

	tl := &Timeline{Cohort: cohort, Unscheduled: layers.Unscheduled, ComputedAt: now}
	for id, t := range merged {
		if idx, ok := history[id]; ok {
			t.BatchIndex = idx
		} else {
			t.BatchIndex = layerOf[id] // zero when unknown to the graph
		}
		tl.Timings = append(tl.Timings, t)
	}
	slices.SortFunc(tl.Timings, byStart)
	summarize(tl, in, now)
	return tl, nil
}

func byStart(a, b models.TaskTiming) int {
	if c := a.StartTime.Compare(b.StartTime); c != 0 {
		return c
	}
	if a.TaskID < b.TaskID {
		return -1
	}
	if a.TaskID > b.TaskID {
		return 1
	}
	return 0
}

func summarize(tl *Timeline, in Input, now time.Time) {
	lanes := make(map[int][]models.TaskTiming)
	var completed int
	var sum float64
	earliest := in.AgentStart
	fromTimings := earliest.IsZero()
	for _, t := range tl.Timings {
		lanes[t.BatchIndex] = append(lanes[t.BatchIndex], t)
		if fromTimings && (earliest.IsZero() || t.StartTime.Before(earliest)) {
			earliest = t.StartTime
		}
		if t.InProgress() {
			tl.InFlight = true
			if t.TaskID == in.ActiveTaskID {
				tl.ActiveElapsed = t.Duration
			}
			continue
		}
		completed++
		sum += t.Duration
		tl.MaxDuration = max(tl.MaxDuration, t.Duration)
	}
	if completed > 0 {
		tl.AverageDuration = sum / float64(completed)
	}
	if !earliest.IsZero() {
		tl.TotalElapsed = max(0, now.Sub(earliest).Seconds())
	}

	for idx, ts := range lanes {
		tl.Lanes = append(tl.Lanes, Lane{Index: idx, Timings: ts})
	}
	slices.SortFunc(tl.Lanes, func(a, b Lane) int { return a.Index - b.Index })
}
