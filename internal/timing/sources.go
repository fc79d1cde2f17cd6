package timing

import (
	"time"

	"github.com/zbstctc/botool/internal/models"
)

func newTiming(id string, start time.Time, end *time.Time, now time.Time, src models.TimingSource) models.TaskTiming {
	t := models.TaskTiming{TaskID: id, StartTime: start, Source: src}
	stop := now
	if end != nil {
		e := *end
		t.EndTime = &e
		stop = e
	}
	if d := stop.Sub(start).Seconds(); d > 0 {
		t.Duration = d
	}
	return t
}

// FromTeammates takes exact windows from teammate records. Records that
// have not started are skipped.
func FromTeammates(records []models.TeammateRecord, now time.Time) map[string]models.TaskTiming {
	out := make(map[string]models.TaskTiming)
	for _, r := range records {
		if r.StartedAt == nil || r.StartedAt.IsZero() {
			continue
		}
		var end *time.Time
		if r.CompletedAt != nil && !r.CompletedAt.IsZero() {
			t := r.CompletedAt.Time
			end = &t
		}
		out[r.ID] = newTiming(r.ID, r.StartedAt.Time, end, now, models.TimingSourceTeammate)
	}
	return out
}

// EstimateInput feeds the fallback estimate.
type EstimateInput struct {
	Tasks        []models.Task
	Known        map[string]models.TaskTiming // timings from better sources
	ActiveTaskID string
	AgentStart   time.Time
	Now          time.Time
}

// Estimate splits the run's elapsed time evenly across completed tasks and
// lays the slots out back to back from the agent start. Only completed
// tasks missing from Known get a slot. An unknown active task starts where
// the latest known work ended.
func Estimate(in EstimateInput) map[string]models.TaskTiming {
	out := make(map[string]models.TaskTiming)
	if in.AgentStart.IsZero() {
		return out
	}
	total := in.Now.Sub(in.AgentStart)
	if total < 0 {
		total = 0
	}

	var completed []string
	passes := make(map[string]bool, len(in.Tasks))
	for _, t := range in.Tasks {
		passes[t.ID] = t.Passes
		if t.Passes {
			completed = append(completed, t.ID)
		}
	}

	if len(completed) > 0 {
		slot := total / time.Duration(len(completed))
		for i, id := range completed {
			if _, ok := in.Known[id]; ok {
				continue
			}
			start := in.AgentStart.Add(slot * time.Duration(i))
			end := start.Add(slot)
			out[id] = newTiming(id, start, &end, in.Now, models.TimingSourceEstimate)
		}
	}

	id := in.ActiveTaskID
	if id == "" || passes[id] {
		return out
	}
	if _, ok := in.Known[id]; ok {
		return out
	}
	start := in.AgentStart
	for _, m := range []map[string]models.TaskTiming{in.Known, out} {
		for _, t := range m {
			if t.EndTime != nil && t.EndTime.After(start) && !t.EndTime.After(in.Now) {
				start = *t.EndTime
			}
		}
	}
	out[id] = newTiming(id, start, nil, in.Now, models.TimingSourceEstimate)
	return out
}

// Merge layers the sources: teammate beats progress log beats estimate.
func Merge(teammate, progressLog, estimate map[string]models.TaskTiming) map[string]models.TaskTiming {
	out := make(map[string]models.TaskTiming, len(teammate)+len(progressLog)+len(estimate))
	for _, src := range []map[string]models.TaskTiming{estimate, progressLog, teammate} {
		for id, t := range src {
			out[id] = t
		}
	}
	return out
}
