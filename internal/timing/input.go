package timing

import (
	"context"

	"github.com/zbstctc/botool/internal/batch"
	"github.com/zbstctc/botool/internal/models"
)

// BuildInput assembles a pass input from the raw telemetry. Nil documents
// mean the file does not exist. An unparsable PRD is returned as an error
// along with the input built from everything else.
func BuildInput(prd, progress *string, rec *models.AgentStatusRecord, cohort *models.CohortFile) (Input, error) {
	in := Input{Cohort: cohort}
	if progress != nil {
		in.ProgressLog = *progress
	}
	if rec != nil {
		in.Status = rec.Status
		in.ActiveTaskID = rec.CurrentTask
		if rec.StartedAt != nil {
			in.AgentStart = rec.StartedAt.Time
		}
	}
	if prd == nil {
		return in, nil
	}
	tasks, err := batch.ParsePRD(*prd)
	if err != nil {
		return in, err
	}
	in.Tasks = tasks
	return in, nil
}

// History returns the engine scope's batch assignments.
func (e *Engine) History(ctx context.Context) (map[string]int, error) {
	return e.history.Lookup(ctx, e.scope)
}
