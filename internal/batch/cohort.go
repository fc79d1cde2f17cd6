package batch

import (
	"time"

	"github.com/zbstctc/botool/internal/models"
)

// DefaultStaleAfter is the age beyond which a cohort file written during an
// active run is no longer trusted.
const DefaultStaleAfter = 60 * time.Second

// Source says where a cohort selection came from.
type Source string

const (
	SourceAuthoritative Source = "authoritative"
	SourceInferred      Source = "inferred"
	SourceNone          Source = "none"
)

// SelectInput is everything cohort selection looks at.
type SelectInput struct {
	Cohort     *models.CohortFile // nil when the file is absent
	Status     models.AgentStatus
	Tasks      []models.Task
	Now        time.Time
	StaleAfter time.Duration // zero means DefaultStaleAfter
}

// Cohort is the batch believed to be executing now.
type Cohort struct {
	Source     Source                  `json:"source"`
	BatchIndex int                     `json:"batchIndex"`
	TaskIDs    []string                `json:"taskIds"`
	Teammates  []models.TeammateRecord `json:"teammates,omitempty"` // authoritative selections only
	Stale      bool                    `json:"stale"`               // a cohort file existed but was distrusted
}

// IsStale reports whether cf is too old to trust. Only an active run makes
// a file stale; an idle agent legitimately stops writing it.
func IsStale(cf *models.CohortFile, status models.AgentStatus, now time.Time, staleAfter time.Duration) bool {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return now.Sub(cf.UpdatedAt.Time) > staleAfter && status.IsActive()
}

// SelectCohort trusts the cohort file unless it is stale, and otherwise
// infers the cohort from the graph: the earliest batch that still has an
// incomplete task, or the last batch when everything passes.
func SelectCohort(in SelectInput) Cohort {
	res := ComputeBatches(in.Tasks)

	stale := false
	if in.Cohort != nil {
		if !IsStale(in.Cohort, in.Status, in.Now, in.StaleAfter) {
			return authoritative(in.Cohort, LayerIndex(res))
		}
		stale = true
	}

	if len(res.Batches) == 0 {
		return Cohort{Source: SourceNone, Stale: stale}
	}

	passes := make(map[string]bool, len(in.Tasks))
	for _, t := range in.Tasks {
		passes[t.ID] = t.Passes
	}
	pick := len(res.Batches) - 1
	for i, b := range res.Batches {
		if hasIncomplete(b, passes) {
			pick = i
			break
		}
	}
	return Cohort{
		Source:     SourceInferred,
		BatchIndex: pick,
		TaskIDs:    append([]string(nil), res.Batches[pick]...),
		Stale:      stale,
	}
}

func hasIncomplete(ids []string, passes map[string]bool) bool {
	for _, id := range ids {
		if !passes[id] {
			return true
		}
	}
	return false
}

func authoritative(cf *models.CohortFile, layers map[string]int) Cohort {
	c := Cohort{
		Source:    SourceAuthoritative,
		Teammates: append([]models.TeammateRecord(nil), cf.Teammates...),
	}
	for _, tm := range cf.Teammates {
		c.TaskIDs = append(c.TaskIDs, tm.ID)
	}
	switch {
	case cf.BatchIndex != nil:
		c.BatchIndex = *cf.BatchIndex
	default:
		for _, tm := range cf.Teammates {
			if i, ok := layers[tm.ID]; ok {
				c.BatchIndex = i
				break
			}
		}
	}
	return c
}
