// Package batch infers which tasks run together as a concurrent cohort
// from the dependency graph, and decides when to trust the authoritative
// cohort file instead.
package batch

import (
	"fmt"
	"slices"

	"github.com/goccy/go-json"

	"github.com/zbstctc/botool/internal/models"
)

// Result is a layering of the dependency graph. Tasks within a batch have
// no dependency on each other. Unscheduled holds tasks that never became
// ready: cycle members and everything downstream of them.
type Result struct {
	Batches     [][]string
	Unscheduled []string
}

// ComputeBatches layers tasks with Kahn's algorithm. Dependencies on ids
// outside the set are ignored. Output is sorted for determinism.
func ComputeBatches(tasks []models.Task) Result {
	ids := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		ids[t.ID] = true
	}

	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string)
	for _, t := range tasks {
		if _, dup := indegree[t.ID]; dup {
			continue
		}
		indegree[t.ID] = 0
		for _, dep := range uniq(t.DependsOn) {
			if !ids[dep] {
				continue
			}
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var ready []string
	for id, n := range indegree {
		if n == 0 {
			ready = append(ready, id)
		}
	}

	var res Result
	placed := 0
	for len(ready) > 0 {
		slices.Sort(ready)
		res.Batches = append(res.Batches, ready)
		placed += len(ready)

		var next []string
		for _, id := range ready {
			for _, d := range dependents[id] {
				indegree[d]--
				if indegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		ready = next
	}

	if placed < len(indegree) {
		for id, n := range indegree {
			if n > 0 {
				res.Unscheduled = append(res.Unscheduled, id)
			}
		}
		slices.Sort(res.Unscheduled)
	}
	return res
}

func uniq(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// LayerIndex maps every scheduled task to its batch index.
func LayerIndex(r Result) map[string]int {
	idx := make(map[string]int)
	for i, b := range r.Batches {
		for _, id := range b {
			idx[id] = i
		}
	}
	return idx
}

// prdDocument is the subset of the PRD document used for scheduling.
type prdDocument struct {
	DevTasks []models.Task `json:"devTasks"`
}

// ParsePRD extracts the task graph from the PRD document.
func ParsePRD(content string) ([]models.Task, error) {
	var doc prdDocument
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("parse prd: %w", err)
	}
	return doc.DevTasks, nil
}
