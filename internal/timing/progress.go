// Package timing reconciles per-task timings from teammate records, the
// progress log and an even-split estimate into one timeline.
package timing

import (
	"bufio"
	"regexp"
	"strings"
	"time"

	"github.com/zbstctc/botool/internal/models"
)

var (
	headingRe = regexp.MustCompile(`^##\s+(\d{4}-\d{2}-\d{2})(?:\s+(\d{1,2}:\d{2}))?\s+-\s+(.+)$`)
	taskIDRe  = regexp.MustCompile(`DT-[A-Za-z0-9_.-]+`)
)

// ParseProgressLog extracts the timestamped task headings from the progress
// log, in log order. A heading without a time means midnight in loc (nil
// means local time).
func ParseProgressLog(text string, loc *time.Location) []models.ProgressLogEntry {
	if loc == nil {
		loc = time.Local
	}
	var entries []models.ProgressLogEntry
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		m := headingRe.FindStringSubmatch(strings.TrimSpace(sc.Text()))
		if m == nil {
			continue
		}
		ts, ok := parseHeadingTime(m[1], m[2], loc)
		if !ok {
			continue
		}
		ids := taskIDRe.FindAllString(m[3], -1)
		if len(ids) == 0 {
			continue
		}
		entries = append(entries, models.ProgressLogEntry{TaskIDs: ids, Timestamp: ts})
	}
	return entries
}

func parseHeadingTime(date, clock string, loc *time.Location) (time.Time, bool) {
	if clock == "" {
		t, err := time.ParseInLocation("2006-01-02", date, loc)
		return t, err == nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	return t, err == nil
}

// FromProgressLog pairs each entry with the next one: a task starts at its
// heading and ends at the following heading. Tasks under the final heading
// are still in progress. A task's first heading wins.
func FromProgressLog(entries []models.ProgressLogEntry, now time.Time) map[string]models.TaskTiming {
	out := make(map[string]models.TaskTiming)
	for i, e := range entries {
		var end *time.Time
		if i+1 < len(entries) {
			t := entries[i+1].Timestamp
			end = &t
		}
		for _, id := range e.TaskIDs {
			if _, seen := out[id]; seen {
				continue
			}
			out[id] = newTiming(id, e.Timestamp, end, now, models.TimingSourceProgressLog)
		}
	}
	return out
}
