package timing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zbstctc/botool/internal/models"
	"github.com/zbstctc/botool/internal/store"
)

func TestBuildInput(t *testing.T) {
	prd := `{"devTasks":[{"id":"DT-001","passes":true},{"id":"DT-002","dependsOn":["DT-001"]}]}`
	progress := "## 2026-01-01 10:00 - DT-001\n"
	started := at("2026-01-01 09:00:00")
	rec := &models.AgentStatusRecord{Status: models.AgentStatusRunning, CurrentTask: "DT-002", StartedAt: models.At(started)}

	in, err := BuildInput(&prd, &progress, rec, nil)
	require.NoError(t, err)
	assert.Len(t, in.Tasks, 2)
	assert.Equal(t, progress, in.ProgressLog)
	assert.Equal(t, "DT-002", in.ActiveTaskID)
	assert.Equal(t, models.AgentStatusRunning, in.Status)
	assert.Equal(t, started, in.AgentStart)
}

func TestBuildInput_MissingDocuments(t *testing.T) {
	in, err := BuildInput(nil, nil, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, in.Tasks)
	assert.True(t, in.AgentStart.IsZero())

	bad := "{"
	progress := "## 2026-01-01 - DT-001"
	in, err = BuildInput(&bad, &progress, nil, nil)
	assert.Error(t, err)
	assert.Equal(t, progress, in.ProgressLog, "rest of the input survives a bad PRD")
}

func TestEngineHistory(t *testing.T) {
	now := time.Now()
	hist := store.NewMemoryStore()
	_, err := hist.Assign(context.Background(), "proj", map[string]int{"DT-001": 3})
	require.NoError(t, err)

	e := NewEngine(hist, "proj", WithClock(func() time.Time { return now }))
	got, err := e.History(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"DT-001": 3}, got)
}
