package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTask_JSONRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	task := models.Task{
		ID:             uuid.New(),
		GroupID:        uuid.New(),
		Type:           "TRANSFER",
		Description:    "copy s3://a/b to glacier://vault/b",
		Priority:       3,
		Status:         models.TaskStatusCompleted,
		StatusTime:     now,
		RetryAttempts:  2,
		Configuration:  json.RawMessage(`{"source":"s3://a/b","parts":[1,2,3],"nested":{"k":true}}`),
		Output:         json.RawMessage(`{"bytes":1048576,"etag":"abc"}`),
		AssignedWorker: "worker-7",
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	b, err := json.Marshal(task)
	require.NoError(t, err)

	var got models.Task
	require.NoError(t, json.Unmarshal(b, &got))

	assert.Equal(t, task.ID, got.ID)
	assert.JSONEq(t, string(task.Configuration), string(got.Configuration))
	assert.JSONEq(t, string(task.Output), string(got.Output))
	got.Configuration, got.Output = task.Configuration, task.Output
	assert.Equal(t, task, got)
}

func TestParseTaskStatus(t *testing.T) {
	for _, s := range []string{"QUEUED", "EXECUTING", "COMPLETED", "FAILED_CLEAN", "FAILED_DIRTY"} {
		st, err := models.ParseTaskStatus(s)
		require.NoError(t, err)
		assert.Equal(t, s, string(st))
	}

	_, err := models.ParseTaskStatus("DONE")
	assert.ErrorIs(t, err, models.ErrInvalidStatus)
}

func TestProperties_Multimap(t *testing.T) {
	p := models.Properties{}
	p.Add(models.PropMessage, "first")
	p.Add(models.PropMessage, "second")
	p.Set(models.PropStatus, "FAILED")

	assert.Equal(t, "first", p.Get(models.PropMessage))
	assert.Equal(t, []string{"first", "second"}, p.All(models.PropMessage))
	assert.Equal(t, "FAILED", p.Get(models.PropStatus))
	assert.Equal(t, "", p.Get("missing"))
}

func TestPipeline_CloneIsDeep(t *testing.T) {
	p := &models.Pipeline{
		Stages:     []string{"a", "b"},
		Properties: map[string]string{"k": "v"},
	}
	c := p.Clone()
	c.Stages[0] = "x"
	c.Properties["k"] = "changed"

	assert.Equal(t, "a", p.Stages[0])
	assert.Equal(t, "v", p.Properties["k"])
}
