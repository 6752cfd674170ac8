package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/callback"
	"github.com/kiranshivaraju/assetflow/internal/task"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// PropPriority is the pipeline property carrying the owner's priority.
const PropPriority = "priority"

// TaskGroups is the part of the task manager a TaskStage needs.
type TaskGroups interface {
	CreateGroup(ctx context.Context, spec task.GroupSpec) (*models.TaskGroup, []*models.Task, error)
	Tasks(ctx context.Context, groupID uuid.UUID) ([]*models.Task, error)
}

// TaskStage delegates its work to one task group and completes when the group
// does. The group id is recorded under the "<stage>.taskGroupId" property.
type TaskStage struct {
	Groups TaskGroups
	// Build returns the tasks to create. No tasks completes the stage at once.
	Build func(ctx context.Context, sc *StageContext) ([]task.Spec, error)
	// Cleanup runs when this stage is the failure stage of a failed pipeline.
	Cleanup func(ctx context.Context, sc *StageContext) error
}

// GroupProperty names the property holding the task group id of stageID.
func GroupProperty(stageID string) string {
	return stageID + "." + models.PropTaskGroupID
}

// OutputProperty names the property holding the n-th task output of stageID.
func OutputProperty(stageID string, n int) string {
	return stageID + ".output." + strconv.Itoa(n)
}

// Priority reads the priority property, falling back to the default.
func Priority(sc *StageContext) int {
	p, err := strconv.Atoi(sc.Property(PropPriority))
	if err != nil || p < models.PriorityHighest || p > models.PriorityLowest {
		return models.PriorityDefault
	}
	return p
}

func (s *TaskStage) Prepare(ctx context.Context, sc *StageContext) (models.StageResult, error) {
	if s.Build == nil {
		return models.StageResult{}, fmt.Errorf("stage %s has no task builder", sc.StageID)
	}
	specs, err := s.Build(ctx, sc)
	if err != nil {
		return models.StageResult{}, err
	}
	if len(specs) == 0 {
		return sc.Result(models.StageStatusCompleted, nil, nil), nil
	}

	group, _, err := s.Groups.CreateGroup(ctx, task.GroupSpec{
		JobID:      sc.OwnerID,
		PipelineID: sc.PipelineID,
		ListenerID: callback.ListenerPipeline,
		Priority:   Priority(sc),
		Tasks:      specs,
	})
	if err != nil {
		return models.StageResult{}, fmt.Errorf("delegating to task group: %w", err)
	}
	return sc.Result(models.StageStatusExecuting, nil, map[string]string{
		GroupProperty(sc.StageID): group.ID.String(),
	}), nil
}

func (s *TaskStage) OnCallback(ctx context.Context, sc *StageContext, ev models.Event) (models.StageResult, error) {
	groupID := ev.Properties.Get(models.PropTaskGroupID)
	if groupID == "" || groupID != sc.Property(GroupProperty(sc.StageID)) {
		return sc.Result(models.StageStatusExecuting, nil, nil), nil
	}

	switch status := models.TaskStatus(ev.Properties.Get(models.PropTaskGroupStatus)); status {
	case models.TaskStatusCompleted:
		id, err := uuid.Parse(groupID)
		if err != nil {
			return models.StageResult{}, fmt.Errorf("task group id %q: %w", groupID, err)
		}
		tasks, err := s.Groups.Tasks(ctx, id)
		if err != nil {
			return models.StageResult{}, fmt.Errorf("loading task outputs: %w", err)
		}
		props := make(map[string]string)
		for i, t := range tasks {
			if len(t.Output) > 0 && json.Valid(t.Output) {
				props[OutputProperty(sc.StageID, i)] = string(t.Output)
			}
		}
		return sc.Result(models.StageStatusCompleted, nil, props), nil
	case models.TaskStatusFailedClean, models.TaskStatusFailedDirty:
		msg := fmt.Sprintf("%s: task group %s finished %s", sc.StageID, groupID, status)
		return sc.Result(models.StageStatusFailed, []string{msg}, nil), nil
	default:
		return sc.Result(models.StageStatusExecuting, nil, nil), nil
	}
}

func (s *TaskStage) OnFailure(ctx context.Context, sc *StageContext) error {
	if s.Cleanup == nil {
		return nil
	}
	return s.Cleanup(ctx, sc)
}
