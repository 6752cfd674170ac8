package task

import "github.com/kiranshivaraju/assetflow/pkg/models"

// Aggregate derives a group status from its task statuses. Failures dominate,
// dirty before clean. A group is COMPLETED only when every task is, and counts
// as EXECUTING as soon as any task has started or finished.
func Aggregate(statuses []models.TaskStatus) models.TaskGroupStatus {
	if len(statuses) == 0 {
		return models.TaskStatusQueued
	}
	var dirty, clean, executing, completed int
	for _, s := range statuses {
		switch s {
		case models.TaskStatusFailedDirty:
			dirty++
		case models.TaskStatusFailedClean:
			clean++
		case models.TaskStatusExecuting:
			executing++
		case models.TaskStatusCompleted:
			completed++
		}
	}
	switch {
	case dirty > 0:
		return models.TaskStatusFailedDirty
	case clean > 0:
		return models.TaskStatusFailedClean
	case completed == len(statuses):
		return models.TaskStatusCompleted
	case executing > 0 || completed > 0:
		return models.TaskStatusExecuting
	default:
		return models.TaskStatusQueued
	}
}

func rank(s models.TaskGroupStatus) int {
	switch {
	case s.Terminal():
		return 2
	case s == models.TaskStatusExecuting:
		return 1
	default:
		return 0
	}
}

// advance returns the status a group moves to when its tasks aggregate to
// computed. Terminal groups never change and a group never moves backwards.
func advance(current, computed models.TaskGroupStatus) models.TaskGroupStatus {
	if current.Terminal() || rank(computed) < rank(current) {
		return current
	}
	return computed
}
