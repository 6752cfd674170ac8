package pipeline

import "github.com/kiranshivaraju/assetflow/pkg/models"

// DeriveStatus computes the overall pipeline status from the current stage.
// A completed stage that is not the last leaves the pipeline EXECUTING until
// it advances.
func DeriveStatus(p *models.Pipeline) models.PipelineStatus {
	switch p.StageStatus {
	case models.StageStatusQueued:
		return models.PipelineStatusQueued
	case models.StageStatusExecuting:
		return models.PipelineStatusExecuting
	case models.StageStatusCompleted:
		if p.IsLastStage() {
			return models.PipelineStatusCompleted
		}
		return models.PipelineStatusExecuting
	default:
		return models.PipelineStatusFailed
	}
}
