package job

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kiranshivaraju/assetflow/internal/pipeline"
	"github.com/kiranshivaraju/assetflow/internal/task"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// Task types handed to workers.
const (
	TaskTypeTransfer = "TRANSFER"
	TaskTypeExport   = "EXPORT"
	TaskTypeCopy     = "COPY"
	TaskTypeDelete   = "DELETE"
	TaskTypeCleanup  = "CLEANUP"
)

// Pipeline properties set on every job pipeline.
const (
	PropConfiguration = "configuration"
	PropJobType       = "jobType"
)

// Flow is the pipeline a job type runs.
type Flow struct {
	Stages       []string
	FailureStage string
}

type stageDef struct {
	id       string
	taskType string
	cleanup  bool
}

type flowDef struct {
	jobType string
	stages  []stageDef
	failure *stageDef
}

var flows = []flowDef{
	{
		jobType: models.JobTypeIngest,
		stages:  []stageDef{{id: "ingest.transfer", taskType: TaskTypeTransfer}},
		failure: &stageDef{id: "ingest.cleanup", taskType: TaskTypeCleanup, cleanup: true},
	},
	{
		jobType: models.JobTypeExport,
		stages:  []stageDef{{id: "export.transfer", taskType: TaskTypeExport}},
	},
	{
		jobType: models.JobTypeReplicate,
		stages:  []stageDef{{id: "replicate.copy", taskType: TaskTypeCopy}},
		failure: &stageDef{id: "replicate.cleanup", taskType: TaskTypeCleanup, cleanup: true},
	},
	{
		jobType: models.JobTypeDelete,
		stages:  []stageDef{{id: "delete.remove", taskType: TaskTypeDelete}},
	},
}

// Catalog maps job types to their pipelines.
type Catalog map[string]Flow

// Lookup returns the flow for jobType.
func (c Catalog) Lookup(jobType string) (Flow, error) {
	f, ok := c[jobType]
	if !ok {
		return Flow{}, fmt.Errorf("%w: %q", ErrUnknownType, jobType)
	}
	return f, nil
}

// RegisterStages registers every job stage with reg and returns the catalog
// that refers to them. Called once at server startup.
func RegisterStages(reg *pipeline.Registry, groups pipeline.TaskGroups) (Catalog, error) {
	catalog := make(Catalog, len(flows))
	for _, f := range flows {
		flow := Flow{}
		for _, s := range f.stages {
			if err := reg.Register(s.id, transferStage(groups, s)); err != nil {
				return nil, err
			}
			flow.Stages = append(flow.Stages, s.id)
		}
		if f.failure != nil {
			if err := reg.Register(f.failure.id, cleanupStage(groups, *f.failure, f.stages)); err != nil {
				return nil, err
			}
			flow.FailureStage = f.failure.id
		}
		catalog[f.jobType] = flow
	}
	return catalog, nil
}

// transferStage delegates the whole job configuration to one task.
func transferStage(groups pipeline.TaskGroups, def stageDef) *pipeline.TaskStage {
	return &pipeline.TaskStage{
		Groups: groups,
		Build: func(_ context.Context, sc *pipeline.StageContext) ([]task.Spec, error) {
			return []task.Spec{{
				Type:          def.taskType,
				Description:   fmt.Sprintf("%s for job %s", def.id, sc.OwnerID),
				Configuration: configuration(sc),
			}}, nil
		},
	}
}

type cleanupConfig struct {
	JobID         string            `json:"jobId"`
	PipelineID    string            `json:"pipelineId"`
	TaskGroups    map[string]string `json:"taskGroups,omitempty"`
	Configuration json.RawMessage   `json:"configuration,omitempty"`
}

// cleanupStage issues one compensating task nobody waits on.
func cleanupStage(groups pipeline.TaskGroups, def stageDef, covered []stageDef) *pipeline.TaskStage {
	return &pipeline.TaskStage{
		Groups: groups,
		Cleanup: func(ctx context.Context, sc *pipeline.StageContext) error {
			cfg := cleanupConfig{
				JobID:         sc.OwnerID.String(),
				PipelineID:    sc.PipelineID.String(),
				TaskGroups:    map[string]string{},
				Configuration: configuration(sc),
			}
			for _, s := range covered {
				if id := sc.Property(pipeline.GroupProperty(s.id)); id != "" {
					cfg.TaskGroups[s.id] = id
				}
			}
			raw, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding cleanup configuration: %w", err)
			}
			_, _, err = groups.CreateGroup(ctx, task.GroupSpec{
				JobID:      sc.OwnerID,
				PipelineID: sc.PipelineID,
				Priority:   pipeline.Priority(sc),
				Tasks: []task.Spec{{
					Type:          def.taskType,
					Description:   fmt.Sprintf("%s for job %s", def.id, sc.OwnerID),
					Configuration: raw,
				}},
			})
			return err
		},
	}
}

func configuration(sc *pipeline.StageContext) json.RawMessage {
	raw := sc.Property(PropConfiguration)
	if raw == "" {
		return nil
	}
	return json.RawMessage(raw)
}
