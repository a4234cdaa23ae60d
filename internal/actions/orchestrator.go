// Package actions executes ordered plans of whitelisted tool
// invocations against the bridges. Every step gets a timeline row and
// progress envelopes; the first failure aborts the plan. Reversible
// steps can be undone best-effort through Revert.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/artifacts"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/common/tracing"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/mcp"
	"github.com/agpstudio/agp/internal/project/models"
)

// Step is one tool invocation in a plan.
type Step struct {
	Tool string         `json:"tool"`
	Args map[string]any `json:"args,omitempty"`
}

// StepResult reports the outcome of one step.
type StepResult struct {
	Index   int    `json:"index"`
	Tool    string `json:"tool"`
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	EventID int64  `json:"eventId,omitempty"`
}

// Summary reports a full plan run. Completed is false when the plan
// aborted on a failing step.
type Summary struct {
	ProjectID     string       `json:"projectId"`
	CorrelationID string       `json:"correlationId"`
	Steps         []StepResult `json:"steps"`
	Completed     bool         `json:"completed"`
}

// RevertOutcome reports one revert attempt and its linked timeline row.
type RevertOutcome struct {
	EventID       int64                 `json:"eventId"`
	RevertEventID int64                 `json:"revertEventId"`
	Status        models.TimelineStatus `json:"status"`
}

// ToolRunner executes one tool call against the adapter.
type ToolRunner interface {
	Invoke(ctx context.Context, name string, args map[string]any, correlationID string) (*mcp.ToolResult, error)
}

// Whitelist gates which tools a plan may invoke.
type Whitelist interface {
	Allowed(name string) bool
}

// TimelineRepo persists step rows.
type TimelineRepo interface {
	AppendTimelineEvent(ctx context.Context, event *models.TimelineEvent) error
	CompleteTimelineEvent(ctx context.Context, id int64, status models.TimelineStatus, result map[string]interface{}) error
	GetTimelineEvent(ctx context.Context, id int64) (*models.TimelineEvent, error)
}

// ArtifactSink registers files left behind by successful steps.
type ArtifactSink interface {
	Record(ctx context.Context, out artifacts.ToolOutput)
}

// Orchestrator runs plans sequentially and records every step.
type Orchestrator struct {
	runner    ToolRunner
	whitelist Whitelist
	repo      TimelineRepo
	bus       bus.EventBus
	artifacts ArtifactSink
	logger    *logger.Logger
	tracer    trace.Tracer
}

func New(runner ToolRunner, whitelist Whitelist, repo TimelineRepo, eventBus bus.EventBus, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		runner:    runner,
		whitelist: whitelist,
		repo:      repo,
		bus:       eventBus,
		logger:    log.WithFields(zap.String("component", "action-orchestrator")),
		tracer:    tracing.Tracer("actions"),
	}
}

// SetArtifactRecorder registers the optional artifact sink.
func (o *Orchestrator) SetArtifactRecorder(sink ArtifactSink) {
	o.artifacts = sink
}

// ExecutePlan validates the whole plan against the whitelist, then runs
// the steps in order. The first failing step aborts the rest; its error
// is reported in the summary, broadcast as an error envelope and left
// on the timeline.
func (o *Orchestrator) ExecutePlan(ctx context.Context, projectID string, steps []Step, correlationID string) (*Summary, error) {
	if len(steps) == 0 {
		return nil, apperr.SchemaViolation("plan has no steps")
	}
	for i, step := range steps {
		if !o.whitelist.Allowed(step.Tool) {
			return nil, apperr.ToolNotAllowed("step %d uses tool %s which is not whitelisted", i, step.Tool)
		}
	}
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "actions.execute_plan", trace.WithAttributes(
		attribute.String("project_id", projectID),
		attribute.String("correlation_id", correlationID),
		attribute.Int("step_count", len(steps))))
	defer span.End()

	o.logger.Info("executing plan",
		zap.String("project_id", projectID),
		zap.String("correlation_id", correlationID),
		zap.Int("steps", len(steps)))

	summary := &Summary{ProjectID: projectID, CorrelationID: correlationID}
	for i, step := range steps {
		result := o.executeStep(ctx, projectID, i, step, correlationID)
		summary.Steps = append(summary.Steps, result)
		if result.Status != string(models.TimelineStatusSuccess) {
			o.publish(ctx, events.ErrorRaised, map[string]interface{}{
				"projectId":     projectID,
				"error":         result.Error,
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
				"correlationId": correlationID,
			})
			o.logger.Warn("plan aborted",
				zap.String("project_id", projectID),
				zap.Int("failed_step", i),
				zap.String("error", result.Error))
			return summary, nil
		}
	}
	summary.Completed = true
	return summary, nil
}

func (o *Orchestrator) executeStep(ctx context.Context, projectID string, index int, step Step, correlationID string) StepResult {
	res := StepResult{Index: index, Tool: step.Tool}

	args := SanitizeArgs(step.Args)
	if !PayloadWithinLimit(args) {
		res.Status = string(models.TimelineStatusError)
		res.Error = fmt.Sprintf("Step %d args exceed %d bytes", index, maxPayloadSize)
		return res
	}

	row := &models.TimelineEvent{
		ProjectID:     projectID,
		StepIndex:     models.GenericStepIndex,
		Tool:          step.Tool,
		Args:          args,
		Status:        models.TimelineStatusRunning,
		CorrelationID: correlationID,
	}
	if err := o.repo.AppendTimelineEvent(ctx, row); err != nil {
		res.Status = string(models.TimelineStatusError)
		res.Error = fmt.Sprintf("Step %d could not be recorded: %v", index, err)
		return res
	}
	res.EventID = row.ID

	o.publish(ctx, events.ActionStarted, map[string]interface{}{
		"projectId":     projectID,
		"index":         index,
		"tool":          step.Tool,
		"args":          args,
		"timestamp":     row.StartedAt.Format(time.RFC3339),
		"correlationId": correlationID,
	})
	o.publishTimeline(ctx, row)

	// Preserve a preexisting target before a file-producing tool
	// overwrites it, so Revert can put it back.
	var backup string
	if target, ok := exportTargetPath(step.Tool, args); ok {
		b, err := backupFile(target)
		if err != nil {
			o.logger.Warn("failed to back up export target",
				zap.String("target", target), zap.Error(err))
		} else {
			backup = b
		}
	}

	toolResult, err := o.runner.Invoke(ctx, step.Tool, args, correlationID)
	switch {
	case err != nil && apperr.IsKind(err, apperr.KindTimeout):
		res.Error = fmt.Sprintf("Step %d timed out", index)
	case err != nil:
		res.Error = err.Error()
	case !toolResult.OK():
		res.Error = toolResult.Error
		if res.Error == "" {
			res.Error = "tool reported an error"
		}
	}

	if res.Error != "" {
		res.Status = string(models.TimelineStatusError)
		o.closeStep(ctx, row, models.TimelineStatusError, map[string]interface{}{"error": res.Error})
		return res
	}

	stepResult := map[string]interface{}{}
	for k, v := range toolResult.Result {
		stepResult[k] = v
	}
	if backup != "" {
		stepResult["backup"] = backup
	}
	res.Status = string(models.TimelineStatusSuccess)
	o.closeStep(ctx, row, models.TimelineStatusSuccess, stepResult)

	if o.artifacts != nil {
		o.artifacts.Record(ctx, artifacts.ToolOutput{
			ProjectID:     projectID,
			CorrelationID: correlationID,
			Tool:          step.Tool,
			Args:          args,
			Result:        toolResult.Result,
		})
	}

	o.publish(ctx, events.ActionCompleted, map[string]interface{}{
		"projectId":     projectID,
		"tool":          step.Tool,
		"data":          toolResult.Result,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"correlationId": correlationID,
	})
	if mcp.SceneAffecting(step.Tool) {
		o.publishScene(ctx, projectID, step.Tool, toolResult.Result, correlationID)
	}
	return res
}

// Revert undoes one recorded step best-effort. Prefab instantiation is
// reverted by destroying the asset-named object; an FBX export is
// reverted by restoring the recorded backup. Everything else records a
// revert-pending row without touching the scene.
func (o *Orchestrator) Revert(ctx context.Context, eventID int64) (*RevertOutcome, error) {
	row, err := o.repo.GetTimelineEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	status := models.TimelineStatusRevertPending
	detail := map[string]interface{}{"revertOf": eventID}

	switch row.Tool {
	case mcp.ToolInstantiatePrefab:
		assetPath, _ := row.Args["assetPath"].(string)
		if assetPath == "" {
			detail["reason"] = "original step has no assetPath"
			break
		}
		objectName := mcp.ObjectNameForAsset(assetPath)
		res, err := o.runner.Invoke(ctx, mcp.ToolUnityCommand,
			map[string]any{"code": mcp.DestroyObjectCode(objectName)}, row.CorrelationID)
		switch {
		case err != nil:
			detail["reason"] = err.Error()
		case !res.OK():
			detail["reason"] = res.Error
		default:
			status = models.TimelineStatusReverted
			detail["destroyed"] = objectName
		}

	case mcp.ToolExportFBX, mcp.ToolBlenderCall:
		backup, _ := row.Result["backup"].(string)
		target, ok := exportTargetPath(row.Tool, row.Args)
		if !ok || backup == "" {
			detail["reason"] = "no backup recorded for this step"
			break
		}
		if err := restoreFile(backup, target); err != nil {
			detail["reason"] = err.Error()
		} else {
			status = models.TimelineStatusReverted
			detail["restored"] = target
		}

	default:
		detail["reason"] = fmt.Sprintf("no revert handler for %s", row.Tool)
	}

	now := time.Now().UTC()
	revertRow := &models.TimelineEvent{
		ProjectID:     row.ProjectID,
		StepIndex:     models.GenericStepIndex,
		Tool:          "revert." + row.Tool,
		Args:          map[string]interface{}{"revertOf": eventID},
		Status:        status,
		Result:        detail,
		CorrelationID: row.CorrelationID,
		StartedAt:     now,
		FinishedAt:    &now,
	}
	if err := o.repo.AppendTimelineEvent(ctx, revertRow); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "failed to record revert for event %d", eventID)
	}
	o.publishTimeline(ctx, revertRow)
	if status == models.TimelineStatusReverted && mcp.SceneAffecting(row.Tool) {
		o.publishScene(ctx, row.ProjectID, revertRow.Tool, detail, row.CorrelationID)
	}

	o.logger.Info("revert recorded",
		zap.String("project_id", row.ProjectID),
		zap.Int64("event_id", eventID),
		zap.String("status", string(status)))
	return &RevertOutcome{EventID: eventID, RevertEventID: revertRow.ID, Status: status}, nil
}

// closeStep persists the terminal status and pushes the updated row to
// subscribers.
func (o *Orchestrator) closeStep(ctx context.Context, row *models.TimelineEvent, status models.TimelineStatus, result map[string]interface{}) {
	if err := o.repo.CompleteTimelineEvent(ctx, row.ID, status, result); err != nil {
		o.logger.Error("failed to close timeline step",
			zap.Int64("event_id", row.ID), zap.Error(err))
	}
	row.Status = status
	row.Result = result
	now := time.Now().UTC()
	row.FinishedAt = &now
	o.publishTimeline(ctx, row)
}

func (o *Orchestrator) publishTimeline(ctx context.Context, row *models.TimelineEvent) {
	subject := events.BuildTimelineSubject(row.ProjectID)
	ev := bus.NewEvent(events.TimelineAppended, "action-orchestrator", row)
	if err := o.bus.Publish(ctx, subject, ev); err != nil {
		o.logger.Warn("failed to publish timeline event", zap.Error(err))
	}
}

// publishScene tells scene views to refresh. For the hierarchy tool the
// payload already carries the fresh tree.
func (o *Orchestrator) publishScene(ctx context.Context, projectID, tool string, data map[string]interface{}, correlationID string) {
	subject := events.BuildSceneSubject(projectID)
	ev := bus.NewEvent(events.SceneUpdated, "action-orchestrator", map[string]interface{}{
		"projectId":     projectID,
		"tool":          tool,
		"data":          data,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"correlationId": correlationID,
	})
	if err := o.bus.Publish(ctx, subject, ev); err != nil {
		o.logger.Warn("failed to publish scene event", zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, subject string, payload map[string]interface{}) {
	ev := bus.NewEvent(subject, "action-orchestrator", payload)
	if err := o.bus.Publish(ctx, subject, ev); err != nil {
		o.logger.Warn("failed to publish action event",
			zap.String("subject", subject), zap.Error(err))
	}
}
