// Package artifacts keeps the registry of files produced by tool runs.
// Successful file-producing calls (exports, screenshots) become artifact
// rows, attributed to the project's active task, validated against the
// project directory and announced on the event bus.
package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/common/logger"
	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/events/bus"
	"github.com/agpstudio/agp/internal/mcp"
	"github.com/agpstudio/agp/internal/project/models"
)

// Store persists artifact rows.
type Store interface {
	CreateArtifact(ctx context.Context, artifact *models.Artifact) error
	SetArtifactValidation(ctx context.Context, id string, status models.ValidationStatus, sizeBytes int64) error
}

// ProjectDirs resolves a project and its directory, for validation and
// task attribution.
type ProjectDirs interface {
	Get(ctx context.Context, id string) (*models.Project, error)
	ProjectDir(project *models.Project) string
}

// ToolOutput describes one finished tool call.
type ToolOutput struct {
	ProjectID     string
	SessionID     string
	TaskID        string
	CorrelationID string
	Tool          string
	Args          map[string]any
	Result        map[string]any
}

// Recorder turns finished tool calls into artifact rows. Failures are
// logged and swallowed: bookkeeping must never fail the call that
// produced the file.
type Recorder struct {
	store  Store
	dirs   ProjectDirs
	bus    bus.EventBus
	logger *logger.Logger
}

func NewRecorder(store Store, dirs ProjectDirs, eventBus bus.EventBus, log *logger.Logger) *Recorder {
	return &Recorder{
		store:  store,
		dirs:   dirs,
		bus:    eventBus,
		logger: log.WithFields(zap.String("component", "artifact-recorder")),
	}
}

// Record captures the file a call produced, if any. Calls that leave no
// file behind are ignored.
func (r *Recorder) Record(ctx context.Context, out ToolOutput) {
	path, ok := producedPath(out.Tool, out.Args, out.Result)
	if !ok {
		return
	}

	var project *models.Project
	if out.ProjectID != "" && r.dirs != nil {
		p, err := r.dirs.Get(ctx, out.ProjectID)
		if err != nil {
			r.logger.Warn("artifact project lookup failed",
				zap.String("project_id", out.ProjectID), zap.Error(err))
		} else {
			project = p
		}
	}

	taskID := out.TaskID
	if taskID == "" && project != nil && project.CurrentTaskID != nil {
		taskID = *project.CurrentTaskID
	}

	artifact := &models.Artifact{
		SessionID: out.SessionID,
		TaskID:    taskID,
		Type:      artifactType(path),
		Path:      path,
		Category:  categorize(out.Tool, path),
		Meta: map[string]interface{}{
			"tool": out.Tool,
		},
	}
	if out.CorrelationID != "" {
		artifact.Meta["correlationId"] = out.CorrelationID
	}

	if err := r.store.CreateArtifact(ctx, artifact); err != nil {
		r.logger.Error("failed to record artifact",
			zap.String("path", path), zap.Error(err))
		return
	}
	r.publish(ctx, events.ArtifactCreated, out, artifact)

	status, size := r.validate(project, path)
	if status == "" {
		// File not on disk yet; the row stays validation pending.
		return
	}
	if err := r.store.SetArtifactValidation(ctx, artifact.ID, status, size); err != nil {
		r.logger.Error("failed to update artifact validation",
			zap.String("artifact_id", artifact.ID), zap.Error(err))
		return
	}
	artifact.ValidationStatus = status
	artifact.SizeBytes = size
	r.publish(ctx, events.ArtifactValidated, out, artifact)
}

// validate stats the produced file. A missing file yields no verdict; an
// empty file is invalid.
func (r *Recorder) validate(project *models.Project, path string) (models.ValidationStatus, int64) {
	full := path
	if !filepath.IsAbs(full) {
		if project == nil || r.dirs == nil {
			return "", 0
		}
		full = filepath.Join(r.dirs.ProjectDir(project), path)
	}

	info, err := os.Stat(full)
	if err != nil {
		return "", 0
	}
	if info.Size() == 0 {
		return models.ValidationStatusInvalid, 0
	}
	return models.ValidationStatusValid, info.Size()
}

func (r *Recorder) publish(ctx context.Context, eventType string, out ToolOutput, artifact *models.Artifact) {
	if r.bus == nil {
		return
	}
	data := map[string]interface{}{
		"artifactId":       artifact.ID,
		"projectId":        out.ProjectID,
		"path":             artifact.Path,
		"category":         string(artifact.Category),
		"validationStatus": string(artifact.ValidationStatus),
		"tool":             out.Tool,
	}
	if artifact.TaskID != "" {
		data["taskId"] = artifact.TaskID
	}
	if artifact.SizeBytes > 0 {
		data["sizeBytes"] = artifact.SizeBytes
	}
	if out.CorrelationID != "" {
		data["correlationId"] = out.CorrelationID
	}

	event := bus.NewEvent(eventType, "artifact-recorder", data)
	if err := r.bus.Publish(ctx, eventType, event); err != nil {
		r.logger.Warn("failed to publish artifact event",
			zap.String("event", eventType), zap.Error(err))
	}
}

// producedPath extracts the file a call left behind. The adapter reports
// produced paths in the result; exports also name the target in their
// arguments, which covers adapters that answer with a bare ok.
func producedPath(tool string, args, result map[string]any) (string, bool) {
	switch tool {
	case mcp.ToolCaptureScreenshot, mcp.ToolExportFBX, mcp.ToolBlenderCall:
	default:
		return "", false
	}

	if p, ok := result["path"].(string); ok && p != "" {
		return p, true
	}
	switch tool {
	case mcp.ToolExportFBX:
		if p, ok := args["path"].(string); ok && p != "" {
			return p, true
		}
	case mcp.ToolBlenderCall:
		if fn, _ := args["function"].(string); fn != "export_fbx" {
			return "", false
		}
		params, _ := args["params"].(map[string]any)
		if p, ok := params["path"].(string); ok && p != "" {
			return p, true
		}
	}
	return "", false
}

func artifactType(path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return "file"
	}
	return ext
}

func categorize(tool, path string) models.ArtifactCategory {
	if tool == mcp.ToolCaptureScreenshot {
		return models.ArtifactCategoryScreenshot
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".gif":
		return models.ArtifactCategoryScreenshot
	case ".md", ".txt", ".json", ".pdf":
		return models.ArtifactCategoryDocument
	case ".go", ".cs", ".py", ".js", ".ts", ".shader":
		return models.ArtifactCategoryCode
	default:
		return models.ArtifactCategoryAsset
	}
}
