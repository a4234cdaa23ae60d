package contextsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agpstudio/agp/internal/events"
	"github.com/agpstudio/agp/internal/project/models"
)

// carriedKeys survive from one context version to the next when the
// heuristic path cannot recompute them.
var carriedKeys = []string{"decisions", "open_questions", "risks"}

// GenerateAfterTask produces the next global context version once a task
// has finished. The one-shot agent writes it when available and parseable;
// otherwise a deterministic summary is built from the task table. The new
// version becomes active, lands as a JSON snapshot under the project
// directory and is announced as context.generated.
func (s *Service) GenerateAfterTask(ctx context.Context, projectID, taskID string) error {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	task, err := s.repo.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	tasks, err := s.repo.ListTasks(ctx, projectID)
	if err != nil {
		return err
	}

	version, err := s.nextVersion(ctx, projectID, models.ContextScopeGlobal, "")
	if err != nil {
		return err
	}

	var prev map[string]interface{}
	if active, err := s.repo.GetActiveContext(ctx, projectID, models.ContextScopeGlobal, ""); err == nil {
		prev = active.Content
	}

	content, source := s.buildContent(ctx, project, task, tasks, prev)
	content["version"] = version
	content["last_update"] = time.Now().UTC().Format(time.RFC3339)

	row := &models.Context{
		ProjectID: projectID,
		Scope:     models.ContextScopeGlobal,
		Content:   content,
		Version:   version,
		IsActive:  true,
		CreatedBy: "system",
		Source:    source,
	}
	if err := s.repo.CreateContext(ctx, row); err != nil {
		return err
	}

	if err := s.writeSnapshots(project.Path, row); err != nil {
		s.logger.Warn("failed to write context snapshot",
			zap.String("project_id", projectID), zap.Error(err))
	}

	s.publishContextEvent(ctx, events.ContextGenerated, row)
	s.logger.Info("context generated",
		zap.String("project_id", projectID),
		zap.Int("version", version),
		zap.String("source", source))
	return nil
}

// buildContent tries the agent first and falls back to the heuristic.
func (s *Service) buildContent(ctx context.Context, project *models.Project, task *models.Task, tasks []*models.Task, prev map[string]interface{}) (map[string]interface{}, string) {
	if s.asker != nil {
		out, err := s.asker.Ask(ctx, project.ID, s.projectDir(project), buildContextPrompt(project, task, tasks, prev))
		if err != nil {
			s.logger.Warn("agent context generation failed", zap.Error(err))
		} else {
			parsed, perr := parseContextJSON(out)
			if perr == nil {
				return parsed, "ai"
			}
			s.logger.Warn("agent context output is not JSON", zap.Error(perr))
		}
	}
	return heuristicContent(project, task, tasks, prev), "heuristic"
}

// heuristicContent summarizes the task table without any AI involvement.
// Given the same rows it always produces the same document.
func heuristicContent(project *models.Project, completed *models.Task, tasks []*models.Task, prev map[string]interface{}) map[string]interface{} {
	var doneCodes, pendingCodes []string
	for _, t := range tasks {
		switch t.Status {
		case models.TaskStatusDone:
			doneCodes = append(doneCodes, t.Code)
		default:
			pendingCodes = append(pendingCodes, t.Code)
		}
	}

	currentTask := ""
	if project.CurrentTaskID != nil {
		for _, t := range tasks {
			if t.ID == *project.CurrentTaskID {
				currentTask = fmt.Sprintf("%s %s", t.Code, t.Title)
				break
			}
		}
	}

	content := map[string]interface{}{
		"current_task":  currentTask,
		"done_tasks":    stringList(doneCodes),
		"pending_tasks": stringList(pendingCodes),
		"summary": fmt.Sprintf("%d of %d tasks done; just finished %s %s",
			len(doneCodes), len(tasks), completed.Code, completed.Title),
	}
	for _, key := range carriedKeys {
		content[key] = carriedList(prev, key)
	}
	return content
}

// stringList keeps empty lists as [] instead of null in the snapshot.
func stringList(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func carriedList(prev map[string]interface{}, key string) interface{} {
	if prev != nil {
		if list, ok := prev[key].([]interface{}); ok {
			return list
		}
	}
	return []interface{}{}
}

// buildContextPrompt asks the agent for the next context document.
func buildContextPrompt(project *models.Project, completed *models.Task, tasks []*models.Task, prev map[string]interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task %s (%s) of project %q is finished.\n", completed.Code, completed.Title, project.Name)
	b.WriteString("Task list:\n")
	for _, t := range tasks {
		fmt.Fprintf(&b, "- %s %s [%s]\n", t.Code, t.Title, t.Status)
	}
	if prev != nil {
		if data, err := json.Marshal(prev); err == nil {
			fmt.Fprintf(&b, "Previous context:\n%s\n", data)
		}
	}
	b.WriteString("\nRespond with a single JSON object carrying the keys " +
		"current_task, done_tasks, pending_tasks, summary, decisions, " +
		"open_questions and risks. No prose around it.")
	return b.String()
}

// parseContextJSON pulls the first JSON object out of agent output, which
// tends to arrive wrapped in code fences or commentary.
func parseContextJSON(out string) (map[string]interface{}, error) {
	start := strings.Index(out, "{")
	end := strings.LastIndex(out, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in output")
	}
	var content map[string]interface{}
	if err := json.Unmarshal([]byte(out[start:end+1]), &content); err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("empty context object")
	}
	return content, nil
}
