package contextsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agpstudio/agp/internal/agent/session"
	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
)

var _ session.PrefixSource = (*Service)(nil)

// PrefixInputs assembles the context blocks prepended to a project's
// prompts: the active global context, the current task's metadata and the
// task-scoped context when one exists. A project with neither yields nil,
// which the session layer reads as no prefix at all.
func (s *Service) PrefixInputs(ctx context.Context, projectID string) (*session.PrefixInputs, error) {
	inputs := &session.PrefixInputs{}

	global, err := s.repo.GetActiveContext(ctx, projectID, models.ContextScopeGlobal, "")
	switch {
	case err == nil:
		inputs.GlobalContext = contentJSON(global.Content)
	case !apperr.IsKind(err, apperr.KindNotFound):
		return nil, err
	}

	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if project.CurrentTaskID != nil {
		task, taskErr := s.repo.GetTask(ctx, *project.CurrentTaskID)
		if taskErr == nil {
			inputs.TaskMeta = taskMeta(task)
			if tc, tcErr := s.repo.GetActiveContext(ctx, projectID, models.ContextScopeTask, task.ID); tcErr == nil {
				inputs.TaskContext = contentJSON(tc.Content)
			}
		}
	}

	if inputs.GlobalContext == "" && inputs.TaskMeta == "" {
		return nil, nil
	}
	return inputs, nil
}

func contentJSON(content map[string]interface{}) string {
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}

// taskMeta renders the task header block included in prompts.
func taskMeta(task *models.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", task.Code, task.Title)
	if task.Description != "" {
		b.WriteString("\n")
		b.WriteString(task.Description)
	}
	if task.Acceptance != "" {
		b.WriteString("\nAcceptance criteria:\n")
		for _, line := range strings.Split(task.Acceptance, "\n") {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	return strings.TrimSpace(b.String())
}
