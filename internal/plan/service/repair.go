package service

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/agpstudio/agp/internal/common/apperr"
	"github.com/agpstudio/agp/internal/project/models"
)

// TaskInput is one task dict as produced by the agent or edited in the UI.
// Acceptance criteria arrive as either a string or a list; repair
// normalizes them.
type TaskInput struct {
	Code         string                 `json:"code,omitempty"`
	Title        string                 `json:"title"`
	Description  string                 `json:"description,omitempty"`
	Acceptance   interface{}            `json:"acceptanceCriteria,omitempty"`
	Deps         []string               `json:"deps,omitempty"`
	MCPTools     []string               `json:"mcpTools,omitempty"`
	Deliverables []string               `json:"deliverables,omitempty"`
	Estimates    map[string]interface{} `json:"estimates,omitempty"`
	Priority     int                    `json:"priority,omitempty"`
}

var codePattern = regexp.MustCompile(`^T-\d{3,}$`)

// repairTasks turns loose task dicts into storable rows: every task gets a
// unique T-### code, dependencies are normalized to codes that exist in
// the plan, self-references are dropped, priorities are clamped to [1..5]
// and acceptance criteria are flattened to one line per criterion. A
// dependency cycle rejects the whole plan.
func repairTasks(inputs []TaskInput) ([]*models.Task, error) {
	codes := make([]string, len(inputs))
	used := make(map[string]bool, len(inputs))

	// First pass keeps well-formed, unique codes as given.
	for i, in := range inputs {
		if strings.TrimSpace(in.Title) == "" {
			return nil, apperr.SchemaViolation("task %d has no title", i+1)
		}
		code := strings.ToUpper(strings.TrimSpace(in.Code))
		if codePattern.MatchString(code) && !used[code] {
			codes[i] = code
			used[code] = true
		}
	}

	// Second pass fills the gaps with the lowest free numbers.
	next := 1
	for i := range inputs {
		if codes[i] != "" {
			continue
		}
		for {
			candidate := fmt.Sprintf("T-%03d", next)
			next++
			if !used[candidate] {
				codes[i] = candidate
				used[candidate] = true
				break
			}
		}
	}

	tasks := make([]*models.Task, len(inputs))
	adjacency := make(map[string][]string, len(inputs))
	for i, in := range inputs {
		deps := normalizeDeps(in.Deps, codes[i], used)
		adjacency[codes[i]] = deps

		tasks[i] = &models.Task{
			Code:         codes[i],
			Title:        strings.TrimSpace(in.Title),
			Description:  in.Description,
			Acceptance:   strings.Join(acceptanceList(in.Acceptance), "\n"),
			Status:       models.TaskStatusPending,
			Deps:         deps,
			MCPTools:     in.MCPTools,
			Deliverables: in.Deliverables,
			Estimates:    in.Estimates,
			Priority:     clampPriority(in.Priority),
		}
	}

	if member := findCycle(adjacency); member != "" {
		return nil, apperr.Conflict("plan has a dependency cycle involving %s", member)
	}
	return tasks, nil
}

// normalizeDeps keeps dependencies that name a code present in the plan,
// dropping self-references, unknowns and duplicates.
func normalizeDeps(deps []string, own string, known map[string]bool) []string {
	var out []string
	seen := map[string]bool{}
	for _, dep := range deps {
		code := strings.ToUpper(strings.TrimSpace(dep))
		if code == "" || code == own || !known[code] || seen[code] {
			continue
		}
		seen[code] = true
		out = append(out, code)
	}
	return out
}

func clampPriority(p int) int {
	switch {
	case p == 0:
		return 3
	case p < 1:
		return 1
	case p > 5:
		return 5
	default:
		return p
	}
}

// acceptanceList coerces the acceptance field to a list of criteria.
func acceptanceList(v interface{}) []string {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return []string{trimmed}
		}
		return nil
	case []string:
		var out []string
		for _, item := range val {
			if trimmed := strings.TrimSpace(item); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	case []interface{}:
		var out []string
		for _, item := range val {
			if trimmed := strings.TrimSpace(fmt.Sprint(item)); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	default:
		return []string{fmt.Sprint(val)}
	}
}

// findCycle walks the dependency graph and returns one member of a cycle,
// or empty when the graph is acyclic. Codes are visited in sorted order so
// the reported member is stable.
func findCycle(adjacency map[string][]string) string {
	const (
		white = iota
		gray
		black
	)
	colors := make(map[string]int, len(adjacency))

	var visit func(code string) string
	visit = func(code string) string {
		colors[code] = gray
		for _, dep := range adjacency[code] {
			switch colors[dep] {
			case gray:
				return dep
			case white:
				if member := visit(dep); member != "" {
					return member
				}
			}
		}
		colors[code] = black
		return ""
	}

	codes := make([]string, 0, len(adjacency))
	for code := range adjacency {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if colors[code] == white {
			if member := visit(code); member != "" {
				return member
			}
		}
	}
	return ""
}
