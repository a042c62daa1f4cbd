package planner

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ShayCichocki/triad/pkg/models"
)

// step is one entry of a template. Each step depends on the one before it.
type step struct {
	Type models.TaskType
	Role models.Role
	// Format receives the goal.
	Format string
}

var templates = map[TemplateKind][]step{
	TemplateBugFix: {
		{models.TaskTypeInvestigation, models.RoleSupervisor, "Investigate the root cause of: %s"},
		{models.TaskTypeBugFix, models.RoleCoder, "Fix the defect described by: %s"},
		{models.TaskTypeVerification, models.RoleAdversary, "Verify the fix and try to reproduce the original failure for: %s"},
	},
	TemplateImplementation: {
		{models.TaskTypeResearch, models.RoleSupervisor, "Research the codebase and outline an approach for: %s"},
		{models.TaskTypeImplementation, models.RoleCoder, "Implement: %s"},
		{models.TaskTypeTesting, models.RoleAdversary, "Write and run tests that exercise: %s"},
	},
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// projectSlug makes a project id safe to embed in task ids and keys.
func projectSlug(projectID string) string {
	slug := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(projectID), "-"), "-")
	if slug == "" {
		return "project"
	}
	return slug
}

// taskID is a creation timestamp plus project, role and type slugs. The
// task record keys are global, so the project keeps two plans made on
// the same clock tick apart.
func taskID(now time.Time, projectID string, s step) string {
	return fmt.Sprintf("%s-%s-%s-%s", now.UTC().Format("20060102T150405.000000000"), projectSlug(projectID), s.Role.Slug(), s.Type)
}

// buildGraph expands a template into a linear TaskGraph.
func buildGraph(kind TemplateKind, projectID, goal string, now time.Time) (*models.TaskGraph, error) {
	steps, ok := templates[kind]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", kind)
	}

	g := &models.TaskGraph{
		ProjectID: projectID,
		Goal:      goal,
		Tasks:     make([]models.Task, 0, len(steps)),
		CreatedAt: now,
	}
	prev := ""
	for _, s := range steps {
		t := models.Task{
			ID:           taskID(now, projectID, s),
			Type:         s.Type,
			Description:  fmt.Sprintf(s.Format, goal),
			Role:         s.Role,
			Dependencies: []string{},
			Status:       models.TaskStatusPending,
			CreatedAt:    now,
		}
		if prev != "" {
			t.Dependencies = []string{prev}
		}
		g.Tasks = append(g.Tasks, t)
		prev = t.ID
	}
	return g, g.Validate()
}
