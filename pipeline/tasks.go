package pipeline

import (
	"time"

	"github.com/google/uuid"

	"rigflip/models"
)

const legitimacyThreshold = 70

type taskTemplate struct {
	title    string
	due      time.Duration
	priority models.Priority
}

var stageTasks = map[models.Stage][]taskTemplate{
	models.StageScheduled: {
		{title: "Confirm pickup time", due: 24 * time.Hour, priority: models.PriorityHigh},
	},
	models.StagePurchased: {
		{title: "Inspect hardware on arrival", priority: models.PriorityHigh},
		{title: "Record purchase receipt", priority: models.PriorityNormal},
	},
	models.StageTesting: {
		{title: "Run hardware diagnostics", priority: models.PriorityHigh},
		{title: "Stress test CPU/GPU", priority: models.PriorityHigh},
	},
	models.StageRefurbing: {
		{title: "Clean and repaste", priority: models.PriorityNormal},
		{title: "Replace failed parts", priority: models.PriorityNormal},
	},
	models.StageListed: {
		{title: "Photograph build", priority: models.PriorityNormal},
		{title: "Post resale listing", priority: models.PriorityHigh},
	},
	models.StageSold: {
		{title: "Hand off to buyer", due: 48 * time.Hour, priority: models.PriorityHigh},
	},
}

var followUpTask = taskTemplate{title: "Follow up with seller", due: 48 * time.Hour, priority: models.PriorityNormal}

// nextStage is the suggestion offered once every task of a stage is done.
var nextStage = map[models.Stage]models.Stage{
	models.StageScanner:     models.StageAnalysis,
	models.StageAnalysis:    models.StageContacted,
	models.StageContacted:   models.StageNegotiating,
	models.StageNegotiating: models.StageScheduled,
	models.StageScheduled:   models.StagePurchased,
	models.StagePurchased:   models.StageTesting,
	models.StageTesting:     models.StageRefurbing,
	models.StageRefurbing:   models.StageListed,
	models.StageListed:      models.StageSold,
	models.StageSold:        models.StageArchived,
}

func (t taskTemplate) build(now time.Time) models.Task {
	task := models.Task{
		ID:       uuid.NewString(),
		Title:    t.title,
		Priority: t.priority,
	}
	if t.due > 0 {
		due := now.Add(t.due)
		task.Due = &due
	}
	return task
}

func tasksForStage(stage models.Stage, now time.Time) []models.Task {
	var out []models.Task
	for _, t := range stageTasks[stage] {
		out = append(out, t.build(now))
	}
	return out
}

func initialTasks(l models.Listing, priority models.Priority, now time.Time) []models.Task {
	tasks := []models.Task{
		taskTemplate{title: "Review listing details", priority: priority}.build(now),
	}
	if l.LegitimacyScore != nil && *l.LegitimacyScore < legitimacyThreshold {
		tasks = append(tasks, taskTemplate{title: "Verify seller legitimacy", priority: models.PriorityHigh}.build(now))
	}
	tasks = append(tasks, taskTemplate{title: "Research market comps", priority: models.PriorityNormal}.build(now))
	return tasks
}
