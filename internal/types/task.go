package types

import "time"

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusBacklog    TaskStatus = "backlog"
	StatusTodo       TaskStatus = "todo"
	StatusInProgress TaskStatus = "in_progress"
	StatusReview     TaskStatus = "review"
	StatusBlocked    TaskStatus = "blocked"
	StatusDone       TaskStatus = "done"
	StatusCancelled  TaskStatus = "cancelled"
	StatusOnHold     TaskStatus = "on_hold"
)

// Priority is the urgency band of a Task.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// priorityRank orders Priority values for listOpenTasks' priority-descending sort.
var priorityRank = map[Priority]int{
	PriorityCritical: 3,
	PriorityHigh:     2,
	PriorityMedium:   1,
	PriorityLow:      0,
}

// Rank returns a sortable integer for p, low values first.
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Task is the persistent record of a unit of work inside a room.
type Task struct {
	ID                  string     `json:"id"`
	ProjectID           string     `json:"projectId"`
	EpicID              *string    `json:"epicId,omitempty"`
	ParentTaskID        *string    `json:"parentTaskId,omitempty"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Status              TaskStatus `json:"status"`
	Priority            Priority   `json:"priority"`
	AssignedAgent       *string    `json:"assignedAgent"`
	EstimatedHours      float64    `json:"estimatedHours"`
	ActualHours         float64    `json:"actualHours"`
	RequiresHumanReview bool       `json:"requiresHumanReview"`
	ReviewNote          string     `json:"reviewNote"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// CreateTaskInput is the payload accepted by Task Store.createTask / tasks.create.
type CreateTaskInput struct {
	ProjectID           string   `json:"projectId"`
	EpicID              *string  `json:"epicId,omitempty"`
	ParentTaskID        *string  `json:"parentTaskId,omitempty"`
	Title               string   `json:"title"`
	Description         string   `json:"description"`
	Priority            Priority `json:"priority,omitempty"`
	AssignedAgent       *string  `json:"assignedAgent,omitempty"`
	EstimatedHours      float64  `json:"estimatedHours,omitempty"`
	RequiresHumanReview bool     `json:"requiresHumanReview,omitempty"`
}

// TaskFilter narrows listTasks. A zero-value filter matches every task.
type TaskFilter struct {
	ProjectID    string
	EpicID       string
	ParentTaskID string
	Agent        string
	Status       TaskStatus
	Search       string
	TaskIDs      []string
}

// StatusUpdate is one entry of a bulkUpdateTaskStatuses call.
type StatusUpdate struct {
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
}

// TaskCounts is the result of getTaskCounts: per-status counts plus the total.
type TaskCounts struct {
	ByStatus map[TaskStatus]int `json:"byStatus"`
	Total    int                `json:"total"`
}
