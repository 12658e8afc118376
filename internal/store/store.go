// Package store implements the Task Store of spec.md §4.A: the durable,
// cross-room record of tasks, blockers, and agent activity.
package store

import (
	"context"

	"github.com/coordroom/coordroom/internal/types"
)

// Store is the contract spec.md §4.A names. Any collaborator offering these
// operations — SQLite here, Postgres or a KV store elsewhere — may back the
// Task Service.
type Store interface {
	ListTasks(ctx context.Context, filter types.TaskFilter) ([]types.Task, error)
	GetTaskByID(ctx context.Context, id string) (*types.Task, error)
	ListOpenTasks(ctx context.Context) ([]types.Task, error)
	CreateTask(ctx context.Context, input types.CreateTaskInput) (*types.Task, error)
	BulkReassignTasks(ctx context.Context, ids []string, agent string) ([]types.Task, error)
	BulkUpdateTaskStatuses(ctx context.Context, updates []types.StatusUpdate) ([]types.Task, error)
	GetTaskCounts(ctx context.Context) (*types.TaskCounts, error)

	ListAgentActivity(ctx context.Context) ([]types.AgentActivity, error)
	UpsertAgentActivity(ctx context.Context, input types.UpsertAgentActivityInput) (*types.AgentActivity, error)

	InsertTaskBlock(ctx context.Context, input types.BlockInput) (*types.Blocker, error)
	ResolveTaskBlock(ctx context.Context, input types.ResolveInput) (*types.Blocker, error)
	AckTaskBlock(ctx context.Context, taskID, agent string) (*types.Blocker, error)
	ListBlockedTasks(ctx context.Context, filter types.BlockedTasksFilter) ([]types.Blocker, error)
	TouchBlockLastNotified(ctx context.Context, blockID string) error

	Close() error
}
