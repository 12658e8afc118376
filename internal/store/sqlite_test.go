package store

import (
	"context"
	"testing"

	"github.com/coordroom/coordroom/internal/types"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateTaskDefaults(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "do the thing"})
	if err != nil {
		t.Fatalf("createTask: %v", err)
	}
	if task.Status != types.StatusTodo {
		t.Errorf("expected status todo, got %s", task.Status)
	}
	if task.Priority != types.PriorityMedium {
		t.Errorf("expected priority medium, got %s", task.Priority)
	}
	if task.RequiresHumanReview {
		t.Errorf("expected requiresHumanReview false by default")
	}
}

func TestInsertTaskBlockIdempotentOnSameKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "x"})

	_, err := s.InsertTaskBlock(ctx, types.BlockInput{ProjectID: "r1", TaskID: task.ID, BlockedAgent: "A", Reason: "reason1"})
	if err != nil {
		t.Fatalf("first insertTaskBlock: %v", err)
	}
	second, err := s.InsertTaskBlock(ctx, types.BlockInput{ProjectID: "r1", TaskID: task.ID, BlockedAgent: "A", Reason: "reason2"})
	if err != nil {
		t.Fatalf("second insertTaskBlock: %v", err)
	}
	if second.Reason != "reason2" {
		t.Errorf("expected second call's reason to win, got %q", second.Reason)
	}
	if second.Acked {
		t.Errorf("expected acked reset to false on re-block")
	}

	blocked, err := s.ListBlockedTasks(ctx, types.BlockedTasksFilter{IncludeAcked: true})
	if err != nil {
		t.Fatalf("listBlockedTasks: %v", err)
	}
	count := 0
	for _, b := range blocked {
		if b.TaskID == task.ID && b.BlockedAgent == "A" && b.IsOpen() {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one open row for the key, got %d", count)
	}

	reloaded, err := s.GetTaskByID(ctx, task.ID)
	if err != nil {
		t.Fatalf("getTaskById: %v", err)
	}
	if reloaded.Status != types.StatusBlocked {
		t.Errorf("expected task status blocked, got %s", reloaded.Status)
	}
}

func TestResolveTaskBlockIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "x"})
	_, _ = s.InsertTaskBlock(ctx, types.BlockInput{ProjectID: "r1", TaskID: task.ID, BlockedAgent: "A", Reason: "r"})

	first, err := s.ResolveTaskBlock(ctx, types.ResolveInput{TaskID: task.ID, BlockedAgent: "A", ResolvedBy: "ops"})
	if err != nil {
		t.Fatalf("first resolveTaskBlock: %v", err)
	}
	if first.ResolvedAt == nil {
		t.Fatalf("expected resolvedAt to be set")
	}

	second, err := s.ResolveTaskBlock(ctx, types.ResolveInput{TaskID: task.ID, BlockedAgent: "A", ResolvedBy: "someone-else"})
	if err != nil {
		t.Fatalf("second resolveTaskBlock: %v", err)
	}
	if second.ResolvedBy == nil || *second.ResolvedBy != "ops" {
		t.Errorf("expected second call to be a no-op returning the already-resolved row, got resolvedBy=%v", second.ResolvedBy)
	}
}

func TestAckTaskBlockThenSummaryOmitsAcked(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	task, _ := s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "x"})
	_, _ = s.InsertTaskBlock(ctx, types.BlockInput{ProjectID: "r1", TaskID: task.ID, BlockedAgent: "A", Reason: "r"})
	_, _ = s.ResolveTaskBlock(ctx, types.ResolveInput{TaskID: task.ID, BlockedAgent: "A", ResolvedBy: "ops"})

	_, err := s.AckTaskBlock(ctx, task.ID, "A")
	if err != nil {
		t.Fatalf("ackTaskBlock: %v", err)
	}

	unacked, err := s.ListBlockedTasks(ctx, types.BlockedTasksFilter{IncludeAcked: false})
	if err != nil {
		t.Fatalf("listBlockedTasks: %v", err)
	}
	for _, b := range unacked {
		if b.TaskID == task.ID {
			t.Fatalf("expected acked blocker to be excluded from unacked summary")
		}
	}
}

func TestBulkUpdateTaskStatusesDeduplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	a, _ := s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "a"})

	tasks, err := s.BulkUpdateTaskStatuses(ctx, []types.StatusUpdate{
		{TaskID: a.ID, Status: types.StatusInProgress},
		{TaskID: a.ID, Status: types.StatusReview},
	})
	if err != nil {
		t.Fatalf("bulkUpdateTaskStatuses: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected deduplicated single row, got %d", len(tasks))
	}
	if tasks[0].Status != types.StatusReview {
		t.Errorf("expected final status to win, got %s", tasks[0].Status)
	}
}

func TestListTasksSearchFilter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, _ = s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "fix the parser"})
	_, _ = s.CreateTask(ctx, types.CreateTaskInput{ProjectID: "r1", Title: "write docs"})

	results, err := s.ListTasks(ctx, types.TaskFilter{Search: "parser"})
	if err != nil {
		t.Fatalf("listTasks: %v", err)
	}
	if len(results) != 1 || results[0].Title != "fix the parser" {
		t.Fatalf("expected one matching task, got %+v", results)
	}
}
