package tasksvc

import (
	"context"
	"testing"
	"time"

	"github.com/coordroom/coordroom/internal/types"
)

// memStore is a minimal in-memory stand-in for store.Store, enough to drive
// the orchestration logic under test without a real SQLite backend.
type memStore struct {
	tasks    map[string]types.Task
	blockers map[string]types.Blocker
	activity map[string]types.AgentActivity
}

func newMemStore() *memStore {
	return &memStore{tasks: map[string]types.Task{}, blockers: map[string]types.Blocker{}, activity: map[string]types.AgentActivity{}}
}

func (m *memStore) ListTasks(ctx context.Context, filter types.TaskFilter) ([]types.Task, error) {
	var out []types.Task
	for _, t := range m.tasks {
		out = append(out, t)
	}
	return out, nil
}
func (m *memStore) GetTaskByID(ctx context.Context, id string) (*types.Task, error) {
	t, ok := m.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}
func (m *memStore) ListOpenTasks(ctx context.Context) ([]types.Task, error) { return nil, nil }
func (m *memStore) CreateTask(ctx context.Context, input types.CreateTaskInput) (*types.Task, error) {
	t := types.Task{ID: "t1", ProjectID: input.ProjectID, Title: input.Title, Status: types.StatusTodo, Priority: types.PriorityMedium}
	m.tasks[t.ID] = t
	return &t, nil
}
func (m *memStore) BulkReassignTasks(ctx context.Context, ids []string, agent string) ([]types.Task, error) {
	var out []types.Task
	for _, id := range ids {
		t, ok := m.tasks[id]
		if !ok {
			continue
		}
		t.AssignedAgent = &agent
		m.tasks[id] = t
		out = append(out, t)
	}
	return out, nil
}
func (m *memStore) BulkUpdateTaskStatuses(ctx context.Context, updates []types.StatusUpdate) ([]types.Task, error) {
	var out []types.Task
	for _, u := range updates {
		t, ok := m.tasks[u.TaskID]
		if !ok {
			continue
		}
		t.Status = u.Status
		m.tasks[u.TaskID] = t
		out = append(out, t)
	}
	return out, nil
}
func (m *memStore) GetTaskCounts(ctx context.Context) (*types.TaskCounts, error) { return nil, nil }
func (m *memStore) ListAgentActivity(ctx context.Context) ([]types.AgentActivity, error) {
	return nil, nil
}
func (m *memStore) UpsertAgentActivity(ctx context.Context, input types.UpsertAgentActivityInput) (*types.AgentActivity, error) {
	a := types.AgentActivity{AgentName: input.AgentName, Status: input.Status, TaskID: input.TaskID, Note: input.Note}
	m.activity[input.AgentName] = a
	return &a, nil
}
func (m *memStore) InsertTaskBlock(ctx context.Context, input types.BlockInput) (*types.Blocker, error) {
	key := input.TaskID + "|" + input.BlockedAgent
	b, exists := m.blockers[key]
	if exists && b.ResolvedAt == nil {
		b.Reason = input.Reason
		b.Acked = false
	} else {
		b = types.Blocker{ID: "b1", ProjectID: input.ProjectID, TaskID: input.TaskID, BlockedAgent: input.BlockedAgent, Reason: input.Reason, Severity: types.SeverityMedium}
	}
	m.blockers[key] = b
	if t, ok := m.tasks[input.TaskID]; ok {
		t.Status = types.StatusBlocked
		m.tasks[input.TaskID] = t
	}
	return &b, nil
}
func (m *memStore) ResolveTaskBlock(ctx context.Context, input types.ResolveInput) (*types.Blocker, error) {
	key := input.TaskID + "|" + input.BlockedAgent
	b, ok := m.blockers[key]
	if !ok {
		return nil, nil
	}
	if b.ResolvedAt == nil {
		now := time.Now()
		b.ResolvedAt = &now
		b.ResolvedBy = &input.ResolvedBy
	}
	m.blockers[key] = b
	return &b, nil
}
func (m *memStore) AckTaskBlock(ctx context.Context, taskID, agent string) (*types.Blocker, error) {
	key := taskID + "|" + agent
	b, ok := m.blockers[key]
	if !ok {
		return nil, nil
	}
	b.Acked = true
	m.blockers[key] = b
	return &b, nil
}
func (m *memStore) ListBlockedTasks(ctx context.Context, filter types.BlockedTasksFilter) ([]types.Blocker, error) {
	var out []types.Blocker
	for _, b := range m.blockers {
		if !filter.IncludeAcked && b.Acked {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
func (m *memStore) TouchBlockLastNotified(ctx context.Context, blockID string) error { return nil }
func (m *memStore) Close() error                                                    { return nil }

type recordingInjector struct {
	frames []types.Frame
}

func (r *recordingInjector) Inject(ctx context.Context, roomID string, f types.Frame) error {
	r.frames = append(r.frames, f)
	return nil
}

func TestCreateEmitsCreatedFrame(t *testing.T) {
	s := newMemStore()
	inj := &recordingInjector{}
	svc := New(s, inj)

	task, err := svc.Create(context.Background(), types.CreateTaskInput{ProjectID: "r1", Title: "x"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Status != types.StatusTodo {
		t.Fatalf("expected status todo, got %s", task.Status)
	}
	if len(inj.frames) != 1 || inj.frames[0].Type != types.TypeTasksCreated {
		t.Fatalf("expected one tasks.created frame, got %+v", inj.frames)
	}
}

func TestBlockThenAcknowledgeOmitsFromSummary(t *testing.T) {
	s := newMemStore()
	inj := &recordingInjector{}
	svc := New(s, inj)

	task, _ := svc.Create(context.Background(), types.CreateTaskInput{ProjectID: "r1", Title: "x"}, "")

	_, err := svc.BlockTask(context.Background(), types.BlockInput{ProjectID: "r1", TaskID: task.ID, BlockedAgent: "A", Reason: "missing asset"})
	if err != nil {
		t.Fatalf("blockTask: %v", err)
	}

	_, err = svc.AcknowledgeUnblock(context.Background(), task.ID, "A")
	if err != nil {
		t.Fatalf("acknowledgeUnblock: %v", err)
	}

	blocked, _ := s.ListBlockedTasks(context.Background(), types.BlockedTasksFilter{IncludeAcked: false})
	for _, b := range blocked {
		if b.TaskID == task.ID {
			t.Fatalf("expected acked blocker to be omitted from unacked summary")
		}
	}
}
