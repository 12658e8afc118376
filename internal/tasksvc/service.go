// Package tasksvc implements the Task Service of spec.md §4.D: the
// stateless write-through orchestrator through which every task/blocker
// mutation passes. Every mutating call executes the store operation, builds
// the resulting Frame, and injects it into the owning Room Actor via
// POST /broadcast — even when co-located, so the room's server-frame
// processing runs uniformly, per spec.md.
package tasksvc

import (
	"context"
	"log"

	"github.com/coordroom/coordroom/internal/frame"
	"github.com/coordroom/coordroom/internal/store"
	"github.com/coordroom/coordroom/internal/types"
)

// Injector delivers a Frame to the owning room's /broadcast endpoint.
// Injection failure is logged but never fails the caller, per spec.md §4.D.
type Injector interface {
	Inject(ctx context.Context, roomID string, f types.Frame) error
}

// Service is the Task Service.
type Service struct {
	Store    store.Store
	Injector Injector
}

func New(s store.Store, inj Injector) *Service {
	return &Service{Store: s, Injector: inj}
}

func (s *Service) inject(ctx context.Context, roomID string, f types.Frame) {
	if s.Injector == nil {
		return
	}
	if err := s.Injector.Inject(ctx, roomID, f); err != nil {
		log.Printf("[TASKSVC] inject %s into room %s failed: %v", f.Type, roomID, err)
	}
}

// Create implements tasks.create. requestID is echoed on the injected frame
// so the Room Actor's single broadcast (spec.md §4.D step 3) doubles as the
// requester's correlated reply per spec.md §4.C's dispatch-table entry —
// callers outside a client request (e.g. internal orchestration) pass "".
func (s *Service) Create(ctx context.Context, input types.CreateTaskInput, requestID string) (*types.Task, error) {
	t, err := s.Store.CreateTask(ctx, input)
	if err != nil {
		return nil, err
	}
	f := frame.Build(types.TypeTasksCreated, t, nil, requestID)
	s.inject(ctx, t.ProjectID, f)
	return t, nil
}

// UpdateSingleStatus implements tasks.updateStatus.
func (s *Service) UpdateSingleStatus(ctx context.Context, taskID string, status types.TaskStatus, requestID string) (*types.Task, error) {
	tasks, err := s.Store.BulkUpdateTaskStatuses(ctx, []types.StatusUpdate{{TaskID: taskID, Status: status}})
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, nil
	}
	t := tasks[0]
	f := frame.Build(types.TypeTasksStatusUpdated, t, nil, requestID)
	s.inject(ctx, t.ProjectID, f)
	return &t, nil
}

// UpdateStatuses implements tasks.bulkUpdateStatus.
func (s *Service) UpdateStatuses(ctx context.Context, updates []types.StatusUpdate, requestID string) ([]types.Task, error) {
	tasks, err := s.Store.BulkUpdateTaskStatuses(ctx, updates)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return tasks, nil
	}
	f := frame.Build(types.TypeTasksStatusUpdated, tasks, nil, requestID)
	s.inject(ctx, tasks[0].ProjectID, f)
	return tasks, nil
}

// Reassign implements tasks.bulkReassign.
func (s *Service) Reassign(ctx context.Context, taskIDs []string, agent string, requestID string) ([]types.Task, error) {
	tasks, err := s.Store.BulkReassignTasks(ctx, taskIDs, agent)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return tasks, nil
	}
	f := frame.Build(types.TypeTasksBulkReassign, tasks, nil, requestID)
	s.inject(ctx, tasks[0].ProjectID, f)
	return tasks, nil
}

// blockedSummaryFrame fetches the current unacked blocker list and builds
// the summary frame emitted after most coordination mutations.
func (s *Service) blockedSummaryFrame(ctx context.Context) (types.Frame, error) {
	blocked, err := s.Store.ListBlockedTasks(ctx, types.BlockedTasksFilter{IncludeAcked: false})
	if err != nil {
		return types.Frame{}, err
	}
	return frame.Build(types.TypeTasksBlockedSummary, blocked, nil, ""), nil
}

// BlockTask implements blockTask: insert blocker, upsert agent activity,
// emit tasks.blocked then tasks.blockedSummary.
func (s *Service) BlockTask(ctx context.Context, input types.BlockInput) (*types.Blocker, error) {
	b, err := s.Store.InsertTaskBlock(ctx, input)
	if err != nil {
		return nil, err
	}
	taskID := b.TaskID
	if _, err := s.Store.UpsertAgentActivity(ctx, types.UpsertAgentActivityInput{
		AgentName: b.BlockedAgent,
		Status:    types.AgentBlocked,
		TaskID:    &taskID,
		Note:      b.Reason,
	}); err != nil {
		log.Printf("[TASKSVC] upsertAgentActivity after blockTask failed: %v", err)
	}

	blockedFrame := frame.Build(types.TypeTasksBlocked, map[string]any{"blocker": b}, nil, "")
	s.inject(ctx, b.ProjectID, blockedFrame)

	if summary, err := s.blockedSummaryFrame(ctx); err == nil {
		s.inject(ctx, b.ProjectID, summary)
	} else {
		log.Printf("[TASKSVC] blockedSummaryFrame after blockTask failed: %v", err)
	}
	return b, nil
}

// UnblockTask implements unblockTask: resolve blocker, set task back to
// todo, upsert agent activity, emit tasks.unblocked (meta.notifyAgent set)
// then tasks.blockedSummary.
func (s *Service) UnblockTask(ctx context.Context, input types.ResolveInput) (*types.Blocker, error) {
	b, err := s.Store.ResolveTaskBlock(ctx, input)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}

	if _, err := s.UpdateSingleStatus(ctx, b.TaskID, types.StatusTodo, ""); err != nil {
		log.Printf("[TASKSVC] updateSingleTaskStatus after unblockTask failed: %v", err)
	}

	taskID := b.TaskID
	if _, err := s.Store.UpsertAgentActivity(ctx, types.UpsertAgentActivityInput{
		AgentName: b.BlockedAgent,
		Status:    types.AgentAvailable,
		TaskID:    &taskID,
	}); err != nil {
		log.Printf("[TASKSVC] upsertAgentActivity after unblockTask failed: %v", err)
	}

	meta := map[string]string{"notifyAgent": b.BlockedAgent}
	unblockedFrame := frame.Build(types.TypeTasksUnblocked, map[string]any{"blocker": b}, meta, "")
	s.inject(ctx, b.ProjectID, unblockedFrame)

	if summary, err := s.blockedSummaryFrame(ctx); err == nil {
		s.inject(ctx, b.ProjectID, summary)
	} else {
		log.Printf("[TASKSVC] blockedSummaryFrame after unblockTask failed: %v", err)
	}
	return b, nil
}

// AcknowledgeUnblock implements acknowledgeUnblock: ack blocker, emit
// agents.unblockAck then tasks.blockedSummary.
func (s *Service) AcknowledgeUnblock(ctx context.Context, taskID, agent string) (*types.Blocker, error) {
	b, err := s.Store.AckTaskBlock(ctx, taskID, agent)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, nil
	}

	ackFrame := frame.Build(types.TypeAgentsUnblockAck, map[string]any{"taskId": taskID, "agentName": agent}, nil, "")
	s.inject(ctx, b.ProjectID, ackFrame)

	if summary, err := s.blockedSummaryFrame(ctx); err == nil {
		s.inject(ctx, b.ProjectID, summary)
	} else {
		log.Printf("[TASKSVC] blockedSummaryFrame after acknowledgeUnblock failed: %v", err)
	}
	return b, nil
}
