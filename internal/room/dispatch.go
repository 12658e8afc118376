package room

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/coordroom/coordroom/internal/frame"
	"github.com/coordroom/coordroom/internal/store"
	"github.com/coordroom/coordroom/internal/types"
	"github.com/coordroom/coordroom/internal/utils"
)

func (r *Room) onOpen(ctx context.Context, conn *Connection) {
	firstEver := len(r.connections) == 0 && r.state.CreatedAt.IsZero()
	if len(r.connections) == 0 {
		r.ensureTimersRunning()
	}
	r.connections[conn.id] = conn
	if firstEver {
		r.state.CreatedAt = r.state.LastActivity
	}

	welcome := frame.Build(types.TypeSystemWelcome, map[string]any{
		"connectionId": conn.id,
		"roomId":       r.ID,
		"connectedAt":  conn.connectedAt,
	}, nil, "")
	_ = conn.Send(mustSerialize(welcome))

	r.broadcast(r.stateFrame())
	r.emitBlockedSummary(ctx)
}

func mustSerialize(f types.Frame) []byte {
	b, err := frame.Serialize(f)
	if err != nil {
		return []byte(`{"type":"error","payload":{"message":"serialize failed"}}`)
	}
	return b
}

func (r *Room) stateFrame() types.Frame {
	agents := make([]string, 0, len(r.connections))
	for _, c := range r.connections {
		if name := c.AgentName(); name != "" {
			agents = append(agents, name)
		}
	}
	return frame.Build(types.TypeSystemState, map[string]any{
		"roomId":      r.ID,
		"connections": len(r.connections),
		"agents":      agents,
	}, nil, "")
}

func (r *Room) onClose(conn *Connection) {
	delete(r.connections, conn.id)
	r.broadcast(r.stateFrame())
	if len(r.connections) == 0 {
		r.stopTimers()
	}
}

func (r *Room) onError(conn *Connection, err error) {
	log.Printf("[ROOM] connection %s in room %s errored: %v", conn.id, r.ID, err)
	conn.CloseWithCode(websocket.CloseInternalServerErr, "internal error")
	delete(r.connections, conn.id)
	r.broadcast(r.stateFrame())
	if len(r.connections) == 0 {
		r.stopTimers()
	}
}

func (r *Room) onMessage(ctx context.Context, conn *Connection, data []byte) {
	f := frame.Deserialize(data)
	if f.Type == types.TypeError {
		log.Printf("[ROOM] malformed frame from %s in room %s", conn.id, r.ID)
		_ = conn.Send(mustSerialize(f))
		return
	}
	if f.Type == "ping" {
		pong := frame.Build("pong", map[string]any{"now": r.state.LastActivity}, nil, f.RequestID)
		_ = conn.Send(mustSerialize(pong))
		return
	}
	r.dispatchInbound(ctx, conn, f)
}

func (r *Room) replyError(conn *Connection, requestID, message string) {
	payload := types.TasksErrorPayload{Code: types.CodeHandleFailed, Message: message}
	f := frame.Build(types.TypeTasksError, payload, nil, requestID)
	_ = conn.Send(mustSerialize(f))
}

func (r *Room) dispatchInbound(ctx context.Context, conn *Connection, f types.Frame) {
	switch f.Type {
	case types.TypeAgentsRegister:
		r.handleRegister(ctx, conn, f)
	case types.TypeAgentsRequestStats:
		r.handleRequestStats(ctx, conn, f)
	case types.TypeAgentsAckUnblock:
		r.handleAckUnblock(ctx, conn, f)
	case types.TypeTasksFetchByAgent:
		r.handleFetchByAgent(ctx, conn, f)
	case types.TypeTasksFetchByID:
		r.handleFetchByID(ctx, conn, f)
	case types.TypeTasksSearch:
		r.handleSearch(ctx, conn, f)
	case types.TypeTasksFetchOpen:
		r.handleFetchOpen(ctx, conn, f)
	case types.TypeTasksCreate:
		r.handleCreate(ctx, conn, f)
	case types.TypeTasksUpdateStatus:
		r.handleUpdateStatus(ctx, conn, f)
	case types.TypeTasksBulkStatus:
		r.handleBulkUpdateStatus(ctx, conn, f)
	case types.TypeTasksBulkReassign:
		r.handleBulkReassign(ctx, conn, f)
	case types.TypeDocsQuery:
		r.handleDocsQuery(ctx, conn, f)
	default:
		r.broadcastExcept(f, conn)
	}
}

func unmarshalPayload(f types.Frame, v any) error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("empty payload")
	}
	return json.Unmarshal(f.Payload, v)
}

func (r *Room) handleRegister(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		AgentName string `json:"agentName"`
	}
	if err := unmarshalPayload(f, &payload); err != nil || !utils.IsValidAgentName(payload.AgentName) {
		r.replyError(conn, f.RequestID, "invalid agents.register payload")
		return
	}
	conn.setAgentName(payload.AgentName)
	if _, ok := r.state.Preferences[payload.AgentName]; !ok {
		r.state.Preferences[payload.AgentName] = types.AgentPreference{}
	}

	registered := frame.Build(types.TypeAgentsRegistered, map[string]any{"agentName": payload.AgentName}, nil, f.RequestID)
	_ = conn.Send(mustSerialize(registered))
	r.broadcast(r.stateFrame())
	r.sendStats(ctx, conn, "")
}

func (r *Room) sendStats(ctx context.Context, conn *Connection, requestID string) {
	counts, err := r.store.GetTaskCounts(ctx)
	if err != nil {
		log.Printf("[ROOM] getTaskCounts failed in room %s: %v", r.ID, err)
	}
	activity, err := r.store.ListAgentActivity(ctx)
	if err != nil {
		log.Printf("[ROOM] listAgentActivity failed in room %s: %v", r.ID, err)
	}
	blocked, err := r.store.ListBlockedTasks(ctx, types.BlockedTasksFilter{IncludeAcked: false})
	if err != nil {
		log.Printf("[ROOM] listBlockedTasks failed in room %s: %v", r.ID, err)
	}
	stats := frame.Build(types.TypeTasksStats, map[string]any{
		"counts":        counts,
		"agentActivity": activity,
		"unackedBlocks": blocked,
	}, nil, requestID)
	_ = conn.Send(mustSerialize(stats))
}

func (r *Room) handleRequestStats(ctx context.Context, conn *Connection, f types.Frame) {
	r.sendStats(ctx, conn, f.RequestID)
}

func (r *Room) handleAckUnblock(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		TaskID    string `json:"taskId"`
		AgentName string `json:"agentName"`
	}
	if err := unmarshalPayload(f, &payload); err != nil || payload.TaskID == "" || payload.AgentName == "" {
		r.replyError(conn, f.RequestID, "invalid agents.ackUnblock payload")
		return
	}
	r.cancelAckTimer(ackKey{agent: payload.AgentName, taskID: payload.TaskID})

	// tasksvc.Service.AcknowledgeUnblock already injects agents.unblockAck and
	// tasks.blockedSummary through /broadcast (spec.md §4.D); this handler
	// only owns the actor-local coordination-pattern bookkeeping.
	if r.tasksvc != nil {
		if _, err := r.tasksvc.AcknowledgeUnblock(ctx, payload.TaskID, payload.AgentName); err != nil {
			log.Printf("[ROOM] acknowledgeUnblock failed in room %s: %v", r.ID, err)
		}
	}

	r.appendCoordinationPattern("unblock_ack", true)
}

func (r *Room) appendCoordinationPattern(pattern string, success bool) {
	r.state.CoordinationPatterns = append(r.state.CoordinationPatterns, types.CoordinationPatternEntry{
		Pattern: pattern, Timestamp: r.state.LastActivity, Success: success,
	})
	if max := roomCfgMaxPatterns(r); len(r.state.CoordinationPatterns) > max {
		r.state.CoordinationPatterns = r.state.CoordinationPatterns[len(r.state.CoordinationPatterns)-max:]
	}
}

func roomCfgMaxPatterns(r *Room) int {
	if r.cfg.MaxCoordinationPatterns <= 0 {
		return DefaultConfig.MaxCoordinationPatterns
	}
	return r.cfg.MaxCoordinationPatterns
}

func (r *Room) handleFetchByAgent(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		Agent string `json:"agent"`
	}
	if err := unmarshalPayload(f, &payload); err != nil {
		r.replyError(conn, f.RequestID, "invalid tasks.fetchByAgent payload")
		return
	}
	tasks, err := r.store.ListTasks(ctx, types.TaskFilter{Agent: payload.Agent})
	if err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
	out := frame.Build(types.TypeTasksAgentSnapshot, map[string]any{"tasks": tasks}, nil, f.RequestID)
	_ = conn.Send(mustSerialize(out))
}

func (r *Room) handleFetchByID(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		ID string `json:"id"`
	}
	if err := unmarshalPayload(f, &payload); err != nil {
		r.replyError(conn, f.RequestID, "invalid tasks.fetchById payload")
		return
	}
	task, err := r.store.GetTaskByID(ctx, payload.ID)
	if err != nil && !store.IsNotFound(err) {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
	out := frame.Build(types.TypeTasksDetail, map[string]any{"task": task}, nil, f.RequestID)
	_ = conn.Send(mustSerialize(out))
}

func (r *Room) handleSearch(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		Query string `json:"query"`
	}
	if err := unmarshalPayload(f, &payload); err != nil {
		r.replyError(conn, f.RequestID, "invalid tasks.search payload")
		return
	}
	tasks, err := r.store.ListTasks(ctx, types.TaskFilter{Search: payload.Query})
	if err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
	out := frame.Build(types.TypeTasksSearchResults, map[string]any{"tasks": tasks}, nil, f.RequestID)
	_ = conn.Send(mustSerialize(out))
}

func (r *Room) handleFetchOpen(ctx context.Context, conn *Connection, f types.Frame) {
	tasks, err := r.store.ListOpenTasks(ctx)
	if err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
	out := frame.Build(types.TypeTasksOpen, map[string]any{"tasks": tasks}, nil, f.RequestID)
	_ = conn.Send(mustSerialize(out))
}

func (r *Room) handleCreate(ctx context.Context, conn *Connection, f types.Frame) {
	var input types.CreateTaskInput
	if err := unmarshalPayload(f, &input); err != nil || input.Title == "" {
		r.replyError(conn, f.RequestID, "invalid tasks.create payload")
		return
	}
	if input.ProjectID == "" {
		input.ProjectID = r.ID
	}
	// tasksvc.Service.Create injects tasks.created back through /broadcast
	// (spec.md §4.D step 3) carrying this request's requestId; the Room's
	// single processServerFrame broadcast delivers it to every connection,
	// including this one, satisfying both the "unicast reply" and "broadcast
	// to others" effects of spec.md §4.C's dispatch-table entry in one frame.
	if _, err := r.tasksvc.Create(ctx, input, f.RequestID); err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
}

func (r *Room) handleUpdateStatus(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		TaskID string           `json:"taskId"`
		Status types.TaskStatus `json:"status"`
	}
	if err := unmarshalPayload(f, &payload); err != nil || payload.TaskID == "" {
		r.replyError(conn, f.RequestID, "invalid tasks.updateStatus payload")
		return
	}
	// See handleCreate: the injected frame carries this requestId, so the
	// single processServerFrame broadcast covers both dispatch-table effects.
	if _, err := r.tasksvc.UpdateSingleStatus(ctx, payload.TaskID, payload.Status, f.RequestID); err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
}

func (r *Room) handleBulkUpdateStatus(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		Updates []types.StatusUpdate `json:"updates"`
	}
	if err := unmarshalPayload(f, &payload); err != nil {
		r.replyError(conn, f.RequestID, "invalid tasks.bulkUpdateStatus payload")
		return
	}
	// See handleCreate: the injected frame carries this requestId, so the
	// single processServerFrame broadcast covers both dispatch-table effects.
	if _, err := r.tasksvc.UpdateStatuses(ctx, payload.Updates, f.RequestID); err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
}

func (r *Room) handleBulkReassign(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		TaskIDs []string `json:"taskIds"`
		Agent   string   `json:"agent"`
	}
	if err := unmarshalPayload(f, &payload); err != nil {
		r.replyError(conn, f.RequestID, "invalid tasks.bulkReassign payload")
		return
	}
	// See handleCreate: the injected frame carries this requestId, so the
	// single processServerFrame broadcast covers both dispatch-table effects.
	if _, err := r.tasksvc.Reassign(ctx, payload.TaskIDs, payload.Agent, f.RequestID); err != nil {
		r.replyError(conn, f.RequestID, err.Error())
		return
	}
}

func (r *Room) handleDocsQuery(ctx context.Context, conn *Connection, f types.Frame) {
	var payload struct {
		Query string `json:"query"`
		Topic string `json:"topic"`
	}
	if err := unmarshalPayload(f, &payload); err != nil || payload.Query == "" {
		r.replyError(conn, f.RequestID, "invalid docs.query payload")
		return
	}

	r.state.QueryHistory = append(r.state.QueryHistory, types.QueryHistoryEntry{
		Query: payload.Query, Topic: payload.Topic, Timestamp: r.state.LastActivity,
	})
	if max := r.maxQueryHistory(); len(r.state.QueryHistory) > max {
		r.state.QueryHistory = r.state.QueryHistory[len(r.state.QueryHistory)-max:]
	}

	agentName := conn.AgentName()
	if agentName != "" {
		pref := r.state.Preferences[agentName]
		pref.LastQuery = payload.Query
		if payload.Topic != "" {
			pref.PreferredTopics = appendUnique(pref.PreferredTopics, payload.Topic)
		}
		r.state.Preferences[agentName] = pref
	}

	if r.docs == nil {
		r.replyError(conn, f.RequestID, "no docs collaborator configured")
		return
	}
	result, err := r.docs.Query(ctx, payload.Query, payload.Topic, 0)
	if err != nil {
		errFrame := frame.Build(types.TypeDocsError, map[string]string{"message": err.Error()}, nil, f.RequestID)
		_ = conn.Send(mustSerialize(errFrame))
		return
	}
	out := frame.Build(types.TypeDocsQueryResult, result, nil, f.RequestID)
	_ = conn.Send(mustSerialize(out))
}

func (r *Room) maxQueryHistory() int {
	if r.cfg.MaxQueryHistory <= 0 {
		return DefaultConfig.MaxQueryHistory
	}
	return r.cfg.MaxQueryHistory
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// --- server-originated frames (processServerFrame, spec.md §4.C) ---

func (r *Room) processServerFrame(ctx context.Context, f types.Frame) {
	r.broadcast(f)

	switch f.Type {
	case types.TypeTasksBlocked:
		r.emitBlockedSummary(ctx)
		r.promptBlockedAgent(f)
	case types.TypeTasksUnblocked:
		r.startAckReminderFromFrame(f)
		r.emitBlockedSummary(ctx)
	case types.TypeTasksCreated, types.TypeTasksStatusUpdated, types.TypeTasksBulkReassign:
		// A reassignment or status change can resolve or newly implicate a
		// blocker's owning agent, per spec.md §4.C's "schedule blocked-summary
		// refresh" effect for these dispatch-table rows.
		r.emitBlockedSummary(ctx)
	case types.TypeTasksBlockedSummary, types.TypeAgentsActivity:
		r.ensureTimersRunning()
	}
}

func (r *Room) emitBlockedSummary(ctx context.Context) {
	blocked, err := r.store.ListBlockedTasks(ctx, types.BlockedTasksFilter{IncludeAcked: false})
	if err != nil {
		log.Printf("[ROOM] listBlockedTasks failed in room %s: %v", r.ID, err)
		return
	}
	r.broadcast(frame.Build(types.TypeTasksBlockedSummary, map[string]any{"blocked": blocked}, nil, ""))
}

func (r *Room) promptBlockedAgent(f types.Frame) {
	var payload struct {
		Blocker *types.Blocker `json:"blocker"`
	}
	if err := unmarshalPayload(f, &payload); err != nil || payload.Blocker == nil {
		return
	}
	prompt := frame.Build(types.TypeAgentsPromptUpdate, map[string]any{
		"blocker":     payload.Blocker,
		"instruction": fmt.Sprintf("Task %s is blocked: %s", payload.Blocker.TaskID, payload.Blocker.Reason),
	}, nil, "")
	r.sendToAgent(payload.Blocker.BlockedAgent, prompt)

	if payload.Blocker.RequiresHumanIntervention && r.notifier != nil {
		if err := r.notifier.NotifyHumanInterventionNeeded(payload.Blocker); err != nil {
			log.Printf("[ROOM] human-intervention notify failed in room %s: %v", r.ID, err)
		}
	}
}

func (r *Room) startAckReminderFromFrame(f types.Frame) {
	var payload struct {
		Blocker *types.Blocker `json:"blocker"`
	}
	var meta struct {
		NotifyAgent string `json:"notifyAgent"`
	}
	if err := unmarshalPayload(f, &payload); err != nil || payload.Blocker == nil {
		return
	}
	if len(f.Meta) > 0 {
		_ = json.Unmarshal(f.Meta, &meta)
	}
	agent := meta.NotifyAgent
	if agent == "" {
		agent = payload.Blocker.BlockedAgent
	}
	r.startAckReminder(ackKey{agent: agent, taskID: payload.Blocker.TaskID}, payload.Blocker.ID)
}

// --- ack-reminder protocol (spec.md §4.C) ---

func (r *Room) startAckReminder(key ackKey, blockerID string) {
	r.cancelAckTimer(key)
	r.ackTimers[key] = ackTimer{cancel: func() {}}
	r.fireAckReminderTick(key, blockerID)
}

// fireAckReminderTick runs step 2 ("immediately touch + unicast") of
// spec.md §4.C's ack-reminder procedure, then reschedules step 3 (a 10s
// periodic repeat). blockerID may be empty on a rescheduled tick; it is
// then resolved by looking up the blocker for the key.
const unansweredReminderEscalationThreshold = 3

func (r *Room) fireAckReminderTick(key ackKey, blockerID string) {
	entry, ok := r.ackTimers[key]
	if !ok {
		return
	}
	entry.attempts++
	r.ackTimers[key] = entry
	if entry.attempts == unansweredReminderEscalationThreshold && r.notifier != nil {
		if err := r.notifier.NotifyUnansweredReminder(key.agent, key.taskID, entry.attempts); err != nil {
			log.Printf("[ROOM] unanswered-reminder notify failed in room %s: %v", r.ID, err)
		}
	}
	ctx := context.Background()

	blocker, err := r.loadBlockerForReminder(ctx, key.taskID, key.agent)
	if err != nil {
		log.Printf("[ROOM] reminder lookup failed in room %s: %v", r.ID, err)
	}
	if blockerID == "" && blocker != nil {
		blockerID = blocker.ID
	}
	if blockerID != "" {
		if err := r.store.TouchBlockLastNotified(ctx, blockerID); err != nil {
			log.Printf("[ROOM] touchBlockLastNotified failed in room %s: %v", r.ID, err)
		}
	}

	reminder := frame.Build(types.TypeAgentsUnblockReminder, map[string]any{
		"blocker": blocker,
		"message": fmt.Sprintf("Unblock for task %s is unacknowledged.", key.taskID),
	}, nil, "")
	r.sendToAgent(key.agent, reminder)

	interval := r.cfg.UnblockPingInterval
	if interval <= 0 {
		interval = DefaultConfig.UnblockPingInterval
	}
	timer := time.AfterFunc(interval, func() {
		r.mailbox <- mailItem{kind: kindTick, tickKind: tickAckReminder, ackKey: key}
	})
	r.ackTimers[key] = ackTimer{cancel: func() { timer.Stop() }, attempts: r.ackTimers[key].attempts}
}

func (r *Room) loadBlockerForReminder(ctx context.Context, taskID, agent string) (*types.Blocker, error) {
	blocked, err := r.store.ListBlockedTasks(ctx, types.BlockedTasksFilter{IncludeAcked: true})
	if err != nil {
		return nil, err
	}
	for i := range blocked {
		if blocked[i].TaskID == taskID && blocked[i].BlockedAgent == agent {
			return &blocked[i], nil
		}
	}
	return nil, nil
}

func (r *Room) cancelAckTimer(key ackKey) {
	if entry, ok := r.ackTimers[key]; ok {
		entry.cancel()
		delete(r.ackTimers, key)
	}
}

func (r *Room) cancelAllAckTimers() {
	for key, entry := range r.ackTimers {
		entry.cancel()
		delete(r.ackTimers, key)
	}
}

func (r *Room) onTick(ctx context.Context, kind string, key ackKey) {
	switch kind {
	case tickHeartbeat:
		if !r.timersRunning {
			return
		}
		peers := make([]string, 0, len(r.connections))
		for _, c := range r.connections {
			if name := c.AgentName(); name != "" {
				peers = append(peers, name)
			}
		}
		r.broadcast(frame.Build(types.TypeSystemHeartbeat, map[string]any{"ts": time.Now(), "peers": peers}, nil, ""))
		r.scheduleHeartbeat()
	case tickBlockedSummary:
		if !r.timersRunning {
			return
		}
		r.emitBlockedSummary(ctx)
		r.scheduleBlockedSummary()
	case tickAckReminder:
		// A cancelled-but-already-fired tick must be tolerated by re-reading
		// current state (spec.md §5): if the key is gone (acked or
		// superseded), this stale tick is simply dropped.
		if _, ok := r.ackTimers[key]; !ok {
			return
		}
		r.fireAckReminderTick(key, "")
	}
}
