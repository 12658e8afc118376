package types

import "encoding/json"

// Frame is the typed envelope exchanged over WebSocket and injected via
// POST /broadcast. Payload and Meta stay as raw JSON so a dispatch handler
// only unmarshals the shape it expects.
type Frame struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Meta      json.RawMessage `json:"meta,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Frame type namespaces used across the wire. Kept as string constants
// rather than an enum type since adapters outside the core may introduce
// their own dotted names.
const (
	TypeSystemWelcome   = "system.welcome"
	TypeSystemState     = "system.state"
	TypeSystemHeartbeat = "system.heartbeat"
	TypeError           = "error"

	TypeAgentsRegister        = "agents.register"
	TypeAgentsRegistered      = "agents.registered"
	TypeAgentsRequestStats    = "agents.requestStats"
	TypeAgentsAckUnblock      = "agents.ackUnblock"
	TypeAgentsUnblockAck      = "agents.unblockAck"
	TypeAgentsPromptUpdate    = "agents.promptUpdate"
	TypeAgentsUnblockReminder = "agents.unblockedReminder"
	TypeAgentsActivity        = "agents.activity"

	TypeTasksError          = "tasks.error"
	TypeTasksStats          = "tasks.stats"
	TypeTasksFetchByAgent   = "tasks.fetchByAgent"
	TypeTasksAgentSnapshot  = "tasks.agentSnapshot"
	TypeTasksFetchByID      = "tasks.fetchById"
	TypeTasksDetail         = "tasks.detail"
	TypeTasksSearch         = "tasks.search"
	TypeTasksSearchResults  = "tasks.searchResults"
	TypeTasksFetchOpen      = "tasks.fetchOpen"
	TypeTasksOpen           = "tasks.open"
	TypeTasksCreate         = "tasks.create"
	TypeTasksCreated        = "tasks.created"
	TypeTasksUpdateStatus   = "tasks.updateStatus"
	TypeTasksStatusUpdated  = "tasks.statusUpdated"
	TypeTasksBulkStatus     = "tasks.bulkUpdateStatus"
	TypeTasksBulkReassign   = "tasks.bulkReassign"
	TypeTasksBlocked        = "tasks.blocked"
	TypeTasksUnblocked      = "tasks.unblocked"
	TypeTasksBlockedSummary = "tasks.blockedSummary"

	TypeDocsQuery       = "docs.query"
	TypeDocsQueryResult = "docs.queryResult"
	TypeDocsError       = "docs.error"
)

// TasksErrorPayload is carried by tasks.error / error frames.
type TasksErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const CodeHandleFailed = "TASKS_HANDLE_FAILED"
