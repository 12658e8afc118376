package types

import "time"

// AgentPreference is the per-agent remembered docs-query preference, part
// of a Room's optional persistent state.
type AgentPreference struct {
	PreferredTopics []string `yaml:"preferredTopics" json:"preferredTopics"`
	LastQuery       string   `yaml:"lastQuery" json:"lastQuery"`
}

// QueryHistoryEntry is one entry of a Room's docs.query history (capped at
// Config.MaxQueryHistory).
type QueryHistoryEntry struct {
	Query     string    `yaml:"query" json:"query"`
	Topic     string    `yaml:"topic" json:"topic"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
}

// CoordinationPatternEntry is one entry of a Room's coordination-pattern
// history (capped at Config.MaxCoordinationPatterns).
type CoordinationPatternEntry struct {
	Pattern   string    `yaml:"pattern" json:"pattern"`
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	Success   bool      `yaml:"success" json:"success"`
}

// RoomSnapshot is the on-disk form of a Room's persistent state, written on
// clean shutdown and loaded on rehydration. SPEC_FULL §4 addition; spec.md
// §9 explicitly leaves this as an implementer option.
type RoomSnapshot struct {
	RoomID               string                     `yaml:"roomId" json:"roomId"`
	CreatedAt            time.Time                  `yaml:"createdAt" json:"createdAt"`
	LastActivity         time.Time                  `yaml:"lastActivity" json:"lastActivity"`
	Preferences          map[string]AgentPreference `yaml:"preferences" json:"preferences"`
	QueryHistory         []QueryHistoryEntry        `yaml:"queryHistory" json:"queryHistory"`
	CoordinationPatterns []CoordinationPatternEntry `yaml:"coordinationPatterns" json:"coordinationPatterns"`
}
