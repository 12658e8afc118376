package room

import "time"

// ensureTimersRunning starts the heartbeat and blocked-summary periodics if
// they are not already running. Idempotent, per spec.md §4.C's handling of
// tasks.blockedSummary / agents.activity server frames.
func (r *Room) ensureTimersRunning() {
	if r.timersRunning {
		return
	}
	r.timersRunning = true
	r.scheduleHeartbeat()
	r.scheduleBlockedSummary()
}

func (r *Room) stopTimers() {
	r.timersRunning = false
}

func (r *Room) scheduleHeartbeat() {
	interval := r.cfg.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig.HeartbeatInterval
	}
	time.AfterFunc(interval, func() {
		r.mailbox <- mailItem{kind: kindTick, tickKind: tickHeartbeat}
	})
}

func (r *Room) scheduleBlockedSummary() {
	interval := r.cfg.BlockedSummaryInterval
	if interval <= 0 {
		interval = DefaultConfig.BlockedSummaryInterval
	}
	time.AfterFunc(interval, func() {
		r.mailbox <- mailItem{kind: kindTick, tickKind: tickBlockedSummary}
	})
}
