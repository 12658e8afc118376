// Package notify implements the human-escalation fan-out of SPEC_FULL §3/§6:
// a blocker inserted with requiresHumanIntervention = true, or an
// ack-reminder reaching its third unanswered tick (a fixed threshold in the
// Room Actor), triggers a multi-channel notification (desktop toast, terminal-title
// flash, in-band dashboard banner). Purely an observer of Task Service
// emissions — it never affects protocol state or spec.md §8's invariants.
//
// Grounded on the teacher's internal/notifications.Manager, generalized
// from the teacher's agent-supervision alerts to blocker escalation.
package notify

import (
	"fmt"
	"log"

	"github.com/coordroom/coordroom/internal/types"
)

// Notifier is what the Room Actor calls to escalate.
type Notifier interface {
	NotifyHumanInterventionNeeded(blocker *types.Blocker) error
	NotifyUnansweredReminder(agent, taskID string, attempts int) error
	Clear() error
}

// Manager fans a notification out across every configured channel,
// aggregating per-channel errors rather than failing on the first one.
type Manager struct {
	toast    ToastNotifier
	terminal TerminalNotifier
	banner   *BannerNotifier
	enabled  bool
}

// ToastNotifier is the desktop-toast channel (go-toast on Windows, no-op
// elsewhere — see toast.go's IsSupported gate).
type ToastNotifier interface {
	Show(title, message string) error
	IsSupported() bool
}

// TerminalNotifier is the terminal-title-flash channel.
type TerminalNotifier interface {
	Flash(message string) error
	Clear() error
}

func NewManager(toast ToastNotifier, terminal TerminalNotifier) *Manager {
	return &Manager{
		toast:    toast,
		terminal: terminal,
		banner:   NewBannerNotifier(),
		enabled:  true,
	}
}

func (m *Manager) Enable()  { m.enabled = true }
func (m *Manager) Disable() { m.enabled = false }

func (m *Manager) NotifyHumanInterventionNeeded(blocker *types.Blocker) error {
	if !m.enabled {
		return nil
	}
	message := fmt.Sprintf("Task %s needs a human: %s", blocker.TaskID, blocker.Reason)
	return m.fanOut("Human intervention required", message, BannerTypeSupervisor)
}

func (m *Manager) NotifyUnansweredReminder(agent, taskID string, attempts int) error {
	if !m.enabled {
		return nil
	}
	message := fmt.Sprintf("%s has not acknowledged unblock of %s after %d reminders", agent, taskID, attempts)
	return m.fanOut("Unacknowledged unblock", message, BannerTypeWarning)
}

func (m *Manager) fanOut(title, message string, bannerType BannerType) error {
	var errs []error

	if m.toast != nil && m.toast.IsSupported() {
		if err := m.toast.Show(title, message); err != nil {
			log.Printf("[NOTIFY] toast failed: %v", err)
			errs = append(errs, err)
		}
	}
	if m.terminal != nil {
		if err := m.terminal.Flash(message); err != nil {
			log.Printf("[NOTIFY] terminal flash failed: %v", err)
			errs = append(errs, err)
		}
	}
	if err := m.banner.Show(message, bannerType); err != nil {
		log.Printf("[NOTIFY] banner failed: %v", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d of %d channels failed: %v", len(errs), 3, errs)
	}
	return nil
}

func (m *Manager) Clear() error {
	if m.terminal != nil {
		_ = m.terminal.Clear()
	}
	return m.banner.Clear()
}

// GetBannerState exposes the current banner for an in-band system.banner
// frame or a /healthz surface.
func (m *Manager) GetBannerState() BannerState {
	return m.banner.GetState()
}
