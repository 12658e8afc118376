package notify

import (
	"fmt"
	"runtime"
	"sync"
)

// TermFlasher is the terminal-title-flash channel, grounded on the
// teacher's internal/notifications.TerminalNotifier. It writes an OSC title
// escape sequence to stdout on windows, linux and darwin, with no check of
// the terminal's mode, and reports an error on every other GOOS.
type TermFlasher struct {
	mu            sync.Mutex
	originalTitle string
}

func NewTermFlasher(originalTitle string) *TermFlasher {
	return &TermFlasher{originalTitle: originalTitle}
}

func (t *TermFlasher) Flash(message string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setTitle(fmt.Sprintf("coordroomd - %s", message))
}

func (t *TermFlasher) Clear() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setTitle(t.originalTitle)
}

func (t *TermFlasher) setTitle(title string) error {
	switch runtime.GOOS {
	case "windows", "linux", "darwin":
		fmt.Printf("\033]0;%s\007", title)
		return nil
	default:
		return fmt.Errorf("terminal title manipulation not supported on %s", runtime.GOOS)
	}
}
