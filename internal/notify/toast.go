package notify

import (
	"fmt"
	"runtime"

	"github.com/go-toast/toast"
)

// DesktopToast is the Windows-only toast channel, grounded on the teacher's
// internal/notifications.ToastNotifier. No-op (IsSupported false) on other
// platforms, exactly as the teacher gates it.
type DesktopToast struct {
	appID string
}

func NewDesktopToast(appID string) *DesktopToast {
	if appID == "" {
		appID = "coordroomd"
	}
	return &DesktopToast{appID: appID}
}

func (d *DesktopToast) IsSupported() bool {
	return runtime.GOOS == "windows"
}

func (d *DesktopToast) Show(title, message string) error {
	if !d.IsSupported() {
		return fmt.Errorf("toast notifications only supported on windows")
	}
	notification := toast.Notification{
		AppID:   d.appID,
		Title:   title,
		Message: message,
		Audio:   toast.Default,
	}
	return notification.Push()
}
