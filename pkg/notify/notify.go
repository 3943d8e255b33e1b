package notify

import (
	"os"
	"path/filepath"

	"github.com/gen2brain/beeep"
	"go.uber.org/zap"
)

// Notifier provides generic notification sending
type Notifier interface {
	Notify(title string, message string)
}

// ToastNotifier sends notifications through the system's native notification
// facility
type ToastNotifier struct {
	logger      *zap.SugaredLogger
	appIconPath string
}

// NewToastNotifier creates a ToastNotifier instance. appIcon is dumped to a
// well-known temp path so the notification daemon can pick it up; when that
// fails notifications simply go out without an icon
func NewToastNotifier(logger *zap.SugaredLogger, appIcon []byte) (*ToastNotifier, error) {
	logger = logger.Named("notifier")
	tn := &ToastNotifier{logger: logger, appIconPath: filepath.Join(os.TempDir(), "questcast.ico")}

	if err := os.WriteFile(tn.appIconPath, appIcon, 0o644); err != nil {
		logger.Warnw("Failed to write notification icon", "error", err)
		tn.appIconPath = ""
	}

	logger.Debug("Created toast notifier instance")

	return tn, nil
}

// Notify sends a system notification with the given title and message
func (tn *ToastNotifier) Notify(title string, message string) {
	tn.logger.Infow("Sending notification", "title", title, "message", message)

	if err := beeep.Notify(title, message, tn.appIconPath); err != nil {
		tn.logger.Errorw("Failed to send toast notification", "error", err)
	}
}
