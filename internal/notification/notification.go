// Package notification raises desktop notifications for failures the user
// should see even when the overlay is hidden.
package notification

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/yok-tottii/genie/internal/domain"
	"github.com/yok-tottii/genie/internal/logger"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	TypeInfo    NotificationType = "info"
	TypeWarning NotificationType = "warning"
	TypeError   NotificationType = "error"
)

// Notification is one desktop notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// Runner executes a command. Tests replace it.
type Runner func(name string, args ...string) error

func execRunner(name string, args ...string) error {
	return exec.Command(name, args...).Run()
}

// NotificationManager sends notifications and reports assistant failures as
// an event sink
type NotificationManager struct {
	domain.NopSink

	appName string
	goos    string
	run     Runner
	logger  *logger.Logger
}

// NewNotificationManager creates a notification manager for the host OS
func NewNotificationManager(appName string, log *logger.Logger) *NotificationManager {
	return &NotificationManager{appName: appName, goos: runtime.GOOS, run: execRunner, logger: log}
}

// Send delivers a notification with osascript on macOS and notify-send on Linux
func (nm *NotificationManager) Send(n *Notification) error {
	if n == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	switch nm.goos {
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			escapeAppleScript(n.Message), escapeAppleScript(n.Title))
		if err := nm.run("osascript", "-e", script); err != nil {
			return fmt.Errorf("failed to send notification: %w", err)
		}
	case "linux":
		urgency := "normal"
		if n.Type == TypeError {
			urgency = "critical"
		}
		if err := nm.run("notify-send", "-a", nm.appName, "-u", urgency, n.Title, n.Message); err != nil {
			return fmt.Errorf("failed to send notification: %w", err)
		}
	default:
		return fmt.Errorf("notifications are not supported on %s", nm.goos)
	}
	return nil
}

// SendInfo sends an informational notification
func (nm *NotificationManager) SendInfo(message string) error {
	return nm.Send(&Notification{Title: nm.appName, Message: message, Type: TypeInfo})
}

// SendError sends an error notification
func (nm *NotificationManager) SendError(message string) error {
	return nm.Send(&Notification{Title: nm.appName + " Error", Message: message, Type: TypeError})
}

// MicrophonePermissionDenied tells the user to grant microphone access
func (nm *NotificationManager) MicrophonePermissionDenied() error {
	return nm.SendError("Microphone access was denied. Allow it in system settings.")
}

// OnInferenceError notifies about failures that need the user to act
func (nm *NotificationManager) OnInferenceError(kind domain.ErrorKind, message string) {
	if !notable(kind) {
		return
	}
	if err := nm.SendError(message); err != nil {
		nm.logger.Debug("Notification not delivered: %v", err)
	}
}

// notable reports whether a failure kind needs attention outside the overlay.
// Transient provider errors are shown in the conversation only.
func notable(kind domain.ErrorKind) bool {
	switch kind {
	case domain.KindNoCredentials, domain.KindAllCredentialsExhausted,
		domain.KindDeviceUnavailable, domain.KindNoScreenSource:
		return true
	}
	return false
}

// escapeAppleScript escapes special characters for AppleScript
func escapeAppleScript(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\t", `\t`)
	return s
}
