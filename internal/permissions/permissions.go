// Package permissions reports the OS privacy permissions capture depends on.
package permissions

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// PermissionStatus represents the status of a system permission
type PermissionStatus int

const (
	// PermissionNotDetermined means the user hasn't been asked yet
	PermissionNotDetermined PermissionStatus = 0
	// PermissionRestricted means the permission is restricted by policy
	PermissionRestricted PermissionStatus = 1
	// PermissionDenied means the user has explicitly denied the permission
	PermissionDenied PermissionStatus = 2
	// PermissionAuthorized means the user has authorized the permission
	PermissionAuthorized PermissionStatus = 3
)

// Permission names
const (
	Microphone      = "microphone"
	ScreenRecording = "screen_recording"
)

// probe returns the status of one permission
type probe func() PermissionStatus

// PermissionChecker checks system permissions. It satisfies
// audio.Authorizer.
type PermissionChecker struct {
	microphone probe
	screen     probe
	open       func(target string) error
}

// NewPermissionChecker creates a checker backed by the host OS
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{
		microphone: microphoneStatus,
		screen:     screenRecordingStatus,
		open:       openSettings,
	}
}

// CheckMicrophonePermission returns the microphone access status
func (pc *PermissionChecker) CheckMicrophonePermission() PermissionStatus {
	return pc.microphone()
}

// CheckScreenRecordingPermission returns the screen capture access status
func (pc *PermissionChecker) CheckScreenRecordingPermission() PermissionStatus {
	return pc.screen()
}

// IsMicrophoneAuthorized returns whether microphone permission is granted
func (pc *PermissionChecker) IsMicrophoneAuthorized() bool {
	return pc.CheckMicrophonePermission() == PermissionAuthorized
}

// IsScreenRecordingAuthorized returns whether screen capture is granted
func (pc *PermissionChecker) IsScreenRecordingAuthorized() bool {
	return pc.CheckScreenRecordingPermission() == PermissionAuthorized
}

// CheckAllPermissions checks every permission by name
func (pc *PermissionChecker) CheckAllPermissions() map[string]bool {
	return map[string]bool{
		Microphone:      pc.IsMicrophoneAuthorized(),
		ScreenRecording: pc.IsScreenRecordingAuthorized(),
	}
}

// AreAllPermissionsGranted returns whether all required permissions are granted
func (pc *PermissionChecker) AreAllPermissionsGranted() bool {
	for _, granted := range pc.CheckAllPermissions() {
		if !granted {
			return false
		}
	}
	return true
}

// MissingPermissions lists the permissions that are not granted, in a fixed order
func (pc *PermissionChecker) MissingPermissions() []string {
	var missing []string
	if !pc.IsMicrophoneAuthorized() {
		missing = append(missing, Microphone)
	}
	if !pc.IsScreenRecordingAuthorized() {
		missing = append(missing, ScreenRecording)
	}
	return missing
}

// GetMissingPermissionsMessage returns a message listing missing permissions
func (pc *PermissionChecker) GetMissingPermissionsMessage() string {
	missing := pc.MissingPermissions()
	if len(missing) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("The following permissions are required:\n")
	for _, perm := range missing {
		b.WriteString("  • " + displayName(perm) + "\n")
	}
	return b.String()
}

// RequestPermission opens the system settings pane for a permission
func (pc *PermissionChecker) RequestPermission(name string) error {
	target, ok := settingsTargets[name]
	if !ok {
		return fmt.Errorf("unknown permission: %s", name)
	}
	return pc.open(target)
}

var settingsTargets = map[string]string{
	Microphone:      "x-apple.systempreferences:com.apple.preference.security?Privacy_Microphone",
	ScreenRecording: "x-apple.systempreferences:com.apple.preference.security?Privacy_ScreenCapture",
}

func displayName(perm string) string {
	switch perm {
	case Microphone:
		return "Microphone"
	case ScreenRecording:
		return "Screen Recording"
	default:
		return perm
	}
}

func openSettings(target string) error {
	if runtime.GOOS != "darwin" {
		return fmt.Errorf("permission settings are only available on macOS")
	}
	return exec.Command("open", target).Run()
}

// PermissionStatus string representation
func (ps PermissionStatus) String() string {
	switch ps {
	case PermissionNotDetermined:
		return "NotDetermined"
	case PermissionRestricted:
		return "Restricted"
	case PermissionDenied:
		return "Denied"
	case PermissionAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}
