//go:build !darwin

package permissions

// Other platforms have no per-app privacy prompt; device errors surface when
// the stream opens.
func microphoneStatus() PermissionStatus {
	return PermissionAuthorized
}

func screenRecordingStatus() PermissionStatus {
	return PermissionAuthorized
}
