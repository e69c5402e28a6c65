package permissions

/*
#cgo CFLAGS: -x objective-c -fmodules
#cgo LDFLAGS: -framework AVFoundation -framework CoreGraphics

#import <AVFoundation/AVFoundation.h>
#import <CoreGraphics/CoreGraphics.h>

int check_microphone_permission() {
    AVAuthorizationStatus status = [AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
    return (int)status;
}

int check_screen_recording_permission() {
    return CGPreflightScreenCaptureAccess() ? 1 : 0;
}
*/
import "C"

func microphoneStatus() PermissionStatus {
	return PermissionStatus(C.check_microphone_permission())
}

func screenRecordingStatus() PermissionStatus {
	if C.check_screen_recording_permission() == 1 {
		return PermissionAuthorized
	}
	return PermissionDenied
}
