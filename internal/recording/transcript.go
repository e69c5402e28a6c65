package recording

import "strings"

// TranscriptionMarker prefixes model replies that echo what was heard
const TranscriptionMarker = "TRANSCRIPTION:"

// SplitTranscription separates "TRANSCRIPTION: <heard>\n<answer>" into its
// parts. ok is false when the marker or the newline is missing, in which
// case answer is the whole text.
func SplitTranscription(text string) (transcription, answer string, ok bool) {
	if !strings.HasPrefix(text, TranscriptionMarker) {
		return "", text, false
	}
	nl := strings.Index(text, "\n")
	if nl == -1 {
		return "", text, false
	}
	return strings.TrimSpace(text[len(TranscriptionMarker):nl]), strings.TrimSpace(text[nl:]), true
}
