package turn

import "strings"

// Phrases that end an utterance when they appear anywhere in the transcript.
// Matching is by substring, so "sender" also triggers on "send".
var triggerPhrases = []string{"send", "okay echo"}

// IsReady reports whether text is a complete utterance: it ends with a full
// stop or contains a trigger phrase. Case is ignored.
func IsReady(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return false
	}
	if strings.HasSuffix(t, ".") {
		return true
	}
	for _, p := range triggerPhrases {
		if strings.Contains(t, p) {
			return true
		}
	}
	return false
}

// Segmenter applies IsReady to a stream of cumulative transcripts and never
// reports the same text ready twice in a row. Not safe for concurrent use.
type Segmenter struct {
	last string
}

// Ready records text as seen and reports whether it should be dispatched.
func (s *Segmenter) Ready(text string) bool {
	if text == s.last {
		return false
	}
	s.last = text
	return IsReady(text)
}

// Reset forgets the last-seen text.
func (s *Segmenter) Reset() {
	s.last = ""
}
