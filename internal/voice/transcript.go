package voice

import (
	"strings"
	"sync"
)

// transcriptTail is how many trailing characters of the model's speech
// are kept for fact extraction after the session ends.
const transcriptTail = 150

// Transcript accumulates the model's output transcription across a voice
// session. Only a short tail is ever read back, so the accumulated text
// is trimmed as it grows.
type Transcript struct {
	mu  sync.Mutex
	buf []rune
}

// Append adds a transcription fragment.
func (t *Transcript) Append(text string) {
	if text == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, []rune(text)...)
	if len(t.buf) > transcriptTail {
		t.buf = t.buf[len(t.buf)-transcriptTail:]
	}
}

// Tail returns the trailing portion of the transcript, trimmed of
// surrounding whitespace.
func (t *Transcript) Tail() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
