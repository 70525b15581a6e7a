// Package transcript reconciles streamed conversation text into an
// ordered message history. Assistant text arrives as incremental
// deltas that amend the latest assistant message in place; user text
// arrives whole once transcription completes.
package transcript

import (
	"strings"
	"sync"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn in the conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reconciler builds the conversation history from streamed events.
// All methods are safe for concurrent use.
type Reconciler struct {
	mu       sync.RWMutex
	messages []Message
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// AddUserFinal appends a completed user utterance. Empty transcripts
// are ignored.
func (r *Reconciler) AddUserFinal(transcript string) {
	if strings.TrimSpace(transcript) == "" {
		return
	}
	r.mu.Lock()
	r.messages = append(r.messages, Message{Role: RoleUser, Content: transcript})
	r.mu.Unlock()
}

// AppendAssistantDelta merges a streamed text fragment into the
// history. If the latest message is an assistant turn, the fragment is
// appended to it; otherwise a new assistant message begins. Empty
// deltas are ignored.
func (r *Reconciler) AppendAssistantDelta(delta string) {
	if delta == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.messages); n > 0 && r.messages[n-1].Role == RoleAssistant {
		r.messages[n-1].Content += delta
		return
	}
	r.messages = append(r.messages, Message{Role: RoleAssistant, Content: delta})
}

// FinishAssistant closes the in-progress assistant turn. A non-empty
// final text replaces the accumulated deltas, since the service's
// final rendering is authoritative. An empty final leaves the deltas
// as they are.
func (r *Reconciler) FinishAssistant(final string) {
	if final == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := len(r.messages); n > 0 && r.messages[n-1].Role == RoleAssistant {
		r.messages[n-1].Content = final
		return
	}
	r.messages = append(r.messages, Message{Role: RoleAssistant, Content: final})
}

// Snapshot returns a copy of the current history.
func (r *Reconciler) Snapshot() []Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len returns the number of messages.
func (r *Reconciler) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// Reset discards the history.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	r.messages = nil
	r.mu.Unlock()
}

// FallbackSummary builds a minimal session record from the user's
// side of the conversation alone, for when the summarization service
// is unreachable.
func FallbackSummary(messages []Message) string {
	var parts []string
	for _, m := range messages {
		if m.Role != RoleUser {
			continue
		}
		if trimmed := strings.TrimSpace(m.Content); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, " ")
}
