// Package thread implements the thread and session coordination core:
// the registry of per-document conversational threads, the active-thread
// selector, the lifecycle coordinator that keeps the registry consistent
// with the document set, and the dispatcher that UI-facing callers use.
package thread

import (
	"quill/internal/llm"
)

// GeneralKey is the reserved key of the general-purpose thread. It is
// never removed and receives the active pointer when the active thread's
// document is deleted.
const GeneralKey = "quill:general"

// GeneralTitle is the fixed display name of the general-purpose thread.
const GeneralTitle = "General"

// historyKeyPrefix prefixes every persisted history entry in the store.
const historyKeyPrefix = "thread-history-"

// HistoryKey returns the store key holding a thread's persisted history.
func HistoryKey(threadKey string) string {
	return historyKeyPrefix + threadKey
}

// Mode selects the persona for a document thread. The general thread is
// exempt from modes.
type Mode string

const (
	ModeDeveloper Mode = "developer"
	ModeBeginner  Mode = "beginner"
)

// ValidMode reports whether m names a known mode.
func ValidMode(m Mode) bool {
	return m == ModeDeveloper || m == ModeBeginner
}

// Thread is one conversational context: a key (document URI or
// GeneralKey), a display title, a mode, and the owned session. A thread
// is only observable once its session exists; there is no registered-but-
// uninitialized state.
type Thread struct {
	Key     string
	Title   string
	Mode    Mode
	Context string // document text captured at creation, used for persona rebuilds

	session *llm.Session
}

// Session returns the thread's owned session.
func (t *Thread) Session() *llm.Session {
	return t.session
}

// Info is the UI-facing summary of a thread.
type Info struct {
	Key   string
	Title string
	Mode  Mode
}
