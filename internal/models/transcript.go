// Package models defines the data structures for transcript events.
package models

import "time"

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// ParseSpeaker coerces a provider speaker value. Anything other than "user"
// is attributed to the assistant.
func ParseSpeaker(v string) Speaker {
	if v == string(SpeakerUser) {
		return SpeakerUser
	}
	return SpeakerAssistant
}

// TranscriptEntry is one normalized utterance. Entries are never mutated
// once created.
type TranscriptEntry struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Seq is assigned by the relay when the entry enters it and is unique
	// for the lifetime of the process.
	Seq uint64 `json:"-"`
}

// Stream message types.
const (
	MessageConnected = "connected"
	MessageBacklog   = "backlog"
	MessageLive      = "transcript_update"
	MessageHeartbeat = "heartbeat"
	MessageError     = "error"
)

// StreamMessage is one self-contained message written to a subscriber.
type StreamMessage struct {
	Type      string           `json:"type"`
	CallID    string           `json:"callId,omitempty"`
	Seq       uint64           `json:"seq,omitempty"`
	Entry     *TranscriptEntry `json:"entry,omitempty"`
	Message   string           `json:"message,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// CallLifecycleEvent is mirrored to external brokers when a call starts,
// completes, or is swept.
type CallLifecycleEvent struct {
	EventType  string `json:"eventType"`
	CallID     string `json:"callId"`
	EntryCount int    `json:"entryCount"`
	Timestamp  int64  `json:"timestamp"`
}

// TranscriptEntryEvent is the broker representation of an appended entry.
type TranscriptEntryEvent struct {
	EventType string  `json:"eventType"`
	CallID    string  `json:"callId"`
	Seq       uint64  `json:"seq"`
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}
