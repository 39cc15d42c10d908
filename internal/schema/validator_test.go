package schema

import (
	"testing"
	"time"

	"call-transcript-relay/internal/models"
)

func TestValidateEntry(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name  string
		entry models.TranscriptEntry
		want  error
	}{
		{"valid user", models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "Binance", Timestamp: now}, nil},
		{"valid assistant", models.TranscriptEntry{Speaker: models.SpeakerAssistant, Text: "Which exchange?", Timestamp: now}, nil},
		{"unknown speaker", models.TranscriptEntry{Speaker: "agent", Text: "hi", Timestamp: now}, ErrUnknownSpeaker},
		{"empty text", models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "", Timestamp: now}, ErrEmptyText},
		{"blank text", models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "   ", Timestamp: now}, ErrEmptyText},
		{"zero timestamp", models.TranscriptEntry{Speaker: models.SpeakerUser, Text: "hi"}, ErrNoTimestamp},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := v.ValidateEntry(tt.entry); got != tt.want {
				t.Errorf("ValidateEntry() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCallID(t *testing.T) {
	v := New()
	if err := v.ValidateCallID("abc"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := v.ValidateCallID(""); err != ErrEmptyCallID {
		t.Errorf("expected ErrEmptyCallID, got %v", err)
	}
	if err := v.ValidateCallID("  "); err != ErrEmptyCallID {
		t.Errorf("expected ErrEmptyCallID for blank id, got %v", err)
	}
}
