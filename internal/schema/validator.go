// Package schema validates normalized transcript entries before they enter the relay.
package schema

import (
	"errors"
	"strings"

	"call-transcript-relay/internal/models"
)

var (
	ErrUnknownSpeaker = errors.New("speaker must be user or assistant")
	ErrEmptyText      = errors.New("text must not be empty")
	ErrNoTimestamp    = errors.New("timestamp must be set")
	ErrEmptyCallID    = errors.New("call id must not be empty")
)

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// ValidateEntry enforces the TranscriptEntry invariants.
func (v *Validator) ValidateEntry(e models.TranscriptEntry) error {
	switch e.Speaker {
	case models.SpeakerUser, models.SpeakerAssistant:
	default:
		return ErrUnknownSpeaker
	}
	if strings.TrimSpace(e.Text) == "" {
		return ErrEmptyText
	}
	if e.Timestamp.IsZero() {
		return ErrNoTimestamp
	}
	return nil
}

// ValidateCallID rejects empty call identifiers. No other format is enforced.
func (v *Validator) ValidateCallID(callID string) error {
	if strings.TrimSpace(callID) == "" {
		return ErrEmptyCallID
	}
	return nil
}
