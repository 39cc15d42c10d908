package events

import (
	"context"
	"testing"

	"call-transcript-relay/internal/models"
)

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerEntries != nil {
				t.Error("expected nil entries writer when disabled")
			}
			if p.writerLifecycle != nil {
				t.Error("expected nil lifecycle writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	cfg := &Config{
		Enabled:        false,
		Brokers:        []string{"localhost:9092"},
		TopicEntries:   "test.entries",
		TopicLifecycle: "test.lifecycle",
		Principal:      "test-principal",
	}

	p := New(cfg)

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicEntries != "test.entries" {
		t.Errorf("expected entries topic 'test.entries', got %s", p.topicEntries)
	}
	if p.topicLifecycle != "test.lifecycle" {
		t.Errorf("expected lifecycle topic 'test.lifecycle', got %s", p.topicLifecycle)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:        true,
		Brokers:        []string{"localhost:9092"},
		TopicEntries:   "test.entries",
		TopicLifecycle: "test.lifecycle",
	})

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	if p.writerEntries == nil || p.writerEntries.Topic != "test.entries" {
		t.Error("expected entries writer bound to test.entries")
	}
	if p.writerLifecycle == nil || p.writerLifecycle.Topic != "test.lifecycle" {
		t.Error("expected lifecycle writer bound to test.lifecycle")
	}
	if err := p.Close(); err != nil {
		t.Errorf("expected clean close of idle writers, got %v", err)
	}
}

func TestPublisher_PublishEntry_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicEntries: "test.entries", Principal: "test-svc"})

	ev := models.TranscriptEntryEvent{
		EventType: "call.transcript.entry",
		CallID:    "abc",
		Seq:       1,
		Speaker:   models.SpeakerUser,
		Text:      "Binance",
		Timestamp: 1700000000000,
	}
	if err := p.PublishEntry(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishLifecycle_Disabled(t *testing.T) {
	p := New(&Config{Enabled: false, TopicLifecycle: "test.lifecycle"})

	ev := models.CallLifecycleEvent{EventType: "call.completed", CallID: "abc", EntryCount: 3}
	if err := p.PublishLifecycle(context.Background(), ev); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_Close_NoWriters(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}

func TestPublisher_Close_NilWriters(t *testing.T) {
	p := &Publisher{}

	if err := p.Close(); err != nil {
		t.Errorf("expected no error closing publisher with nil writers, got %v", err)
	}
}
