// Package normalize converts provider webhook payloads into transcript entries
// and lifecycle signals.
//
// Payloads are decoded once into a loose envelope, then tried against an
// ordered chain of shape matchers. The first matcher that recognizes the
// payload decides the result; a payload no matcher recognizes is ignored.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"call-transcript-relay/internal/models"
	"call-transcript-relay/internal/schema"
)

var (
	// ErrMissingCallID is returned when neither call_id nor c_id is present.
	ErrMissingCallID = errors.New("missing call_id")
	// ErrMalformedPayload is returned when the body is not a JSON object.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Kind classifies what a payload asks the relay to do.
type Kind int

const (
	KindNone Kind = iota
	KindEntry
	KindStarted
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindEntry:
		return "entry"
	case KindStarted:
		return "started"
	case KindCompleted:
		return "completed"
	default:
		return "none"
	}
}

// Result is the outcome of normalizing one payload.
type Result struct {
	Kind   Kind
	CallID string

	// Entry is set for KindEntry.
	Entry models.TranscriptEntry

	// Replace is set for KindCompleted when the payload carried a final
	// transcript array; Final holds its valid lines in array order.
	Replace bool
	Final   []models.TranscriptEntry

	// Matcher names the shape that recognized the payload.
	Matcher string
	// Reason explains a KindNone result.
	Reason string
}

// payload is the loose envelope shared by every provider event.
type payload struct {
	CallID    flexibleString  `json:"call_id"`
	CID       flexibleString  `json:"c_id"`
	EventType flexibleString  `json:"event_type"`
	Speaker   flexibleString  `json:"speaker"`
	Text      flexibleString  `json:"text"`
	Timestamp json.RawMessage `json:"timestamp"`
	Completed json.RawMessage `json:"completed"`

	Transcripts json.RawMessage `json:"transcripts"`

	TranscriptChunk    json.RawMessage `json:"transcript_chunk"`
	LiveTranscript     json.RawMessage `json:"live_transcript"`
	RealTimeTranscript json.RawMessage `json:"real_time_transcript"`
}

type nestedTranscript struct {
	Speaker   flexibleString  `json:"speaker"`
	Text      flexibleString  `json:"text"`
	Content   flexibleString  `json:"content"`
	Message   flexibleString  `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

type finalLine struct {
	User      flexibleString  `json:"user"`
	Text      flexibleString  `json:"text"`
	CreatedAt json.RawMessage `json:"created_at"`
}

// flexibleString accepts a JSON string or number.
type flexibleString string

func (f *flexibleString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		// Objects, arrays and booleans are not identifiers.
		*f = ""
		return nil
	}
	*f = flexibleString(n.String())
	return nil
}

type matcher struct {
	name  string
	match func(n *Normalizer, p *payload) (Result, bool)
}

// Normalizer turns raw webhook bodies into Results.
type Normalizer struct {
	validator *schema.Validator
	now       func() time.Time
	chain     []matcher
}

// New creates a Normalizer. A nil clock uses time.Now.
func New(validator *schema.Validator, now func() time.Time) *Normalizer {
	if validator == nil {
		validator = schema.New()
	}
	if now == nil {
		now = time.Now
	}
	return &Normalizer{
		validator: validator,
		now:       now,
		chain: []matcher{
			{name: "transcript_event", match: matchTranscriptEvent},
			{name: "nested_transcript", match: matchNestedTranscript},
			{name: "call_started", match: matchCallStarted},
			{name: "call_completed", match: matchCallCompleted},
			{name: "final_transcripts", match: matchFinalTranscripts},
		},
	}
}

// Normalize decodes body and runs the matcher chain. It fails only when the
// body is not a JSON object or carries no call id.
func (n *Normalizer) Normalize(body []byte) (Result, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return Result{}, pkgerrors.Wrap(ErrMalformedPayload, err.Error())
	}

	callID := strings.TrimSpace(string(p.CallID))
	if callID == "" {
		callID = strings.TrimSpace(string(p.CID))
	}
	if err := n.validator.ValidateCallID(callID); err != nil {
		return Result{}, ErrMissingCallID
	}

	for _, m := range n.chain {
		res, ok := m.match(n, &p)
		if !ok {
			continue
		}
		res.CallID = callID
		res.Matcher = m.name
		return res, nil
	}

	eventType := string(p.EventType)
	if eventType == "" {
		eventType = "undefined"
	}
	return Result{Kind: KindNone, CallID: callID, Reason: "unhandled event type " + eventType}, nil
}

var transcriptEventTypes = map[string]bool{
	"transcript":          true,
	"live_transcript":     true,
	"transcript_partial":  true,
	"transcript_complete": true,
	"transcript_update":   true,
}

var completionEventTypes = map[string]bool{
	"call_ended":     true,
	"call_completed": true,
}

func matchTranscriptEvent(n *Normalizer, p *payload) (Result, bool) {
	if !transcriptEventTypes[string(p.EventType)] {
		return Result{}, false
	}
	if p.Text == "" || p.Speaker == "" {
		return Result{Kind: KindNone, Reason: "transcript event missing text or speaker"}, true
	}
	entry := models.TranscriptEntry{
		Speaker:   models.ParseSpeaker(string(p.Speaker)),
		Text:      string(p.Text),
		Timestamp: n.parseTimestamp(p.Timestamp),
	}
	if err := n.validator.ValidateEntry(entry); err != nil {
		return Result{Kind: KindNone, Reason: err.Error()}, true
	}
	return Result{Kind: KindEntry, Entry: entry}, true
}

func matchNestedTranscript(n *Normalizer, p *payload) (Result, bool) {
	raw := firstPresent(p.TranscriptChunk, p.LiveTranscript, p.RealTimeTranscript)
	if raw == nil {
		return Result{}, false
	}

	var nested nestedTranscript
	if raw[0] != '{' || json.Unmarshal(raw, &nested) != nil {
		return Result{Kind: KindNone, Reason: "nested transcript is not an object"}, true
	}

	text := firstNonEmpty(nested.Text, nested.Content, nested.Message)
	entry := models.TranscriptEntry{
		Speaker:   models.ParseSpeaker(string(nested.Speaker)),
		Text:      text,
		Timestamp: n.parseTimestamp(nested.Timestamp),
	}
	if err := n.validator.ValidateEntry(entry); err != nil {
		return Result{Kind: KindNone, Reason: err.Error()}, true
	}
	return Result{Kind: KindEntry, Entry: entry}, true
}

func matchCallStarted(_ *Normalizer, p *payload) (Result, bool) {
	if p.EventType != "call_started" {
		return Result{}, false
	}
	return Result{Kind: KindStarted}, true
}

func matchCallCompleted(n *Normalizer, p *payload) (Result, bool) {
	completed := bytes.Equal(bytes.TrimSpace(p.Completed), []byte("true"))
	if !completionEventTypes[string(p.EventType)] && !completed {
		return Result{}, false
	}
	res := Result{Kind: KindCompleted}
	if final, ok := n.parseFinal(p.Transcripts); ok {
		res.Replace = true
		res.Final = final
	}
	return res, true
}

func matchFinalTranscripts(n *Normalizer, p *payload) (Result, bool) {
	final, ok := n.parseFinal(p.Transcripts)
	if !ok {
		return Result{}, false
	}
	return Result{Kind: KindCompleted, Replace: true, Final: final}, true
}

// parseFinal decodes a transcripts array. It reports false when the field is
// absent or not an array. Lines that fail validation are dropped.
func (n *Normalizer) parseFinal(raw json.RawMessage) ([]models.TranscriptEntry, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '[' {
		return nil, false
	}

	var lines []json.RawMessage
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, false
	}

	final := make([]models.TranscriptEntry, 0, len(lines))
	for _, l := range lines {
		var line finalLine
		if err := json.Unmarshal(l, &line); err != nil {
			continue
		}
		entry := models.TranscriptEntry{
			Speaker:   models.ParseSpeaker(string(line.User)),
			Text:      string(line.Text),
			Timestamp: n.parseTimestamp(line.CreatedAt),
		}
		if n.validator.ValidateEntry(entry) != nil {
			continue
		}
		final = append(final, entry)
	}
	return final, true
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp accepts an ISO-8601 string or a Unix epoch number in
// seconds or milliseconds. Anything else yields the current time.
func (n *Normalizer) parseTimestamp(raw json.RawMessage) time.Time {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return n.now()
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil || s == "" {
			return n.now()
		}
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
		return n.now()
	}

	f, err := strconv.ParseFloat(string(raw), 64)
	if err != nil || f <= 0 {
		return n.now()
	}
	if f >= 1e12 {
		return time.UnixMilli(int64(f))
	}
	sec := int64(f)
	return time.Unix(sec, int64((f-float64(sec))*1e9))
}

func firstPresent(raws ...json.RawMessage) json.RawMessage {
	for _, r := range raws {
		r = bytes.TrimSpace(r)
		if len(r) == 0 || bytes.Equal(r, []byte("null")) || bytes.Equal(r, []byte("false")) ||
			bytes.Equal(r, []byte(`""`)) || bytes.Equal(r, []byte("0")) {
			continue
		}
		return r
	}
	return nil
}

func firstNonEmpty(values ...flexibleString) string {
	for _, v := range values {
		if v != "" {
			return string(v)
		}
	}
	return ""
}
