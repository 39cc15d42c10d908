package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-transcript-relay/internal/models"
)

func TestReadLines(t *testing.T) {
	in := strings.NewReader("assistant: Which exchange?\n\nuser: Binance\nAgent: Got it\nno prefix here\n")

	lines, err := readLines(in)
	require.NoError(t, err)
	assert.Equal(t, []providerLine{
		{User: "assistant", Text: "Which exchange?"},
		{User: "user", Text: "Binance"},
		{User: "agent", Text: "Got it"},
		{User: "assistant", Text: "no prefix here"},
	}, lines)
}

func TestReadPayloads(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"two payloads with blank line", "{\"call_id\":\"a\"}\n\n{\"call_id\":\"b\"}\n", 2, false},
		{"empty input", "", 0, false},
		{"invalid line", "{\"call_id\":\"a\"}\nnot json\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPayloads(strings.NewReader(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestCompletionPayload(t *testing.T) {
	p := completionPayload("abc", nil)
	_, hasTranscripts := p["transcripts"]
	assert.False(t, hasTranscripts)

	p = completionPayload("abc", []providerLine{{User: "user", Text: "Hi"}})
	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"call_id":"abc","event_type":"call_ended","transcripts":[{"user":"user","text":"Hi"}]}`, string(data))
}

func TestTranscriptPayload_LifecycleHasNoEntryFields(t *testing.T) {
	p := transcriptPayload("abc", "call_started", "user", "", time.Now())
	assert.Equal(t, map[string]any{"call_id": "abc", "event_type": "call_started"}, p)
}

func TestReadSSE(t *testing.T) {
	stream := "data: {\"type\":\"connected\",\"callId\":\"abc\"}\n\n" +
		": comment\n" +
		"data: {\"type\":\"backlog\",\"entry\":{\"speaker\":\"user\",\"text\":\"Binance\"}}\n\n"

	var got []string
	require.NoError(t, readSSE(strings.NewReader(stream), func(m models.StreamMessage) error {
		got = append(got, formatMessage(m))
		return nil
	}))
	assert.Equal(t, []string{"[connected] abc", "[backlog] user      Binance"}, got)
}

func TestFormatEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   mirroredEvent
		want string
	}{
		{
			"entry",
			mirroredEvent{EventType: "call.transcript.entry", CallID: "abc", Seq: 7, Speaker: "user", Text: "Binance"},
			"call.transcript.entry abc #7 user      Binance",
		},
		{
			"lifecycle",
			mirroredEvent{EventType: "call.completed", CallID: "abc", EntryCount: 3},
			"call.completed abc entries=3",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatEvent(tt.ev))
		})
	}
}

type recordedRequest struct {
	path string
	body []byte
}

func fakeRelay(t *testing.T, status int, reply string) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var reqs []recordedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, recordedRequest{r.URL.Path, body})
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), reqs...)
	}
}

func run(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&bytes.Buffer{})
	return cmd.ExecuteContext(context.Background())
}

func TestWebhookCmd(t *testing.T) {
	srv, requests := fakeRelay(t, http.StatusOK, `{"success":true}`)

	require.NoError(t, run(t, "--server", srv.URL, "webhook", "--call-id", "abc", "--text", "Binance"))

	reqs := requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/webhook", reqs[0].path)

	var body map[string]any
	require.NoError(t, json.Unmarshal(reqs[0].body, &body))
	assert.Equal(t, "abc", body["call_id"])
	assert.Equal(t, "transcript", body["event_type"])
	assert.Equal(t, "Binance", body["text"])
}

func TestWebhookCmd_ReportsRelayError(t *testing.T) {
	srv, _ := fakeRelay(t, http.StatusBadRequest, `{"error":"Missing call_id"}`)

	err := run(t, "--server", srv.URL, "webhook", "--call-id", "abc", "--text", "x")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "Missing call_id", apiErr.Message)
}

func TestReplayCmd(t *testing.T) {
	srv, requests := fakeRelay(t, http.StatusOK, `{"success":true}`)

	dir := t.TempDir()
	path := dir + "/call.ndjson"
	ndjson := `{"call_id":"abc","event_type":"call_started"}
{"call_id":"abc","event_type":"transcript","speaker":"user","text":"Binance"}
`
	require.NoError(t, os.WriteFile(path, []byte(ndjson), 0o600))

	require.NoError(t, run(t, "--server", srv.URL, "replay", path, "--interval", "1ms"))

	reqs := requests()
	require.Len(t, reqs, 2)
	assert.JSONEq(t, `{"call_id":"abc","event_type":"call_started"}`, string(reqs[0].body))
}

func TestWithCallID(t *testing.T) {
	out, err := withCallID([]byte(`{"c_id":"old","event_type":"call_started"}`), "new")
	require.NoError(t, err)
	assert.JSONEq(t, `{"call_id":"new","event_type":"call_started"}`, string(out))

	_, err = withCallID([]byte(`[1,2]`), "new")
	assert.Error(t, err)
}

func TestReplayCmd_Fresh(t *testing.T) {
	srv, requests := fakeRelay(t, http.StatusOK, `{"success":true}`)

	path := t.TempDir() + "/call.ndjson"
	require.NoError(t, os.WriteFile(path, []byte("{\"call_id\":\"abc\"}\n{\"call_id\":\"abc\"}\n"), 0o600))

	require.NoError(t, run(t, "--server", srv.URL, "replay", path, "--interval", "1ms", "--fresh"))

	reqs := requests()
	require.Len(t, reqs, 2)
	var first, second map[string]string
	require.NoError(t, json.Unmarshal(reqs[0].body, &first))
	require.NoError(t, json.Unmarshal(reqs[1].body, &second))
	assert.NotEqual(t, "abc", first["call_id"])
	assert.Equal(t, first["call_id"], second["call_id"])
}

func TestWatchSSE(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("callId"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"type\":\"connected\",\"callId\":\"abc\"}\n\n")
		_, _ = io.WriteString(w, "data: {\"type\":\"transcript_update\",\"entry\":{\"speaker\":\"assistant\",\"text\":\"Got it\"}}\n\n")
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, watchSSE(context.Background(), srv.URL, "abc", &out))
	assert.Equal(t, "[connected] abc\n[transcript_update] assistant Got it\n", out.String())
}
