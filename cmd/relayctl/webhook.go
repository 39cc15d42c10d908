package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// providerLine is one line of a completed call's transcript, in the shape
// the provider sends it.
type providerLine struct {
	User      string `json:"user"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at,omitempty"`
}

func transcriptPayload(callID, event, speaker, text string, at time.Time) map[string]any {
	p := map[string]any{
		"call_id":    callID,
		"event_type": event,
	}
	if text != "" {
		p["speaker"] = speaker
		p["text"] = text
		p["timestamp"] = at.UTC().Format(time.RFC3339Nano)
	}
	return p
}

func completionPayload(callID string, lines []providerLine) map[string]any {
	p := map[string]any{
		"call_id":    callID,
		"event_type": "call_ended",
	}
	if lines != nil {
		p["transcripts"] = lines
	}
	return p
}

// readLines parses "speaker: text" lines; anything without a known speaker
// prefix is attributed to the assistant.
func readLines(r io.Reader) ([]providerLine, error) {
	var out []providerLine
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		speaker, text := "assistant", line
		if i := strings.Index(line, ":"); i > 0 {
			if s := strings.ToLower(strings.TrimSpace(line[:i])); s == "user" || s == "assistant" || s == "agent" {
				speaker, text = s, strings.TrimSpace(line[i+1:])
			}
		}
		out = append(out, providerLine{User: speaker, Text: text})
	}
	return out, errors.Wrap(sc.Err(), "read transcript lines")
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	return f, errors.Wrapf(err, "open %s", path)
}

func newWebhookCmd(root *rootOptions) *cobra.Command {
	var callID, event, speaker, text, file string
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Post one provider webhook",
		Long: "Post a transcript or lifecycle webhook built from flags, or a raw " +
			"payload from --file (use - for stdin).",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newRelayClient(root.server)
			if file != "" {
				in, err := openInput(file)
				if err != nil {
					return err
				}
				defer in.Close()
				body, err := io.ReadAll(in)
				if err != nil {
					return errors.Wrap(err, "read payload")
				}
				return c.postRaw(cmd.Context(), "/v1/webhook", body, nil)
			}
			if callID == "" {
				return errors.New("--call-id is required without --file")
			}
			payload := transcriptPayload(callID, event, speaker, text, time.Now())
			if err := c.post(cmd.Context(), "/v1/webhook", payload, nil); err != nil {
				return err
			}
			log.Info().Str("callId", callID).Str("event", event).Msg("Webhook accepted")
			return nil
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "Call id")
	cmd.Flags().StringVar(&event, "event", "transcript", "event_type (transcript, call_started, call_ended, ...)")
	cmd.Flags().StringVar(&speaker, "speaker", "user", "Speaker (user or assistant)")
	cmd.Flags().StringVar(&text, "text", "", "Utterance text")
	cmd.Flags().StringVar(&file, "file", "", "Raw JSON payload to post")
	return cmd
}

func newInjectCmd(root *rootOptions) *cobra.Command {
	var callID, speaker, text string
	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Broadcast a test entry straight to a call's subscribers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Message string          `json:"message"`
				Entry   json.RawMessage `json:"entry"`
			}
			req := map[string]string{"callId": callID, "speaker": speaker, "text": text}
			if err := newRelayClient(root.server).post(cmd.Context(), "/v1/debug/inject", req, &resp); err != nil {
				return err
			}
			log.Info().Str("callId", callID).RawJSON("entry", resp.Entry).Msg(resp.Message)
			return nil
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "Call id")
	cmd.Flags().StringVar(&speaker, "speaker", "user", "Speaker (user or assistant)")
	cmd.Flags().StringVar(&text, "text", "", "Utterance text")
	_ = cmd.MarkFlagRequired("call-id")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func newCompleteCmd(root *rootOptions) *cobra.Command {
	var callID, file string
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Complete a call, optionally replacing its transcript",
		Long: "Post call_ended for a call. With --transcript, the file's " +
			"\"speaker: text\" lines become the call's final transcript.",
		RunE: func(cmd *cobra.Command, args []string) error {
			var lines []providerLine
			if file != "" {
				in, err := openInput(file)
				if err != nil {
					return err
				}
				defer in.Close()
				if lines, err = readLines(in); err != nil {
					return err
				}
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := newRelayClient(root.server).post(ctx, "/v1/webhook", completionPayload(callID, lines), nil); err != nil {
				return err
			}
			log.Info().Str("callId", callID).Int("finalEntries", len(lines)).Msg("Call completed")
			return nil
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "Call id")
	cmd.Flags().StringVar(&file, "transcript", "", "Final transcript file (use - for stdin)")
	_ = cmd.MarkFlagRequired("call-id")
	return cmd
}
