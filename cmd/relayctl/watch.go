package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"call-transcript-relay/internal/models"
)

// readSSE decodes `data:` frames from an event stream and hands each message
// to fn until the stream ends or fn returns an error.
func readSSE(r io.Reader, fn func(models.StreamMessage) error) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var msg models.StreamMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &msg); err != nil {
			return errors.Wrap(err, "decode stream message")
		}
		if err := fn(msg); err != nil {
			return err
		}
	}
	return sc.Err()
}

func formatMessage(msg models.StreamMessage) string {
	switch msg.Type {
	case models.MessageBacklog, models.MessageLive:
		if msg.Entry == nil {
			return msg.Type
		}
		return fmt.Sprintf("[%s] %-9s %s", msg.Type, msg.Entry.Speaker, msg.Entry.Text)
	case models.MessageError:
		return fmt.Sprintf("[error] %s", msg.Message)
	default:
		return fmt.Sprintf("[%s] %s", msg.Type, msg.CallID)
	}
}

func watchSSE(ctx context.Context, base, callID string, out io.Writer) error {
	u := strings.TrimRight(base, "/") + "/v1/transcripts/stream?callId=" + url.QueryEscape(callID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "open stream")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("stream returned %d", resp.StatusCode)
	}

	err = readSSE(resp.Body, func(msg models.StreamMessage) error {
		_, err := fmt.Fprintln(out, formatMessage(msg))
		return err
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func watchWS(ctx context.Context, base, callID string, out io.Writer) error {
	u, err := url.Parse(strings.TrimRight(base, "/") + "/v1/transcripts/ws")
	if err != nil {
		return errors.Wrap(err, "parse server url")
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.RawQuery = url.Values{"callId": {callID}}.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "dial websocket")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var msg models.StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return errors.Wrap(err, "read websocket")
		}
		if _, err := fmt.Fprintln(out, formatMessage(msg)); err != nil {
			return err
		}
	}
}

func newWatchCmd(root *rootOptions) *cobra.Command {
	var callID string
	var useWS bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print a call's transcript stream as it arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			if useWS {
				return watchWS(cmd.Context(), root.server, callID, cmd.OutOrStdout())
			}
			return watchSSE(cmd.Context(), root.server, callID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&callID, "call-id", "", "Call id")
	cmd.Flags().BoolVar(&useWS, "ws", false, "Use the WebSocket stream instead of server-sent events")
	_ = cmd.MarkFlagRequired("call-id")
	return cmd
}
