package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
)

// mirroredEvent covers both entry and lifecycle events on the relay's topics.
type mirroredEvent struct {
	EventType  string `json:"eventType"`
	CallID     string `json:"callId"`
	Seq        uint64 `json:"seq"`
	Speaker    string `json:"speaker"`
	Text       string `json:"text"`
	EntryCount int    `json:"entryCount"`
}

func formatEvent(ev mirroredEvent) string {
	if ev.Text != "" {
		return fmt.Sprintf("%s %s #%d %-9s %s", ev.EventType, ev.CallID, ev.Seq, ev.Speaker, ev.Text)
	}
	return fmt.Sprintf("%s %s entries=%d", ev.EventType, ev.CallID, ev.EntryCount)
}

func consume(ctx context.Context, reader *kafka.Reader, callID string, out io.Writer) error {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn().Err(err).Str("topic", reader.Config().Topic).Msg("Kafka read error")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if callID != "" && string(msg.Key) != callID {
			continue
		}

		var ev mirroredEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			log.Warn().Err(err).Msg("Skipping undecodable event")
			continue
		}
		if _, err := fmt.Fprintln(out, formatEvent(ev)); err != nil {
			return err
		}
	}
}

func newTailCmd() *cobra.Command {
	var brokers, topic, callID string
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print events the relay mirrors to Kafka",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Partition reader without a consumer group, so tailing never
			// commits offsets.
			reader := kafka.NewReader(kafka.ReaderConfig{
				Brokers:   strings.Split(brokers, ","),
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
			defer reader.Close()

			if since > 0 {
				if err := reader.SetOffsetAt(cmd.Context(), time.Now().Add(-since)); err != nil {
					return errors.Wrap(err, "seek")
				}
			}
			log.Info().Str("topic", topic).Dur("since", since).Msg("Tailing relay events")
			return consume(cmd.Context(), reader, callID, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&brokers, "brokers", envOr("KAFKA_BROKERS", "localhost:9092"), "Kafka brokers (comma-separated)")
	cmd.Flags().StringVar(&topic, "topic", "call.transcript.entry", "Topic to read")
	cmd.Flags().StringVar(&callID, "call-id", "", "Only print events for this call")
	cmd.Flags().DurationVar(&since, "since", time.Hour, "Start this far back")
	return cmd
}
