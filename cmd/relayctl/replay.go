package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// readPayloads splits newline-delimited JSON into individual payloads,
// skipping blank lines and rejecting lines that are not JSON.
func readPayloads(r io.Reader) ([][]byte, error) {
	var out [][]byte
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4<<20)
	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, errors.Errorf("line %d is not valid JSON", n)
		}
		out = append(out, append([]byte(nil), line...))
	}
	return out, errors.Wrap(sc.Err(), "read payloads")
}

// withCallID rewrites a payload's call id, replacing either accepted key.
func withCallID(payload []byte, callID string) ([]byte, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, errors.Wrap(err, "payload is not a JSON object")
	}
	delete(fields, "c_id")
	id, err := json.Marshal(callID)
	if err != nil {
		return nil, err
	}
	fields["call_id"] = id
	return json.Marshal(fields)
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	var interval time.Duration
	var callID string
	var fresh bool
	cmd := &cobra.Command{
		Use:   "replay FILE",
		Short: "Post recorded webhook payloads (NDJSON) at a fixed interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(args[0])
			if err != nil {
				return err
			}
			defer in.Close()

			payloads, err := readPayloads(in)
			if err != nil {
				return err
			}

			if fresh {
				callID = uuid.NewString()
			}
			if callID != "" {
				for i, p := range payloads {
					if payloads[i], err = withCallID(p, callID); err != nil {
						return errors.Wrapf(err, "payload %d", i+1)
					}
				}
				log.Info().Str("callId", callID).Msg("Replaying under call id")
			}

			c := newRelayClient(root.server)
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for i, p := range payloads {
				if i > 0 {
					select {
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					case <-ticker.C:
					}
				}
				if err := c.postRaw(cmd.Context(), "/v1/webhook", p, nil); err != nil {
					return errors.Wrapf(err, "payload %d", i+1)
				}
				log.Debug().Int("n", i+1).Msg("Payload posted")
			}
			log.Info().Int("payloads", len(payloads)).Msg("Replay finished")
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "Delay between payloads")
	cmd.Flags().StringVar(&callID, "call-id", "", "Replace the call id in every payload")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "Replay under a newly generated call id")
	return cmd
}
