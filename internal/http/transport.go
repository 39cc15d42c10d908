package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"call-transcript-relay/internal/models"
)

// sseTransport writes one `data:` frame per message and flushes it.
type sseTransport struct {
	w            http.ResponseWriter
	rc           *http.ResponseController
	writeTimeout time.Duration
}

func newSSETransport(w http.ResponseWriter, writeTimeout time.Duration) *sseTransport {
	return &sseTransport{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
}

func (t *sseTransport) Name() string { return "sse" }

// open writes the stream headers. Proxies must not buffer the response.
func (t *sseTransport) open() error {
	h := t.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	t.w.WriteHeader(http.StatusOK)
	return errors.Wrap(t.rc.Flush(), "flush stream headers")
}

func (t *sseTransport) Write(_ context.Context, msg models.StreamMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "encode stream message")
	}

	if t.writeTimeout > 0 {
		// Not every ResponseWriter supports deadlines; the write still proceeds.
		_ = t.rc.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}

	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	if _, err := t.w.Write(frame); err != nil {
		return errors.Wrap(err, "write sse frame")
	}
	return errors.Wrap(t.rc.Flush(), "flush sse frame")
}

// wsTransport writes one JSON text frame per message.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (t *wsTransport) Name() string { return "ws" }

func (t *wsTransport) Write(_ context.Context, msg models.StreamMessage) error {
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return errors.Wrap(err, "set websocket write deadline")
		}
	}
	return errors.Wrap(t.conn.WriteJSON(msg), "write websocket frame")
}

// readPump discards inbound frames and cancels once the peer goes away.
// gorilla/websocket only notices a closed connection on read.
func readPump(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
