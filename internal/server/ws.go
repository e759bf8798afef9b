package server

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jonathan/brigade/internal/pipeline"
	"github.com/jonathan/brigade/internal/types"
)

const wsWriteTimeout = 10 * time.Second

// Message types sent on the events socket
const (
	MessageSnapshot = "snapshot"
	MessageProgress = "progress"
)

// EventMessage is one frame of the events socket. The first frame is a snapshot of
// the session; progress frames follow for every generation until the client closes.
type EventMessage struct {
	Type    string                  `json:"type"`
	Session *types.Session          `json:"session,omitempty"`
	Event   *pipeline.ProgressEvent `json:"event,omitempty"`
}

// handleSessionEvents streams the progress of a session over a WebSocket
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.orch.Sessions().Get(id); err != nil {
		s.writeError(w, r, err)
		return
	}
	b := s.orch.Broadcaster()
	if b == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "streaming is not enabled")
		return
	}

	// subscribe before the snapshot so no event falls between the two
	events, cancel := b.Subscribe(id)
	defer cancel()

	opts := &websocket.AcceptOptions{InsecureSkipVerify: s.anyOrigin()}
	if !opts.InsecureSkipVerify {
		opts.OriginPatterns = originHosts(s.corsOrigins)
	}
	conn, err := websocket.Accept(w, r, opts)
	if err != nil {
		s.logger.Warn("failed to accept websocket", "session", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// the client never sends; CloseRead handles control frames and reports closure
	ctx := conn.CloseRead(r.Context())

	snapshot, err := s.orch.Sessions().Get(id)
	if err != nil {
		conn.Close(websocket.StatusPolicyViolation, "session not found")
		return
	}
	if err := s.send(ctx, conn, EventMessage{Type: MessageSnapshot, Session: &snapshot}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := s.send(ctx, conn, EventMessage{Type: MessageProgress, Event: &event}); err != nil {
				s.logger.Debug("websocket send failed", "session", id, "error", err)
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, conn *websocket.Conn, msg EventMessage) error {
	ctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

// originHosts converts CORS origins to the host patterns websocket.Accept matches on
func originHosts(origins []string) []string {
	hosts := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			hosts = append(hosts, u.Host)
			continue
		}
		hosts = append(hosts, o)
	}
	return hosts
}
