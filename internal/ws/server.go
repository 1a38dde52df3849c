package ws

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"govorilka/internal/auth"
	"govorilka/internal/chats"
	"govorilka/internal/metrics"
	"govorilka/internal/models"
	"govorilka/internal/requests"
	"govorilka/internal/users"
)

// Server authenticates persistent connections and dispatches their events.
type Server struct {
	auth     *auth.Service
	users    *users.Service
	engine   *requests.Engine
	chats    *chats.Manager
	hub      *Hub
	metrics  *metrics.Metrics
	upgrader *websocket.Upgrader
}

func NewServer(
	authService *auth.Service,
	userService *users.Service,
	engine *requests.Engine,
	manager *chats.Manager,
	hub *Hub,
	m *metrics.Metrics,
	allowedOrigins []string,
) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return &Server{
		auth:    authService,
		users:   userService,
		engine:  engine,
		chats:   manager,
		hub:     hub,
		metrics: m,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[r.Header.Get("Origin")]
			},
		},
	}
}

// HandleConnections is the websocket endpoint. The bearer token is verified
// and the identity loaded before the connection is upgraded; a bad token
// never reaches the event loop.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	claims, err := s.auth.Verify(token)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := s.users.Get(claims.UserID)
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	conn := newConnection(ws, user.ID, token)

	// The connection joins its own user-room and one room per chat
	// membership known at connect time. Later membership changes adjust
	// rooms through the hub.
	rooms := append([]string{user.ID}, user.Chats...)
	s.hub.Register(conn, rooms)

	if err := s.users.SetPresence(user.ID, true); err != nil {
		slog.Error("failed to set presence", "user_id", user.ID, "error", err)
	}

	if err := conn.handle(r.Context(), s.process); err != nil {
		slog.Debug("connection closed", "user_id", user.ID, "error", err)
	}

	s.hub.Unregister(conn)

	// Another live session keeps the user online.
	if s.hub.OnlineCount(user.ID) == 0 {
		if err := s.users.SetPresence(user.ID, false); err != nil &&
			!errorsIsNotFound(err) {
			slog.Error("failed to clear presence", "user_id", user.ID, "error", err)
		}
	}
}

// process handles one inbound frame. Runs on the connection's main loop, so
// events of one connection are strictly serialized.
func (s *Server) process(c *Connection, frame ClientFrame) error {
	// Every inbound event re-verifies the token so a revoked or expired
	// session is cut mid-stream.
	if _, err := s.auth.Verify(c.token); err != nil {
		_ = c.write(ServerFrame{
			Event: "error",
			Data:  map[string]any{"error": "not authenticated"},
		})
		s.metrics.EventsTotal.WithLabelValues(frame.Event, "unauthenticated").Inc()
		return fmt.Errorf("token re-check failed: %w", err)
	}

	handler := s.route(frame.Event)
	if handler == nil {
		s.metrics.EventsTotal.WithLabelValues(frame.Event, "unknown").Inc()
		return c.write(ackFrame(frame.AckID, nil,
			fmt.Errorf("unknown event %q: %w", frame.Event, models.ErrValidation)))
	}

	result, err := handler(c, frame.Data)
	if err != nil {
		s.metrics.EventsTotal.WithLabelValues(frame.Event, "error").Inc()
		slog.Debug("event failed", "event", frame.Event, "user_id", c.userID, "error", err)
	} else {
		s.metrics.EventsTotal.WithLabelValues(frame.Event, "ok").Inc()
	}

	if writeErr := c.write(ackFrame(frame.AckID, result, err)); writeErr != nil {
		// A handler may have force-closed the connection (account
		// deletion); losing that ack is fine.
		select {
		case <-c.done:
			return nil
		default:
			return writeErr
		}
	}
	return nil
}

// ackFrame builds the acknowledgement: {success, code?, error?,
// ...resultFields}.
func ackFrame(ackID int64, result map[string]any, err error) ServerFrame {
	data := make(map[string]any, len(result)+2)
	if err != nil {
		data["success"] = false
		data["code"] = models.CodeOf(err)
		data["error"] = err.Error()
	} else {
		data["success"] = true
		for k, v := range result {
			data[k] = v
		}
	}
	return ServerFrame{Event: "ack", AckID: ackID, Data: data}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if t := r.Header.Get("token"); t != "" {
		return t
	}
	return r.URL.Query().Get("token")
}

func errorsIsNotFound(err error) bool {
	return err != nil && models.CodeOf(err) == models.CodeNotFound
}
