package ws

import (
	"log/slog"
	"net/http"
	"time"

	"mutuals/internal/models"

	"github.com/gorilla/websocket"
)

type authenticator interface {
	GetUserID(token string) (string, error)
	GetUser(userID string) (models.User, error)
}

type profileDirectory interface {
	EnsureProfile(user models.User) (models.Profile, error)
}

// Server upgrades HTTP requests to live chat sessions. Sessions for
// unauthenticated callers are rejected with a proper close handshake and are
// never registered with the hub.
type Server struct {
	auth     authenticator
	profiles profileDirectory
	hub      *Hub
	upgrader *websocket.Upgrader
	log      *slog.Logger
}

func NewServer(auth authenticator, profiles profileDirectory, hub *Hub, log *slog.Logger) *Server {
	return &Server{
		auth:     auth,
		profiles: profiles,
		hub:      hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // same-host check happens on the login endpoints
			},
		},
		log: log,
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}

	userID, err := s.auth.GetUserID(tokenFromRequest(r))
	if err != nil {
		s.reject(conn, "unauthorized")
		return
	}

	user, err := s.auth.GetUser(userID)
	if err != nil {
		s.reject(conn, "unauthorized")
		return
	}

	// Join order matters: the profile must exist before the hub registration,
	// and the hub registration is the very last step, so a failed session is
	// never half-joined.
	if _, err := s.profiles.EnsureProfile(user); err != nil {
		s.log.Error("failed to ensure profile", "user_id", userID, "error", err)
		s.reject(conn, "internal error")
		return
	}

	session := NewConnection(s.hub, conn, user, s.log)
	if err := session.Handle(r.Context()); err != nil {
		s.log.Info("connection closed", "user_id", userID, "error", err)
	}
}

// reject performs the websocket close handshake without ever joining the hub.
func (s *Server) reject(conn *websocket.Conn, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		deadline,
	)
	_ = conn.Close()
}

func tokenFromRequest(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}
