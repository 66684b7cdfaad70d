package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"mutuals/internal/api"
	"mutuals/internal/auth"
	"mutuals/internal/chat"
	"mutuals/internal/ws"
)

type APIServer struct {
	server *http.Server
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, chatService *chat.Service, hub *ws.Hub, addr string, log *slog.Logger) *APIServer {
	wsServer := ws.NewServer(authService, chatService, hub, log)
	apiHandlers := api.New(authService, chatService, log)

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))

	mux.HandleFunc("GET /api/profiles", apiHandlers.RequireAuth(apiHandlers.ProfilesHandler))
	mux.HandleFunc("GET /api/profiles/mutual", apiHandlers.RequireAuth(apiHandlers.MutualLikesHandler))
	mux.HandleFunc("POST /api/profiles/{id}/request", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendRequestHandler)))

	mux.HandleFunc("GET /api/requests", apiHandlers.RequireAuth(apiHandlers.RequestsHandler))
	mux.HandleFunc("POST /api/requests/{id}/respond", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.RespondRequestHandler)))

	mux.HandleFunc("GET /api/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))
	mux.HandleFunc("POST /api/messages/{id}/read", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.MarkReadHandler)))
	mux.HandleFunc("GET /api/messages/unread-count", apiHandlers.RequireAuth(apiHandlers.UnreadCountHandler))

	// WebSocket endpoint
	mux.HandleFunc("/ws/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		log: log,
	}
}

func (s *APIServer) Start() error {
	s.log.Info("API server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
