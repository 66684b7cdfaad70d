package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"mutuals/internal/api"
	"mutuals/internal/auth"
	"mutuals/internal/chat"
)

// AdminServer listens on a separate, normally loopback-only address and hosts
// the account management endpoints.
type AdminServer struct {
	server *http.Server
	log    *slog.Logger
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.AuthService, chatService *chat.Service, addr string, log *slog.Logger) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, chatService, log)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/users", adminHandler.AddUserHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		log: log,
	}
}

func (s *AdminServer) Start() error {
	s.log.Info("Admin API started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
