package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"mutuals/internal/auth"
	"mutuals/internal/chat"
)

type AdminHandler struct {
	authService *auth.AuthService
	chatService *chat.Service
	log         *slog.Logger
}

func NewAdminHandler(authService *auth.AuthService, chatService *chat.Service, log *slog.Logger) *AdminHandler {
	return &AdminHandler{authService: authService, chatService: chatService, log: log}
}

type AddUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddUserHandler creates an account and its profile. When no password is
// supplied a random one is generated and returned once in the response.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" {
		http.Error(w, "Username is required", http.StatusBadRequest)
		return
	}

	password := req.Password
	if password == "" {
		var err error
		password, err = generatePassword()
		if err != nil {
			http.Error(w, "Failed to generate password", http.StatusInternalServerError)
			return
		}
	}

	user, err := h.authService.AddUser(req.Username, password)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	if _, err := h.chatService.EnsureProfile(user); err != nil {
		h.log.Error("failed to create profile for new user", "user_id", user.ID, "error", err)
	}

	h.log.Info("user created", "user_id", user.ID, "username", user.UserName)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(AddUserResponse{
		Success:  true,
		Username: user.UserName,
		Password: password,
	}); err != nil {
		h.log.Error("failed to encode add user response", "error", err)
	}
}

func generatePassword() (string, error) {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
