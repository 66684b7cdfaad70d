package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"mutuals/internal/auth"
	"mutuals/internal/chat"
	"mutuals/internal/models"

	"github.com/go-playground/validator/v10"
)

type API struct {
	auth     *auth.AuthService
	chat     *chat.Service
	validate *validator.Validate
	log      *slog.Logger
}

func New(authService *auth.AuthService, chatService *chat.Service, log *slog.Logger) *API {
	return &API{
		auth:     authService,
		chat:     chatService,
		validate: validator.New(),
		log:      log,
	}
}

// RequireAuth resolves the session token and passes the authenticated user ID
// to the wrapped handler.
func (a *API) RequireAuth(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.auth.GetUserID(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, userID)
	}
}

// RequireSameOrigin rejects state-changing requests whose Origin or Referer
// does not match the request host. Browser cross-site requests always carry
// an Origin header, so this covers the CSRF cases cookie auth is exposed to.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = r.Header.Get("Referer")
		}
		if origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	loginResp, userID := a.auth.Login(req)
	if !loginResp.Success {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		a.encode(w, loginResp)
		return
	}

	// The profile is created lazily on first login, mirroring the live
	// connection path.
	if user, err := a.auth.GetUser(userID); err == nil {
		if _, err := a.chat.EnsureProfile(user); err != nil {
			a.log.Error("failed to ensure profile on login", "user_id", userID, "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    loginResp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(loginResp.TokenExpiry, 0),
	})

	w.Header().Set("Content-Type", "application/json")
	a.encode(w, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	if token := a.getToken(r); token != "" {
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "token",
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

// ProfilesHandler lists every profile except the caller's own.
func (a *API) ProfilesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	profiles, err := a.chat.Profiles(userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, profiles)
}

// MutualLikesHandler lists the caller's mutually matched profiles.
func (a *API) MutualLikesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	profiles, err := a.chat.MutualLikes(userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if profiles == nil {
		profiles = []models.Profile{}
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, profiles)
}

// SendRequestHandler creates a chat request to the profile in the path.
func (a *API) SendRequestHandler(w http.ResponseWriter, r *http.Request, userID string) {
	receiverID := r.PathValue("id")
	request, err := a.chat.SendRequest(userID, receiverID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	a.encode(w, request)
}

// RequestsHandler lists the caller's requests, sent and received, any status.
func (a *API) RequestsHandler(w http.ResponseWriter, r *http.Request, userID string) {
	requests, err := a.chat.Requests(userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if requests == nil {
		requests = []models.ChatRequest{}
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, requests)
}

type RespondRequestBody struct {
	Response string `json:"response" validate:"required"`
}

// RespondRequestHandler applies the caller's decision to a request.
func (a *API) RespondRequestHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var body RespondRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	request, err := a.chat.Respond(r.PathValue("id"), userID, models.RequestStatus(body.Response))
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, request)
}

// MessagesHandler lists the caller's messages in chronological order.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	messages, err := a.chat.Messages(userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, messages)
}

type SendMessageBody struct {
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content"`
}

// SendMessageHandler persists a message to a mutually matched receiver. This
// path does not publish to live connections; the websocket relay is a
// separate, non-persisting channel.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request, userID string) {
	var body SendMessageBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	message, err := a.chat.SendMessage(userID, body.ReceiverID, body.Content)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	a.encode(w, message)
}

// MarkReadHandler marks a received message as read.
func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request, userID string) {
	message, err := a.chat.MarkRead(r.PathValue("id"), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, message)
}

// UnreadCountHandler reports the caller's unread message count.
func (a *API) UnreadCountHandler(w http.ResponseWriter, r *http.Request, userID string) {
	count, err := a.chat.UnreadCount(userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	a.encode(w, map[string]int{"count": count})
}

func (a *API) getToken(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie("token"); err == nil {
			token = c.Value
		}
	}
	return token
}

// writeError maps domain errors to HTTP statuses; anything unrecognized is an
// internal failure and its details stay out of the response.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	message := "internal error"

	switch {
	case errors.Is(err, models.ErrNotFound):
		status, message = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrForbidden), errors.Is(err, models.ErrNotMutual):
		status, message = http.StatusForbidden, err.Error()
	case errors.Is(err, models.ErrDuplicateRequest):
		status, message = http.StatusConflict, err.Error()
	case errors.Is(err, models.ErrSelfTarget),
		errors.Is(err, models.ErrInvalidDecision),
		errors.Is(err, models.ErrEmptyContent):
		status, message = http.StatusBadRequest, err.Error()
	default:
		a.log.Error("request failed", "error", err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	a.encode(w, models.APIResponse{Success: false, Message: message})
}

func (a *API) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Error("failed to encode response", "error", err)
	}
}
