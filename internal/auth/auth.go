package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mutuals/internal/content"
	"mutuals/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	loginFailedMessage = "Login failed"
)

var ErrUserExists = errors.New("user already exists")

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"failedLoginAttempts"`
	LastAttemptTime     int64 `json:"lastAttemptTime"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

// Store persists credentials and session tokens between restarts.
// Implemented by storage.BboltStorage.
type Store interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
	UpsertToken(userID string, tokenHash string) error
	DeleteToken(tokenHash string) error
	ListTokens() (map[string]string, error)
}

type Config struct {
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}
	if c.TokenExpiry < 0 {
		return errors.New("token expiry must be positive")
	}
	return nil
}

type AuthService struct {
	Config
	store Store
	users *geche.Locker[string, *UserCredentials]
	// userID -> username, to resolve authenticated sessions back to accounts.
	byID geche.Geche[string, string]
	// token hash -> userID
	liveTokens geche.Geche[string, string]
	now        func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store Store) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:     config,
		store:      store,
		users:      geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		byID:       geche.NewMapCache[string, string](),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		now:        time.Now,
	}

	credentials, err := store.ListCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	tx := as.users.Lock()
	for _, c := range credentials {
		if c.Status == models.UserStatusDeleted {
			continue
		}
		uc := c
		tx.Set(c.UserName, &uc)
		as.byID.Set(c.ID, c.UserName)
	}
	tx.Unlock()

	tokens, err := store.ListTokens()
	if err != nil {
		return nil, fmt.Errorf("failed to load tokens: %w", err)
	}
	for tokenHash, userID := range tokens {
		as.liveTokens.Set(tokenHash, userID)
	}

	return as, nil
}

// AddUser creates an account with the given username and password.
func (as *AuthService) AddUser(username, password string) (models.User, error) {
	if err := content.ValidateUsername(username); err != nil {
		return models.User{}, err
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(username); err == nil {
		return models.User{}, ErrUserExists
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return models.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	uc := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    username,
			DisplayName: username,
			Status:      models.UserStatusActive,
		},
		PasswordHash: passwordHash,
	}
	if err := as.store.UpsertCredentials(*uc); err != nil {
		return models.User{}, fmt.Errorf("failed to persist credentials: %w", err)
	}

	tx.Set(username, uc)
	as.byID.Set(uc.ID, username)

	return uc.User, nil
}

func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	// Quadratic backoff after repeated failures.
	if user.FailedLoginAttempts > 3 {
		nextAttempt := user.LastAttemptTime + 30*(user.FailedLoginAttempts*user.FailedLoginAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, ""
		}
	}

	ok, err := VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		user.IncrementFailedLoginAttempts(now)
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	token, err := as.generateToken()
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return LoginResponse{
			Success: false,
			Message: "internal error",
		}, ""
	}

	tokenHash := hashToken(token)
	as.liveTokens.Set(tokenHash, user.ID)
	if err := as.store.UpsertToken(user.ID, tokenHash); err != nil {
		slog.Error("failed to persist session token", "user_id", user.ID, "error", err)
	}
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: now.Unix() + int64(as.TokenExpiry.Seconds()),
	}, user.ID
}

func (as *AuthService) Logoff(token string) error {
	tokenHash := hashToken(token)
	if err := as.store.DeleteToken(tokenHash); err != nil {
		slog.Error("failed to delete session token", "error", err)
	}
	return as.liveTokens.Del(tokenHash)
}

// GetUserID resolves a session token to a user ID or fails for unknown or
// expired tokens.
func (as *AuthService) GetUserID(token string) (string, error) {
	return as.liveTokens.Get(hashToken(token))
}

// GetUser returns the directory record for a user ID.
func (as *AuthService) GetUser(userID string) (models.User, error) {
	username, err := as.byID.Get(userID)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	tx := as.users.Lock()
	defer tx.Unlock()
	uc, err := tx.Get(username)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return uc.User, nil
}

func (as *AuthService) generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// Tokens are stored hashed so a leaked database does not leak live sessions.
func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
