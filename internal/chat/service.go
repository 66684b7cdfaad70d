package chat

import (
	"log/slog"
	"strings"

	"mutuals/internal/content"
	"mutuals/internal/models"

	"github.com/samber/lo"
)

// Store is the directory store the service runs against. The multi-record
// invariants (duplicate request detection, symmetric mutual-like updates, the
// mutual-consent gate on message creation) are enforced inside the store's
// transactions; the service adds the per-call validation on top.
type Store interface {
	EnsureProfile(user models.User) (models.Profile, error)
	GetProfile(userID string) (models.Profile, error)
	ListProfiles() ([]models.Profile, error)
	CreateRequest(senderID, receiverID string) (models.ChatRequest, error)
	RespondRequest(requestID, responderID string, decision models.RequestStatus) (models.ChatRequest, error)
	ListRequests(userID string) ([]models.ChatRequest, error)
	CreateMessage(senderID, receiverID, content string) (models.Message, error)
	ListMessages(userID string) ([]models.Message, error)
	MarkMessageRead(messageID, readerID string) (models.Message, error)
	UnreadCount(userID string) (int, error)
}

type Service struct {
	store Store
	log   *slog.Logger
}

func New(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log}
}

// EnsureProfile creates the caller's profile if it does not exist yet.
func (s *Service) EnsureProfile(user models.User) (models.Profile, error) {
	return s.store.EnsureProfile(user)
}

// Profiles lists every profile except the caller's own.
func (s *Service) Profiles(callerID string) ([]models.Profile, error) {
	profiles, err := s.store.ListProfiles()
	if err != nil {
		return nil, err
	}
	return lo.Filter(profiles, func(p models.Profile, _ int) bool {
		return p.UserID != callerID
	}), nil
}

// MutualLikes returns the profiles the caller is mutually matched with.
func (s *Service) MutualLikes(callerID string) ([]models.Profile, error) {
	caller, err := s.store.GetProfile(callerID)
	if err != nil {
		return nil, err
	}
	profiles, err := s.store.ListProfiles()
	if err != nil {
		return nil, err
	}
	return lo.Filter(profiles, func(p models.Profile, _ int) bool {
		return lo.Contains(caller.MutualLikes, p.UserID)
	}), nil
}

// SendRequest creates a pending chat request from sender to receiver.
func (s *Service) SendRequest(senderID, receiverID string) (models.ChatRequest, error) {
	if receiverID == senderID {
		return models.ChatRequest{}, models.ErrSelfTarget
	}
	request, err := s.store.CreateRequest(senderID, receiverID)
	if err != nil {
		return models.ChatRequest{}, err
	}
	s.log.Info("chat request created", "request_id", request.ID, "sender_id", senderID, "receiver_id", receiverID)
	return request, nil
}

// Respond applies the receiver's accept/reject decision to a request. Only
// the request's receiver may respond, and only while the request is pending.
func (s *Service) Respond(requestID, responderID string, decision models.RequestStatus) (models.ChatRequest, error) {
	if decision != models.RequestStatusAccepted && decision != models.RequestStatusRejected {
		return models.ChatRequest{}, models.ErrInvalidDecision
	}
	request, err := s.store.RespondRequest(requestID, responderID, decision)
	if err != nil {
		return models.ChatRequest{}, err
	}
	s.log.Info("chat request decided", "request_id", requestID, "status", request.Status)
	return request, nil
}

// Requests lists all requests in which the user is sender or receiver.
func (s *Service) Requests(userID string) ([]models.ChatRequest, error) {
	return s.store.ListRequests(userID)
}

// SendMessage persists a message to a mutually matched receiver. Content is
// sanitized before it is stored.
func (s *Service) SendMessage(senderID, receiverID, body string) (models.Message, error) {
	body = strings.TrimSpace(content.Sanitize(body))
	if body == "" {
		return models.Message{}, models.ErrEmptyContent
	}
	return s.store.CreateMessage(senderID, receiverID, body)
}

// Messages lists the user's sent and received messages in chronological order.
func (s *Service) Messages(userID string) ([]models.Message, error) {
	return s.store.ListMessages(userID)
}

// MarkRead marks a received message as read. Idempotent.
func (s *Service) MarkRead(messageID, readerID string) (models.Message, error) {
	return s.store.MarkMessageRead(messageID, readerID)
}

// UnreadCount counts unread messages addressed to the user.
func (s *Service) UnreadCount(userID string) (int, error) {
	return s.store.UnreadCount(userID)
}
