package models

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusDeleted UserStatus = "deleted"
)

// User represents an account in the user directory.
type User struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	DisplayName string     `json:"displayName"`
	Status      UserStatus `json:"status"`
}

// Profile is the chat-facing view of a user. MutualLikes holds the IDs of
// users this profile is mutually matched with; membership is always symmetric
// (both sides are updated in the same storage transaction).
type Profile struct {
	UserID      string   `json:"userId"`
	UserName    string   `json:"userName"`
	Bio         string   `json:"bio,omitempty"`
	CreatedAt   int64    `json:"createdAt"` // Unix timestamp (seconds)
	MutualLikes []string `json:"mutualLikes"`
}

type RequestStatus string

const (
	RequestStatusPending  RequestStatus = "pending"
	RequestStatusAccepted RequestStatus = "accepted"
	RequestStatusRejected RequestStatus = "rejected"
)

// ChatRequest is a one-directional match request. It is created by the sender
// and only ever mutated by the receiver's single response.
type ChatRequest struct {
	ID         string        `json:"id"`
	SenderID   string        `json:"senderId"`
	ReceiverID string        `json:"receiverId"`
	Status     RequestStatus `json:"status"`
	CreatedAt  int64         `json:"createdAt"`
	UpdatedAt  int64         `json:"updatedAt"`
}

// Message is a persisted direct message between two mutually matched users.
type Message struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	CreatedAt  int64  `json:"createdAt"` // Unix timestamp (nanoseconds)
	IsRead     bool   `json:"isRead"`
}

type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
