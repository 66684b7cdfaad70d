package storage

import (
	"fmt"
	"slices"
	"time"

	"mutuals/internal/auth"
	"mutuals/internal/models"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	bucketUsers        = []byte("users")
	bucketProfiles     = []byte("profiles")
	bucketRequests     = []byte("requests")
	bucketRequestPairs = []byte("request_pairs")
	bucketMessages     = []byte("messages")
	bucketTokens       = []byte("tokens")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, bucket := range [][]byte{
			bucketUsers,
			bucketProfiles,
			bucketRequests,
			bucketRequestPairs,
			bucketMessages,
			bucketTokens,
		} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// EnsureProfile creates the profile for the given user if it does not exist
// yet. It is idempotent and safe to call on every connection.
func (s *BboltStorage) EnsureProfile(user models.User) (models.Profile, error) {
	var profile models.Profile
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		if data := b.Get([]byte(user.ID)); data != nil {
			var dbProfile DBProfile
			if err := dbProfile.UnmarshalBinary(data); err != nil {
				return err
			}
			profile = toProfile(dbProfile)
			return nil
		}

		dbProfile := DBProfile{
			UserID:    user.ID,
			UserName:  user.UserName,
			CreatedAt: time.Now().Unix(),
		}
		data, err := dbProfile.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbProfile.Key(), data); err != nil {
			return err
		}
		profile = toProfile(dbProfile)
		return nil
	})
	return profile, err
}

func (s *BboltStorage) GetProfile(userID string) (models.Profile, error) {
	var profile models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		dbProfile, err := getProfile(tx, userID)
		if err != nil {
			return err
		}
		profile = toProfile(dbProfile)
		return nil
	})
	return profile, err
}

func (s *BboltStorage) ListProfiles() ([]models.Profile, error) {
	var profiles []models.Profile
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketProfiles)
		return b.ForEach(func(k, v []byte) error {
			var dbProfile DBProfile
			if err := dbProfile.UnmarshalBinary(v); err != nil {
				return err
			}
			profiles = append(profiles, toProfile(dbProfile))
			return nil
		})
	})
	return profiles, err
}

// CreateRequest records a pending chat request from sender to receiver.
// At most one request may exist per ordered (sender, receiver) pair; a
// duplicate submission fails with models.ErrDuplicateRequest regardless of the
// existing request's status.
func (s *BboltStorage) CreateRequest(senderID, receiverID string) (models.ChatRequest, error) {
	var request models.ChatRequest
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := getProfile(tx, receiverID); err != nil {
			return err
		}

		now := time.Now().Unix()
		dbRequest := DBRequest{
			ID:         uuid.NewString(),
			SenderID:   senderID,
			ReceiverID: receiverID,
			Status:     string(models.RequestStatusPending),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		pairs := tx.Bucket(bucketRequestPairs)
		if pairs.Get(dbRequest.PairKey()) != nil {
			return models.ErrDuplicateRequest
		}
		if err := pairs.Put(dbRequest.PairKey(), []byte(dbRequest.ID)); err != nil {
			return err
		}

		data, err := dbRequest.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketRequests).Put(dbRequest.Key(), data); err != nil {
			return err
		}

		request = toRequest(dbRequest)
		return nil
	})
	return request, err
}

// RespondRequest applies the receiver's decision to a pending request. When
// the decision is accepted, both profiles are added to each other's mutual
// likes in the same transaction as the status flip, so the consent relation is
// never one-sided. A request that has already been decided cannot be decided
// again.
func (s *BboltStorage) RespondRequest(requestID, responderID string, decision models.RequestStatus) (models.ChatRequest, error) {
	var request models.ChatRequest
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		data := b.Get([]byte(requestID))
		if data == nil {
			return models.ErrNotFound
		}

		var dbRequest DBRequest
		if err := dbRequest.UnmarshalBinary(data); err != nil {
			return err
		}
		if dbRequest.ReceiverID != responderID {
			return models.ErrForbidden
		}
		if dbRequest.Status != string(models.RequestStatusPending) {
			return models.ErrForbidden
		}

		dbRequest.Status = string(decision)
		dbRequest.UpdatedAt = time.Now().Unix()

		updated, err := dbRequest.MarshalBinary()
		if err != nil {
			return err
		}
		if err := b.Put(dbRequest.Key(), updated); err != nil {
			return err
		}

		if decision == models.RequestStatusAccepted {
			if err := addMutualLike(tx, dbRequest.SenderID, dbRequest.ReceiverID); err != nil {
				return err
			}
			if err := addMutualLike(tx, dbRequest.ReceiverID, dbRequest.SenderID); err != nil {
				return err
			}
		}

		request = toRequest(dbRequest)
		return nil
	})
	return request, err
}

// ListRequests returns every request in which the user is sender or receiver,
// any status, in creation order.
func (s *BboltStorage) ListRequests(userID string) ([]models.ChatRequest, error) {
	var requests []models.ChatRequest
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketRequests)
		return b.ForEach(func(k, v []byte) error {
			var dbRequest DBRequest
			if err := dbRequest.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbRequest.SenderID == userID || dbRequest.ReceiverID == userID {
				requests = append(requests, toRequest(dbRequest))
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	slices.SortFunc(requests, func(a, b models.ChatRequest) int {
		return int(a.CreatedAt - b.CreatedAt)
	})
	return requests, nil
}

// CreateMessage persists a message after verifying, inside the transaction,
// that sender and receiver are present in each other's mutual likes.
func (s *BboltStorage) CreateMessage(senderID, receiverID, content string) (models.Message, error) {
	var message models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		sender, err := getProfile(tx, senderID)
		if err != nil {
			return err
		}
		receiver, err := getProfile(tx, receiverID)
		if err != nil {
			return err
		}
		if !slices.Contains(sender.MutualLikes, receiverID) ||
			!slices.Contains(receiver.MutualLikes, senderID) {
			return models.ErrNotMutual
		}

		dbMessage := DBMessage{
			ID:         uuid.NewString(),
			SenderID:   senderID,
			ReceiverID: receiverID,
			Content:    content,
			CreatedAt:  time.Now().UnixNano(),
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketMessages).Put(dbMessage.Key(), data); err != nil {
			return err
		}

		message = toMessage(dbMessage)
		return nil
	})
	return message, err
}

// ListMessages returns the user's sent and received messages in chronological
// order (the message keys sort by creation time).
func (s *BboltStorage) ListMessages(userID string) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(k, v []byte) error {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMessage.SenderID == userID || dbMessage.ReceiverID == userID {
				messages = append(messages, toMessage(dbMessage))
			}
			return nil
		})
	})
	return messages, err
}

// MarkMessageRead sets is_read on a received message. Re-marking an already
// read message is a no-op success.
func (s *BboltStorage) MarkMessageRead(messageID, readerID string) (models.Message, error) {
	var message models.Message
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)

		var key []byte
		var dbMessage DBMessage
		err := b.ForEach(func(k, v []byte) error {
			var candidate DBMessage
			if err := candidate.UnmarshalBinary(v); err != nil {
				return err
			}
			if candidate.ID == messageID {
				key = slices.Clone(k)
				dbMessage = candidate
			}
			return nil
		})
		if err != nil {
			return err
		}
		if key == nil {
			return models.ErrNotFound
		}
		if dbMessage.ReceiverID != readerID {
			return models.ErrForbidden
		}

		if !dbMessage.IsRead {
			dbMessage.IsRead = true
			data, err := dbMessage.MarshalBinary()
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}

		message = toMessage(dbMessage)
		return nil
	})
	return message, err
}

// UnreadCount counts messages received by the user that are not yet read.
func (s *BboltStorage) UnreadCount(userID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketMessages)
		return b.ForEach(func(k, v []byte) error {
			var dbMessage DBMessage
			if err := dbMessage.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMessage.ReceiverID == userID && !dbMessage.IsRead {
				count++
			}
			return nil
		})
	})
	return count, err
}

// UpsertCredentials stores new or updated user credentials.
func (s *BboltStorage) UpsertCredentials(credentials auth.UserCredentials) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbUser := &DBUser{
			ID:                  credentials.ID,
			UserName:            credentials.UserName,
			DisplayName:         credentials.DisplayName,
			PasswordHash:        credentials.PasswordHash,
			Status:              string(credentials.Status),
			FailedLoginAttempts: credentials.FailedLoginAttempts,
			LastAttemptTime:     credentials.LastAttemptTime,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
	})
}

// ListCredentials returns all user credentials stored in the database.
func (s *BboltStorage) ListCredentials() ([]auth.UserCredentials, error) {
	var credentials []auth.UserCredentials
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		return b.ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			credentials = append(credentials, auth.UserCredentials{
				User: models.User{
					ID:          dbUser.ID,
					UserName:    dbUser.UserName,
					DisplayName: dbUser.DisplayName,
					Status:      models.UserStatus(dbUser.Status),
				},
				PasswordHash:        dbUser.PasswordHash,
				FailedLoginAttempts: dbUser.FailedLoginAttempts,
				LastAttemptTime:     dbUser.LastAttemptTime,
			})
			return nil
		})
	})
	return credentials, err
}

func (s *BboltStorage) UpsertToken(userID string, tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		dbToken := &DBToken{
			UserID: userID,
			Token:  tokenHash,
		}
		data, err := dbToken.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.Bucket(bucketTokens).Put(dbToken.Key(), data)
	})
}

func (s *BboltStorage) DeleteToken(tokenHash string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenHash))
	})
}

func (s *BboltStorage) ListTokens() (map[string]string, error) {
	tokens := make(map[string]string)
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		return b.ForEach(func(k, v []byte) error {
			var dbToken DBToken
			if err := dbToken.UnmarshalBinary(v); err != nil {
				return err
			}
			tokens[dbToken.Token] = dbToken.UserID
			return nil
		})
	})
	return tokens, err
}

func getProfile(tx *bbolt.Tx, userID string) (DBProfile, error) {
	var dbProfile DBProfile
	data := tx.Bucket(bucketProfiles).Get([]byte(userID))
	if data == nil {
		return dbProfile, models.ErrNotFound
	}
	if err := dbProfile.UnmarshalBinary(data); err != nil {
		return dbProfile, err
	}
	return dbProfile, nil
}

func addMutualLike(tx *bbolt.Tx, userID, otherID string) error {
	dbProfile, err := getProfile(tx, userID)
	if err != nil {
		return err
	}
	if slices.Contains(dbProfile.MutualLikes, otherID) {
		return nil
	}
	dbProfile.MutualLikes = append(dbProfile.MutualLikes, otherID)
	data, err := dbProfile.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketProfiles).Put(dbProfile.Key(), data)
}

func toProfile(p DBProfile) models.Profile {
	return models.Profile{
		UserID:      p.UserID,
		UserName:    p.UserName,
		Bio:         p.Bio,
		CreatedAt:   p.CreatedAt,
		MutualLikes: slices.Clone(p.MutualLikes),
	}
}

func toRequest(r DBRequest) models.ChatRequest {
	return models.ChatRequest{
		ID:         r.ID,
		SenderID:   r.SenderID,
		ReceiverID: r.ReceiverID,
		Status:     models.RequestStatus(r.Status),
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
}

func toMessage(m DBMessage) models.Message {
	return models.Message{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Content:    m.Content,
		CreatedAt:  m.CreatedAt,
		IsRead:     m.IsRead,
	}
}
