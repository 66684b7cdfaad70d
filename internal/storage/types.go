package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID                  string `msgpack:"id"`
	UserName            string `msgpack:"userName"`
	DisplayName         string `msgpack:"displayName"`
	PasswordHash        string `msgpack:"passwordHash"`
	Status              string `msgpack:"status"`
	FailedLoginAttempts int64  `msgpack:"failedLoginAttempts"`
	LastAttemptTime     int64  `msgpack:"lastAttemptTime"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBProfile struct {
	UserID      string   `msgpack:"userId"`
	UserName    string   `msgpack:"userName"`
	Bio         string   `msgpack:"bio"`
	CreatedAt   int64    `msgpack:"createdAt"`
	MutualLikes []string `msgpack:"mutualLikes"`
}

func (p *DBProfile) Key() []byte {
	return []byte(p.UserID)
}

func (p *DBProfile) MarshalBinary() (data []byte, err error) {
	type alias DBProfile
	return msgpack.Marshal((*alias)(p))
}

func (p *DBProfile) UnmarshalBinary(data []byte) error {
	type alias DBProfile
	return msgpack.Unmarshal(data, (*alias)(p))
}

type DBRequest struct {
	ID         string `msgpack:"id"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Status     string `msgpack:"status"`
	CreatedAt  int64  `msgpack:"createdAt"`
	UpdatedAt  int64  `msgpack:"updatedAt"`
}

func (r *DBRequest) Key() []byte {
	return []byte(r.ID)
}

// PairKey indexes the ordered (sender, receiver) pair for duplicate detection.
// The NUL separator cannot appear in IDs, so keys never collide across pairs.
func (r *DBRequest) PairKey() []byte {
	key := make([]byte, 0, len(r.SenderID)+len(r.ReceiverID)+1)
	key = append(key, r.SenderID...)
	key = append(key, 0)
	key = append(key, r.ReceiverID...)
	return key
}

func (r *DBRequest) MarshalBinary() (data []byte, err error) {
	type alias DBRequest
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRequest) UnmarshalBinary(data []byte) error {
	type alias DBRequest
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBMessage struct {
	ID         string `msgpack:"id"`
	SenderID   string `msgpack:"senderId"`
	ReceiverID string `msgpack:"receiverId"`
	Content    string `msgpack:"content"`
	CreatedAt  int64  `msgpack:"createdAt"`
	IsRead     bool   `msgpack:"isRead"`
}

// Key orders messages chronologically: big-endian unix-nano timestamp with the
// message ID as a tiebreaker for same-nanosecond arrivals.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8, 8+len(m.ID))
	binary.BigEndian.PutUint64(key, uint64(m.CreatedAt))
	return append(key, m.ID...)
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBToken struct {
	UserID string `msgpack:"userId"`
	Token  string `msgpack:"token"`
}

func (t *DBToken) Key() []byte {
	return []byte(t.Token)
}

func (t *DBToken) MarshalBinary() (data []byte, err error) {
	type alias DBToken
	return msgpack.Marshal((*alias)(t))
}

func (t *DBToken) UnmarshalBinary(data []byte) error {
	type alias DBToken
	return msgpack.Unmarshal(data, (*alias)(t))
}
