package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"

	"govorilka/internal/models"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID           string   `msgpack:"id"`
	Username     string   `msgpack:"username"`
	Email        string   `msgpack:"email"`
	PasswordHash string   `msgpack:"passwordHash"`
	Bio          string   `msgpack:"bio"`
	ProfilePhoto string   `msgpack:"profilePhoto"`
	Online       bool     `msgpack:"online"`
	Chats        []string `msgpack:"chats"`
	Friends      []string `msgpack:"friends"`
	CreatedAt    int64    `msgpack:"createdAt"`
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

func userToDB(u *models.User) *DBUser {
	return &DBUser{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Bio:          u.Bio,
		ProfilePhoto: u.ProfilePhoto,
		Online:       u.Online,
		Chats:        u.Chats,
		Friends:      u.Friends,
		CreatedAt:    u.CreatedAt,
	}
}

func (u *DBUser) toModel() *models.User {
	return &models.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Bio:          u.Bio,
		ProfilePhoto: u.ProfilePhoto,
		Online:       u.Online,
		Chats:        u.Chats,
		Friends:      u.Friends,
		CreatedAt:    u.CreatedAt,
	}
}

type DBChat struct {
	ID          string   `msgpack:"id"`
	Type        string   `msgpack:"type"`
	Creator     string   `msgpack:"creator"`
	Name        string   `msgpack:"name"`
	Description string   `msgpack:"description"`
	Photo       string   `msgpack:"photo"`
	Members     []string `msgpack:"members"`
	Admins      []string `msgpack:"admins"`
	LastSeq     int64    `msgpack:"lastSeq"`
	CreatedAt   int64    `msgpack:"createdAt"`
}

func (c *DBChat) Key() []byte {
	return []byte(c.ID)
}

func (c *DBChat) MarshalBinary() (data []byte, err error) {
	type alias DBChat
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChat) UnmarshalBinary(data []byte) error {
	type alias DBChat
	return msgpack.Unmarshal(data, (*alias)(c))
}

func chatToDB(c *models.Chat) *DBChat {
	return &DBChat{
		ID:          c.ID,
		Type:        string(c.Type),
		Creator:     c.Creator,
		Name:        c.Name,
		Description: c.Description,
		Photo:       c.Photo,
		Members:     c.Members,
		Admins:      c.Admins,
		LastSeq:     c.LastSeq,
		CreatedAt:   c.CreatedAt,
	}
}

func (c *DBChat) toModel() *models.Chat {
	return &models.Chat{
		ID:          c.ID,
		Type:        models.ChatType(c.Type),
		Creator:     c.Creator,
		Name:        c.Name,
		Description: c.Description,
		Photo:       c.Photo,
		Members:     c.Members,
		Admins:      c.Admins,
		LastSeq:     c.LastSeq,
		CreatedAt:   c.CreatedAt,
	}
}

type DBRequest struct {
	ID        string `msgpack:"id"`
	Type      string `msgpack:"type"`
	Sender    string `msgpack:"sender"`
	Receiver  string `msgpack:"receiver"`
	Chat      string `msgpack:"chat"`
	CreatedAt int64  `msgpack:"createdAt"`
}

func (r *DBRequest) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRequest) MarshalBinary() (data []byte, err error) {
	type alias DBRequest
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRequest) UnmarshalBinary(data []byte) error {
	type alias DBRequest
	return msgpack.Unmarshal(data, (*alias)(r))
}

func requestToDB(r *models.Request) *DBRequest {
	return &DBRequest{
		ID:        r.ID,
		Type:      string(r.Type),
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Chat:      r.Chat,
		CreatedAt: r.CreatedAt,
	}
}

func (r *DBRequest) toModel() *models.Request {
	return &models.Request{
		ID:        r.ID,
		Type:      models.RequestType(r.Type),
		Sender:    r.Sender,
		Receiver:  r.Receiver,
		Chat:      r.Chat,
		CreatedAt: r.CreatedAt,
	}
}

type DBMessage struct {
	Seq       int64  `msgpack:"seq"`
	ChatID    string `msgpack:"chatId"`
	Sender    string `msgpack:"sender"`
	Type      string `msgpack:"type"`
	Content   string `msgpack:"content"`
	Timestamp int64  `msgpack:"timestamp"`
}

func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(m.Seq))
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

func messageToDB(m *models.Message) *DBMessage {
	return &DBMessage{
		Seq:       m.Seq,
		ChatID:    m.ChatID,
		Sender:    m.Sender,
		Type:      string(m.Type),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}

func (m *DBMessage) toModel() models.Message {
	return models.Message{
		Seq:       m.Seq,
		ChatID:    m.ChatID,
		Sender:    m.Sender,
		Type:      models.MessageType(m.Type),
		Content:   m.Content,
		Timestamp: m.Timestamp,
	}
}
