package models

import "slices"

// User represents an account in the system. PasswordHash never leaves
// the storage/auth boundary.
type User struct {
	ID           string   `json:"id"`
	Username     string   `json:"username"`
	Email        string   `json:"email"`
	PasswordHash string   `json:"-"`
	Bio          string   `json:"bio,omitempty"`
	ProfilePhoto string   `json:"profilePhoto,omitempty"`
	Online       bool     `json:"online"`
	Chats        []string `json:"chats"`
	Friends      []string `json:"friends"`
	CreatedAt    int64    `json:"createdAt"` // Unix timestamp (seconds)
}

// UserSummary is the projection of a user attached to notifications.
type UserSummary struct {
	ID           string `json:"id"`
	Username     string `json:"username"`
	Bio          string `json:"bio,omitempty"`
	ProfilePhoto string `json:"profilePhoto,omitempty"`
	Online       bool   `json:"online"`
	CreatedAt    int64  `json:"createdAt"`
}

func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:           u.ID,
		Username:     u.Username,
		Bio:          u.Bio,
		ProfilePhoto: u.ProfilePhoto,
		Online:       u.Online,
		CreatedAt:    u.CreatedAt,
	}
}

func (u *User) IsFriend(id string) bool { return slices.Contains(u.Friends, id) }
func (u *User) InChat(id string) bool   { return slices.Contains(u.Chats, id) }

type ChatType string

const (
	ChatTypePrivate ChatType = "private"
	ChatTypeGroup   ChatType = "group"
)

// Chat is a tagged union over private and group conversations.
// Private chats carry exactly two ids in Members and no roles.
// Group chats carry Creator/Name/Description/Photo and an admin set.
// Invariants: Creator is always a member; Admins is a subset of Members.
type Chat struct {
	ID          string   `json:"id"`
	Type        ChatType `json:"type"`
	Creator     string   `json:"creator,omitempty"`
	Name        string   `json:"name,omitempty"`
	Description string   `json:"description,omitempty"`
	Photo       string   `json:"photo,omitempty"`
	Members     []string `json:"members"`
	Admins      []string `json:"admins,omitempty"`
	LastSeq     int64    `json:"lastSeq"`
	CreatedAt   int64    `json:"createdAt"`
}

func (c *Chat) IsMember(id string) bool { return slices.Contains(c.Members, id) }
func (c *Chat) IsAdmin(id string) bool  { return slices.Contains(c.Admins, id) }

// CanModerate reports whether the user may act as creator or admin of the chat.
func (c *Chat) CanModerate(id string) bool {
	return c.Creator == id || c.IsAdmin(id)
}

// ChatSummary is the chat projection attached to invite and join notifications.
type ChatSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Photo       string `json:"photo,omitempty"`
	Creator     string `json:"creator"`
	CreatedAt   int64  `json:"createdAt"`
}

func (c *Chat) Summary() ChatSummary {
	return ChatSummary{
		ID:          c.ID,
		Name:        c.Name,
		Description: c.Description,
		Photo:       c.Photo,
		Creator:     c.Creator,
		CreatedAt:   c.CreatedAt,
	}
}

type RequestType string

const (
	RequestFriend      RequestType = "friend"
	RequestPrivate     RequestType = "private"
	RequestGroupInvite RequestType = "group"
	RequestJoin        RequestType = "join"
)

// Request is a pending proposal to alter the social graph or chat
// membership, resolved exactly once by accept or decline.
//
// Field usage per type:
//   - friend/private: Sender, Receiver
//   - group (invite): Chat, Receiver
//   - join:           Sender, Chat
type Request struct {
	ID        string      `json:"id"`
	Type      RequestType `json:"type"`
	Sender    string      `json:"sender,omitempty"`
	Receiver  string      `json:"receiver,omitempty"`
	Chat      string      `json:"chat,omitempty"`
	CreatedAt int64       `json:"createdAt"`
}

// UniqueKey identifies the pending-request slot this request occupies.
// At most one unresolved request may exist per key.
func (r *Request) UniqueKey() string {
	switch r.Type {
	case RequestGroupInvite:
		return string(r.Type) + "|" + r.Chat + "|" + r.Receiver
	case RequestJoin:
		return string(r.Type) + "|" + r.Sender + "|" + r.Chat
	default:
		return string(r.Type) + "|" + r.Sender + "|" + r.Receiver
	}
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeMedia MessageType = "media"
)

// Message is one entry of a chat's append-only log. For media messages
// Content holds the stored file name.
type Message struct {
	Seq       int64       `json:"seq"`
	ChatID    string      `json:"chatId"`
	Sender    string      `json:"sender"`
	Type      MessageType `json:"type"`
	Content   string      `json:"content"`
	Timestamp int64       `json:"timestamp"` // Unix timestamp (seconds)
}

// AddID appends id to list unless already present.
func AddID(list []string, id string) []string {
	if slices.Contains(list, id) {
		return list
	}
	return append(list, id)
}

// RemoveID removes id from list, preserving order.
func RemoveID(list []string, id string) []string {
	if i := slices.Index(list, id); i >= 0 {
		return slices.Delete(list, i, i+1)
	}
	return list
}
