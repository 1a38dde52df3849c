package ws

import (
	"encoding/json"
	"fmt"

	"govorilka/internal/models"
)

// Inbound socket event names.
const (
	evSendPrivate = "request:send:private"
	evSendFriend  = "request:send:friend"
	evSendGroup   = "request:send:group"
	evSendJoin    = "request:send:join"
	evAccept      = "request:accept"
	evDecline     = "request:decline"

	evChatCreate            = "chat:create"
	evChatJoin              = "chat:join"
	evChatSendMessage       = "chat:sendMessage"
	evChatAddAdmin          = "chat:addAdmin"
	evChatRemoveAdmin       = "chat:removeAdmin"
	evChatRemoveMember      = "chat:removeMember"
	evChatChangeName        = "chat:changeName"
	evChatChangePhoto       = "chat:changePhoto"
	evChatChangeDescription = "chat:changeDescription"
	evChatTransferOwnership = "chat:transferOwnership"
	evChatLeave             = "chat:leave"
	evChatDelete            = "chat:delete"

	evUserRemoveFriend = "user:removeFriend"
	evUserDelete       = "user:delete"
)

// handlerFunc processes one inbound event. The returned map is merged into
// the acknowledgement next to "success".
type handlerFunc func(c *Connection, data json.RawMessage) (map[string]any, error)

func (s *Server) route(event string) handlerFunc {
	switch event {
	case evSendPrivate:
		return s.handleSendContact(models.RequestPrivate)
	case evSendFriend:
		return s.handleSendContact(models.RequestFriend)
	case evSendGroup:
		return s.handleSendGroupInvite
	case evSendJoin:
		return s.handleSendJoin
	case evAccept:
		return s.handleResolve(true)
	case evDecline:
		return s.handleResolve(false)
	case evChatCreate:
		return s.handleChatCreate
	case evChatJoin:
		return s.handleChatJoin
	case evChatSendMessage:
		return s.handleSendMessage
	case evChatAddAdmin:
		return s.handleSetAdmin(true)
	case evChatRemoveAdmin:
		return s.handleSetAdmin(false)
	case evChatRemoveMember:
		return s.handleRemoveMember
	case evChatChangeName:
		return s.handleChangeName
	case evChatChangePhoto:
		return s.handleChangePhoto
	case evChatChangeDescription:
		return s.handleChangeDescription
	case evChatTransferOwnership:
		return s.handleTransferOwnership
	case evChatLeave:
		return s.handleLeave
	case evChatDelete:
		return s.handleChatDelete
	case evUserRemoveFriend:
		return s.handleRemoveFriend
	case evUserDelete:
		return s.handleUserDelete
	default:
		return nil
	}
}

// decode unmarshals an event payload. Malformed payloads are rejected
// before any engine runs.
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("a data object must be provided: %w", models.ErrValidation)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed payload: %w", models.ErrValidation)
	}
	return nil
}

func require(field, value string) error {
	if value == "" {
		return fmt.Errorf("%s is required: %w", field, models.ErrValidation)
	}
	return nil
}

func (s *Server) handleSendContact(kind models.RequestType) handlerFunc {
	return func(c *Connection, data json.RawMessage) (map[string]any, error) {
		var p struct {
			ReceiverID string `json:"receiverId"`
		}
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := require("receiverId", p.ReceiverID); err != nil {
			return nil, err
		}
		id, err := s.engine.SendContact(c.userID, p.ReceiverID, kind)
		if err != nil {
			return nil, err
		}
		return map[string]any{"requestId": id}, nil
	}
}

func (s *Server) handleSendGroupInvite(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID     string `json:"chatId"`
		ReceiverID string `json:"receiverId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	if err := require("receiverId", p.ReceiverID); err != nil {
		return nil, err
	}
	id, err := s.engine.SendGroupInvite(c.userID, p.ChatID, p.ReceiverID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"requestId": id}, nil
}

func (s *Server) handleSendJoin(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	id, err := s.engine.SendJoin(c.userID, p.ChatID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"requestId": id}, nil
}

func (s *Server) handleResolve(accept bool) handlerFunc {
	return func(c *Connection, data json.RawMessage) (map[string]any, error) {
		var p struct {
			RequestID string `json:"requestId"`
		}
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := require("requestId", p.RequestID); err != nil {
			return nil, err
		}
		res, err := s.engine.Resolve(c.userID, p.RequestID, accept)
		if err != nil {
			return nil, err
		}
		result := map[string]any{"type": res.Type}
		if res.User != nil {
			result["user"] = res.User
		}
		if res.Chat != nil {
			result["chat"] = res.Chat
		}
		return result, nil
	}
}

func (s *Server) handleChatCreate(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		File        []byte `json:"file"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	chat, err := s.chats.CreateGroup(c.userID, p.Name, p.Description, p.File)
	if err != nil {
		return nil, err
	}
	return map[string]any{"chat": chat}, nil
}

func (s *Server) handleChatJoin(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	return nil, s.chats.JoinLive(c.userID, p.ChatID)
}

func (s *Server) handleSendMessage(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID  string `json:"chatId"`
		Type    string `json:"messageType"`
		Content string `json:"messageContent"`
		File    []byte `json:"file"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	if err := require("messageType", p.Type); err != nil {
		return nil, err
	}
	msg, err := s.chats.SendMessage(c.userID, p.ChatID, models.MessageType(p.Type), p.Content, p.File)
	if err != nil {
		return nil, err
	}
	return map[string]any{"message": msg}, nil
}

func (s *Server) handleSetAdmin(add bool) handlerFunc {
	return func(c *Connection, data json.RawMessage) (map[string]any, error) {
		var p struct {
			ChatID string `json:"chatId"`
			UserID string `json:"userId"`
		}
		if err := decode(data, &p); err != nil {
			return nil, err
		}
		if err := require("chatId", p.ChatID); err != nil {
			return nil, err
		}
		if err := require("userId", p.UserID); err != nil {
			return nil, err
		}
		return nil, s.chats.SetAdmin(c.userID, p.ChatID, p.UserID, add)
	}
}

func (s *Server) handleRemoveMember(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	if err := require("userId", p.UserID); err != nil {
		return nil, err
	}
	return nil, s.chats.RemoveMember(c.userID, p.ChatID, p.UserID)
}

func (s *Server) handleChangeName(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
		Name   string `json:"name"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	return nil, s.chats.Rename(c.userID, p.ChatID, p.Name)
}

func (s *Server) handleChangeDescription(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID      string `json:"chatId"`
		Description string `json:"description"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	return nil, s.chats.Redescribe(c.userID, p.ChatID, p.Description)
}

func (s *Server) handleChangePhoto(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
		File   []byte `json:"file"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	return nil, s.chats.Rephoto(c.userID, p.ChatID, p.File)
}

func (s *Server) handleTransferOwnership(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
		UserID string `json:"userId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	if err := require("userId", p.UserID); err != nil {
		return nil, err
	}
	return nil, s.chats.TransferOwnership(c.userID, p.ChatID, p.UserID)
}

func (s *Server) handleLeave(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	return nil, s.chats.Leave(c.userID, p.ChatID)
}

func (s *Server) handleChatDelete(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		ChatID string `json:"chatId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("chatId", p.ChatID); err != nil {
		return nil, err
	}
	return nil, s.chats.DeleteGroup(c.userID, p.ChatID)
}

func (s *Server) handleRemoveFriend(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		FriendID string `json:"friendId"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("friendId", p.FriendID); err != nil {
		return nil, err
	}
	return nil, s.users.RemoveFriend(c.userID, p.FriendID)
}

func (s *Server) handleUserDelete(c *Connection, data json.RawMessage) (map[string]any, error) {
	var p struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := require("email", p.Email); err != nil {
		return nil, err
	}
	if err := require("password", p.Password); err != nil {
		return nil, err
	}
	return nil, s.users.DeleteAccount(c.userID, p.Email, p.Password)
}
