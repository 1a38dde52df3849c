// Package chats implements group chat creation and the creator/admin/member
// role transitions, plus chat-scoped content: messages and metadata.
package chats

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"

	"govorilka/internal/content"
	"govorilka/internal/events"
	"govorilka/internal/filestore"
	"govorilka/internal/models"
	"govorilka/internal/storage"
)

// Manager governs chat membership and content. Like the request engine,
// every mutation is one storage transaction with notifications queued for
// after commit.
type Manager struct {
	store  *storage.Store
	fanout events.Fanout
	files  filestore.FileStore
	now    func() time.Time
	newID  func() string
}

func NewManager(store *storage.Store, fanout events.Fanout, files filestore.FileStore) *Manager {
	return &Manager{
		store:  store,
		fanout: fanout,
		files:  files,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type memberPayload struct {
	Member models.UserSummary `json:"member"`
}

type adminPayload struct {
	Admin models.UserSummary `json:"admin"`
}

type messagePayload struct {
	Message models.Message     `json:"message"`
	By      models.UserSummary `json:"by"`
}

type fieldPayload struct {
	ChatID      string `json:"chatId"`
	Name        string `json:"name,omitempty"`
	Photo       string `json:"photo,omitempty"`
	Description string `json:"description,omitempty"`
}

type transferPayload struct {
	ChatID  string             `json:"chatId"`
	Creator models.UserSummary `json:"creator"`
}

type deletePayload struct {
	ChatID string `json:"chatId"`
}

// CreateGroup creates a new group chat owned by the creator, who starts as
// its only member. The optional photo is sniffed before acceptance.
func (m *Manager) CreateGroup(actorID, name, description string, photo []byte) (*models.Chat, error) {
	name = content.Sanitize(name)
	if name == "" {
		return nil, fmt.Errorf("chat name is required: %w", models.ErrValidation)
	}

	photoName, err := m.storePhoto(photo)
	if err != nil {
		return nil, err
	}

	var chat *models.Chat
	err = m.store.Update(func(tx *storage.Tx) error {
		actor, err := tx.User(actorID)
		if err != nil {
			return err
		}

		chat = &models.Chat{
			ID:          m.newID(),
			Type:        models.ChatTypeGroup,
			Creator:     actorID,
			Name:        name,
			Description: content.Sanitize(description),
			Photo:       photoName,
			Members:     []string{actorID},
			CreatedAt:   m.now().Unix(),
		}
		if err := tx.PutChat(chat); err != nil {
			return err
		}

		actor.Chats = models.AddID(actor.Chats, chat.ID)
		return tx.PutUser(actor)
	})
	if err != nil {
		return nil, err
	}

	m.fanout.JoinRoom(actorID, chat.ID)
	return chat, nil
}

// SetAdmin grants or revokes admin rights. Creator only.
func (m *Manager) SetAdmin(actorID, chatID, targetID string, add bool) error {
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		target, err := tx.User(targetID)
		if err != nil {
			return err
		}
		chat, err := m.groupChat(tx, chatID)
		if err != nil {
			return err
		}

		if chat.Creator != actorID {
			return fmt.Errorf("only the creator may manage admins: %w", models.ErrUnauthorized)
		}
		if !chat.IsMember(targetID) {
			return fmt.Errorf("user is not a member: %w", models.ErrConflict)
		}
		if add && chat.IsAdmin(targetID) {
			return fmt.Errorf("user is already an admin: %w", models.ErrConflict)
		}
		if !add && !chat.IsAdmin(targetID) {
			return fmt.Errorf("user is not an admin: %w", models.ErrConflict)
		}

		if add {
			chat.Admins = models.AddID(chat.Admins, targetID)
		} else {
			chat.Admins = models.RemoveID(chat.Admins, targetID)
		}
		if err := tx.PutChat(chat); err != nil {
			return err
		}

		name := events.ChatRemoveAdmin
		if add {
			name = events.ChatAddAdmin
		}
		payload := adminPayload{Admin: target.Summary()}
		after = append(after, func() {
			m.fanout.ToRoom(chatID, name, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// RemoveMember removes target from the chat. The creator may remove anyone
// but itself; an admin may remove ordinary members only.
func (m *Manager) RemoveMember(actorID, chatID, targetID string) error {
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		target, err := tx.User(targetID)
		if err != nil {
			return err
		}
		chat, err := m.groupChat(tx, chatID)
		if err != nil {
			return err
		}

		if !chat.CanModerate(actorID) {
			return fmt.Errorf("only the creator or an admin may remove members: %w", models.ErrUnauthorized)
		}
		if targetID == chat.Creator {
			return fmt.Errorf("cannot remove the creator: %w", models.ErrConflict)
		}
		if !chat.IsMember(targetID) {
			return fmt.Errorf("user is not a member: %w", models.ErrConflict)
		}
		if chat.Creator != actorID && chat.IsAdmin(targetID) {
			return fmt.Errorf("only the creator may remove an admin: %w", models.ErrUnauthorized)
		}

		chat.Members = models.RemoveID(chat.Members, targetID)
		chat.Admins = models.RemoveID(chat.Admins, targetID)
		target.Chats = models.RemoveID(target.Chats, chat.ID)
		if err := tx.PutChat(chat); err != nil {
			return err
		}
		if err := tx.PutUser(target); err != nil {
			return err
		}

		payload := memberPayload{Member: target.Summary()}
		after = append(after, func() {
			m.fanout.LeaveRoom(targetID, chatID)
			m.fanout.ToRoom(targetID, events.ChatRemoveMember, payload)
			m.fanout.ToRoom(chatID, events.ChatRemoveMember, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// Leave removes the actor from the chat. The creator must transfer
// ownership first.
func (m *Manager) Leave(actorID, chatID string) error {
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		actor, err := tx.User(actorID)
		if err != nil {
			return err
		}
		chat, err := m.groupChat(tx, chatID)
		if err != nil {
			return err
		}

		if chat.Creator == actorID {
			return fmt.Errorf("creator must transfer ownership before leaving: %w", models.ErrConflict)
		}
		if !chat.IsMember(actorID) {
			return fmt.Errorf("not a member: %w", models.ErrConflict)
		}

		chat.Members = models.RemoveID(chat.Members, actorID)
		chat.Admins = models.RemoveID(chat.Admins, actorID)
		actor.Chats = models.RemoveID(actor.Chats, chat.ID)
		if err := tx.PutChat(chat); err != nil {
			return err
		}
		if err := tx.PutUser(actor); err != nil {
			return err
		}

		payload := memberPayload{Member: actor.Summary()}
		after = append(after, func() {
			m.fanout.LeaveRoom(actorID, chatID)
			m.fanout.ToRoom(chatID, events.ChatLeave, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// TransferOwnership hands the chat to another member. The old creator stays
// an ordinary member and may leave afterwards.
func (m *Manager) TransferOwnership(actorID, chatID, targetID string) error {
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		target, err := tx.User(targetID)
		if err != nil {
			return err
		}
		chat, err := m.groupChat(tx, chatID)
		if err != nil {
			return err
		}

		if chat.Creator != actorID {
			return fmt.Errorf("only the creator may transfer ownership: %w", models.ErrUnauthorized)
		}
		if targetID == actorID {
			return fmt.Errorf("already the creator: %w", models.ErrConflict)
		}
		if !chat.IsMember(targetID) {
			return fmt.Errorf("user is not a member: %w", models.ErrConflict)
		}

		chat.Creator = targetID
		chat.Admins = models.RemoveID(chat.Admins, targetID)
		if err := tx.PutChat(chat); err != nil {
			return err
		}

		payload := transferPayload{ChatID: chatID, Creator: target.Summary()}
		after = append(after, func() {
			m.fanout.ToRoom(chatID, events.ChatTransferOwnership, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// Rename changes the chat name. Creator only.
func (m *Manager) Rename(actorID, chatID, name string) error {
	name = content.Sanitize(name)
	if name == "" {
		return fmt.Errorf("chat name is required: %w", models.ErrValidation)
	}
	return m.setField(actorID, chatID, events.ChatChangeName,
		func(chat *models.Chat) fieldPayload {
			chat.Name = name
			return fieldPayload{ChatID: chatID, Name: name}
		})
}

// Redescribe changes the chat description. Creator only.
func (m *Manager) Redescribe(actorID, chatID, description string) error {
	description = content.Sanitize(description)
	return m.setField(actorID, chatID, events.ChatChangeDescription,
		func(chat *models.Chat) fieldPayload {
			chat.Description = description
			return fieldPayload{ChatID: chatID, Description: description}
		})
}

// Rephoto replaces the chat photo. Creator only; the byte stream is
// sniffed, the declared type is ignored.
func (m *Manager) Rephoto(actorID, chatID string, photo []byte) error {
	if len(photo) == 0 {
		return fmt.Errorf("no file provided: %w", models.ErrValidation)
	}
	photoName, err := m.storePhoto(photo)
	if err != nil {
		return err
	}
	return m.setField(actorID, chatID, events.ChatChangePhoto,
		func(chat *models.Chat) fieldPayload {
			chat.Photo = photoName
			return fieldPayload{ChatID: chatID, Photo: photoName}
		})
}

func (m *Manager) setField(actorID, chatID, event string, apply func(*models.Chat) fieldPayload) error {
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		chat, err := m.groupChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.Creator != actorID {
			return fmt.Errorf("only the creator may change chat settings: %w", models.ErrUnauthorized)
		}

		payload := apply(chat)
		if err := tx.PutChat(chat); err != nil {
			return err
		}

		after = append(after, func() {
			m.fanout.ToRoom(chatID, event, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// DeleteGroup deletes the chat, detaches it from every member, and drops
// every pending request referencing it. Creator only.
func (m *Manager) DeleteGroup(actorID, chatID string) error {
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		chat, err := m.groupChat(tx, chatID)
		if err != nil {
			return err
		}
		if chat.Creator != actorID {
			return fmt.Errorf("only the creator may delete the chat: %w", models.ErrUnauthorized)
		}

		for _, memberID := range chat.Members {
			member, err := tx.User(memberID)
			if err != nil {
				return err
			}
			member.Chats = models.RemoveID(member.Chats, chatID)
			if err := tx.PutUser(member); err != nil {
				return err
			}
		}

		err = tx.EachRequest(func(req *models.Request) error {
			if req.Chat == chatID {
				return tx.DeleteRequest(req)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := tx.DeleteChat(chat); err != nil {
			return err
		}

		after = append(after, func() {
			m.fanout.ToRoom(chatID, events.ChatDelete, deletePayload{ChatID: chatID})
			m.fanout.CloseRoom(chatID)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// SendMessage appends a message to the chat log. Membership is re-checked
// inside the transaction on every send. Media bytes are sniffed against the
// allow-list and stored in the file store; the log records the file name.
func (m *Manager) SendMessage(actorID, chatID string, msgType models.MessageType, text string, file []byte) (models.Message, error) {
	var body string
	switch msgType {
	case models.MessageTypeText:
		body = content.Sanitize(text)
		if body == "" {
			return models.Message{}, fmt.Errorf("message content must be provided: %w", models.ErrValidation)
		}
	case models.MessageTypeMedia:
		if len(file) == 0 {
			return models.Message{}, fmt.Errorf("no file provided: %w", models.ErrValidation)
		}
		ext, err := content.SniffMedia(file)
		if err != nil {
			return models.Message{}, fmt.Errorf("%v: %w", err, models.ErrValidation)
		}
		body = m.newID() + "." + ext
		if err := m.files.Save(bytes.NewReader(file), body); err != nil {
			return models.Message{}, fmt.Errorf("failed to store media: %w", err)
		}
	default:
		return models.Message{}, fmt.Errorf("bad message type %q: %w", msgType, models.ErrValidation)
	}

	var msg models.Message
	var after []func()
	err := m.store.Update(func(tx *storage.Tx) error {
		actor, err := tx.User(actorID)
		if err != nil {
			return err
		}
		chat, err := tx.Chat(chatID)
		if err != nil {
			return err
		}
		if !chat.IsMember(actorID) {
			return fmt.Errorf("not a member: %w", models.ErrUnauthorized)
		}

		chat.LastSeq++
		msg = models.Message{
			Seq:       chat.LastSeq,
			ChatID:    chatID,
			Sender:    actorID,
			Type:      msgType,
			Content:   body,
			Timestamp: m.now().Unix(),
		}
		if err := tx.PutMessage(&msg); err != nil {
			return err
		}
		if err := tx.PutChat(chat); err != nil {
			return err
		}

		payload := messagePayload{Message: msg, By: actor.Summary()}
		after = append(after, func() {
			m.fanout.ToRoom(chatID, events.ChatSendMessage, payload)
		})
		return nil
	})
	if err != nil {
		return models.Message{}, err
	}
	runAll(after)
	return msg, nil
}

// JoinLive verifies membership and attaches the actor's live connections to
// the chat room. Used by the chat:join event to refresh room membership
// without reconnecting.
func (m *Manager) JoinLive(actorID, chatID string) error {
	err := m.store.View(func(tx *storage.Tx) error {
		chat, err := tx.Chat(chatID)
		if err != nil {
			return err
		}
		if !chat.IsMember(actorID) {
			return fmt.Errorf("not a member: %w", models.ErrUnauthorized)
		}
		return nil
	})
	if err != nil {
		return err
	}
	m.fanout.JoinRoom(actorID, chatID)
	return nil
}

// Get returns the chat. Member only.
func (m *Manager) Get(actorID, chatID string) (*models.Chat, error) {
	var chat *models.Chat
	err := m.store.View(func(tx *storage.Tx) error {
		c, err := tx.Chat(chatID)
		if err != nil {
			return err
		}
		if !c.IsMember(actorID) {
			return fmt.Errorf("not a member: %w", models.ErrUnauthorized)
		}
		chat = c
		return nil
	})
	return chat, err
}

// Messages returns the chat's log entries with seq in [from, to]. Member
// only.
func (m *Manager) Messages(actorID, chatID string, from, to int64) ([]models.Message, error) {
	var msgs []models.Message
	err := m.store.View(func(tx *storage.Tx) error {
		chat, err := tx.Chat(chatID)
		if err != nil {
			return err
		}
		if !chat.IsMember(actorID) {
			return fmt.Errorf("not a member: %w", models.ErrUnauthorized)
		}
		msgs, err = tx.Messages(chatID, from, to)
		return err
	})
	return msgs, err
}

func (m *Manager) storePhoto(photo []byte) (string, error) {
	if len(photo) == 0 {
		return "", nil
	}
	ext, err := content.SniffPhoto(photo)
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, models.ErrValidation)
	}
	name := m.newID() + "." + ext
	if err := m.files.Save(bytes.NewReader(photo), name); err != nil {
		return "", fmt.Errorf("failed to store photo: %w", err)
	}
	return name, nil
}

func (m *Manager) groupChat(tx *storage.Tx, chatID string) (*models.Chat, error) {
	chat, err := tx.Chat(chatID)
	if err != nil {
		return nil, err
	}
	if chat.Type != models.ChatTypeGroup {
		return nil, fmt.Errorf("chat %s is not a group: %w", chatID, models.ErrNotFound)
	}
	return chat, nil
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
