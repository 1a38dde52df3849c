// Package requests implements the relationship/request lifecycle: sending
// friend, private-chat, group-invite, and join requests, and consuming them
// exactly once by accept or decline.
package requests

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"govorilka/internal/events"
	"govorilka/internal/models"
	"govorilka/internal/storage"
)

// Engine authorizes and applies request mutations. Every mutation runs in a
// single storage transaction; notifications are queued during the
// transaction and emitted only after it commits.
type Engine struct {
	store  *storage.Store
	fanout events.Fanout
	now    func() time.Time
	newID  func() string
}

func NewEngine(store *storage.Store, fanout events.Fanout) *Engine {
	return &Engine{
		store:  store,
		fanout: fanout,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// receivePayload is the body of a request:receive notification.
type receivePayload struct {
	Type      models.RequestType  `json:"type"`
	RequestID string              `json:"requestId"`
	By        *models.UserSummary `json:"by,omitempty"`
	Chat      *models.ChatSummary `json:"chat,omitempty"`
}

// resolvePayload is the body of request:accept / request:decline
// notifications.
type resolvePayload struct {
	Type models.RequestType  `json:"type"`
	By   *models.UserSummary `json:"by,omitempty"`
	Chat *models.ChatSummary `json:"chat,omitempty"`
}

// joinedPayload is the body of the chat:join notification sent to the chat
// room when a member is added through a request.
type joinedPayload struct {
	User models.UserSummary `json:"user"`
}

// Resolution carries the result fields of a successful resolve back to the
// acting client.
type Resolution struct {
	Type models.RequestType  `json:"type"`
	User *models.UserSummary `json:"user,omitempty"`
	Chat *models.ChatSummary `json:"chat,omitempty"`
}

// SendContact creates a friend or private-chat request from actor to
// receiver and notifies the receiver's room.
func (e *Engine) SendContact(actorID, receiverID string, kind models.RequestType) (string, error) {
	if kind != models.RequestFriend && kind != models.RequestPrivate {
		return "", fmt.Errorf("bad request kind %q: %w", kind, models.ErrValidation)
	}
	if actorID == receiverID {
		return "", fmt.Errorf("cannot send a request to yourself: %w", models.ErrValidation)
	}

	var after []func()
	var requestID string
	err := e.store.Update(func(tx *storage.Tx) error {
		actor, err := tx.User(actorID)
		if err != nil {
			return err
		}
		receiver, err := tx.User(receiverID)
		if err != nil {
			return err
		}

		if kind == models.RequestPrivate {
			if _, ok := tx.PrivateChatID(actorID, receiverID); ok {
				return fmt.Errorf("a private chat with the receiver already exists: %w", models.ErrConflict)
			}
		} else if receiver.IsFriend(actorID) {
			return fmt.Errorf("already friends: %w", models.ErrConflict)
		}

		req := &models.Request{
			ID:        e.newID(),
			Type:      kind,
			Sender:    actorID,
			Receiver:  receiverID,
			CreatedAt: e.now().Unix(),
		}
		if err := tx.CreateRequest(req); err != nil {
			return err
		}
		requestID = req.ID

		by := actor.Summary()
		after = append(after, func() {
			e.fanout.ToRoom(receiverID, events.RequestReceive, receivePayload{
				Type:      kind,
				RequestID: req.ID,
				By:        &by,
			})
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	runAll(after)
	return requestID, nil
}

// SendGroupInvite creates a group-invite request for receiver. Only the
// chat creator or an admin may invite.
func (e *Engine) SendGroupInvite(actorID, chatID, receiverID string) (string, error) {
	var after []func()
	var requestID string
	err := e.store.Update(func(tx *storage.Tx) error {
		receiver, err := tx.User(receiverID)
		if err != nil {
			return err
		}
		chat, err := e.groupChat(tx, chatID)
		if err != nil {
			return err
		}

		if !chat.CanModerate(actorID) {
			return fmt.Errorf("only the creator or an admin may invite: %w", models.ErrUnauthorized)
		}
		if chat.IsMember(receiverID) {
			return fmt.Errorf("user is already a member: %w", models.ErrConflict)
		}

		req := &models.Request{
			ID:        e.newID(),
			Type:      models.RequestGroupInvite,
			Chat:      chatID,
			Receiver:  receiverID,
			CreatedAt: e.now().Unix(),
		}
		if err := tx.CreateRequest(req); err != nil {
			return err
		}
		requestID = req.ID

		summary := chat.Summary()
		after = append(after, func() {
			e.fanout.ToRoom(receiver.ID, events.RequestReceive, receivePayload{
				Type:      models.RequestGroupInvite,
				RequestID: req.ID,
				Chat:      &summary,
			})
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	runAll(after)
	return requestID, nil
}

// SendJoin creates a join request for the chat and notifies the chat room,
// where the creator and admins will see it.
func (e *Engine) SendJoin(actorID, chatID string) (string, error) {
	var after []func()
	var requestID string
	err := e.store.Update(func(tx *storage.Tx) error {
		actor, err := tx.User(actorID)
		if err != nil {
			return err
		}
		chat, err := e.groupChat(tx, chatID)
		if err != nil {
			return err
		}

		if chat.IsMember(actorID) {
			return fmt.Errorf("already a member: %w", models.ErrConflict)
		}

		req := &models.Request{
			ID:        e.newID(),
			Type:      models.RequestJoin,
			Sender:    actorID,
			Chat:      chatID,
			CreatedAt: e.now().Unix(),
		}
		if err := tx.CreateRequest(req); err != nil {
			return err
		}
		requestID = req.ID

		by := actor.Summary()
		after = append(after, func() {
			e.fanout.ToRoom(chatID, events.RequestReceive, receivePayload{
				Type:      models.RequestJoin,
				RequestID: req.ID,
				By:        &by,
			})
		})
		return nil
	})
	if err != nil {
		return "", err
	}
	runAll(after)
	return requestID, nil
}

// Resolve consumes a request by accept or decline. The request record is
// deleted as the terminal step of the same transaction that applies the
// side effect, so a replayed or concurrently resolved id observes NotFound.
func (e *Engine) Resolve(actorID, requestID string, accept bool) (Resolution, error) {
	var after []func()
	var res Resolution
	err := e.store.Update(func(tx *storage.Tx) error {
		req, err := tx.Request(requestID)
		if err != nil {
			return err
		}

		switch req.Type {
		case models.RequestFriend, models.RequestPrivate:
			res, after, err = e.resolveContact(tx, actorID, req, accept)
		case models.RequestGroupInvite:
			res, after, err = e.resolveGroupInvite(tx, actorID, req, accept)
		case models.RequestJoin:
			res, after, err = e.resolveJoin(tx, actorID, req, accept)
		default:
			err = fmt.Errorf("unknown request type %q: %w", req.Type, models.ErrValidation)
		}
		if err != nil {
			return err
		}

		return tx.DeleteRequest(req)
	})
	if err != nil {
		return Resolution{}, err
	}
	runAll(after)
	return res, nil
}

func (e *Engine) resolveContact(tx *storage.Tx, actorID string, req *models.Request, accept bool) (Resolution, []func(), error) {
	if req.Receiver != actorID {
		return Resolution{}, nil, fmt.Errorf("only the receiver may resolve: %w", models.ErrUnauthorized)
	}

	actor, err := tx.User(actorID)
	if err != nil {
		return Resolution{}, nil, err
	}
	sender, err := tx.User(req.Sender)
	if err != nil {
		return Resolution{}, nil, err
	}

	res := Resolution{Type: req.Type}
	payload := resolvePayload{Type: req.Type}
	by := actor.Summary()
	payload.By = &by

	var after []func()
	if accept {
		senderSummary := sender.Summary()
		res.User = &senderSummary

		if req.Type == models.RequestPrivate {
			chat := &models.Chat{
				ID:        e.newID(),
				Type:      models.ChatTypePrivate,
				Members:   []string{actorID, sender.ID},
				CreatedAt: e.now().Unix(),
			}
			if err := tx.CreatePrivateChat(chat); err != nil {
				return Resolution{}, nil, err
			}
			actor.Chats = models.AddID(actor.Chats, chat.ID)
			sender.Chats = models.AddID(sender.Chats, chat.ID)

			summary := chat.Summary()
			res.Chat = &summary
			payload.Chat = &summary
			after = append(after, func() {
				e.fanout.JoinRoom(actorID, chat.ID)
				e.fanout.JoinRoom(sender.ID, chat.ID)
			})
		} else {
			actor.Friends = models.AddID(actor.Friends, sender.ID)
			sender.Friends = models.AddID(sender.Friends, actor.ID)
		}

		if err := tx.PutUser(actor); err != nil {
			return Resolution{}, nil, err
		}
		if err := tx.PutUser(sender); err != nil {
			return Resolution{}, nil, err
		}
	}

	name := events.RequestDecline
	if accept {
		name = events.RequestAccept
	}
	after = append(after, func() {
		e.fanout.ToRoom(sender.ID, name, payload)
	})
	return res, after, nil
}

func (e *Engine) resolveGroupInvite(tx *storage.Tx, actorID string, req *models.Request, accept bool) (Resolution, []func(), error) {
	if req.Receiver != actorID {
		return Resolution{}, nil, fmt.Errorf("only the invited user may resolve: %w", models.ErrUnauthorized)
	}

	chat, err := e.groupChat(tx, req.Chat)
	if err != nil {
		return Resolution{}, nil, err
	}

	res := Resolution{Type: req.Type}
	if !accept {
		return res, nil, nil
	}

	actor, err := tx.User(actorID)
	if err != nil {
		return Resolution{}, nil, err
	}

	chat.Members = models.AddID(chat.Members, actorID)
	actor.Chats = models.AddID(actor.Chats, chat.ID)
	if err := tx.PutChat(chat); err != nil {
		return Resolution{}, nil, err
	}
	if err := tx.PutUser(actor); err != nil {
		return Resolution{}, nil, err
	}

	summary := chat.Summary()
	res.Chat = &summary
	user := actor.Summary()
	after := []func(){func() {
		e.fanout.JoinRoom(actorID, chat.ID)
		e.fanout.ToRoom(chat.ID, events.ChatJoin, joinedPayload{User: user})
	}}
	return res, after, nil
}

func (e *Engine) resolveJoin(tx *storage.Tx, actorID string, req *models.Request, accept bool) (Resolution, []func(), error) {
	chat, err := e.groupChat(tx, req.Chat)
	if err != nil {
		return Resolution{}, nil, err
	}

	if !chat.CanModerate(actorID) {
		return Resolution{}, nil, fmt.Errorf("only the creator or an admin may resolve: %w", models.ErrUnauthorized)
	}

	sender, err := tx.User(req.Sender)
	if err != nil {
		return Resolution{}, nil, err
	}

	res := Resolution{Type: req.Type}
	summary := chat.Summary()

	if !accept {
		// The requester is not in the chat room, so it is told directly.
		after := []func(){func() {
			e.fanout.ToRoom(sender.ID, events.RequestDecline, resolvePayload{
				Type: models.RequestJoin,
				Chat: &summary,
			})
		}}
		return res, after, nil
	}

	chat.Members = models.AddID(chat.Members, sender.ID)
	sender.Chats = models.AddID(sender.Chats, chat.ID)
	if err := tx.PutChat(chat); err != nil {
		return Resolution{}, nil, err
	}
	if err := tx.PutUser(sender); err != nil {
		return Resolution{}, nil, err
	}

	res.Chat = &summary
	user := sender.Summary()
	after := []func(){func() {
		e.fanout.JoinRoom(sender.ID, chat.ID)
		e.fanout.ToRoom(chat.ID, events.ChatJoin, joinedPayload{User: user})
		e.fanout.ToRoom(sender.ID, events.RequestAccept, resolvePayload{
			Type: models.RequestJoin,
			Chat: &summary,
		})
	}}
	return res, after, nil
}

func (e *Engine) groupChat(tx *storage.Tx, chatID string) (*models.Chat, error) {
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
