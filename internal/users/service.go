// Package users holds account and social-graph operations: registration,
// credential checks, presence, friend removal, and account deletion with
// its cascade.
package users

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"govorilka/internal/auth"
	"govorilka/internal/content"
	"govorilka/internal/events"
	"govorilka/internal/models"
	"govorilka/internal/storage"
)

const minPasswordLength = 8

type Service struct {
	store  *storage.Store
	fanout events.Fanout
	now    func() time.Time
	newID  func() string
}

func NewService(store *storage.Store, fanout events.Fanout) *Service {
	return &Service{
		store:  store,
		fanout: fanout,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

type byPayload struct {
	By models.UserSummary `json:"by"`
}

type presencePayload struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

type deletedPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Register creates a new account. Username and email must be unique.
func (s *Service) Register(username, email, password string) (*models.User, error) {
	username = content.Sanitize(username)
	if err := content.ValidateUsername(username); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrValidation)
	}
	if err := content.ValidateEmail(email); err != nil {
		return nil, fmt.Errorf("%v: %w", err, models.ErrValidation)
	}
	if len(password) < minPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters: %w", minPasswordLength, models.ErrValidation)
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           s.newID(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		ProfilePhoto: "default_profile.png",
		CreatedAt:    s.now().Unix(),
	}

	err = s.store.Update(func(tx *storage.Tx) error {
		return tx.CreateUser(user)
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate verifies email and password. Failures are reported uniformly
// to avoid leaking which part was wrong.
func (s *Service) Authenticate(email, password string) (*models.User, error) {
	var user *models.User
	err := s.store.View(func(tx *storage.Tx) error {
		u, err := tx.UserByEmail(email)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("login failed: %w", models.ErrUnauthorized)
	}
	return user, nil
}

// Get loads a user by id.
func (s *Service) Get(id string) (*models.User, error) {
	var user *models.User
	err := s.store.View(func(tx *storage.Tx) error {
		u, err := tx.User(id)
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	return user, err
}

// SetPresence persists the user's online flag and broadcasts the change.
func (s *Service) SetPresence(userID string, online bool) error {
	err := s.store.Update(func(tx *storage.Tx) error {
		user, err := tx.User(userID)
		if err != nil {
			return err
		}
		user.Online = online
		return tx.PutUser(user)
	})
	if err != nil {
		return err
	}

	name := events.UserOffline
	if online {
		name = events.UserOnline
	}
	s.fanout.ToAll(name, presencePayload{UserID: userID, Online: online})
	return nil
}

// RemoveFriend deletes the friendship edge from both sides and notifies the
// removed friend.
func (s *Service) RemoveFriend(actorID, friendID string) error {
	var after []func()
	err := s.store.Update(func(tx *storage.Tx) error {
		actor, err := tx.User(actorID)
		if err != nil {
			return err
		}
		friend, err := tx.User(friendID)
		if err != nil {
			return err
		}

		if !friend.IsFriend(actorID) {
			return fmt.Errorf("user is not your friend: %w", models.ErrConflict)
		}

		actor.Friends = models.RemoveID(actor.Friends, friendID)
		friend.Friends = models.RemoveID(friend.Friends, actorID)
		if err := tx.PutUser(actor); err != nil {
			return err
		}
		if err := tx.PutUser(friend); err != nil {
			return err
		}

		payload := byPayload{By: actor.Summary()}
		after = append(after, func() {
			s.fanout.ToRoom(friendID, events.UserRemoveFriend, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

// DeleteAccount removes the account after re-verifying credentials. The
// cascade runs in one transaction: friend edges are cut both ways, chat
// memberships dropped, private chats deleted, every request referencing the
// user consumed, then the user record itself removed. Fails with Conflict
// while the user still owns group chats.
func (s *Service) DeleteAccount(actorID, email, password string) error {
	var after []func()
	err := s.store.Update(func(tx *storage.Tx) error {
		user, err := tx.User(actorID)
		if err != nil {
			return err
		}
		if user.Email != email || !auth.CheckPassword(user.PasswordHash, password) {
			return fmt.Errorf("credentials do not match: %w", models.ErrUnauthorized)
		}

		for _, chatID := range user.Chats {
			chat, err := tx.Chat(chatID)
			if err != nil {
				return err
			}
			if chat.Type == models.ChatTypeGroup && chat.Creator == actorID {
				return fmt.Errorf("transfer or delete owned group chats first: %w", models.ErrConflict)
			}
		}

		for _, friendID := range user.Friends {
			friend, err := tx.User(friendID)
			if err != nil {
				return err
			}
			friend.Friends = models.RemoveID(friend.Friends, actorID)
			if err := tx.PutUser(friend); err != nil {
				return err
			}
		}

		for _, chatID := range user.Chats {
			chat, err := tx.Chat(chatID)
			if err != nil {
				return err
			}
			if chat.Type == models.ChatTypePrivate {
				// The other participant loses the chat reference too.
				for _, memberID := range chat.Members {
					if memberID == actorID {
						continue
					}
					other, err := tx.User(memberID)
					if err != nil {
						return err
					}
					other.Chats = models.RemoveID(other.Chats, chatID)
					if err := tx.PutUser(other); err != nil {
						return err
					}
				}
				if err := tx.DeleteChat(chat); err != nil {
					return err
				}
				closed := chat.ID
				after = append(after, func() { s.fanout.CloseRoom(closed) })
				continue
			}

			chat.Members = models.RemoveID(chat.Members, actorID)
			chat.Admins = models.RemoveID(chat.Admins, actorID)
			if err := tx.PutChat(chat); err != nil {
				return err
			}
		}

		err = tx.EachRequest(func(req *models.Request) error {
			if req.Sender == actorID || req.Receiver == actorID {
				return tx.DeleteRequest(req)
			}
			return nil
		})
		if err != nil {
			return err
		}

		if err := tx.DeleteUser(user); err != nil {
			return err
		}

		payload := deletedPayload{UserID: actorID, Username: user.Username}
		after = append(after, func() {
			s.fanout.ToAll(events.UserDelete, payload)
			s.fanout.Disconnect(actorID)
		})
		return nil
	})
	if err != nil {
		return err
	}
	runAll(after)
	return nil
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
