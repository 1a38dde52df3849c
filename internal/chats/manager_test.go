package chats

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"govorilka/internal/models"
	"govorilka/internal/storage"
)

// Minimal 1x1 PNG, enough for magic-byte sniffing.
const pngBase64 = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR42mNkYAAAAAYAAjCB0C8AAAAASUVORK5CYII="

func pngBytes(t *testing.T) []byte {
	t.Helper()
	b, err := base64.StdEncoding.DecodeString(pngBase64)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

type fanoutCall struct {
	Method string
	Room   string
	Event  string
	Data   any
}

type fakeFanout struct {
	mu    sync.Mutex
	calls []fanoutCall
}

func (f *fakeFanout) record(c fanoutCall) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *fakeFanout) ToRoom(room, name string, data any) {
	f.record(fanoutCall{Method: "ToRoom", Room: room, Event: name, Data: data})
}
func (f *fakeFanout) ToAll(name string, data any) {
	f.record(fanoutCall{Method: "ToAll", Event: name, Data: data})
}
func (f *fakeFanout) JoinRoom(userID, room string) {
	f.record(fanoutCall{Method: "JoinRoom", Room: room, Event: userID})
}
func (f *fakeFanout) LeaveRoom(userID, room string) {
	f.record(fanoutCall{Method: "LeaveRoom", Room: room, Event: userID})
}
func (f *fakeFanout) CloseRoom(room string) {
	f.record(fanoutCall{Method: "CloseRoom", Room: room})
}
func (f *fakeFanout) Disconnect(userID string) {
	f.record(fanoutCall{Method: "Disconnect", Event: userID})
}

func (f *fakeFanout) find(method, room, event string) *fanoutCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.calls {
		c := &f.calls[i]
		if c.Method == method && c.Room == room && c.Event == event {
			return c
		}
	}
	return nil
}

type memFiles struct {
	mu    sync.Mutex
	saved map[string][]byte
}

func newMemFiles() *memFiles {
	return &memFiles{saved: make(map[string][]byte)}
}

func (f *memFiles) Save(r io.Reader, name string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved[name] = data
	return nil
}

func (f *memFiles) Get(name string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.saved[name]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newTestManager(t *testing.T) (*Manager, *storage.Store, *fakeFanout, *memFiles) {
	t.Helper()
	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	fanout := &fakeFanout{}
	files := newMemFiles()
	manager := NewManager(store, fanout, files)
	manager.now = func() time.Time { return time.Unix(1700000000, 0) }
	return manager, store, fanout, files
}

func seedUser(t *testing.T, store *storage.Store, id string) {
	t.Helper()
	err := store.Update(func(tx *storage.Tx) error {
		return tx.CreateUser(&models.User{ID: id, Username: id, Email: id + "@example.com"})
	})
	if err != nil {
		t.Fatalf("failed to seed user %s: %v", id, err)
	}
}

func loadChat(t *testing.T, store *storage.Store, id string) *models.Chat {
	t.Helper()
	var c *models.Chat
	err := store.View(func(tx *storage.Tx) error {
		var err error
		c, err = tx.Chat(id)
		return err
	})
	if err != nil {
		t.Fatalf("failed to load chat %s: %v", id, err)
	}
	return c
}

func loadUser(t *testing.T, store *storage.Store, id string) *models.User {
	t.Helper()
	var u *models.User
	err := store.View(func(tx *storage.Tx) error {
		var err error
		u, err = tx.User(id)
		return err
	})
	if err != nil {
		t.Fatalf("failed to load user %s: %v", id, err)
	}
	return u
}

// seedGroup creates a group through the manager and adds the extra members
// directly.
func seedGroup(t *testing.T, m *Manager, store *storage.Store, creator string, members ...string) string {
	t.Helper()
	chat, err := m.CreateGroup(creator, "room", "", nil)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	err = store.Update(func(tx *storage.Tx) error {
		c, err := tx.Chat(chat.ID)
		if err != nil {
			return err
		}
		for _, id := range members {
			u, err := tx.User(id)
			if err != nil {
				return err
			}
			c.Members = models.AddID(c.Members, id)
			u.Chats = models.AddID(u.Chats, c.ID)
			if err := tx.PutUser(u); err != nil {
				return err
			}
		}
		return tx.PutChat(c)
	})
	if err != nil {
		t.Fatalf("failed to seed members: %v", err)
	}
	return chat.ID
}

func TestCreateGroup(t *testing.T) {
	m, store, fanout, files := newTestManager(t)
	seedUser(t, store, "alice")

	chat, err := m.CreateGroup("alice", "  <b>general</b>  ", "all hands", pngBytes(t))
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if chat.Creator != "alice" {
		t.Errorf("expected creator alice, got %s", chat.Creator)
	}
	if len(chat.Members) != 1 || chat.Members[0] != "alice" {
		t.Errorf("expected creator as sole member, got %v", chat.Members)
	}
	if chat.Photo == "" {
		t.Error("expected a stored photo name")
	}
	if _, ok := files.saved[chat.Photo]; !ok {
		t.Error("expected photo bytes in file store")
	}
	if !loadUser(t, store, "alice").InChat(chat.ID) {
		t.Error("expected chat in creator's list")
	}
	if fanout.find("JoinRoom", chat.ID, "alice") == nil {
		t.Error("expected creator to join the chat room")
	}

	t.Run("name required", func(t *testing.T) {
		_, err := m.CreateGroup("alice", "   ", "", nil)
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("photo must be an image", func(t *testing.T) {
		_, err := m.CreateGroup("alice", "pics", "", []byte("definitely not an image"))
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestSetAdmin(t *testing.T) {
	m, store, fanout, _ := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedUser(t, store, "eve")
	chatID := seedGroup(t, m, store, "alice", "bob")

	t.Run("creator only", func(t *testing.T) {
		if err := m.SetAdmin("bob", chatID, "bob", true); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("target must be a member", func(t *testing.T) {
		if err := m.SetAdmin("alice", chatID, "eve", true); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("grant", func(t *testing.T) {
		if err := m.SetAdmin("alice", chatID, "bob", true); err != nil {
			t.Fatalf("SetAdmin failed: %v", err)
		}
		if !loadChat(t, store, chatID).IsAdmin("bob") {
			t.Error("expected bob to be admin")
		}
		if fanout.find("ToRoom", chatID, "chat:addAdmin") == nil {
			t.Error("expected chat:addAdmin notification")
		}
	})

	t.Run("double grant", func(t *testing.T) {
		if err := m.SetAdmin("alice", chatID, "bob", true); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("revoke", func(t *testing.T) {
		if err := m.SetAdmin("alice", chatID, "bob", false); err != nil {
			t.Fatalf("SetAdmin failed: %v", err)
		}
		if loadChat(t, store, chatID).IsAdmin("bob") {
			t.Error("expected bob demoted")
		}
		if fanout.find("ToRoom", chatID, "chat:removeAdmin") == nil {
			t.Error("expected chat:removeAdmin notification")
		}
	})

	t.Run("revoke non-admin", func(t *testing.T) {
		if err := m.SetAdmin("alice", chatID, "bob", false); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestRemoveMember(t *testing.T) {
	m, store, fanout, _ := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedUser(t, store, "carol")
	seedUser(t, store, "eve")
	chatID := seedGroup(t, m, store, "alice", "bob", "carol", "eve")
	if err := m.SetAdmin("alice", chatID, "bob", true); err != nil {
		t.Fatal(err)
	}
	if err := m.SetAdmin("alice", chatID, "carol", true); err != nil {
		t.Fatal(err)
	}

	t.Run("members cannot remove", func(t *testing.T) {
		if err := m.RemoveMember("eve", chatID, "bob"); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("nobody removes the creator", func(t *testing.T) {
		if err := m.RemoveMember("bob", chatID, "alice"); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
		if err := m.RemoveMember("alice", chatID, "alice"); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("admins cannot remove admins", func(t *testing.T) {
		if err := m.RemoveMember("bob", chatID, "carol"); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("admin removes an ordinary member", func(t *testing.T) {
		if err := m.RemoveMember("bob", chatID, "eve"); err != nil {
			t.Fatalf("RemoveMember failed: %v", err)
		}
		chat := loadChat(t, store, chatID)
		if chat.IsMember("eve") {
			t.Error("expected eve removed")
		}
		if loadUser(t, store, "eve").InChat(chatID) {
			t.Error("expected chat removed from eve's list")
		}
		if fanout.find("LeaveRoom", chatID, "eve") == nil {
			t.Error("expected eve's sessions detached from the room")
		}
		// The removed user is told directly, the room sees the same event.
		if fanout.find("ToRoom", "eve", "chat:removeMember") == nil {
			t.Error("expected direct notification for eve")
		}
		if fanout.find("ToRoom", chatID, "chat:removeMember") == nil {
			t.Error("expected room notification")
		}
	})

	t.Run("creator removes an admin", func(t *testing.T) {
		if err := m.RemoveMember("alice", chatID, "carol"); err != nil {
			t.Fatalf("RemoveMember failed: %v", err)
		}
		chat := loadChat(t, store, chatID)
		if chat.IsMember("carol") || chat.IsAdmin("carol") {
			t.Error("expected carol gone from members and admins")
		}
	})

	t.Run("target must be a member", func(t *testing.T) {
		if err := m.RemoveMember("alice", chatID, "eve"); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})
}

func TestLeaveAndTransfer(t *testing.T) {
	m, store, fanout, _ := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedUser(t, store, "eve")
	chatID := seedGroup(t, m, store, "alice", "bob")

	t.Run("creator cannot leave while owning", func(t *testing.T) {
		if err := m.Leave("alice", chatID); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("non-member cannot leave", func(t *testing.T) {
		if err := m.Leave("eve", chatID); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("only the creator may transfer", func(t *testing.T) {
		if err := m.TransferOwnership("bob", chatID, "bob"); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("transfer target must be a member", func(t *testing.T) {
		if err := m.TransferOwnership("alice", chatID, "eve"); !errors.Is(err, models.ErrConflict) {
			t.Errorf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("transfer then leave", func(t *testing.T) {
		if err := m.TransferOwnership("alice", chatID, "bob"); err != nil {
			t.Fatalf("TransferOwnership failed: %v", err)
		}
		chat := loadChat(t, store, chatID)
		if chat.Creator != "bob" {
			t.Errorf("expected creator bob, got %s", chat.Creator)
		}
		if chat.IsAdmin("bob") {
			t.Error("expected new creator dropped from admins")
		}
		if fanout.find("ToRoom", chatID, "chat:transferOwnership") == nil {
			t.Error("expected chat:transferOwnership notification")
		}

		if err := m.Leave("alice", chatID); err != nil {
			t.Fatalf("Leave failed: %v", err)
		}
		chat = loadChat(t, store, chatID)
		if chat.IsMember("alice") {
			t.Error("expected alice gone")
		}
		if fanout.find("ToRoom", chatID, "chat:leave") == nil {
			t.Error("expected chat:leave notification")
		}
		if fanout.find("LeaveRoom", chatID, "alice") == nil {
			t.Error("expected alice's sessions detached")
		}
	})
}

func TestChatSettings(t *testing.T) {
	m, store, fanout, _ := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	chatID := seedGroup(t, m, store, "alice", "bob")
	if err := m.SetAdmin("alice", chatID, "bob", true); err != nil {
		t.Fatal(err)
	}

	t.Run("admins cannot change settings", func(t *testing.T) {
		if err := m.Rename("bob", chatID, "hijacked"); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("rename", func(t *testing.T) {
		if err := m.Rename("alice", chatID, "renamed<script>bad()</script>"); err != nil {
			t.Fatalf("Rename failed: %v", err)
		}
		if got := loadChat(t, store, chatID).Name; got != "renamed" {
			t.Errorf("expected sanitized name 'renamed', got %q", got)
		}
		if fanout.find("ToRoom", chatID, "chat:changeName") == nil {
			t.Error("expected chat:changeName notification")
		}
	})

	t.Run("empty name rejected", func(t *testing.T) {
		if err := m.Rename("alice", chatID, "<script>x</script>"); !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("describe", func(t *testing.T) {
		if err := m.Redescribe("alice", chatID, "the new room"); err != nil {
			t.Fatalf("Redescribe failed: %v", err)
		}
		if got := loadChat(t, store, chatID).Description; got != "the new room" {
			t.Errorf("unexpected description %q", got)
		}
	})

	t.Run("photo", func(t *testing.T) {
		if err := m.Rephoto("alice", chatID, pngBytes(t)); err != nil {
			t.Fatalf("Rephoto failed: %v", err)
		}
		if loadChat(t, store, chatID).Photo == "" {
			t.Error("expected photo set")
		}
		if err := m.Rephoto("alice", chatID, []byte("nope")); !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation for bad photo, got %v", err)
		}
	})
}

func TestDeleteGroup(t *testing.T) {
	m, store, fanout, _ := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedUser(t, store, "eve")
	chatID := seedGroup(t, m, store, "alice", "bob")

	// A pending invite referencing the chat must die with it.
	err := store.Update(func(tx *storage.Tx) error {
		return tx.CreateRequest(&models.Request{
			ID:       "req1",
			Type:     models.RequestGroupInvite,
			Chat:     chatID,
			Receiver: "eve",
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	t.Run("creator only", func(t *testing.T) {
		if err := m.DeleteGroup("bob", chatID); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("cascade", func(t *testing.T) {
		if err := m.DeleteGroup("alice", chatID); err != nil {
			t.Fatalf("DeleteGroup failed: %v", err)
		}

		err := store.View(func(tx *storage.Tx) error {
			if _, err := tx.Chat(chatID); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("expected chat gone, got %v", err)
			}
			if _, err := tx.Request("req1"); !errors.Is(err, models.ErrNotFound) {
				t.Errorf("expected pending invite gone, got %v", err)
			}
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		if loadUser(t, store, "alice").InChat(chatID) || loadUser(t, store, "bob").InChat(chatID) {
			t.Error("expected chat removed from member lists")
		}
		if fanout.find("ToRoom", chatID, "chat:delete") == nil {
			t.Error("expected chat:delete notification")
		}
		if fanout.find("CloseRoom", chatID, "") == nil {
			t.Error("expected room closed")
		}
	})
}

func TestSendMessage(t *testing.T) {
	m, store, fanout, files := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "bob")
	seedUser(t, store, "eve")
	chatID := seedGroup(t, m, store, "alice", "bob")

	t.Run("text", func(t *testing.T) {
		msg, err := m.SendMessage("bob", chatID, models.MessageTypeText, "<b>hi</b> there", nil)
		if err != nil {
			t.Fatalf("SendMessage failed: %v", err)
		}
		if msg.Seq != 1 {
			t.Errorf("expected seq 1, got %d", msg.Seq)
		}
		if msg.Content != "<b>hi</b> there" {
			t.Errorf("unexpected content %q", msg.Content)
		}

		call := fanout.find("ToRoom", chatID, "chat:sendMessage")
		if call == nil {
			t.Fatal("expected chat:sendMessage notification")
		}
		if call.Data.(messagePayload).By.ID != "bob" {
			t.Error("expected sender summary attached")
		}
	})

	t.Run("sequence grows", func(t *testing.T) {
		msg, err := m.SendMessage("alice", chatID, models.MessageTypeText, "hello", nil)
		if err != nil {
			t.Fatal(err)
		}
		if msg.Seq != 2 {
			t.Errorf("expected seq 2, got %d", msg.Seq)
		}
	})

	t.Run("empty text rejected", func(t *testing.T) {
		_, err := m.SendMessage("alice", chatID, models.MessageTypeText, "  ", nil)
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("non-members cannot send", func(t *testing.T) {
		_, err := m.SendMessage("eve", chatID, models.MessageTypeText, "hi", nil)
		if !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("media", func(t *testing.T) {
		msg, err := m.SendMessage("alice", chatID, models.MessageTypeMedia, "", pngBytes(t))
		if err != nil {
			t.Fatalf("SendMessage media failed: %v", err)
		}
		if msg.Content == "" {
			t.Fatal("expected stored file name in content")
		}
		if _, ok := files.saved[msg.Content]; !ok {
			t.Error("expected media bytes in file store")
		}
	})

	t.Run("unsupported media rejected", func(t *testing.T) {
		_, err := m.SendMessage("alice", chatID, models.MessageTypeMedia, "", []byte("plain text"))
		if !errors.Is(err, models.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("history readable by members only", func(t *testing.T) {
		msgs, err := m.Messages("bob", chatID, 1, 100)
		if err != nil {
			t.Fatalf("Messages failed: %v", err)
		}
		if len(msgs) != 3 {
			t.Errorf("expected 3 messages, got %d", len(msgs))
		}

		if _, err := m.Messages("eve", chatID, 1, 100); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestJoinLive(t *testing.T) {
	m, store, fanout, _ := newTestManager(t)
	seedUser(t, store, "alice")
	seedUser(t, store, "eve")
	chatID := seedGroup(t, m, store, "alice")

	if err := m.JoinLive("alice", chatID); err != nil {
		t.Fatalf("JoinLive failed: %v", err)
	}
	if fanout.find("JoinRoom", chatID, "alice") == nil {
		t.Error("expected room join")
	}

	if err := m.JoinLive("eve", chatID); !errors.Is(err, models.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for non-member, got %v", err)
	}
}
