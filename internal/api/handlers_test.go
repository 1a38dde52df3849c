package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"govorilka/internal/auth"
	"govorilka/internal/chats"
	"govorilka/internal/filestore"
	"govorilka/internal/models"
	"govorilka/internal/storage"
	"govorilka/internal/users"
)

type nullFanout struct{}

func (nullFanout) ToRoom(string, string, any) {}
func (nullFanout) ToAll(string, any)          {}
func (nullFanout) JoinRoom(string, string)    {}
func (nullFanout) LeaveRoom(string, string)   {}
func (nullFanout) CloseRoom(string)           {}
func (nullFanout) Disconnect(string)          {}

func newTestAPI(t *testing.T) (*API, *mux.Router) {
	t.Helper()

	store, err := storage.NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.NewService(context.Background(), auth.Config{
		Secret: base64.StdEncoding.EncodeToString([]byte("test-secret")),
	})
	require.NoError(t, err)

	files, err := filestore.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	userService := users.NewService(store, nullFanout{})
	manager := chats.NewManager(store, nullFanout{}, files)

	a := New(authService, userService, manager, files)

	router := mux.NewRouter()
	router.HandleFunc("/api/signup", a.SignupHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/login", a.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/me", a.RequireAuth(a.MeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{id}", a.RequireAuth(a.UserHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/chats/{id}", a.RequireAuth(a.ChatHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/chats/{id}/messages", a.RequireAuth(a.MessagesHandler)).Methods(http.MethodGet)
	return a, router
}

func doJSON(t *testing.T, router *mux.Router, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSignupAndLogin(t *testing.T) {
	_, router := newTestAPI(t)

	w := doJSON(t, router, http.MethodPost, "/api/signup", "", map[string]string{
		"username": "alice",
		"email":    "alice@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var signup sessionResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&signup))
	require.True(t, signup.Success)
	require.NotEmpty(t, signup.Token)
	require.Equal(t, "alice", signup.User.Username)

	t.Run("duplicate username", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/signup", "", map[string]string{
			"username": "alice",
			"email":    "other@example.com",
			"password": "password123",
		})
		require.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("weak password", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/signup", "", map[string]string{
			"username": "bob",
			"email":    "bob@example.com",
			"password": "short",
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("login", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "password123",
		})
		require.Equal(t, http.StatusOK, w.Code)

		var login sessionResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&login))
		require.True(t, login.Success)
		require.NotEmpty(t, login.Token)
	})

	t.Run("bad password", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/login", "", map[string]string{
			"email":    "alice@example.com",
			"password": "wrongpassword",
		})
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestAuthedEndpoints(t *testing.T) {
	a, router := newTestAPI(t)

	alice, err := a.users.Register("alice", "alice@example.com", "password123")
	require.NoError(t, err)
	bob, err := a.users.Register("bob", "bob@example.com", "password123")
	require.NoError(t, err)

	token, _, err := a.auth.Issue(alice.ID)
	require.NoError(t, err)

	chat, err := a.chats.CreateGroup(alice.ID, "general", "", nil)
	require.NoError(t, err)
	_, err = a.chats.SendMessage(alice.ID, chat.ID, models.MessageTypeText, "hello", nil)
	require.NoError(t, err)

	t.Run("me", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/me", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			User models.User `json:"user"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Equal(t, "alice", resp.User.Username)
	})

	t.Run("no token", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/me", "", nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("other user summary", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/users/"+bob.ID, token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			User models.UserSummary `json:"user"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Equal(t, "bob", resp.User.Username)
	})

	t.Run("chat for members", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/chats/"+chat.ID, token, nil)
		require.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("chat hidden from non-members", func(t *testing.T) {
		bobToken, _, err := a.auth.Issue(bob.ID)
		require.NoError(t, err)
		w := doJSON(t, router, http.MethodGet, "/api/chats/"+chat.ID, bobToken, nil)
		require.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("messages", func(t *testing.T) {
		w := doJSON(t, router, http.MethodGet, "/api/chats/"+chat.ID+"/messages?from=1&to=10", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp struct {
			Messages []models.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.Len(t, resp.Messages, 1)
		require.Equal(t, "hello", resp.Messages[0].Content)
	})
}
