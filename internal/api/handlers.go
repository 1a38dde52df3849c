package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"govorilka/internal/auth"
	"govorilka/internal/chats"
	"govorilka/internal/filestore"
	"govorilka/internal/models"
	"govorilka/internal/users"
)

type API struct {
	auth  *auth.Service
	users *users.Service
	chats *chats.Manager
	files filestore.FileStore
}

func New(authService *auth.Service, userService *users.Service, manager *chats.Manager, files filestore.FileStore) *API {
	return &API{
		auth:  authService,
		users: userService,
		chats: manager,
		files: files,
	}
}

type sessionResponse struct {
	Success     bool               `json:"success"`
	Token       string             `json:"token"`
	TokenExpiry int64              `json:"tokenExpiry"`
	User        models.UserSummary `json:"user"`
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := a.users.Register(req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	a.writeSession(w, user)
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := a.users.Authenticate(req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	a.writeSession(w, user)
}

func (a *API) writeSession(w http.ResponseWriter, user *models.User) {
	token, expiry, err := a.auth.Issue(user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, sessionResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiry,
		User:        user.Summary(),
	})
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := a.users.Get(userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"user":    user,
	})
}

func (a *API) UserHandler(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := a.users.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"user":    user.Summary(),
	})
}

func (a *API) ChatHandler(w http.ResponseWriter, r *http.Request, userID string) {
	chat, err := a.chats.Get(userID, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success": true,
		"chat":    chat,
	})
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request, userID string) {
	from := queryInt(r, "from", 1)
	to := queryInt(r, "to", int64(1)<<62)

	messages, err := a.chats.Messages(userID, mux.Vars(r)["id"], from, to)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"success":  true,
		"messages": messages,
	})
}

func (a *API) MediaHandler(w http.ResponseWriter, r *http.Request, userID string) {
	name := mux.Vars(r)["name"]
	if strings.Contains(name, "/") || strings.Contains(name, "..") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	f, err := a.files.Get(name)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		slog.Debug("failed to stream media", "name", name, "error", err)
	}
}

// RequireAuth verifies the bearer token and passes the resolved user id on.
func (a *API) RequireAuth(next func(http.ResponseWriter, *http.Request, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.auth.Verify(a.getToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r, claims.UserID)
	}
}

func (a *API) getToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.Header.Get("token")
}

func queryInt(r *http.Request, key string, fallback int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(models.CodeOf(err))
	if encErr := json.NewEncoder(w).Encode(map[string]any{
		"success": false,
		"error":   err.Error(),
	}); encErr != nil {
		slog.Error("failed to encode error response", "error", encErr)
	}
}
