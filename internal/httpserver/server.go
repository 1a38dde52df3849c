package httpserver

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"govorilka/internal/api"
	"govorilka/internal/metrics"
	"govorilka/internal/ws"
)

type Server struct {
	server *http.Server
	wg     sync.WaitGroup
}

func New(handlers *api.API, wsServer *ws.Server, m *metrics.Metrics, addr string, allowedOrigins []string) *Server {
	router := mux.NewRouter()

	limiter := newIPLimiter(rate.Every(time.Second), 5)

	router.HandleFunc("/api/signup", limiter.wrap(handlers.SignupHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/login", limiter.wrap(handlers.LoginHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/me", handlers.RequireAuth(handlers.MeHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/users/{id}", handlers.RequireAuth(handlers.UserHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/chats/{id}", handlers.RequireAuth(handlers.ChatHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/chats/{id}/messages", handlers.RequireAuth(handlers.MessagesHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/media/{name}", handlers.RequireAuth(handlers.MediaHandler)).Methods(http.MethodGet)

	router.HandleFunc("/api/socket", wsServer.HandleConnections)

	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "token"},
		AllowCredentials: true,
	})

	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: corsMiddleware.Handler(router),
		},
	}
}

func (s *Server) Start() error {
	slog.Info("server started", "addr", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}

// ipLimiter rate limits by remote address. Stale limiters are dropped once
// the map grows past a soft cap, which is enough for login abuse protection.
type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPLimiter(limit rate.Limit, burst int) *ipLimiter {
	return &ipLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (l *ipLimiter) allow(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}

	lim, ok := l.limiters[host]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = lim
	}
	return lim.Allow()
}

func (l *ipLimiter) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
