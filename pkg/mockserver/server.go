// Package mockserver is a development chat backend speaking the same REST
// and event-stream contract as the real server. The bearer token is the
// user id.
package mockserver

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatsync/pkg/logger"
	"chatsync/pkg/metrics"
	"chatsync/pkg/mockserver/storage"
	"chatsync/pkg/models"
)

type Options struct {
	RateRPS   float64
	RateBurst int
	// StatusDelay is how long after a send the delivered status is pushed.
	StatusDelay  time.Duration
	SimulateCron string
	// Registry receives the server metrics; a private one is used when nil.
	Registry *prometheus.Registry
}

type Server struct {
	db      *storage.DB
	hub     *Hub
	limiter *limiterPool
	opts    Options
	router  *mux.Router
	newID   func() string

	requests *prometheus.CounterVec
	events   *prometheus.CounterVec

	closed atomic.Bool
	timers sync.WaitGroup
}

type ctxKey struct{}

func New(db *storage.DB, o Options) *Server {
	if o.Registry == nil {
		o.Registry = prometheus.NewRegistry()
	}
	s := &Server{
		db:      db,
		hub:     NewHub(),
		limiter: newLimiterPool(o.RateRPS, o.RateBurst),
		opts:    o,
		newID:   func() string { return "msg-" + uuid.NewString() },
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync_mock",
			Name:      "requests_total",
			Help:      "REST requests by route and status code.",
		}, []string{"route", "code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatsync_mock",
			Name:      "events_sent_total",
			Help:      "Events pushed to streams, by type.",
		}, []string{"type"}),
	}
	o.Registry.MustRegister(s.requests, s.events)
	metrics.RegisterRuntime(o.Registry)
	s.hub.onFrame = s.handleFrame
	s.hub.onPresence = s.handlePresence
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.Handle("/ws", s.authenticate(http.HandlerFunc(s.serveWS))).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.instrument, s.authenticate)
	api.HandleFunc("/users/profile", s.profile).Methods(http.MethodGet)
	api.HandleFunc("/chats", s.listChats).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}", s.getChat).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/messages", s.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	api.HandleFunc("/chats/{id}/messages/search", s.searchMessages).Methods(http.MethodGet)
	api.HandleFunc("/chats/{id}/mark-read", s.markRead).Methods(http.MethodPut)
	api.HandleFunc("/messages/{id}", s.editMessage).Methods(http.MethodPut)
	api.HandleFunc("/messages/{id}", s.deleteMessage).Methods(http.MethodDelete)
	return r
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func tokenOf(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := tokenOf(r)
		if tok == "" {
			writeError(w, http.StatusUnauthorized, "missing token")
			return
		}
		if !s.limiter.Allow(tok) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		user, err := s.db.User(tok)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, user)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		logger.Debug("mock_request", "method", r.Method, "route", route, "status", rec.status, "took", time.Since(start))
	})
}

func currentUser(r *http.Request) models.Participant {
	u, _ := r.Context().Value(ctxKey{}).(models.Participant)
	return u
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	s.hub.Serve(w, r, currentUser(r).UserID)
}

// push sends one event to the given users and counts it.
func (s *Server) push(userIDs []string, t models.EventType, payload any) {
	s.events.WithLabelValues(string(t)).Inc()
	s.hub.Send(userIDs, t, payload)
}

// after runs fn once d has passed unless the server closed first.
func (s *Server) after(d time.Duration, fn func()) {
	s.timers.Add(1)
	time.AfterFunc(d, func() {
		defer s.timers.Done()
		if s.closed.Load() {
			return
		}
		fn()
	})
}

// Run drives the simulated traffic and limiter cleanup until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if s.opts.SimulateCron != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.simulateLoop(ctx)
		}()
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case now := <-ticker.C:
			if n := s.limiter.sweep(now); n > 0 {
				logger.Debug("limiter_swept", "count", n)
			}
		}
	}
}

// Close drops every stream and waits for pending status timers.
func (s *Server) Close() {
	if s.closed.Swap(true) {
		return
	}
	s.hub.Close()
	s.timers.Wait()
}
