// Package web exposes the service status, stored events and an iCalendar
// feed over HTTP.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"shiftcal/internal/config"
	"shiftcal/internal/ics"
	appLog "shiftcal/internal/log"
	"shiftcal/internal/model"
)

var monthRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// EventSource is the read side of the local store.
type EventSource interface {
	List(ctx context.Context, month string) ([]model.StoredEvent, error)
	Active(ctx context.Context) ([]model.StoredEvent, error)
	Ping(ctx context.Context) error
}

// StatusReporter returns the current job status.
type StatusReporter interface {
	Status() model.Status
}

// Options configures the server.
type Options struct {
	Listen       string
	BasicAuth    *config.BasicAuthConfig
	Location     *time.Location
	CalendarName string
	// Now is used to pick the default month; defaults to time.Now.
	Now func() time.Time
}

// Server serves the HTTP API.
type Server struct {
	events EventSource
	status StatusReporter
	opts   Options
	router chi.Router
}

// NewServer constructs a new Server.
func NewServer(events EventSource, status StatusReporter, opts Options) *Server {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{events: events, status: status, opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	// /health is always unauthenticated.
	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		if s.basicAuthEnabled() {
			r.Use(basicAuth(s.opts.BasicAuth.Username, s.opts.BasicAuth.Password))
		}
		r.Get("/api/events", s.handleEvents)
		r.Get("/api/status", s.handleStatus)
		r.Get("/calendar.ics", s.handleICS)
	})
	return r
}

// Run serves on opts.Listen until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.opts.Listen, "basic_auth", s.basicAuthEnabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) basicAuthEnabled() bool {
	ba := s.opts.BasicAuth
	return ba != nil && ba.Username != "" && ba.Password != ""
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.events.Ping(ctx); err != nil {
		appLog.Error("health check failed", err)
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type eventJSON struct {
	ID        string          `json:"id"`
	Date      model.Date      `json:"date"`
	Event     model.Event     `json:"event"`
	State     model.SyncState `json:"state"`
	Active    bool            `json:"active"`
	Synced    bool            `json:"synced"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type eventsResponse struct {
	Month  string      `json:"month"`
	Events []eventJSON `json:"events"`
}

// handleEvents lists stored records of one month, active or not.
//
// Query: month=YYYY-MM, defaulting to the current month.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if month == "" {
		month = s.opts.Now().In(s.opts.Location).Format("2006-01")
	}
	if !monthRe.MatchString(month) {
		writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
		return
	}

	records, err := s.events.List(r.Context(), month)
	if err != nil {
		appLog.Error("list events failed", err, "month", month)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	resp := eventsResponse{Month: month, Events: make([]eventJSON, 0, len(records))}
	for _, ev := range records {
		resp.Events = append(resp.Events, eventJSON{
			ID:        ev.ID,
			Date:      ev.Date,
			Event:     ev.Event,
			State:     ev.State,
			Active:    ev.IsActive(),
			Synced:    ev.IsSynced(),
			CreatedAt: ev.CreatedAt,
			UpdatedAt: ev.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

func (s *Server) handleICS(w http.ResponseWriter, r *http.Request) {
	records, err := s.events.Active(r.Context())
	if err != nil {
		appLog.Error("list active events failed", err)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="calendar.ics"`)
	err = ics.Write(w, records, ics.Options{
		Name:     s.opts.CalendarName,
		Location: s.opts.Location,
		Now:      s.opts.Now,
	})
	if err != nil {
		appLog.Error("failed to write ics feed", err)
	}
}

// basicAuth rejects requests without the configured credentials.
func basicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
				w.Header().Set("WWW-Authenticate", `Basic realm="shiftcal", charset="UTF-8"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start).String(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
