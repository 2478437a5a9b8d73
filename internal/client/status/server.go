// Package status serves the Sync Manager's state over HTTP: a JSON snapshot,
// a WebSocket feed of every broadcast, a manual sync trigger, Prometheus
// metrics and store diagnostics.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mittimoney/mittimoney/internal/client/store"
	"github.com/mittimoney/mittimoney/internal/client/syncer"
	"github.com/mittimoney/mittimoney/internal/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager is the part of the Sync Manager the surface exposes.
type Manager interface {
	Status() syncer.Status
	Subscribe(fn syncer.Listener) func()
	Refresh(ctx context.Context) error
	Trigger()
	Metrics() *syncer.Metrics
}

// Diagnostics is the read side of the Local Store plus dead-letter replay.
type Diagnostics interface {
	Stats(ctx context.Context) (store.Stats, error)
	DeadLetters(ctx context.Context) ([]store.DeadLetter, error)
	Requeue(ctx context.Context, deadLetterID int64) (int64, error)
}

const writeTimeout = 5 * time.Second

func NewRouter(m Manager, d Diagnostics, log logging.Logger) http.Handler {
	h := &handlers{m: m, d: d, log: log}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", h.health)
	r.Get("/status", h.status)
	r.Get("/ws", h.ws)
	r.Post("/sync", h.sync)
	r.Handle("/metrics", promhttp.HandlerFor(m.Metrics().Registry, promhttp.HandlerOpts{}))

	r.Get("/stats", h.stats)
	r.Get("/deadletters", h.deadLetters)
	r.Post("/deadletters/{id}/requeue", h.requeue)
	return r
}

type handlers struct {
	m   Manager
	d   Diagnostics
	log logging.Logger
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.m.Status())
}

func (h *handlers) sync(w http.ResponseWriter, _ *http.Request) {
	h.m.Trigger()
	writeJSON(w, http.StatusAccepted, h.m.Status())
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.d.Stats(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "store stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type deadLetterView struct {
	ID         int64     `json:"id"`
	Collection string    `json:"collection"`
	EntityID   string    `json:"entityId"`
	Op         string    `json:"op"`
	Attempts   int       `json:"attempts"`
	Reason     string    `json:"reason"`
	FailedAt   time.Time `json:"failedAt"`
}

func (h *handlers) deadLetters(w http.ResponseWriter, r *http.Request) {
	dls, err := h.d.DeadLetters(r.Context())
	if err != nil {
		h.log.Error(r.Context(), "list dead letters", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]deadLetterView, 0, len(dls))
	for _, d := range dls {
		out = append(out, deadLetterView{
			ID:         d.ID,
			Collection: d.Entry.Collection,
			EntityID:   d.Entry.EntityID,
			Op:         d.Entry.Op,
			Attempts:   d.Attempts,
			Reason:     d.Reason,
			FailedAt:   d.FailedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) requeue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	entryID, err := h.d.Requeue(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "dead letter not found")
		return
	case err != nil:
		h.log.Error(r.Context(), "requeue", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.m.Refresh(r.Context()); err != nil {
		h.log.Warn(r.Context(), "refresh after requeue", "error", err)
	}
	h.m.Trigger()
	writeJSON(w, http.StatusOK, map[string]int64{"entryId": entryID})
}

// ws pushes the current status on connect and every broadcast after it.
// Slow clients miss intermediate snapshots rather than blocking the manager.
func (h *handlers) ws(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx := conn.CloseRead(r.Context())

	updates := make(chan syncer.Status, 8)
	unsubscribe := h.m.Subscribe(func(s syncer.Status) {
		select {
		case updates <- s:
		default:
		}
	})
	defer unsubscribe()

	if err := push(ctx, conn, h.m.Status()); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case s := <-updates:
			if err := push(ctx, conn, s); err != nil {
				h.log.Debug(ctx, "websocket client gone", "error", err)
				return
			}
		}
	}
}

func push(ctx context.Context, conn *websocket.Conn, s syncer.Status) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

type Server struct {
	addr    string
	handler http.Handler
	log     logging.Logger
}

func NewServer(addr string, m Manager, d Diagnostics, log logging.Logger) *Server {
	log = log.With("module", "status")
	return &Server{addr: addr, handler: NewRouter(m, d, log), log: log}
}

// Run listens on the configured address until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	srv := &http.Server{Handler: s.handler, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "status server listening", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("status server shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
