package panel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"taskingbot-bridge/internal/action"
	"taskingbot-bridge/internal/policy"
)

const maxRequestBytes = 16 << 20

// Handler exposes the service over HTTP.
func Handler(s *Service) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok"})
	})
	router.Route("/v1", func(r chi.Router) {
		r.Post("/actions", s.handlePerformActions)
		r.Get("/logs", s.handleGetLogs)
		r.Get("/page", s.handlePageInfo)
		r.Get("/confirmations", s.handlePendingConfirmations)
		r.Post("/confirmations/{id}", s.handleResolveConfirmation)
	})
	return router
}

func (s *Service) handlePerformActions(w http.ResponseWriter, req *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, req.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	actions, err := action.DecodeJSON(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	out, err := s.PerformActions(req.Context(), actions)
	switch {
	case errors.Is(err, ErrNoActions):
		writeError(w, http.StatusBadRequest, err)
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeJSON(w, http.StatusOK, out)
	}
}

func (s *Service) handleGetLogs(w http.ResponseWriter, req *http.Request) {
	logs, err := s.GetLogs(req.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Service) handlePageInfo(w http.ResponseWriter, req *http.Request) {
	info, err := s.PageInfo(req.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Service) handlePendingConfirmations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"confirmations": s.PendingConfirmations()})
}

func (s *Service) handleResolveConfirmation(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "id")
	var body struct {
		Allow bool `json:"allow"`
	}
	if err := json.NewDecoder(io.LimitReader(req.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.ResolveConfirmation(id, body.Allow)
	switch {
	case errors.Is(err, policy.ErrUnknownConfirmation):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, ErrNoConfirmations):
		writeError(w, http.StatusConflict, err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"id": id, "allow": body.Allow})
	}
}

// Serve listens on addr until ctx ends, then shuts down gracefully.
func Serve(ctx context.Context, addr string, h http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: h, ReadHeaderTimeout: 10 * time.Second}
	logger.Info("panel api listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]interface{}{"error": err.Error()})
}
