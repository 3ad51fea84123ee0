package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/archivescan/pipeline/constants"
	"github.com/archivescan/pipeline/internal/common"
	"github.com/archivescan/pipeline/internal/ingest"
	"github.com/archivescan/pipeline/internal/session"
	"github.com/archivescan/pipeline/internal/staging"
)

// Submitter starts a background pipeline run for a session.
type Submitter interface {
	Submit(ctx context.Context, s *session.Session, zipPath string)
}

// Config for the HTTP server.
type Config struct {
	Addr          string
	MaxUploadSize int64 // bytes; zip uploads larger than this are rejected
}

// Server exposes the pipeline over HTTP.
type Server struct {
	cfg      Config
	sessions *session.Manager
	runner   Submitter
	staging  *staging.Store // optional
	logger   *slog.Logger

	// background context for submitted runs; outlives any single request
	runCtx context.Context
}

func New(runCtx context.Context, cfg Config, sessions *session.Manager, runner Submitter, stagingStore *staging.Store, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 100 << 20
	}
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		runner:   runner,
		staging:  stagingStore,
		logger:   logger,
		runCtx:   runCtx,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/api/pipeline", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Get("/status/{sessionID}", s.handleStatus)
		r.Get("/sessions", s.handleSessions)
		r.Get("/download/{sessionID}", s.handleDownload)
		r.Get("/view/{sessionID}", s.handleView)
		r.Delete("/cleanup/{sessionID}", s.handleCleanup)
	})
	return r
}

// ListenAndServe runs the server until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("server.shutdown_error", "error", err)
		}
	}()

	s.logger.Info("server.listening", "addr", s.cfg.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadSize); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart upload")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
		writeError(w, http.StatusBadRequest, "only ZIP archives are accepted")
		return
	}

	sess, err := s.sessions.Create()
	if err != nil {
		s.logger.Error("server.session_create_failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	zipPath := filepath.Join(sess.UploadsDir(), filepath.Base(header.Filename))
	dst, err := os.Create(zipPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}
	if err := dst.Close(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return
	}

	if s.staging != nil {
		if err := s.staging.CreateSession(r.Context(), sess.ID, header.Filename, sess.Dir); err != nil {
			s.logger.Error("server.staging_register_failed", "session_id", sess.ID, "error", err)
		}
	}

	s.runner.Submit(s.runCtx, sess, zipPath)
	s.logger.Info("server.session_submitted",
		"session_id", sess.ID,
		"filename", header.Filename,
		"bytes", header.Size,
	)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"success":    true,
		"session_id": sess.ID,
		"status":     constants.StatusCreated,
		"message":    "Processing started",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := sess.EnsureReviewReady(); err != nil {
		if errors.Is(err, common.ErrNotReady) {
			writeError(w, http.StatusConflict, "session results are not ready")
			return
		}
		writeError(w, http.StatusInternalServerError, "session state unavailable")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "processed_"+sess.ID+".zip"))
	if err := ingest.CreateArchive(w, sess.ProcessedDir()); err != nil {
		// Headers are gone; all we can do is log.
		s.logger.Error("server.download_failed", "session_id", sess.ID, "error", err)
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	reportPath := filepath.Join(sess.ProcessedDir(), "processing_summary.html")
	if _, err := os.Stat(reportPath); err != nil {
		writeError(w, http.StatusNotFound, "results not yet available")
		return
	}
	http.ServeFile(w, r, reportPath)
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := s.sessions.Delete(id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Error("server.cleanup_failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to clean up session")
		return
	}
	if s.staging != nil {
		if err := s.staging.DeleteSession(r.Context(), id); err != nil {
			s.logger.Error("server.staging_cleanup_failed", "session_id", id, "error", err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "session " + id + " cleaned up",
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
