package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/handiism/pixiv-downloader/internal/cancel"
	"github.com/handiism/pixiv-downloader/internal/download"
	"github.com/handiism/pixiv-downloader/internal/pixiv"
	"github.com/handiism/pixiv-downloader/internal/registry"
	"github.com/handiism/pixiv-downloader/internal/service"
	"github.com/handiism/pixiv-downloader/internal/task"
)

var errBadRequest = errors.New("bad request")

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) respond(w http.ResponseWriter, data any, err error) {
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: data})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, envelope{Error: err.Error()})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, task.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest), errors.Is(err, pixiv.ErrInvalidRanking),
		errors.Is(err, registry.ErrUnknownBackend):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrInvalidTransition), errors.Is(err, task.ErrImmutable),
		errors.Is(err, download.ErrAlreadyRunning), errors.Is(err, download.ErrNotRunning),
		errors.Is(err, service.ErrSameBackend):
		return http.StatusConflict
	case errors.Is(err, cancel.ErrPoolFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

type artworkRequest struct {
	ArtworkID int64 `json:"artwork_id"`
	service.Request
}

func (s *Server) handleDownloadArtwork(w http.ResponseWriter, r *http.Request) {
	var body artworkRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if body.ArtworkID <= 0 {
		s.fail(w, fmt.Errorf("%w: artwork_id is required", errBadRequest))
		return
	}
	t, err := s.svc.DownloadArtwork(r.Context(), body.ArtworkID, body.Request)
	s.respond(w, t, err)
}

type multipleRequest struct {
	IDs []int64 `json:"ids"`
	service.Request
}

func (s *Server) handleDownloadMultiple(w http.ResponseWriter, r *http.Request) {
	var body multipleRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if len(body.IDs) == 0 {
		s.fail(w, fmt.Errorf("%w: ids is required", errBadRequest))
		return
	}
	t, err := s.svc.DownloadMultiple(r.Context(), body.IDs, body.Request)
	s.respond(w, t, err)
}

type artistRequest struct {
	ArtistID int64 `json:"artist_id"`
	Limit    int   `json:"limit"`
	service.Request
}

func (s *Server) handleDownloadArtist(w http.ResponseWriter, r *http.Request) {
	var body artistRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if body.ArtistID <= 0 {
		s.fail(w, fmt.Errorf("%w: artist_id is required", errBadRequest))
		return
	}
	t, err := s.svc.DownloadArtist(r.Context(), body.ArtistID, body.Limit, body.Request)
	s.respond(w, t, err)
}

type rankingRequest struct {
	Mode  string `json:"mode"`
	Type  string `json:"type"`
	Limit int    `json:"limit"`
	service.Request
}

func (s *Server) handleDownloadRanking(w http.ResponseWriter, r *http.Request) {
	var body rankingRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if body.Mode == "" {
		body.Mode = "day"
	}
	if _, err := pixiv.RankingMode(body.Mode, body.Type); err != nil {
		s.fail(w, err)
		return
	}
	t, err := s.svc.DownloadRanking(r.Context(), body.Mode, body.Type, body.Limit, body.Request)
	s.respond(w, t, err)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.svc.Tasks(), nil)
}

func (s *Server) handleActiveTasks(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.svc.ActiveTasks(), nil)
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Task(r.PathValue("id"))
	s.respond(w, t, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Pause(r.PathValue("id"))
	s.respond(w, t, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Resume(r.Context(), r.PathValue("id"))
	s.respond(w, t, err)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Cancel(r.PathValue("id"))
	s.respond(w, t, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.svc.History(), nil)
}

func (s *Server) handleRegistryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.RegistryStats(r.Context())
	s.respond(w, stats, err)
}

func (s *Server) handleRegistryExport(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.ExportRegistry(r.Context())
	s.respond(w, snap, err)
}

func (s *Server) handleRegistryImport(w http.ResponseWriter, r *http.Request) {
	var snap registry.Snapshot
	if err := decode(r, &snap); err != nil {
		s.fail(w, err)
		return
	}
	res, err := s.svc.ImportRegistry(r.Context(), &snap)
	s.respond(w, res, err)
}

func (s *Server) handleRegistryRebuild(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.RebuildRegistry(r.Context())
	s.respond(w, res, err)
}

func (s *Server) handleRegistryCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.CleanupRegistry(r.Context())
	s.respond(w, res, err)
}

type migrateRequest struct {
	To   string               `json:"to"`
	Mode registry.MigrateMode `json:"mode"`
}

func (s *Server) handleRegistryMigrate(w http.ResponseWriter, r *http.Request) {
	var body migrateRequest
	if err := decode(r, &body); err != nil {
		s.fail(w, err)
		return
	}
	if body.Mode == "" {
		body.Mode = registry.MigrateMerge
	}
	res, err := s.svc.MigrateRegistry(r.Context(), body.To, body.Mode)
	s.respond(w, res, err)
}

func (s *Server) handleRegistryCompare(w http.ResponseWriter, r *http.Request) {
	diff, err := s.svc.CompareRegistries(r.Context())
	s.respond(w, diff, err)
}
