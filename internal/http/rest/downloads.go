package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/ytdlp"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Submitter starts downloads and runs info-only extractions.
type Submitter interface {
	Submit(ctx context.Context, req job.Request) (string, error)
	Extract(ctx context.Context, rawURL string) (*ytdlp.MediaInfo, error)
}

// StatusReader renders job views.
type StatusReader interface {
	GetStatus(id string) (job.View, error)
}

// ArtifactOpener opens finished artifacts by base name.
type ArtifactOpener interface {
	Open(name string) (*os.File, fs.FileInfo, error)
}

type DownloadInitiatedResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	TaskID    string `json:"task_id"`
	StatusURL string `json:"status_url"`
}

type ExtractInfoRequest struct {
	URL string `json:"url"`
}

type ExtractInfoResponse struct {
	Status string           `json:"status"`
	Info   *ytdlp.MediaInfo `json:"info"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type DownloadsHandler struct {
	submitter Submitter
	status    StatusReader
	artifacts ArtifactOpener
	// statusPrefix is the absolute path the status route is mounted under.
	statusPrefix string
}

// NewDownloadsHandler creates the handler for the download API. statusPrefix is
// used to build the status_url handed back by /start.
func NewDownloadsHandler(submitter Submitter, status StatusReader, artifacts ArtifactOpener, statusPrefix string) *DownloadsHandler {
	return &DownloadsHandler{
		submitter:    submitter,
		status:       status,
		artifacts:    artifacts,
		statusPrefix: statusPrefix,
	}
}

func (h *DownloadsHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/start", h.HandleStart)
	r.Get("/status/{taskID}", h.HandleStatus)
	r.Get("/downloaded/{filename}", h.HandleDownloaded)
	r.Post("/extract_info", h.HandleExtractInfo)

	return r
}

// HandleStart registers a download and answers before any work is done.
func (h *DownloadsHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req job.Request
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Debug("failed to decode start request", "err", err)
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	logger.Info("received download start request", "url", req.URL, "format", req.Format)

	id, err := h.submitter.Submit(r.Context(), req)
	if err != nil {
		h.handleError(w, r, "failed to initiate download", err)

		return
	}

	writeJSON(w, http.StatusAccepted, DownloadInitiatedResponse{
		Status:    "accepted",
		Message:   "Download initiated",
		TaskID:    id,
		StatusURL: h.statusPrefix + "/" + id,
	})
}

// HandleStatus returns the current view of a job.
func (h *DownloadsHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.status.GetStatus(chi.URLParam(r, "taskID"))
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Task not found.")

			return
		}

		h.handleError(w, r, "failed to read job status", err)

		return
	}

	writeJSON(w, http.StatusOK, view)
}

// HandleDownloaded streams a finished artifact as an attachment.
func (h *DownloadsHandler) HandleDownloaded(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")

	// chi routes on the escaped path whenever the request carries one
	if r.URL.RawPath != "" {
		unescaped, err := url.PathUnescape(name)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid file path.")

			return
		}

		name = unescaped
	}

	f, info, err := h.artifacts.Open(name)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			writeError(w, http.StatusNotFound, "File not found.")

			return
		}

		h.handleError(w, r, "failed to open artifact", err)

		return
	}
	defer f.Close()

	logctx.LoggerFromContext(r.Context()).Debug("serving artifact", "file_name", info.Name(), "file_size", info.Size())

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": info.Name()}))

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// HandleExtractInfo returns metadata and available formats without downloading.
func (h *DownloadsHandler) HandleExtractInfo(w http.ResponseWriter, r *http.Request) {
	var req ExtractInfoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")

		return
	}

	info, err := h.submitter.Extract(r.Context(), req.URL)
	if err != nil {
		var cerr *job.CollaboratorError
		if errors.As(err, &cerr) {
			logctx.LoggerFromContext(r.Context()).Warn("failed to extract info", "url", req.URL, "err", err)
			writeError(w, http.StatusBadGateway, "Failed to extract info: "+err.Error())

			return
		}

		h.handleError(w, r, "failed to extract info", err)

		return
	}

	writeJSON(w, http.StatusOK, ExtractInfoResponse{Status: "success", Info: info})
}

// handleError maps domain errors to status codes: rejected input is a 400,
// unknown jobs and artifacts a 404, a runner that is shutting down a 503 and
// anything else a 500.
func (h *DownloadsHandler) handleError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var (
		verr *job.ValidationError
		perr *job.PathTraversalError
	)

	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &perr):
		writeError(w, http.StatusBadRequest, "Invalid file path.")
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found.")
	case errors.Is(err, downloader.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		logger.Error(msg, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
