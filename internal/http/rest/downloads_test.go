package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/media_downloader/internal/artifact"
	"github.com/italolelis/media_downloader/internal/downloader"
	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"github.com/italolelis/media_downloader/internal/ytdlp"
)

type mockSubmitter struct {
	SubmitFunc  func(ctx context.Context, req job.Request) (string, error)
	ExtractFunc func(ctx context.Context, rawURL string) (*ytdlp.MediaInfo, error)
}

func (m *mockSubmitter) Submit(ctx context.Context, req job.Request) (string, error) {
	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, req)
	}

	return "task-1", nil
}

func (m *mockSubmitter) Extract(ctx context.Context, rawURL string) (*ytdlp.MediaInfo, error) {
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, rawURL)
	}

	return &ytdlp.MediaInfo{}, nil
}

type mockStatusReader struct {
	GetStatusFunc func(id string) (job.View, error)
}

func (m *mockStatusReader) GetStatus(id string) (job.View, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(id)
	}

	return job.View{}, job.ErrNotFound
}

func newTestRouter(t *testing.T, sub Submitter, status StatusReader) (http.Handler, *artifact.Store) {
	t.Helper()

	store, err := artifact.NewStore(t.TempDir(), nil)
	require.NoError(t, err)

	if sub == nil {
		sub = &mockSubmitter{}
	}

	if status == nil {
		status = &mockStatusReader{}
	}

	h := NewDownloadsHandler(sub, status, store, StatusPrefix)

	return NewRouter(RouterConfig{
		Downloads:   h,
		Telemetry:   telemetry.Disabled(),
		CORSOrigins: []string{"*"},
		ActiveJobs:  func() int { return 2 },
	}), store
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))

	return v
}

func TestHandleStart(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		submitErr  error
		wantStatus int
		wantError  string
	}{
		{
			name:       "accepted",
			body:       `{"url":"https://example.com/v","format":"audio","browserForCookies":"chrome"}`,
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "malformed body",
			body:       `{"url":`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid request body",
		},
		{
			name:       "validation error",
			body:       `{"url":""}`,
			submitErr:  &job.ValidationError{Field: "url", Reason: "URL is required"},
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid url: URL is required",
		},
		{
			name:       "shutting down",
			body:       `{"url":"https://example.com/v"}`,
			submitErr:  downloader.ErrClosed,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected error",
			body:       `{"url":"https://example.com/v"}`,
			submitErr:  errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantError:  "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got job.Request

			h, _ := newTestRouter(t, &mockSubmitter{
				SubmitFunc: func(_ context.Context, req job.Request) (string, error) {
					got = req

					if tt.submitErr != nil {
						return "", tt.submitErr
					}

					return "abc-123", nil
				},
			}, nil)

			rec := do(t, h, http.MethodPost, "/api/v1/start", tt.body)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.NotEmpty(t, rec.Header().Get(telemetry.RequestIDHeader))

			if tt.wantStatus == http.StatusAccepted {
				resp := decode[DownloadInitiatedResponse](t, rec)
				assert.Equal(t, DownloadInitiatedResponse{
					Status:    "accepted",
					Message:   "Download initiated",
					TaskID:    "abc-123",
					StatusURL: "/api/v1/status/abc-123",
				}, resp)
				assert.Equal(t, "audio", got.Format)
				assert.Equal(t, "chrome", got.AuthContext)

				return
			}

			resp := decode[ErrorResponse](t, rec)
			if tt.wantError != "" {
				assert.Equal(t, tt.wantError, resp.Error)
			}
		})
	}
}

func TestHandleStatus(t *testing.T) {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	h, _ := newTestRouter(t, nil, &mockStatusReader{
		GetStatusFunc: func(id string) (job.View, error) {
			if id != "known" {
				return job.View{}, job.ErrNotFound
			}

			return job.View{
				TaskID:    "known",
				Status:    job.StatusRunning,
				Progress:  &job.Progress{Percent: 42, Message: "Downloading"},
				StartedAt: started,
			}, nil
		},
	})

	rec := do(t, h, http.MethodGet, "/api/v1/status/known", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "known", body["task_id"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, 42.0, body["progress"].(map[string]any)["percent"])

	rec = do(t, h, http.MethodGet, "/api/v1/status/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found.", decode[ErrorResponse](t, rec).Error)
}

func TestHandleDownloaded(t *testing.T) {
	h, store := newTestRouter(t, nil, nil)

	require.NoError(t, os.WriteFile(filepath.Join(store.Dir(), "Song (c).mp3"), []byte("audio-bytes"), 0o644))

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantBody   string
	}{
		{name: "plain escaping", target: "/api/v1/downloaded/Song%20(c).mp3", wantStatus: http.StatusOK, wantBody: "audio-bytes"},
		{name: "escaped parentheses", target: "/api/v1/downloaded/Song%20%28c%29.mp3", wantStatus: http.StatusOK, wantBody: "audio-bytes"},
		{name: "missing file", target: "/api/v1/downloaded/nope.mp3", wantStatus: http.StatusNotFound},
		{name: "escaped traversal", target: "/api/v1/downloaded/..%2F..%2Fetc%2Fpasswd", wantStatus: http.StatusBadRequest},
		{name: "escaped dot dot", target: "/api/v1/downloaded/%2E%2E", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, tt.target, "")
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusOK {
				return
			}

			assert.Equal(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
			assert.Contains(t, rec.Header().Get("Content-Disposition"), `filename="Song (c).mp3"`)
		})
	}
}

func TestHandleExtractInfo(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{name: "success", wantStatus: http.StatusOK},
		{name: "invalid url", err: &job.ValidationError{Field: "url", Reason: "bad"}, wantStatus: http.StatusBadRequest},
		{name: "engine failure", err: &job.CollaboratorError{Operation: "extract", Message: "ERROR: Unsupported URL"}, wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestRouter(t, &mockSubmitter{
				ExtractFunc: func(_ context.Context, rawURL string) (*ytdlp.MediaInfo, error) {
					assert.Equal(t, "https://example.com/v", rawURL)

					if tt.err != nil {
						return nil, tt.err
					}

					return &ytdlp.MediaInfo{Title: "Song", AvailableFormats: []ytdlp.FormatInfo{{FormatID: "22"}}}, nil
				},
			}, nil)

			rec := do(t, h, http.MethodPost, "/api/v1/extract_info", `{"url":"https://example.com/v"}`)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusOK {
				return
			}

			resp := decode[ExtractInfoResponse](t, rec)
			assert.Equal(t, "success", resp.Status)
			assert.Equal(t, "Song", resp.Info.Title)
		})
	}
}

func TestRouter_RootHealthAndCORS(t *testing.T) {
	h, _ := newTestRouter(t, nil, nil)

	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Welcome")

	rec = do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, HealthResponse{Status: "ok", ActiveJobs: 2}, decode[HealthResponse](t, rec))

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/start", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	pre := httptest.NewRecorder()
	h.ServeHTTP(pre, req)

	assert.NotEmpty(t, pre.Header().Get("Access-Control-Allow-Origin"))
}
