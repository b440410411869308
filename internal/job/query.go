package job

import (
	"net/url"
	"strings"
	"time"
)

// View is the client-facing rendering of a job.
type View struct {
	TaskID       string      `json:"task_id"`
	Status       Status      `json:"status"`
	Progress     *Progress   `json:"progress,omitempty"`
	Info         *ResultInfo `json:"info,omitempty"`
	DownloadLink string      `json:"download_link,omitempty"`
	Error        string      `json:"error,omitempty"`
	StartedAt    time.Time   `json:"started_at"`
	EndedAt      *time.Time  `json:"ended_at,omitempty"`
}

// QueryService is the read-only accessor used by the HTTP layer.
type QueryService struct {
	registry       *Registry
	downloadPrefix string
}

// NewQueryService builds a query service whose download links are rooted at downloadPrefix.
func NewQueryService(registry *Registry, downloadPrefix string) *QueryService {
	return &QueryService{
		registry:       registry,
		downloadPrefix: strings.TrimRight(downloadPrefix, "/"),
	}
}

// GetStatus renders the job as of one consistent snapshot, or returns ErrNotFound.
func (s *QueryService) GetStatus(id string) (View, error) {
	j, ok := s.registry.Get(id)
	if !ok {
		return View{}, ErrNotFound
	}

	return s.render(j), nil
}

// DownloadReference returns the link under which a completed artifact is served.
func (s *QueryService) DownloadReference(fileName string) string {
	return s.downloadPrefix + "/" + url.PathEscape(fileName)
}

func (s *QueryService) render(j Job) View {
	v := View{
		TaskID:    j.ID,
		Status:    j.Status,
		StartedAt: j.StartedAt,
		EndedAt:   j.EndedAt,
	}

	switch j.Status {
	case StatusCompleted:
		v.Info = j.Result
		if j.Result != nil {
			v.DownloadLink = s.DownloadReference(j.Result.FileName)
		}
	case StatusFailed:
		v.Error = j.Error
	default:
		p := j.Progress
		v.Progress = &p
	}

	return v
}
