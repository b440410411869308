package job

import (
	"path/filepath"
	"strings"
	"time"
)

// Request holds the immutable parameters of a submitted download.
type Request struct {
	URL         string `json:"url"`
	Format      string `json:"format,omitempty"`
	Quality     string `json:"quality,omitempty"`
	AuthContext string `json:"browserForCookies,omitempty"`
	Proxy       string `json:"proxy,omitempty"`
}

// Progress is the mutable progress sub-record of a job.
type Progress struct {
	Percent float64 `json:"percent"`
	ETA     string  `json:"eta,omitempty"`
	Rate    string  `json:"speed,omitempty"`
	Message string  `json:"status_message"`
}

// ResultInfo describes a completed download. FileName is always a base name,
// never a path on the server.
type ResultInfo struct {
	Title         string  `json:"title,omitempty"`
	ID            string  `json:"id,omitempty"`
	Duration      float64 `json:"duration,omitempty"`
	Uploader      string  `json:"uploader,omitempty"`
	Thumbnail     string  `json:"thumbnail,omitempty"`
	Extractor     string  `json:"extractor,omitempty"`
	WebpageURL    string  `json:"webpage_url,omitempty"`
	FileName      string  `json:"file_name"`
	FileSize      int64   `json:"file_size,omitempty"`
	FileSizeHuman string  `json:"file_size_human,omitempty"`
}

// Job is the record of one submitted download and its lifecycle.
type Job struct {
	ID        string      `json:"id"`
	Request   Request     `json:"request"`
	Status    Status      `json:"status"`
	Progress  Progress    `json:"progress"`
	Result    *ResultInfo `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   *time.Time  `json:"ended_at,omitempty"`
}

// Clone returns a deep copy so callers never share memory with the registry.
func (j Job) Clone() Job {
	c := j

	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}

	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}

	return c
}

// Duration returns how long the job ran, or zero while it has not ended.
func (j Job) Duration() time.Duration {
	if j.EndedAt == nil {
		return 0
	}

	return j.EndedAt.Sub(j.StartedAt)
}

// Outcome is the terminal result handed to Reporter.ReportTerminal.
type Outcome struct {
	Result *ResultInfo
	Err    string
}

// Succeeded builds a successful outcome.
func Succeeded(info ResultInfo) Outcome {
	return Outcome{Result: &info}
}

// Failed builds a failed outcome.
func Failed(message string) Outcome {
	return Outcome{Err: message}
}

// BaseName reduces a collaborator-reported path to a file name that is safe to
// hand out. It returns an empty string when nothing usable is left.
func BaseName(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	if p == "" {
		return ""
	}

	name := filepath.Base(filepath.FromSlash(p))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}

	return name
}
