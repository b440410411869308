package ytdlp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	goytdlp "github.com/lrstanley/go-ytdlp"
)

// Phase is the engine-side stage an Update belongs to.
type Phase string

const (
	PhaseStarting       Phase = "starting"
	PhaseDownloading    Phase = "downloading"
	PhaseFinished       Phase = "finished"
	PhasePostProcessing Phase = "post_processing"
)

// Update is one incremental progress report from the engine.
type Update struct {
	Phase      Phase
	Percent    float64
	HasPercent bool
	ETA        string
	Rate       string
	Filename   string
}

// ProgressFunc receives updates in the order the engine emits them.
type ProgressFunc func(Update)

// Metadata is the descriptive subset of the engine's info dict.
type Metadata struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Duration   float64 `json:"duration"`
	Uploader   string  `json:"uploader"`
	Thumbnail  string  `json:"thumbnail"`
	Extractor  string  `json:"extractor"`
	WebpageURL string  `json:"webpage_url"`
}

const infoFields = "id,title,duration,uploader,thumbnail,extractor,webpage_url"

// Templates handed to --print. The after_move line repeats the metadata so a
// run that only reaches that stage still reports everything.
const (
	metadataPrint = "before_dl:%(.{" + infoFields + "})j"
	filepathPrint = "after_move:%(.{" + infoFields + ",filepath})j"
)

// updateFromProgress converts a library progress callback into an Update.
// Percent and rate are derived from byte counts, so updates without a known
// total carry no percent.
func updateFromProgress(p goytdlp.ProgressUpdate, now time.Time) Update {
	u := Update{Filename: p.Filename}

	switch string(p.Status) {
	case "finished":
		u.Phase = PhaseFinished
	case "post_processing":
		u.Phase = PhasePostProcessing
	case "downloading":
		u.Phase = PhaseDownloading
	default:
		u.Phase = PhaseStarting
	}

	if p.TotalBytes > 0 {
		u.Percent = float64(p.DownloadedBytes) / float64(p.TotalBytes) * 100
		u.HasPercent = true

		if u.Percent > 100 {
			u.Percent = 100
		}
	}

	if u.Phase != PhaseDownloading {
		return u
	}

	if eta := p.ETA(); eta > 0 {
		u.ETA = formatETA(eta)
	}

	if !p.Started.IsZero() && p.DownloadedBytes > 0 {
		if elapsed := now.Sub(p.Started).Seconds(); elapsed > 0 {
			u.Rate = humanize.Bytes(uint64(float64(p.DownloadedBytes)/elapsed)) + "/s"
		}
	}

	return u
}

func formatETA(d time.Duration) string {
	d = d.Round(time.Second)

	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}

	return fmt.Sprintf("%02d:%02d", m, s)
}

type printedInfo struct {
	Metadata
	FilePath string `json:"filepath"`
}

// parsePrinted reads the JSON objects our --print templates emit from the
// engine's stdout. Later lines win field by field; anything else is ignored.
func parsePrinted(stdout string) (Metadata, string) {
	var (
		md   Metadata
		path string
	)

	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}

		var pi printedInfo
		if err := json.Unmarshal([]byte(line), &pi); err != nil {
			continue
		}

		md = mergeMetadata(md, pi.Metadata)

		if pi.FilePath != "" {
			path = pi.FilePath
		}
	}

	return md, path
}

func mergeMetadata(dst, src Metadata) Metadata {
	if src.ID != "" {
		dst.ID = src.ID
	}

	if src.Title != "" {
		dst.Title = src.Title
	}

	if src.Duration > 0 {
		dst.Duration = src.Duration
	}

	if src.Uploader != "" {
		dst.Uploader = src.Uploader
	}

	if src.Thumbnail != "" {
		dst.Thumbnail = src.Thumbnail
	}

	if src.Extractor != "" {
		dst.Extractor = src.Extractor
	}

	if src.WebpageURL != "" {
		dst.WebpageURL = src.WebpageURL
	}

	return dst
}

// errorMessage prefers the engine's last "ERROR:" line over the raw stderr tail.
func errorMessage(stderr string) string {
	var lines []string

	for _, l := range strings.Split(stderr, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}

	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "ERROR:") {
			return lines[i]
		}
	}

	if len(lines) > maxTailLines {
		lines = lines[len(lines)-maxTailLines:]
	}

	return strings.Join(lines, "\n")
}
