package ytdlp

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/italolelis/media_downloader/internal/job"
)

// Kind is the broad type of artifact a selection produces.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindImage Kind = "image"
)

const (
	DefaultFormat       = "video"
	defaultContainer    = "mp4"
	audioCodec          = "mp3"
	audioBitrate        = "192K"
	thumbnailExtension  = "jpg"
	bestVideoSelection  = "bestvideo+bestaudio/best"
	bestAudioSelection  = "bestaudio/best"
	worstVideoSelection = "worstvideo+worstaudio/worst"
	worstAudioSelection = "worstaudio/worst"
)

// Options describes one download request in the engine's terms.
type Options struct {
	URL                string
	Format             string
	Quality            string
	CookiesFromBrowser string
	Proxy              string
}

// Selection is a validated format/quality pair translated into engine flags.
type Selection struct {
	Kind      Kind
	Spec      string // -f expression
	Container string // merge container for video kinds
}

var videoContainers = map[string]string{
	"video": defaultContainer,
	"mp4":   "mp4",
	"mkv":   "mkv",
	"webm":  "webm",
}

var audioFormats = map[string]bool{
	"audio": true,
	"mp3":   true,
}

var videoHeights = map[string]int{
	"2160p": 2160,
	"1440p": 1440,
	"1080p": 1080,
	"720p":  720,
	"480p":  480,
	"360p":  360,
}

var supportedBrowsers = map[string]bool{
	"brave":    true,
	"chrome":   true,
	"chromium": true,
	"edge":     true,
	"firefox":  true,
	"opera":    true,
	"safari":   true,
	"vivaldi":  true,
	"whale":    true,
}

var proxySchemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks4":  true,
	"socks5":  true,
	"socks5h": true,
}

// ParseSelection validates format and quality against the accepted value sets
// and returns the engine selection for them. Empty values take the defaults.
func ParseSelection(format, quality string) (Selection, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	quality = strings.TrimSpace(quality)

	if format == "" {
		format = DefaultFormat
	}

	if container, ok := videoContainers[format]; ok {
		spec, err := videoSpec(quality)
		if err != nil {
			return Selection{}, err
		}

		return Selection{Kind: KindVideo, Spec: spec, Container: container}, nil
	}

	if audioFormats[format] {
		switch strings.ToLower(quality) {
		case "", "best", bestAudioSelection:
			return Selection{Kind: KindAudio, Spec: bestAudioSelection}, nil
		case "worst":
			return Selection{Kind: KindAudio, Spec: worstAudioSelection}, nil
		}

		return Selection{}, invalidQuality(quality, "best", bestAudioSelection, "worst")
	}

	if format == string(KindImage) {
		if quality == "" || strings.EqualFold(quality, "best") {
			return Selection{Kind: KindImage, Spec: "best"}, nil
		}

		return Selection{}, invalidQuality(quality, "best")
	}

	return Selection{}, &job.ValidationError{
		Field:  "format",
		Reason: fmt.Sprintf("%q is not supported (expected one of %s)", format, strings.Join(supportedFormats(), ", ")),
	}
}

func videoSpec(quality string) (string, error) {
	q := strings.ToLower(quality)

	switch q {
	case "", "best", bestVideoSelection:
		return bestVideoSelection, nil
	case "worst":
		return worstVideoSelection, nil
	}

	if h, ok := videoHeights[q]; ok {
		return fmt.Sprintf("bestvideo[height<=%d]+bestaudio/best[height<=%d]", h, h), nil
	}

	allowed := []string{"best", bestVideoSelection, "worst"}
	for k := range videoHeights {
		allowed = append(allowed, k)
	}

	sort.Strings(allowed[3:])

	return "", invalidQuality(quality, allowed...)
}

func invalidQuality(quality string, allowed ...string) error {
	return &job.ValidationError{
		Field:  "quality",
		Reason: fmt.Sprintf("%q is not supported for this format (expected one of %s)", quality, strings.Join(allowed, ", ")),
	}
}

func supportedFormats() []string {
	out := []string{string(KindImage)}
	for f := range videoContainers {
		out = append(out, f)
	}

	for f := range audioFormats {
		out = append(out, f)
	}

	sort.Strings(out)

	return out
}

// ValidateCookiesBrowser accepts an empty value or one of the browsers the
// engine can read cookies from.
func ValidateCookiesBrowser(browser string) error {
	b := strings.ToLower(strings.TrimSpace(browser))
	if b == "" || supportedBrowsers[b] {
		return nil
	}

	names := make([]string, 0, len(supportedBrowsers))
	for n := range supportedBrowsers {
		names = append(names, n)
	}

	sort.Strings(names)

	return &job.ValidationError{
		Field:  "browserForCookies",
		Reason: fmt.Sprintf("%q is not supported (expected one of %s)", browser, strings.Join(names, ", ")),
	}
}

// ValidateProxy accepts an empty value or an absolute proxy URL with a known scheme.
func ValidateProxy(proxy string) error {
	proxy = strings.TrimSpace(proxy)
	if proxy == "" {
		return nil
	}

	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" || !proxySchemes[strings.ToLower(u.Scheme)] {
		return &job.ValidationError{
			Field:  "proxy",
			Reason: "must be an absolute URL with scheme http, https, socks4, socks5 or socks5h",
		}
	}

	return nil
}

// ValidateURL accepts absolute http(s) URLs with a host.
func ValidateURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return &job.ValidationError{Field: "url", Reason: "URL is required"}
	}

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &job.ValidationError{Field: "url", Reason: "must be an absolute http or https URL"}
	}

	return nil
}
