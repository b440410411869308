package ytdlp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	goytdlp "github.com/lrstanley/go-ytdlp"

	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/logctx"
)

const (
	// maxTailLines bounds how much engine output is kept for error messages.
	maxTailLines = 20
	// progressInterval is how often the library hands us progress updates.
	progressInterval = 250 * time.Millisecond
)

// ClientConfig holds the process-wide engine settings.
type ClientConfig struct {
	Path           string
	DownloadDir    string
	OutputTemplate string
	FFmpegLocation string
	Retries        int
	SocketTimeout  time.Duration
}

// Client runs the yt-dlp executable through go-ytdlp.
type Client struct {
	cfg ClientConfig
}

// Result is what a successful download reported.
type Result struct {
	Metadata Metadata
	// FilePath is the final path printed after all post-processing, if the engine reported one.
	FilePath  string
	Selection Selection
}

// NewClient creates a client. Empty fields take the engine defaults.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Path == "" {
		cfg.Path = "yt-dlp"
	}

	if cfg.OutputTemplate == "" {
		cfg.OutputTemplate = "%(title)s (%(id)s).%(ext)s"
	}

	return &Client{cfg: cfg}
}

// DownloadDir returns the directory artifacts are written to.
func (c *Client) DownloadDir() string {
	return c.cfg.DownloadDir
}

// Version returns the engine's version string. It doubles as a dependency check at startup.
func (c *Client) Version(ctx context.Context) (string, error) {
	result, err := goytdlp.New().SetExecutable(c.cfg.Path).Run(ctx, "--version")
	if err != nil {
		return "", c.collaboratorError(ctx, "version", result, err)
	}

	version, _, _ := strings.Cut(strings.TrimSpace(result.Stdout), "\n")

	return strings.TrimSpace(version), nil
}

// Download runs the engine for opts. onProgress is called sequentially, in the
// order the engine reports progress.
func (c *Client) Download(ctx context.Context, opts Options, onProgress ProgressFunc) (*Result, error) {
	sel, err := ParseSelection(opts.Format, opts.Quality)
	if err != nil {
		return nil, err
	}

	dl := c.command(opts).
		Format(sel.Spec).
		NoSimulate().
		Progress().
		EmbedMetadata().
		Print(metadataPrint).
		Print(filepathPrint)

	if c.cfg.FFmpegLocation != "" {
		dl.FFmpegLocation(c.cfg.FFmpegLocation)
	}

	switch sel.Kind {
	case KindVideo:
		dl.MergeOutputFormat(sel.Container)
	case KindAudio:
		dl.ExtractAudio().AudioFormat(audioCodec).AudioQuality(audioBitrate)
	case KindImage:
		dl.SkipDownload().WriteThumbnail().ConvertThumbnails(thumbnailExtension)
	}

	if onProgress != nil {
		dl.ProgressFunc(progressInterval, func(update goytdlp.ProgressUpdate) {
			onProgress(updateFromProgress(update, time.Now()))
		})
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "running engine", "operation", "download", "url", opts.URL, "selection", sel.Spec)

	result, err := dl.Run(ctx, opts.URL)
	if err != nil {
		return nil, c.collaboratorError(ctx, "download", result, err)
	}

	md, path := parsePrinted(result.Stdout)

	return &Result{Metadata: md, FilePath: path, Selection: sel}, nil
}

// PredictFilename returns the path the engine would write for opts, adjusted for
// the extension post-processing produces. It does not check that the file exists.
func (c *Client) PredictFilename(ctx context.Context, opts Options) (string, error) {
	sel, err := ParseSelection(opts.Format, opts.Quality)
	if err != nil {
		return "", err
	}

	cmd := c.command(opts).Format(sel.Spec).GetFilename()
	if sel.Kind == KindVideo {
		cmd.MergeOutputFormat(sel.Container)
	}

	result, err := cmd.Run(ctx, opts.URL)
	if err != nil {
		return "", c.collaboratorError(ctx, "predict_filename", result, err)
	}

	var predicted string

	for _, l := range strings.Split(result.Stdout, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			predicted = l

			break
		}
	}

	if predicted == "" {
		return "", &job.CollaboratorError{Operation: "predict_filename", Message: "engine printed no file name"}
	}

	switch sel.Kind {
	case KindAudio:
		predicted = replaceExt(predicted, audioCodec)
	case KindImage:
		predicted = replaceExt(predicted, thumbnailExtension)
	}

	return predicted, nil
}

// Extract fetches metadata and the available formats without downloading.
func (c *Client) Extract(ctx context.Context, rawURL string) (*MediaInfo, error) {
	cmd := goytdlp.New().
		SetExecutable(c.cfg.Path).
		DumpSingleJSON().
		FlatPlaylist().
		NoPlaylist().
		NoWarnings()

	if c.cfg.SocketTimeout > 0 {
		cmd.SocketTimeout(c.cfg.SocketTimeout.Seconds())
	}

	result, err := cmd.Run(ctx, rawURL)
	if err != nil {
		return nil, c.collaboratorError(ctx, "extract", result, err)
	}

	var raw rawInfo
	if err := json.Unmarshal([]byte(result.Stdout), &raw); err != nil {
		return nil, &job.CollaboratorError{Operation: "extract", Message: "engine returned malformed metadata", Err: err}
	}

	return raw.toMediaInfo(), nil
}

// command builds the flags shared by downloads and filename predictions.
func (c *Client) command(opts Options) *goytdlp.Command {
	cmd := goytdlp.New().
		SetExecutable(c.cfg.Path).
		NoPlaylist().
		RestrictFilenames().
		Retries(strconv.Itoa(c.cfg.Retries)).
		Paths(c.cfg.DownloadDir).
		Output(c.cfg.OutputTemplate)

	if c.cfg.SocketTimeout > 0 {
		cmd.SocketTimeout(c.cfg.SocketTimeout.Seconds())
	}

	if b := strings.TrimSpace(opts.CookiesFromBrowser); b != "" {
		cmd.CookiesFromBrowser(strings.ToLower(b))
	}

	if p := strings.TrimSpace(opts.Proxy); p != "" {
		cmd.Proxy(p)
	}

	return cmd
}

// collaboratorError turns a failed run into a *job.CollaboratorError carrying
// the engine's own error line when it printed one.
func (c *Client) collaboratorError(ctx context.Context, operation string, result *goytdlp.Result, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return &job.CollaboratorError{Operation: operation, Message: "cancelled", Err: ctxErr}
	}

	if errors.Is(err, exec.ErrNotFound) {
		return &job.CollaboratorError{
			Operation: operation,
			Message:   fmt.Sprintf("%s executable not found", filepath.Base(c.cfg.Path)),
			Err:       err,
		}
	}

	var msg string
	if result != nil {
		msg = errorMessage(result.Stderr)
	}

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "engine failed", "operation", operation, "err", err)

	return &job.CollaboratorError{Operation: operation, Message: msg, Err: err}
}

func replaceExt(p, ext string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + "." + ext
}
