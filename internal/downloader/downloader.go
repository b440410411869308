package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/italolelis/media_downloader/internal/artifact"
	"github.com/italolelis/media_downloader/internal/downloader/progress"
	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/telemetry"
	"github.com/italolelis/media_downloader/internal/ytdlp"
)

const (
	defaultEventBuffer = 64
	// debug progress logs are emitted every this many percentage points
	progressLogStep = 10
)

// ErrClosed is returned by Submit once the runner started shutting down.
var ErrClosed = errors.New("runner is shutting down")

// Fetcher is the download engine driven by the runner.
type Fetcher interface {
	Download(ctx context.Context, opts ytdlp.Options, onProgress ytdlp.ProgressFunc) (*ytdlp.Result, error)
	PredictFilename(ctx context.Context, opts ytdlp.Options) (string, error)
	Extract(ctx context.Context, rawURL string) (*ytdlp.MediaInfo, error)
}

// Runner accepts download requests and executes each one as a detached unit of
// work. Submit returns as soon as the job is registered; the unit reports its
// progress and outcome through the job's Reporter.
type Runner struct {
	registry  *job.Registry
	fetcher   Fetcher
	store     *artifact.Store
	telemetry *telemetry.Telemetry

	sem     *semaphore.Weighted
	group   errgroup.Group
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.RWMutex
	closed bool

	OnJobCompleted chan job.Job
	OnJobFailed    chan job.Job
}

// Config tunes a Runner.
type Config struct {
	// MaxParallel caps how many units invoke the engine at once. Others stay queued.
	MaxParallel int
	// EventBuffer is the capacity of the OnJobCompleted and OnJobFailed channels.
	EventBuffer int
}

// New creates a runner. Units run under a context derived from ctx, so
// cancelling ctx cancels every in-flight download.
func New(
	ctx context.Context,
	cfg Config,
	registry *job.Registry,
	fetcher Fetcher,
	store *artifact.Store,
	tel *telemetry.Telemetry,
) *Runner {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}

	if cfg.EventBuffer < 1 {
		cfg.EventBuffer = defaultEventBuffer
	}

	baseCtx, cancel := context.WithCancel(ctx)

	return &Runner{
		registry:       registry,
		fetcher:        fetcher,
		store:          store,
		telemetry:      tel,
		sem:            semaphore.NewWeighted(int64(cfg.MaxParallel)),
		baseCtx:        baseCtx,
		cancel:         cancel,
		OnJobCompleted: make(chan job.Job, cfg.EventBuffer),
		OnJobFailed:    make(chan job.Job, cfg.EventBuffer),
	}
}

// Validate checks a request without registering it.
func Validate(req job.Request) error {
	if err := ytdlp.ValidateURL(req.URL); err != nil {
		return err
	}

	if _, err := ytdlp.ParseSelection(req.Format, req.Quality); err != nil {
		return err
	}

	if err := ytdlp.ValidateCookiesBrowser(req.AuthContext); err != nil {
		return err
	}

	return ytdlp.ValidateProxy(req.Proxy)
}

// Submit validates req, registers a queued job and starts its unit of work. It
// never waits for the download itself. Invalid requests return a
// *job.ValidationError and create no job.
func (r *Runner) Submit(ctx context.Context, req job.Request) (string, error) {
	req = normalize(req)

	if err := Validate(req); err != nil {
		return "", err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return "", ErrClosed
	}

	id := r.registry.Create(req)
	r.telemetry.RecordJobSubmitted(req.Format)

	// keep the submitter's logger (request id) but not its cancellation
	unitCtx := logctx.WithLogger(r.baseCtx, logctx.LoggerFromContext(ctx))
	unitCtx = logctx.WithJobID(unitCtx, id)

	r.group.Go(func() error {
		r.run(unitCtx, id, req)

		return nil
	})

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "download submitted", "job_id", id, "format", req.Format)

	return id, nil
}

// Extract runs an info-only extraction for rawURL.
func (r *Runner) Extract(ctx context.Context, rawURL string) (*ytdlp.MediaInfo, error) {
	rawURL = strings.TrimSpace(rawURL)
	if err := ytdlp.ValidateURL(rawURL); err != nil {
		return nil, err
	}

	var info *ytdlp.MediaInfo

	err := r.telemetry.InstrumentCollaborator(ctx, "extract", func(ctx context.Context) error {
		var err error

		info, err = r.fetcher.Extract(ctx, rawURL)

		return err
	})
	if err != nil {
		return nil, err
	}

	return info, nil
}

// Close stops accepting work, cancels running units, waits for all of them to
// finish and closes the event channels.
func (r *Runner) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()

		return
	}

	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.Wait()

	close(r.OnJobCompleted)
	close(r.OnJobFailed)
}

// Wait blocks until every submitted unit has finished.
func (r *Runner) Wait() {
	_ = r.group.Wait()
}

func normalize(req job.Request) job.Request {
	req.URL = strings.TrimSpace(req.URL)
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	req.Quality = strings.TrimSpace(req.Quality)
	req.AuthContext = strings.ToLower(strings.TrimSpace(req.AuthContext))
	req.Proxy = strings.TrimSpace(req.Proxy)

	if req.Format == "" {
		req.Format = ytdlp.DefaultFormat
	}

	return req
}

func (r *Runner) run(ctx context.Context, id string, req job.Request) {
	// the job stays queued until a slot frees up
	if err := r.sem.Acquire(ctx, 1); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "download cancelled while queued", "err", err)

		r.finish(ctx, r.registry.Reporter(id), job.Failed("Download cancelled before it started"))

		return
	}
	defer r.sem.Release(1)

	r.telemetry.InstrumentJob(ctx, req.Format, func(ctx context.Context) string {
		return r.execute(ctx, id, req).String()
	})
}

// execute is the body of a unit of work holding a run slot. Whatever happens,
// including a panic, it leaves the job in a terminal status.
func (r *Runner) execute(ctx context.Context, id string, req job.Request) (status job.Status) {
	logger := logctx.LoggerFromContext(ctx)
	rep := r.registry.Reporter(id)

	defer func() {
		if v := recover(); v != nil {
			perr := &job.PanicError{Value: v, Stack: debug.Stack()}

			logger.ErrorContext(ctx, "download unit panic", "panic", v, "stack", string(perr.Stack))
			r.telemetry.RecordSystemError("runner", "panic")

			status = r.finish(ctx, rep, job.Failed(perr.Error()))
		}
	}()

	if err := rep.ReportPhase(job.StatusRunning); err != nil {
		logger.WarnContext(ctx, "failed to mark job running", "err", err)

		return r.currentStatus(id)
	}

	logger.InfoContext(ctx, "download started", "url", req.URL, "format", req.Format, "quality", req.Quality)

	opts := ytdlp.Options{
		URL:                req.URL,
		Format:             req.Format,
		Quality:            req.Quality,
		CookiesFromBrowser: req.AuthContext,
		Proxy:              req.Proxy,
	}

	tracker := newProgressTracker(ctx, rep)

	var res *ytdlp.Result

	err := r.telemetry.InstrumentCollaborator(ctx, "download", func(ctx context.Context) error {
		var err error

		res, err = r.fetcher.Download(ctx, opts, tracker.handle)

		return err
	})
	if err != nil {
		logger.ErrorContext(ctx, "download failed", "err", err)

		return r.finish(ctx, rep, job.Failed(failureMessage(err)))
	}

	name, size, err := r.resolveArtifact(ctx, opts, res, tracker.lastFilename())
	if err != nil {
		logger.ErrorContext(ctx, "download finished without a usable file", "err", err)

		return r.finish(ctx, rep, job.Failed(err.Error()))
	}

	info := job.ResultInfo{
		Title:         res.Metadata.Title,
		ID:            res.Metadata.ID,
		Duration:      res.Metadata.Duration,
		Uploader:      res.Metadata.Uploader,
		Thumbnail:     res.Metadata.Thumbnail,
		Extractor:     res.Metadata.Extractor,
		WebpageURL:    res.Metadata.WebpageURL,
		FileName:      name,
		FileSize:      size,
		FileSizeHuman: humanize.Bytes(uint64(size)),
	}

	logger.InfoContext(ctx, "download completed", "file_name", name, "file_size", info.FileSizeHuman)

	return r.finish(ctx, rep, job.Succeeded(info))
}

// resolveArtifact determines the final file in order of reliability: the path
// the engine printed after moving the file, the last file name seen in progress
// updates, and finally the engine's file name prediction.
func (r *Runner) resolveArtifact(ctx context.Context, opts ytdlp.Options, res *ytdlp.Result, lastProgressFile string) (string, int64, error) {
	logger := logctx.LoggerFromContext(ctx)
	tried := make([]string, 0, 3)

	if res != nil {
		tried = append(tried, "engine result")

		if name, size, ok := r.store.Locate(res.FilePath); ok {
			return name, size, nil
		}
	}

	tried = append(tried, "progress file name")

	if name, size, ok := r.store.Locate(lastProgressFile); ok {
		return name, size, nil
	}

	tried = append(tried, "file name prediction")

	var predicted string

	err := r.telemetry.InstrumentCollaborator(ctx, "predict_filename", func(ctx context.Context) error {
		var err error

		predicted, err = r.fetcher.PredictFilename(ctx, opts)

		return err
	})
	if err != nil {
		logger.WarnContext(ctx, "file name prediction failed", "err", err)

		return "", 0, &job.UnresolvedPathError{Tried: tried, Err: err}
	}

	if name, size, ok := r.store.Locate(predicted); ok {
		return name, size, nil
	}

	logger.WarnContext(ctx, "predicted file does not exist", "file_name", job.BaseName(predicted))

	return "", 0, &job.UnresolvedPathError{Tried: tried}
}

// finish records the outcome and publishes the resulting snapshot.
func (r *Runner) finish(ctx context.Context, rep *job.Reporter, o job.Outcome) job.Status {
	logger := logctx.LoggerFromContext(ctx)

	if err := rep.ReportTerminal(o); err != nil {
		logger.WarnContext(ctx, "job outcome already recorded", "err", err)
	}

	j, ok := r.registry.Get(rep.JobID())
	if !ok {
		return job.StatusFailed
	}

	switch j.Status {
	case job.StatusCompleted:
		r.publish(ctx, r.OnJobCompleted, j)
	case job.StatusFailed:
		r.publish(ctx, r.OnJobFailed, j)
	}

	return j.Status
}

func (r *Runner) publish(ctx context.Context, ch chan job.Job, j job.Job) {
	select {
	case ch <- j:
	default:
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "job event dropped, no consumer keeping up", "status", j.Status)
	}
}

func (r *Runner) currentStatus(id string) job.Status {
	j, ok := r.registry.Get(id)
	if !ok {
		return job.StatusFailed
	}

	return j.Status
}

func failureMessage(err error) string {
	var cerr *job.CollaboratorError
	if errors.As(err, &cerr) && cerr.Message != "" {
		return cerr.Message
	}

	var verr *job.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}

	return fmt.Sprintf("Download failed: %v", err)
}

// progressTracker translates engine updates into reporter calls. The engine
// calls handle sequentially, but lastFilename is read from the unit goroutine
// afterwards, so it is guarded anyway.
type progressTracker struct {
	ctx      context.Context
	logger   *slog.Logger
	reporter *job.Reporter
	throttle *progress.Throttle

	mu   sync.Mutex
	file string
}

func newProgressTracker(ctx context.Context, rep *job.Reporter) *progressTracker {
	logger := logctx.LoggerFromContext(ctx)

	return &progressTracker{
		ctx:      ctx,
		logger:   logger,
		reporter: rep,
		throttle: progress.NewThrottle(progressLogStep, func(p float64) {
			logger.DebugContext(ctx, "download progress", "percent", humanize.FtoaWithDigits(p, 1))
		}),
	}
}

func (t *progressTracker) handle(u ytdlp.Update) {
	if u.Filename != "" {
		t.mu.Lock()
		t.file = u.Filename
		t.mu.Unlock()
	}

	var err error

	switch u.Phase {
	case ytdlp.PhaseDownloading:
		if !u.HasPercent {
			return
		}

		t.throttle.Update(u.Percent)
		err = t.reporter.ReportProgress(u.Percent, u.ETA, u.Rate, "Downloading")
	case ytdlp.PhaseFinished:
		t.throttle.Update(100)

		// more streams may follow (video then audio); the reporter keeps percent monotonic
		err = t.reporter.ReportPhase(job.StatusPostProcessing)
	case ytdlp.PhasePostProcessing:
		err = t.reporter.ReportPhase(job.StatusPostProcessing)
	}

	if err != nil {
		t.logger.DebugContext(t.ctx, "progress update ignored", "phase", u.Phase, "err", err)
	}
}

func (t *progressTracker) lastFilename() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.file
}
