package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/logctx"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

const dirPerm = 0o755

// Store is the download directory. Artifacts are addressed by base name only.
type Store struct {
	dir       string
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

// NewStore creates the directory if needed and returns a store rooted at its absolute path.
func NewStore(dir string, tel *telemetry.Telemetry) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve download dir: %w", err)
	}

	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("create download dir: %w", err)
	}

	return &Store{dir: abs, telemetry: tel, now: time.Now}, nil
}

// Dir returns the absolute download directory.
func (s *Store) Dir() string {
	return s.dir
}

// ValidateName rejects anything that is not a plain file name: empty names, dot
// entries, separators, NUL bytes and absolute or volume paths. It never touches
// the filesystem. Dots inside a name ("Wait... (x).mp4") are fine.
func ValidateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return &job.PathTraversalError{Name: name}
	case strings.ContainsAny(name, "/\\\x00"):
		return &job.PathTraversalError{Name: name}
	case filepath.IsAbs(name), filepath.VolumeName(name) != "":
		return &job.PathTraversalError{Name: name}
	}

	return nil
}

// Resolve returns the path of the named artifact. It fails with a
// *job.PathTraversalError for unsafe names and job.ErrNotFound when there is no
// regular file of that name.
func (s *Store) Resolve(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}

	p := filepath.Join(s.dir, name)

	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", job.ErrNotFound
		}

		return "", fmt.Errorf("stat artifact: %w", err)
	}

	if !info.Mode().IsRegular() {
		return "", job.ErrNotFound
	}

	return p, nil
}

// Open resolves and opens the named artifact. The caller closes the file.
func (s *Store) Open(name string) (*os.File, fs.FileInfo, error) {
	p, err := s.Resolve(name)
	if err != nil {
		return nil, nil, err
	}

	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, job.ErrNotFound
		}

		return nil, nil, fmt.Errorf("open artifact: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, nil, fmt.Errorf("stat artifact: %w", err)
	}

	return f, info, nil
}

// Locate checks a collaborator-reported path. It returns the artifact's base name
// and size when the path names an existing regular file directly inside the
// download directory. Relative paths are taken relative to the directory.
func (s *Store) Locate(candidate string) (string, int64, bool) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", 0, false
	}

	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(s.dir, candidate)
	}

	candidate = filepath.Clean(candidate)
	if filepath.Dir(candidate) != s.dir {
		return "", 0, false
	}

	name := filepath.Base(candidate)
	if ValidateName(name) != nil {
		return "", 0, false
	}

	info, err := os.Stat(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return "", 0, false
	}

	return name, info.Size(), true
}

// DeleteExpired removes the artifacts of completed jobs that ended more than keep
// ago and returns the ids of the records that no longer have a file on disk.
// Records sharing a file name are expired together, by the most recent of them.
func (s *Store) DeleteExpired(ctx context.Context, records []storage.JobRecord, keep time.Duration) ([]string, error) {
	logger := logctx.LoggerFromContext(ctx)
	now := s.now()

	byName := make(map[string][]storage.JobRecord)
	order := make([]string, 0, len(records))

	for _, rec := range records {
		if _, seen := byName[rec.FileName]; !seen {
			order = append(order, rec.FileName)
		}

		byName[rec.FileName] = append(byName[rec.FileName], rec)
	}

	var (
		purged  []string
		errs    []error
		deleted int
	)

	for _, name := range order {
		recs := byName[name]

		if err := ValidateName(name); err != nil {
			logger.WarnContext(ctx, "skipping history record with unsafe file name", "file_name", name)

			purged = append(purged, jobIDs(recs)...)

			continue
		}

		filePath := filepath.Join(s.dir, name)

		info, err := os.Stat(filePath)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// already deleted
				purged = append(purged, jobIDs(recs)...)

				continue
			}

			logger.ErrorContext(ctx, "failed to stat artifact", "file", filePath, "err", err)
			errs = append(errs, err)

			continue
		}

		endedAt := latestEnd(recs)
		if endedAt.IsZero() {
			logger.WarnContext(ctx, "history record has no end time, using file mod time", "file", filePath)

			endedAt = info.ModTime()
		}

		if now.Sub(endedAt) <= keep {
			continue
		}

		if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.ErrorContext(ctx, "failed to delete expired artifact", "file", filePath, "err", err)
			errs = append(errs, err)

			continue
		}

		deleted++
		purged = append(purged, jobIDs(recs)...)

		logger.InfoContext(ctx, "deleted expired artifact", "file", filePath, "age", now.Sub(endedAt).Round(time.Second).String())
	}

	s.telemetry.RecordArtifactsDeleted(deleted)

	return purged, errors.Join(errs...)
}

func latestEnd(recs []storage.JobRecord) time.Time {
	var latest time.Time

	for _, r := range recs {
		if r.EndedAt.After(latest) {
			latest = r.EndedAt
		}
	}

	return latest
}

func jobIDs(recs []storage.JobRecord) []string {
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.JobID)
	}

	return ids
}
