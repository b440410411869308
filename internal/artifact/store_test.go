package artifact

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/media_downloader/internal/job"
	"github.com/italolelis/media_downloader/internal/storage"
	"github.com/italolelis/media_downloader/internal/telemetry"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := NewStore(t.TempDir(), telemetry.Disabled())
	require.NoError(t, err)

	return s
}

func writeFile(t *testing.T, s *Store, name, content string) string {
	t.Helper()

	p := filepath.Join(s.Dir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))

	return p
}

func TestNewStore_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "downloads")

	s, err := NewStore(dir, nil)
	require.NoError(t, err)

	info, err := os.Stat(s.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, filepath.IsAbs(s.Dir()))
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{name: "Song (abc).mp3", valid: true},
		{name: "Wait... (x).mp4", valid: true},
		{name: ".hidden", valid: true},
		{name: "", valid: false},
		{name: ".", valid: false},
		{name: "..", valid: false},
		{name: "../secret", valid: false},
		{name: "a/b.mp4", valid: false},
		{name: `..\..\win.ini`, valid: false},
		{name: "/etc/passwd", valid: false},
		{name: "a\x00.mp4", valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.valid {
				assert.NoError(t, err)

				return
			}

			var perr *job.PathTraversalError
			assert.True(t, errors.As(err, &perr), "expected traversal error, got %v", err)
		})
	}
}

func TestStore_Resolve(t *testing.T) {
	s := newTestStore(t)
	p := writeFile(t, s, "Song (abc).mp3", "data")
	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub"), 0o755))

	got, err := s.Resolve("Song (abc).mp3")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	_, err = s.Resolve("missing.mp3")
	assert.ErrorIs(t, err, job.ErrNotFound)

	_, err = s.Resolve("sub")
	assert.ErrorIs(t, err, job.ErrNotFound)

	var perr *job.PathTraversalError

	_, err = s.Resolve("../" + filepath.Base(s.Dir()) + "/Song (abc).mp3")
	assert.True(t, errors.As(err, &perr))
}

func TestStore_Open(t *testing.T) {
	s := newTestStore(t)
	writeFile(t, s, "a.mp4", "hello")

	f, info, err := s.Open("a.mp4")
	require.NoError(t, err)

	defer f.Close()

	b, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
	assert.Equal(t, int64(5), info.Size())

	_, _, err = s.Open("b.mp4")
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestStore_Locate(t *testing.T) {
	s := newTestStore(t)
	abs := writeFile(t, s, "a.mp4", "12345")

	outside := filepath.Join(t.TempDir(), "b.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	require.NoError(t, os.Mkdir(filepath.Join(s.Dir(), "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "sub", "c.mp4"), []byte("x"), 0o644))

	tests := []struct {
		name      string
		candidate string
		wantName  string
		wantOK    bool
	}{
		{name: "absolute inside", candidate: abs, wantName: "a.mp4", wantOK: true},
		{name: "relative inside", candidate: "a.mp4", wantName: "a.mp4", wantOK: true},
		{name: "outside directory", candidate: outside},
		{name: "escapes via dot dot", candidate: filepath.Join(s.Dir(), "..", filepath.Base(outside))},
		{name: "nested directory", candidate: filepath.Join(s.Dir(), "sub", "c.mp4")},
		{name: "missing", candidate: filepath.Join(s.Dir(), "nope.mp4")},
		{name: "directory", candidate: filepath.Join(s.Dir(), "sub")},
		{name: "empty", candidate: " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, size, ok := s.Locate(tt.candidate)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantName, name)

			if tt.wantOK {
				assert.Equal(t, int64(5), size)
			}
		})
	}
}

func TestStore_DeleteExpired(t *testing.T) {
	s := newTestStore(t)
	now := time.Date(2025, 3, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	writeFile(t, s, "old.mp4", "x")
	writeFile(t, s, "fresh.mp4", "x")
	writeFile(t, s, "shared.mp4", "x")

	records := []storage.JobRecord{
		{JobID: "old", FileName: "old.mp4", EndedAt: now.Add(-48 * time.Hour)},
		{JobID: "fresh", FileName: "fresh.mp4", EndedAt: now.Add(-time.Hour)},
		{JobID: "gone", FileName: "gone.mp4", EndedAt: now.Add(-48 * time.Hour)},
		{JobID: "shared-old", FileName: "shared.mp4", EndedAt: now.Add(-48 * time.Hour)},
		{JobID: "shared-new", FileName: "shared.mp4", EndedAt: now.Add(-time.Hour)},
		{JobID: "unsafe", FileName: "../etc/passwd", EndedAt: now.Add(-48 * time.Hour)},
	}

	purged, err := s.DeleteExpired(context.Background(), records, 24*time.Hour)
	require.NoError(t, err)

	sort.Strings(purged)
	assert.Equal(t, []string{"gone", "old", "unsafe"}, purged)

	_, err = os.Stat(filepath.Join(s.Dir(), "old.mp4"))
	assert.True(t, os.IsNotExist(err))

	for _, name := range []string{"fresh.mp4", "shared.mp4"} {
		_, err = os.Stat(filepath.Join(s.Dir(), name))
		assert.NoError(t, err, name)
	}
}

func TestStore_DeleteExpiredFallsBackToModTime(t *testing.T) {
	s := newTestStore(t)
	p := writeFile(t, s, "a.mp4", "x")

	old := time.Now().Add(-72 * time.Hour)
	require.NoError(t, os.Chtimes(p, old, old))

	purged, err := s.DeleteExpired(context.Background(), []storage.JobRecord{{JobID: "a", FileName: "a.mp4"}}, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, purged)
}
