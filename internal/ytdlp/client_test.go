package ytdlp

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/media_downloader/internal/job"
)

// fakeEngine mimics the subset of yt-dlp behaviour the client relies on. The
// FAKE_YTDLP_MODE variable switches it into failure modes and FAKE_YTDLP_ARGS
// names a file that receives the arguments, one per line.
const fakeEngine = `#!/bin/sh
dir=""
mode="download"
prev=""
if [ -n "$FAKE_YTDLP_ARGS" ]; then
  for a in "$@"; do echo "$a" >> "$FAKE_YTDLP_ARGS"; done
fi
for a in "$@"; do
  case "$prev" in
    -P|--paths) dir="$a" ;;
  esac
  case "$a" in
    --paths=*) dir="${a#--paths=}" ;;
    --get-filename) mode="predict" ;;
    -J|--dump-single-json) mode="extract" ;;
    --version) mode="version" ;;
  esac
  prev="$a"
done

if [ "$FAKE_YTDLP_MODE" = "fail" ]; then
  echo "[generic] Extracting URL" >&2
  echo "ERROR: [generic] Unsupported URL: https://example.com/nope" >&2
  exit 1
fi

case "$mode" in
  version)
    echo "2025.01.15"
    ;;
  predict)
    echo "$dir/Song_(abc).webm"
    ;;
  extract)
    echo '{"id":"abc","title":"Song","duration":212,"uploader":"Band","formats":[{"format_id":"251","ext":"webm","vcodec":"none","acodec":"opus","filesize":3000},{"format_id":"140","ext":"m4a","vcodec":"none","acodec":"mp4a"},{"format_id":"137","ext":"mp4","vcodec":"avc1","acodec":"none","resolution":"1920x1080","format_note":"1080p"}]}'
    ;;
  download)
    echo '[youtube] abc: Downloading webpage'
    echo '{"id":"abc","title":"Song","duration":212,"uploader":"Band","extractor":"youtube"}'
    if [ "$FAKE_YTDLP_MODE" != "no-file" ]; then
      : > "$dir/Song_(abc).mp3"
      printf '{"id":"abc","title":"Song","filepath":"%s"}\n' "$dir/Song_(abc).mp3"
    fi
    ;;
esac
`

func newFakeClient(t *testing.T) (*Client, string) {
	t.Helper()

	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	bin := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(bin, []byte(fakeEngine), 0o755))

	dir := t.TempDir()

	return NewClient(ClientConfig{
		Path:          bin,
		DownloadDir:   dir,
		Retries:       5,
		SocketTimeout: 30 * time.Second,
	}), dir
}

func TestClient_Download(t *testing.T) {
	c, dir := newFakeClient(t)

	res, err := c.Download(context.Background(), Options{
		URL:     "https://example.com/video1",
		Format:  "audio",
		Quality: "bestaudio/best",
	}, func(Update) {})
	require.NoError(t, err)

	assert.Equal(t, "Song", res.Metadata.Title)
	assert.Equal(t, "youtube", res.Metadata.Extractor)
	assert.Equal(t, float64(212), res.Metadata.Duration)
	assert.Equal(t, filepath.Join(dir, "Song_(abc).mp3"), res.FilePath)
	assert.Equal(t, KindAudio, res.Selection.Kind)
}

func TestClient_DownloadWithoutFinalPath(t *testing.T) {
	c, _ := newFakeClient(t)
	t.Setenv("FAKE_YTDLP_MODE", "no-file")

	res, err := c.Download(context.Background(), Options{URL: "https://example.com/video1"}, nil)
	require.NoError(t, err)

	assert.Empty(t, res.FilePath)
	assert.Equal(t, "Song", res.Metadata.Title)
}

func TestClient_DownloadFailure(t *testing.T) {
	c, _ := newFakeClient(t)
	t.Setenv("FAKE_YTDLP_MODE", "fail")

	_, err := c.Download(context.Background(), Options{URL: "https://example.com/nope"}, nil)
	require.Error(t, err)

	var cerr *job.CollaboratorError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "download", cerr.Operation)
	assert.Equal(t, "ERROR: [generic] Unsupported URL: https://example.com/nope", cerr.Message)
}

func TestClient_DownloadRejectsInvalidSelection(t *testing.T) {
	c, _ := newFakeClient(t)

	_, err := c.Download(context.Background(), Options{URL: "https://example.com/v", Format: "gif"}, nil)

	var verr *job.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestClient_MissingExecutable(t *testing.T) {
	c := NewClient(ClientConfig{Path: filepath.Join(t.TempDir(), "does-not-exist"), DownloadDir: t.TempDir()})

	_, err := c.Version(context.Background())

	var cerr *job.CollaboratorError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	assert.Equal(t, "version", cerr.Operation)
}

func TestClient_PredictFilename(t *testing.T) {
	c, dir := newFakeClient(t)

	tests := []struct {
		name   string
		format string
		want   string
	}{
		{name: "video keeps engine extension", format: "video", want: "Song_(abc).webm"},
		{name: "audio is extracted to mp3", format: "audio", want: "Song_(abc).mp3"},
		{name: "image is a converted thumbnail", format: "image", want: "Song_(abc).jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.PredictFilename(context.Background(), Options{URL: "https://example.com/v", Format: tt.format})
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), got)
		})
	}
}

func TestClient_Extract(t *testing.T) {
	c, _ := newFakeClient(t)

	info, err := c.Extract(context.Background(), "https://example.com/v")
	require.NoError(t, err)

	assert.Equal(t, "Song", info.Title)
	assert.Equal(t, float64(212), info.Duration)
	assert.False(t, info.IsPlaylist)

	ids := make([]string, 0, len(info.AvailableFormats))
	for _, f := range info.AvailableFormats {
		ids = append(ids, f.FormatID)
	}

	// audio-only streams without a known size are dropped
	assert.Equal(t, []string{"251", "137"}, ids)
	assert.Equal(t, "1080p", info.AvailableFormats[1].Description)
}

func TestClient_Version(t *testing.T) {
	c, _ := newFakeClient(t)

	v, err := c.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "2025.01.15", v)
}

func TestClient_DownloadPassesRequestOptions(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}

	bin := filepath.Join(t.TempDir(), "yt-dlp")
	require.NoError(t, os.WriteFile(bin, []byte(fakeEngine), 0o755))

	argsFile := filepath.Join(t.TempDir(), "args")
	t.Setenv("FAKE_YTDLP_ARGS", argsFile)

	c := NewClient(ClientConfig{
		Path:           bin,
		DownloadDir:    t.TempDir(),
		FFmpegLocation: "/usr/bin/ffmpeg",
		Retries:        7,
		SocketTimeout:  30 * time.Second,
	})

	_, err := c.Download(context.Background(), Options{
		URL:                "https://example.com/v",
		Format:             "audio",
		CookiesFromBrowser: "Chrome",
		Proxy:              "socks5://127.0.0.1:1080",
	}, nil)
	require.NoError(t, err)

	raw, err := os.ReadFile(argsFile)
	require.NoError(t, err)

	args := string(raw)

	for _, want := range []string{
		"--no-playlist", "--restrict-filenames", "--extract-audio", "mp3", "192K",
		"chrome", "socks5://127.0.0.1:1080", "/usr/bin/ffmpeg", "after_move:", "https://example.com/v",
	} {
		assert.Contains(t, args, want)
	}

	assert.NotContains(t, args, "--merge-output-format")
	assert.NotContains(t, args, "Chrome")
}
