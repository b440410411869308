package notifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/italolelis/media_downloader/internal/job"
)

// JobCompletedMessage renders the notification for a completed job.
func JobCompletedMessage(j job.Job) string {
	var b strings.Builder

	title := j.Request.URL
	if j.Result != nil && j.Result.Title != "" {
		title = j.Result.Title
	}

	fmt.Fprintf(&b, "Download completed: %s", title)

	if j.Result != nil {
		fmt.Fprintf(&b, "\nFile: %s", j.Result.FileName)

		if j.Result.FileSizeHuman != "" {
			fmt.Fprintf(&b, " (%s)", j.Result.FileSizeHuman)
		}
	}

	if d := j.Duration(); d > 0 {
		fmt.Fprintf(&b, "\nTook: %s", d.Round(time.Second))
	}

	return b.String()
}

// JobFailedMessage renders the notification for a failed job.
func JobFailedMessage(j job.Job) string {
	return fmt.Sprintf("Download failed: %s\nError: %s", j.Request.URL, j.Error)
}
