package ytdlp

// MediaInfo is the result of an info-only extraction.
type MediaInfo struct {
	Title            string       `json:"title,omitempty"`
	ID               string       `json:"id,omitempty"`
	Thumbnail        string       `json:"thumbnail,omitempty"`
	Duration         float64      `json:"duration,omitempty"`
	Uploader         string       `json:"uploader,omitempty"`
	Extractor        string       `json:"extractor,omitempty"`
	WebpageURL       string       `json:"webpage_url,omitempty"`
	AvailableFormats []FormatInfo `json:"available_formats"`
	IsPlaylist       bool         `json:"is_playlist"`
	PlaylistCount    int          `json:"playlist_count,omitempty"`
}

// FormatInfo describes one downloadable stream.
type FormatInfo struct {
	FormatID    string  `json:"format_id,omitempty"`
	Ext         string  `json:"ext,omitempty"`
	Resolution  string  `json:"resolution,omitempty"`
	VCodec      string  `json:"vcodec,omitempty"`
	ACodec      string  `json:"acodec,omitempty"`
	Description string  `json:"description,omitempty"`
	FileSize    float64 `json:"filesize,omitempty"`
}

type rawFormat struct {
	FormatID       string  `json:"format_id"`
	Ext            string  `json:"ext"`
	Resolution     string  `json:"resolution"`
	VCodec         string  `json:"vcodec"`
	ACodec         string  `json:"acodec"`
	FormatNote     string  `json:"format_note"`
	Format         string  `json:"format"`
	FileSize       float64 `json:"filesize"`
	FileSizeApprox float64 `json:"filesize_approx"`
}

type rawInfo struct {
	Metadata
	Formats []rawFormat      `json:"formats"`
	Entries []map[string]any `json:"entries"`
}

func (r rawInfo) toMediaInfo() *MediaInfo {
	info := &MediaInfo{
		Title:            r.Title,
		ID:               r.ID,
		Thumbnail:        r.Thumbnail,
		Duration:         r.Duration,
		Uploader:         r.Uploader,
		Extractor:        r.Extractor,
		WebpageURL:       r.WebpageURL,
		AvailableFormats: []FormatInfo{},
		IsPlaylist:       len(r.Entries) > 0,
		PlaylistCount:    len(r.Entries),
	}

	for _, f := range r.Formats {
		// keep anything that may carry video, and audio streams whose size is known
		mayHaveVideo := f.VCodec != "none"
		hasAudio := f.ACodec != "none"

		if !mayHaveVideo && !(hasAudio && f.FileSize > 0) {
			continue
		}

		desc := f.FormatNote
		if desc == "" {
			desc = f.Format
		}

		size := f.FileSize
		if size == 0 {
			size = f.FileSizeApprox
		}

		info.AvailableFormats = append(info.AvailableFormats, FormatInfo{
			FormatID:    f.FormatID,
			Ext:         f.Ext,
			Resolution:  f.Resolution,
			VCodec:      f.VCodec,
			ACodec:      f.ACodec,
			Description: desc,
			FileSize:    size,
		})
	}

	return info
}
