// Package tagging reads embedded metadata and cover art from audio files.
// Extraction never fails: anything unreadable degrades to defaults.
package tagging

import (
	"path/filepath"
	"strings"

	"waveloft/logger"
)

const (
	DefaultArtist = "Unknown Artist"
	DefaultAlbum  = "Unknown Album"
)

// FileType is resolved once per item from the original file name.
type FileType int

const (
	Unknown FileType = iota
	MP3
	FLAC
)

func (f FileType) String() string {
	switch f {
	case MP3:
		return "mp3"
	case FLAC:
		return "flac"
	default:
		return "unknown"
	}
}

// DetectFileType maps a file name extension to a FileType.
func DetectFileType(fileName string) FileType {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".mp3":
		return MP3
	case ".flac":
		return FLAC
	default:
		return Unknown
	}
}

// Metadata holds the raw tag values. Empty strings mean "absent".
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Duration *float64 // seconds
	Bitrate  *int     // bits per second
}

// Picture is an embedded cover image.
type Picture struct {
	Data     []byte
	MIMEType string
}

// Ext returns the file extension for the image, taken from the MIME
// subtype ("image/png" -> "png"). Unknown types fall back to "jpg".
func (p *Picture) Ext() string {
	mime := strings.TrimSpace(strings.ToLower(p.MIMEType))
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	_, sub, ok := strings.Cut(mime, "/")
	if !ok || sub == "" || strings.ContainsAny(sub, "/ ") {
		return "jpg"
	}
	return sub
}

// ContentType returns the MIME type to store the image with.
func (p *Picture) ContentType() string {
	if p.MIMEType == "" || !strings.Contains(p.MIMEType, "/") {
		return "image/jpeg"
	}
	return p.MIMEType
}

// Result is what the extractor hands to the orchestrator.
type Result struct {
	Metadata
	Picture *Picture
}

// Extract reads tags from path. fileName is the caller's original name and
// supplies the title fallback.
func Extract(path, fileName string, ft FileType) Result {
	var (
		res Result
		err error
	)
	switch ft {
	case MP3:
		res, err = readMP3(path)
	case FLAC:
		res, err = readFLAC(path)
	}
	if ft == Unknown || err != nil {
		if err != nil {
			logger.Warn("format-specific tag read failed, trying generic reader",
				logger.String("file", fileName),
				logger.String("type", ft.String()),
				logger.ErrorField(err))
		}
		generic, gerr := readGeneric(path)
		if gerr != nil {
			logger.Warn("tag read failed, using defaults",
				logger.String("file", fileName),
				logger.ErrorField(gerr))
		} else {
			res = mergeMissing(res, generic)
		}
	}
	res.Metadata = ApplyDefaults(res.Metadata, fileName)
	return res
}

// mergeMissing fills empty fields of base from extra.
func mergeMissing(base, extra Result) Result {
	if base.Title == "" {
		base.Title = extra.Title
	}
	if base.Artist == "" {
		base.Artist = extra.Artist
	}
	if base.Album == "" {
		base.Album = extra.Album
	}
	if base.Duration == nil {
		base.Duration = extra.Duration
	}
	if base.Bitrate == nil {
		base.Bitrate = extra.Bitrate
	}
	if base.Picture == nil {
		base.Picture = extra.Picture
	}
	return base
}

// ApplyDefaults substitutes defaults for absent fields. When the artist is
// absent and the title reads "Artist - Title", the title is split on the
// first "-".
func ApplyDefaults(m Metadata, fileName string) Metadata {
	m.Title = strings.TrimSpace(m.Title)
	m.Artist = strings.TrimSpace(m.Artist)
	m.Album = strings.TrimSpace(m.Album)

	if m.Title == "" {
		m.Title = fileName
	}
	if m.Artist == "" {
		if before, after, ok := strings.Cut(m.Title, "-"); ok {
			before, after = strings.TrimSpace(before), strings.TrimSpace(after)
			if before != "" && after != "" {
				m.Artist, m.Title = before, after
			}
		}
	}
	if m.Artist == "" {
		m.Artist = DefaultArtist
	}
	if m.Album == "" {
		m.Album = DefaultAlbum
	}
	return m
}

// averageBitrate returns bits per second over the whole payload.
func averageBitrate(payloadBytes int64, seconds float64) *int {
	if payloadBytes <= 0 || seconds <= 0 {
		return nil
	}
	b := int(float64(payloadBytes*8) / seconds)
	return &b
}
