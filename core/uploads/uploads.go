// Package uploads assigns object keys to new audio uploads and issues the
// URLs or writes that put them into the bucket.
package uploads

import (
	"context"
	"io"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/audio"
	"waveloft/logger"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// TrackIDHeader is the metadata header that links an upload to its track.
const TrackIDHeader = "x-amz-meta-trackid"

var extensions = map[string]string{
	"audio/mpeg":  ".mp3",
	"audio/flac":  ".flac",
	"audio/x-wav": ".wav",
	"audio/aac":   ".aac",
}

// aliases maps content types seen from browsers and mime.TypeByExtension
// onto the accepted set.
var aliases = map[string]string{
	"audio/mp3":    "audio/mpeg",
	"audio/x-flac": "audio/flac",
	"audio/wav":    "audio/x-wav",
	"audio/wave":   "audio/x-wav",
	"audio/x-aac":  "audio/aac",
}

// Store is what uploads need from the bucket.
type Store interface {
	PresignPut(ctx context.Context, key string, expiry time.Duration, headers map[string]string) (string, error)
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
	PutStream(ctx context.Context, key string, r io.Reader, size int64, contentType string, meta map[string]string) error
}

// FileRequest asks for an upload slot.
type FileRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// Slot is a presigned upload target.
type Slot struct {
	PresignedURL string            `json:"presignedUrl"`
	TrackID      string            `json:"trackId"`
	S3Key        string            `json:"s3Key"`
	FileName     string            `json:"fileName"`
	Headers      map[string]string `json:"headers"`
}

// Uploaded describes an object written by Upload.
type Uploaded struct {
	TrackID     string `json:"trackId"`
	S3Key       string `json:"s3Key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// Service hands out upload keys.
type Service struct {
	store     Store
	keys      config.Keys
	putExpiry time.Duration
	getExpiry time.Duration
	newID     func() string
}

// NewService creates a Service.
func NewService(store Store, cfg *config.Config) *Service {
	return &Service{
		store:     store,
		keys:      cfg.Keys,
		putExpiry: cfg.UploadExpiry,
		getExpiry: cfg.PresignExpiry,
		newID:     uuid.NewString,
	}
}

// NormalizeContentType strips parameters and resolves aliases. It returns
// "" for types that cannot be uploaded.
func NormalizeContentType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(ct))
	}
	if a, ok := aliases[mt]; ok {
		mt = a
	}
	if _, ok := extensions[mt]; !ok {
		return ""
	}
	return mt
}

// ContentTypeFor guesses an accepted content type from a file name.
func ContentTypeFor(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	for ct, e := range extensions {
		if e == ext {
			return ct
		}
	}
	return NormalizeContentType(mime.TypeByExtension(ext))
}

// KeyFor returns the object key for a track's audio. Lossless files land
// where the transcoder watches; the rest are directly playable or
// ingestable uploads.
func (s *Service) KeyFor(trackID, contentType string) (string, error) {
	ct := NormalizeContentType(contentType)
	if ct == "" {
		return "", apperr.Validation("unsupported Content-Type: %s", contentType)
	}
	ext := extensions[ct]
	if ext == s.keys.LosslessSuffix {
		return s.keys.LosslessPrefix + trackID + ext, nil
	}
	return s.keys.UploadPrefix + trackID + ext, nil
}

// Presign reserves a track id and upload URL for each file.
func (s *Service) Presign(ctx context.Context, files []FileRequest) ([]Slot, error) {
	if len(files) == 0 {
		return nil, apperr.Validation("a list of files is required")
	}
	for i, f := range files {
		if strings.TrimSpace(f.ContentType) == "" {
			return nil, apperr.Validation("files[%d]: contentType is required", i)
		}
		if NormalizeContentType(f.ContentType) == "" {
			return nil, apperr.Validation("unsupported Content-Type: %s", f.ContentType)
		}
	}

	slots := make([]Slot, 0, len(files))
	for _, f := range files {
		id := s.newID()
		key, err := s.KeyFor(id, f.ContentType)
		if err != nil {
			return nil, err
		}
		headers := map[string]string{TrackIDHeader: id}
		u, err := s.store.PresignPut(ctx, key, s.putExpiry, headers)
		if err != nil {
			return nil, apperr.TransientIO("presign upload", err)
		}
		headers["Content-Type"] = NormalizeContentType(f.ContentType)
		slots = append(slots, Slot{PresignedURL: u, TrackID: id, S3Key: key, FileName: f.FileName, Headers: headers})
	}
	logger.Info("upload slots issued", logger.Int("count", len(slots)))
	return slots, nil
}

// Upload writes r under the key for trackID (a new id when empty), tagging
// the object with its track id.
func (s *Service) Upload(ctx context.Context, trackID, fileName, contentType string, r io.Reader, size int64) (Uploaded, error) {
	ct := NormalizeContentType(contentType)
	if ct == "" {
		ct = ContentTypeFor(fileName)
	}
	if ct == "" {
		return Uploaded{}, apperr.Validation("unsupported audio file %q", fileName)
	}
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		trackID = s.newID()
	}
	key, err := s.KeyFor(trackID, ct)
	if err != nil {
		return Uploaded{}, err
	}

	if err := s.store.PutStream(ctx, key, r, size, ct, map[string]string{"trackid": trackID}); err != nil {
		return Uploaded{}, err
	}
	logger.Info("audio uploaded",
		logger.String("trackId", trackID),
		logger.String("key", key),
		logger.String("size", humanize.IBytes(uint64(max(size, 0)))))

	u, err := s.store.PresignGet(ctx, key, s.getExpiry)
	if err != nil {
		logger.Warn("presign after upload failed", logger.String("key", key), logger.ErrorField(err))
	}
	return Uploaded{TrackID: trackID, S3Key: key, URL: u, ContentType: ct}, nil
}

// IsLossless reports whether an uploaded key will be transcoded rather than
// ingested directly.
func (s *Service) IsLossless(key string) bool {
	return audio.IsLossless(s.keys, key)
}
