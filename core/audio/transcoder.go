package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/logger"
	"waveloft/storage"

	"github.com/dustin/go-humanize"
)

// State is a step of the per-object transcode state machine.
type State string

const (
	StateSkipped        State = "skipped"
	StateDownloading    State = "downloading"
	StateTranscoding    State = "transcoding"
	StatePublishing     State = "publishing"
	StateUpdating       State = "updating_catalog"
	StateCatalogUpdated State = "catalog_updated"
	StatePublishedOnly  State = "published_only"
	StateFailed         State = "failed"
)

// TrackIDMeta is the user metadata entry linking an upload to its track.
const TrackIDMeta = "trackid"

// ObjectStore is what the transcoder needs from the bucket.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (storage.ObjectInfo, error)
	Fetch(ctx context.Context, key, localPath string) error
	PutFile(ctx context.Context, key, localPath, contentType string, meta map[string]string) error
}

// AudioKeyUpdater updates an existing track's playable audio reference.
type AudioKeyUpdater interface {
	UpdateAudioKey(ctx context.Context, id, audioKey string) error
}

// Claimer keeps two workers from transcoding the same object at once.
type Claimer interface {
	Claim(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, name string) error
}

// Outcome describes how one object ended.
type Outcome struct {
	State     State
	SourceKey string
	OutputKey string
	TrackID   string
}

// Transcoder turns lossless uploads into playback files and points the
// catalog at them.
type Transcoder struct {
	store      ObjectStore
	tracks     AudioKeyUpdater
	processor  Processor
	claims     Claimer
	events     events.Publisher
	keys       config.Keys
	scratchDir string
	timeout    time.Duration
}

// TranscoderOption customizes a Transcoder.
type TranscoderOption func(*Transcoder)

// WithClaimer enables duplicate suppression.
func WithClaimer(c Claimer) TranscoderOption {
	return func(t *Transcoder) { t.claims = c }
}

// WithEvents publishes track.playable events.
func WithEvents(p events.Publisher) TranscoderOption {
	return func(t *Transcoder) { t.events = p }
}

// NewTranscoder creates a Transcoder.
func NewTranscoder(store ObjectStore, tracks AudioKeyUpdater, processor Processor, cfg *config.Config, opts ...TranscoderOption) *Transcoder {
	t := &Transcoder{
		store:      store,
		tracks:     tracks,
		processor:  processor,
		events:     events.Nop{},
		keys:       cfg.Keys,
		scratchDir: cfg.ScratchDir,
		timeout:    cfg.TranscodeTimeout,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Matches reports whether key is routed to the transcoder.
func (t *Transcoder) Matches(key string) bool {
	return IsLossless(t.keys, key)
}

// Handle implements events.Handler.
func (t *Transcoder) Handle(ctx context.Context, obj events.ObjectCreated) error {
	_, err := t.Process(ctx, obj)
	return err
}

// Process runs one object through download, transcode, publish and
// catalog update. Scratch files are removed on every path.
func (t *Transcoder) Process(ctx context.Context, obj events.ObjectCreated) (Outcome, error) {
	out := Outcome{State: StateSkipped, SourceKey: obj.Key}
	if !t.Matches(obj.Key) {
		logger.Debug("not a lossless upload, skipping", logger.String("key", obj.Key))
		return out, nil
	}
	out.OutputKey = PlaybackKey(t.keys, obj.Key)

	if t.claims != nil {
		claimName := obj.Bucket + "/" + obj.Key
		ok, err := t.claims.Claim(ctx, claimName, t.timeout)
		switch {
		case err != nil:
			logger.Warn("claim unavailable, transcoding anyway", logger.String("key", obj.Key), logger.ErrorField(err))
		case !ok:
			logger.Info("object already claimed by another worker", logger.String("key", obj.Key))
			return out, nil
		default:
			defer func() {
				if err := t.claims.Release(context.WithoutCancel(ctx), claimName); err != nil {
					logger.Warn("claim release failed", logger.String("key", obj.Key), logger.ErrorField(err))
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	fail := func(state State, err error) (Outcome, error) {
		out.State = StateFailed
		logger.Error("transcode failed",
			logger.String("key", obj.Key),
			logger.String("step", string(state)),
			logger.ErrorField(err))
		return out, fmt.Errorf("%s %s: %w", state, obj.Key, err)
	}

	out.TrackID = t.trackID(ctx, obj)

	dir, err := os.MkdirTemp(t.scratchDir, "transcode-*")
	if err != nil {
		return fail(StateDownloading, err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input"+t.keys.LosslessSuffix)
	output := filepath.Join(dir, "output"+t.keys.PlaybackSuffix)

	logger.Info("transcode started", logger.String("key", obj.Key), logger.String("trackId", out.TrackID))
	if err := t.store.Fetch(ctx, obj.Key, input); err != nil {
		return fail(StateDownloading, err)
	}

	if err := t.processor.TranscodeToMP3(ctx, input, output); err != nil {
		return fail(StateTranscoding, err)
	}

	var meta map[string]string
	if out.TrackID != "" {
		meta = map[string]string{TrackIDMeta: out.TrackID}
	}
	if err := t.store.PutFile(ctx, out.OutputKey, output, "audio/mpeg", meta); err != nil {
		return fail(StatePublishing, err)
	}
	if info, err := os.Stat(output); err == nil {
		logger.Info("transcoded file published",
			logger.String("key", out.OutputKey),
			logger.String("size", humanize.IBytes(uint64(info.Size()))))
	}

	if out.TrackID == "" {
		out.State = StatePublishedOnly
		logger.Warn("no trackid metadata on upload, catalog not updated", logger.String("key", obj.Key))
		return out, nil
	}

	err = t.tracks.UpdateAudioKey(ctx, out.TrackID, out.OutputKey)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		out.State = StatePublishedOnly
		logger.Warn("track missing, catalog not updated",
			logger.String("trackId", out.TrackID),
			logger.String("key", out.OutputKey))
		return out, nil
	case err != nil:
		return fail(StateUpdating, err)
	}

	out.State = StateCatalogUpdated
	logger.Info("track playable", logger.String("trackId", out.TrackID), logger.String("key", out.OutputKey))
	if err := t.events.Publish(ctx, events.Event{
		Kind:    events.TrackPlayable,
		TrackID: out.TrackID,
		Key:     out.OutputKey,
		At:      time.Now().UTC(),
	}); err != nil {
		logger.Warn("event publish failed", logger.ErrorField(err))
	}
	return out, nil
}

// trackID reads the trackid user metadata from the event, falling back to
// a stat of the object.
func (t *Transcoder) trackID(ctx context.Context, obj events.ObjectCreated) string {
	if id := (storage.ObjectInfo{UserMetadata: obj.UserMetadata}).Meta(TrackIDMeta); id != "" {
		return id
	}
	info, err := t.store.Stat(ctx, obj.Key)
	if err != nil {
		logger.Warn("stat failed, continuing without trackid", logger.String("key", obj.Key), logger.ErrorField(err))
		return ""
	}
	return info.Meta(TrackIDMeta)
}
