// Package ingest turns uploaded audio objects into catalog records.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/artwork"
	"waveloft/core/events"
	"waveloft/core/tagging"
	"waveloft/logger"
	"waveloft/model"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultTitle names a pre-registered track until its file is ingested.
const DefaultTitle = "Untitled Track"

// Item is one uploaded object to catalog.
type Item struct {
	TrackID  string `json:"trackId,omitempty"`
	FileName string `json:"fileName"`
	S3Key    string `json:"s3Key"`
}

// Failure records an item that could not be cataloged.
type Failure struct {
	FileName string `json:"fileName"`
	S3Key    string `json:"s3Key"`
	Error    string `json:"error"`
}

// Result lists the records written and the items that failed. Tracks are
// read back after the write, so a pre-registered id shows its stored
// uploadedAt and any audio key a finished transcode already set.
type Result struct {
	Tracks   []*model.Track `json:"tracks"`
	Failures []Failure      `json:"failures"`
}

// Fetcher downloads an object to a local path.
type Fetcher interface {
	Fetch(ctx context.Context, key, localPath string) error
}

// ArtPublisher stores an extracted cover, or hands back the default key.
type ArtPublisher interface {
	Publish(ctx context.Context, pic *tagging.Picture) artwork.Result
}

// CatalogWriter persists track records.
type CatalogWriter interface {
	Create(ctx context.Context, track *model.Track) error
	BatchUpsert(ctx context.Context, tracks []*model.Track, batchSize int) error
	GetByIDs(ctx context.Context, ids []string) ([]*model.Track, error)
}

// Orchestrator runs extraction for a batch of uploads and writes the
// resulting records in one go.
type Orchestrator struct {
	store        Fetcher
	art          ArtPublisher
	catalog      CatalogWriter
	events       events.Publisher
	pendingAudio string
	scratchDir   string
	concurrency  int
	batchSize    int
	fetchTimeout time.Duration
	now          func() time.Time
	newID        func() string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithEvents publishes track.ingested events.
func WithEvents(p events.Publisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store Fetcher, art ArtPublisher, catalog CatalogWriter, cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:        store,
		art:          art,
		catalog:      catalog,
		events:       events.Nop{},
		pendingAudio: cfg.Keys.PendingAudio,
		scratchDir:   cfg.ScratchDir,
		concurrency:  cfg.IngestConcurrency,
		batchSize:    cfg.CatalogBatchSize,
		fetchTimeout: cfg.FetchTimeout,
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.concurrency < 1 {
		o.concurrency = 1
	}
	return o
}

// Validate checks a batch before anything is fetched or written.
func Validate(items []Item) error {
	if len(items) == 0 {
		return apperr.Validation("no files provided")
	}
	for i, it := range items {
		if strings.TrimSpace(it.FileName) == "" {
			return apperr.Validation("files[%d]: fileName is required", i)
		}
		if strings.TrimSpace(it.S3Key) == "" {
			return apperr.Validation("files[%d]: s3Key is required", i)
		}
	}
	return nil
}

// Ingest extracts metadata and art for every item, then upserts all
// records. A failing item is reported in Result.Failures and does not stop
// the others; a failing catalog write fails the call.
func (o *Orchestrator) Ingest(ctx context.Context, items []Item) (Result, error) {
	if err := Validate(items); err != nil {
		return Result{}, err
	}

	built := make([]*model.Track, len(items))
	var (
		mu       sync.Mutex
		failures []Failure
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, it := range items {
		g.Go(func() error {
			track, err := o.buildOne(gctx, it)
			if err != nil {
				logger.Error("ingest item failed",
					logger.String("fileName", it.FileName),
					logger.String("key", it.S3Key),
					logger.ErrorField(err))
				mu.Lock()
				failures = append(failures, Failure{FileName: it.FileName, S3Key: it.S3Key, Error: err.Error()})
				mu.Unlock()
				return nil
			}
			built[i] = track
			return nil
		})
	}
	_ = g.Wait()

	tracks := make([]*model.Track, 0, len(items))
	for _, t := range built {
		if t != nil {
			tracks = append(tracks, t)
		}
	}
	if len(tracks) == 0 {
		return Result{Failures: failures}, fmt.Errorf("no tracks could be ingested from %d files", len(items))
	}

	if err := o.catalog.BatchUpsert(ctx, tracks, o.batchSize); err != nil {
		return Result{Failures: failures}, err
	}
	tracks = o.reload(ctx, tracks)

	for _, t := range tracks {
		o.publish(ctx, events.Event{Kind: events.TrackIngested, TrackID: t.ID, Key: t.AudioS3Key, At: t.UploadedAt})
	}
	logger.Info("ingest batch finished",
		logger.Int("requested", len(items)),
		logger.Int("ingested", len(tracks)),
		logger.Int("failed", len(failures)))
	return Result{Tracks: tracks, Failures: failures}, nil
}

// reload replaces the built records with the stored rows. A failed read
// keeps the built records; the write itself already succeeded.
func (o *Orchestrator) reload(ctx context.Context, built []*model.Track) []*model.Track {
	ids := make([]string, len(built))
	for i, t := range built {
		ids[i] = t.ID
	}
	stored, err := o.catalog.GetByIDs(ctx, ids)
	if err != nil {
		logger.Warn("reading back ingested tracks failed", logger.Int("tracks", len(ids)), logger.ErrorField(err))
		return built
	}
	byID := make(map[string]*model.Track, len(stored))
	for _, t := range stored {
		byID[t.ID] = t
	}
	out := make([]*model.Track, len(built))
	for i, t := range built {
		if s, ok := byID[t.ID]; ok {
			out[i] = s
		} else {
			out[i] = t
		}
	}
	return out
}

// buildOne downloads one object into its own scratch directory, reads its
// tags and cover, and assembles the record.
func (o *Orchestrator) buildOne(ctx context.Context, it Item) (*model.Track, error) {
	dir, err := os.MkdirTemp(o.scratchDir, "ingest-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	local := filepath.Join(dir, "source"+strings.ToLower(filepath.Ext(it.FileName)))
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	err = o.store.Fetch(fetchCtx, it.S3Key, local)
	cancel()
	if err != nil {
		return nil, err
	}

	ft := tagging.DetectFileType(it.FileName)
	extracted := tagging.Extract(local, it.FileName, ft)
	art := o.art.Publish(ctx, extracted.Picture)

	id := strings.TrimSpace(it.TrackID)
	if id == "" {
		id = o.newID()
	}

	logger.Debug("item extracted",
		logger.String("trackId", id),
		logger.String("fileType", ft.String()),
		logger.String("title", extracted.Title),
		logger.Bool("art", art.Outcome == artwork.Published))

	return &model.Track{
		ID:            id,
		FileName:      it.FileName,
		Title:         extracted.Title,
		Artist:        extracted.Artist,
		Album:         extracted.Album,
		AudioS3Key:    it.S3Key,
		AlbumArtS3Key: art.Key,
		Duration:      extracted.Duration,
		Bitrate:       extracted.Bitrate,
		UploadedAt:    o.now().UTC(),
	}, nil
}

// Register creates a placeholder record for an upload that has not
// arrived yet. Its audio key is the pending sentinel.
func (o *Orchestrator) Register(ctx context.Context, trackID, title string) (*model.Track, error) {
	trackID = strings.TrimSpace(trackID)
	if trackID == "" {
		trackID = o.newID()
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	t := &model.Track{
		ID:         trackID,
		Title:      title,
		AudioS3Key: o.pendingAudio,
		UploadedAt: o.now().UTC(),
	}
	if err := o.catalog.Create(ctx, t); err != nil {
		return nil, err
	}
	logger.Info("track registered", logger.String("trackId", t.ID), logger.String("title", t.Title))
	return t, nil
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	if err := o.events.Publish(ctx, ev); err != nil {
		logger.Warn("event publish failed", logger.String("kind", string(ev.Kind)), logger.ErrorField(err))
	}
}
