package review

import (
	"context"
	"strconv"
	"strings"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/logger"
	"waveloft/model"
	"waveloft/repository"
)

// Store is the slice of the catalog the scheduler reads and writes.
type Store interface {
	ApplyReview(ctx context.Context, id string, next func(current *model.Track) (repository.LearningUpdate, error)) (*model.Track, error)
	QueryDue(ctx context.Context, pk string, now time.Time, after *repository.DueCursor, limit int) ([]*model.Track, error)
	EnrollMissing(ctx context.Context, pk string, state model.LearningState, firstReview time.Time) (int64, error)
}

// Presigner issues time-limited download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// GradeResult is returned after a review is recorded.
type GradeResult struct {
	OK           bool      `json:"ok"`
	TrackID      string    `json:"trackId"`
	NextReviewAt time.Time `json:"nextReviewAt"`
}

// Skipped counts due records left out of a selection.
type Skipped struct {
	Pending    int `json:"pending"`
	NotMP3     int `json:"not_mp3"`
	MissingKey int `json:"missing_key"`
}

// DueResult is one due-track selection.
type DueResult struct {
	Tracks  []*model.Track `json:"tracks"`
	Count   int            `json:"count"`
	Now     time.Time      `json:"now"`
	Skipped Skipped        `json:"skipped"`
}

// SkipReason explains why a due record is not playable.
type SkipReason string

const (
	Eligible   SkipReason = ""
	MissingKey SkipReason = "missing_key"
	Pending    SkipReason = "pending"
	NotMP3     SkipReason = "not_mp3"

	minDuePage = 50
)

// EnrollEpoch is the first review time given to backfilled tracks, so they
// are due immediately.
var EnrollEpoch = time.Unix(0, 0).UTC()

// Scheduler grades tracks and selects the ones due for review.
type Scheduler struct {
	store        Store
	presigner    Presigner
	events       events.Publisher
	keys         config.Keys
	pk           string
	defaultLimit int
	expiry       time.Duration
	now          func() time.Time
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithEvents publishes track.graded events.
func WithEvents(p events.Publisher) Option {
	return func(s *Scheduler) { s.events = p }
}

// NewScheduler creates a Scheduler for the configured learning partition.
func NewScheduler(store Store, presigner Presigner, cfg *config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:        store,
		presigner:    presigner,
		events:       events.Nop{},
		keys:         cfg.Keys,
		pk:           cfg.LearningPK,
		defaultLimit: cfg.DueDefaultLimit,
		expiry:       cfg.PresignExpiry,
		now:          time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Grade records a review of trackID.
func (s *Scheduler) Grade(ctx context.Context, trackID string, grade int) (GradeResult, error) {
	if strings.TrimSpace(trackID) == "" {
		return GradeResult{}, apperr.Validation("trackId is required")
	}
	if grade < MinGrade || grade > MaxGrade {
		return GradeResult{}, apperr.Validation("grade must be an integer between %d and %d, got %d", MinGrade, MaxGrade, grade)
	}

	now := s.now().UTC().Truncate(time.Second)
	var due time.Time
	_, err := s.store.ApplyReview(ctx, trackID, func(current *model.Track) (repository.LearningUpdate, error) {
		next, nextAt := Apply(current.Learning(), grade, now)
		due = nextAt
		return repository.LearningUpdate{
			Ease:         next.Ease,
			Reps:         next.Reps,
			Interval:     next.Interval,
			NextReviewAt: nextAt,
			LastGuessAt:  now,
			PKLearning:   s.pk,
		}, nil
	})
	if err != nil {
		return GradeResult{}, err
	}

	logger.Info("track graded",
		logger.String("trackId", trackID),
		logger.Int("grade", grade),
		logger.Time("nextReviewAt", due))
	if err := s.events.Publish(ctx, events.Event{
		Kind:    events.TrackGraded,
		TrackID: trackID,
		At:      now,
		Data:    map[string]any{"grade": grade, "nextReviewAt": due},
	}); err != nil {
		logger.Warn("event publish failed", logger.ErrorField(err))
	}
	return GradeResult{OK: true, TrackID: trackID, NextReviewAt: due}, nil
}

// ParseLimit turns a query parameter into a selection size; anything that
// is not a positive integer yields def.
func ParseLimit(raw string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// ClassifyAudioKey reports whether a due record can be played. Case and
// surrounding whitespace are ignored.
func ClassifyAudioKey(key string) SkipReason {
	key = strings.ToLower(strings.TrimSpace(key))
	switch {
	case key == "":
		return MissingKey
	case key == "pending" || strings.HasSuffix(key, "/pending"):
		return Pending
	case !strings.HasSuffix(key, ".mp3") && !strings.HasPrefix(key, "mp3/"):
		return NotMP3
	}
	return Eligible
}

// Due returns up to limit playable tracks whose review time has passed,
// oldest first. limit <= 0 uses the configured default.
func (s *Scheduler) Due(ctx context.Context, limit int) (DueResult, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	now := s.now().UTC().Truncate(time.Second)
	res := DueResult{Tracks: make([]*model.Track, 0, limit), Now: now}
	pageSize := max(minDuePage, 3*limit)

	var cursor *repository.DueCursor
	for len(res.Tracks) < limit {
		page, err := s.store.QueryDue(ctx, s.pk, now, cursor, pageSize)
		if err != nil {
			return DueResult{}, err
		}
		for _, t := range page {
			if len(res.Tracks) == limit {
				break
			}
			switch ClassifyAudioKey(t.AudioS3Key) {
			case MissingKey:
				res.Skipped.MissingKey++
			case Pending:
				res.Skipped.Pending++
			case NotMP3:
				res.Skipped.NotMP3++
			default:
				if err := s.sign(ctx, t); err != nil {
					return DueResult{}, err
				}
				res.Tracks = append(res.Tracks, t)
			}
		}
		if len(page) < pageSize {
			break
		}
		last := page[len(page)-1]
		cursor = &repository.DueCursor{ID: last.ID}
		if last.NextReviewAt != nil {
			cursor.NextReviewAt = *last.NextReviewAt
		}
	}

	res.Count = len(res.Tracks)
	logger.Debug("due tracks selected",
		logger.Int("count", res.Count),
		logger.Int("limit", limit),
		logger.Int("skippedPending", res.Skipped.Pending),
		logger.Int("skippedNotMp3", res.Skipped.NotMP3),
		logger.Int("skippedMissingKey", res.Skipped.MissingKey))
	return res, nil
}

func (s *Scheduler) sign(ctx context.Context, t *model.Track) error {
	u, err := s.presigner.PresignGet(ctx, t.AudioS3Key, s.expiry)
	if err != nil {
		return apperr.TransientIO("presign "+t.AudioS3Key, err)
	}
	t.PresignedURL = u

	artKey := t.AlbumArtS3Key
	if artKey == "" {
		artKey = s.keys.DefaultAlbumArt
	}
	if art, err := s.presigner.PresignGet(ctx, artKey, s.expiry); err == nil {
		t.AlbumArtURL = art
	} else {
		logger.Warn("album art presign failed", logger.String("key", artKey), logger.ErrorField(err))
	}
	return nil
}

// Enroll gives every track without learning state the defaults and makes
// it due now.
func (s *Scheduler) Enroll(ctx context.Context) (int64, error) {
	n, err := s.store.EnrollMissing(ctx, s.pk, model.DefaultLearningState, EnrollEpoch)
	if err != nil {
		return 0, err
	}
	logger.Info("tracks enrolled", logger.Int64("count", n), logger.String("pk", s.pk))
	return n, nil
}
