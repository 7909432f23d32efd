package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"waveloft/core/apperr"
	"waveloft/logger"
	"waveloft/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DueCursor is the keyset position after the last row of a due page.
type DueCursor struct {
	NextReviewAt time.Time
	ID           string
}

// LearningUpdate is the scheduling state written back after a grade.
type LearningUpdate struct {
	Ease         float64
	Reps         int
	Interval     float64
	NextReviewAt time.Time
	LastGuessAt  time.Time
	PKLearning   string
}

// TrackRepository defines the catalog operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	BatchUpsert(ctx context.Context, tracks []*model.Track, batchSize int) error
	GetByID(ctx context.Context, id string) (*model.Track, error)
	GetByIDs(ctx context.Context, ids []string) ([]*model.Track, error)
	FindByFileName(ctx context.Context, fileName string) (*model.Track, error)
	List(ctx context.Context) ([]*model.Track, error)
	UpdateAudioKey(ctx context.Context, id, audioKey string) error
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
	ApplyReview(ctx context.Context, id string, next func(current *model.Track) (LearningUpdate, error)) (*model.Track, error)
	QueryDue(ctx context.Context, pk string, now time.Time, after *DueCursor, limit int) ([]*model.Track, error)
	EnrollMissing(ctx context.Context, pk string, state model.LearningState, firstReview time.Time) (int64, error)
	UpsertDetails(ctx context.Context, details *model.TrackDetails) error
}

// gormTrackRepository implements TrackRepository on MySQL through GORM.
type gormTrackRepository struct {
	db           *gorm.DB
	pendingAudio string
}

// NewGormTrackRepository creates a repository. pendingAudio is the sentinel
// audio key that an upsert is allowed to overwrite.
func NewGormTrackRepository(db *gorm.DB, pendingAudio string) TrackRepository {
	return &gormTrackRepository{db: db, pendingAudio: pendingAudio}
}

// refreshedColumns are rewritten when an ingested record hits an existing id.
// uploaded_at and the learning columns are left alone.
var refreshedColumns = []string{"file_name", "title", "artist", "album", "album_art_s3_key", "duration", "bitrate"}

func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track %s: %w", track.ID, err)
	}
	return nil
}

// BatchUpsert writes tracks in chunks of batchSize inside one transaction.
func (r *gormTrackRepository) BatchUpsert(ctx context.Context, tracks []*model.Track, batchSize int) error {
	if len(tracks) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 25
	}

	updates := clause.AssignmentColumns(refreshedColumns)
	updates = append(updates, clause.Assignment{
		Column: clause.Column{Name: "audio_s3_key"},
		Value:  gorm.Expr("IF(audio_s3_key = ? OR audio_s3_key IS NULL OR audio_s3_key = '', VALUES(audio_s3_key), audio_s3_key)", r.pendingAudio),
	})

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(tracks); start += batchSize {
			end := min(start+batchSize, len(tracks))
			if err := tx.Clauses(clause.OnConflict{DoUpdates: updates}).Create(tracks[start:end]).Error; err != nil {
				return fmt.Errorf("batch %d-%d: %w", start, end, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %d tracks: %w", len(tracks), err)
	}
	logger.Debug("catalog batch written", logger.Int("tracks", len(tracks)), logger.Int("batchSize", batchSize))
	return nil
}

func (r *gormTrackRepository) GetByID(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("track", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get track %s: %w", id, err)
	}
	return &track, nil
}

// GetByIDs returns the stored rows among ids; missing ids are left out.
func (r *gormTrackRepository) GetByIDs(ctx context.Context, ids []string) ([]*model.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tracks []*model.Track
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to get %d tracks: %w", len(ids), err)
	}
	return tracks, nil
}

func (r *gormTrackRepository) FindByFileName(ctx context.Context, fileName string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("file_name = ?", fileName).Take(&track).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("track with fileName", fileName)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %q: %w", fileName, err)
	}
	return &track, nil
}

func (r *gormTrackRepository) List(ctx context.Context) ([]*model.Track, error) {
	var tracks []*model.Track
	if err := r.db.WithContext(ctx).Order("uploaded_at DESC").Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}
	return tracks, nil
}

// UpdateAudioKey points an existing track at a new audio object. It never
// creates a record: zero matched rows yields a not-found error.
func (r *gormTrackRepository) UpdateAudioKey(ctx context.Context, id, audioKey string) error {
	res := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Update("audio_s3_key", audioKey)
	if res.Error != nil {
		return fmt.Errorf("failed to update audio key for %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("track", id)
	}
	return nil
}

// UpdateFields applies a column map to an existing track.
func (r *gormTrackRepository) UpdateFields(ctx context.Context, id string, fields map[string]any) error {
	if len(fields) == 0 {
		return apperr.Validation("no fields to update")
	}
	res := r.db.WithContext(ctx).Model(&model.Track{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update track %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.NotFound("track", id)
	}
	return nil
}

// Delete removes a track. Deleting a missing id succeeds.
func (r *gormTrackRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Track{}).Error; err != nil {
		return fmt.Errorf("failed to delete track %s: %w", id, err)
	}
	return nil
}

// ApplyReview locks the track row, computes the next learning state from
// the current one and writes it back in the same transaction.
func (r *gormTrackRepository) ApplyReview(ctx context.Context, id string, next func(current *model.Track) (LearningUpdate, error)) (*model.Track, error) {
	var updated model.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).Take(&updated).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("track", id)
			}
			return err
		}

		u, err := next(&updated)
		if err != nil {
			return err
		}

		if err := tx.Model(&model.Track{}).Where("id = ?", id).Updates(map[string]any{
			"ease":           u.Ease,
			"reps":           u.Reps,
			"interval_days":  u.Interval,
			"next_review_at": u.NextReviewAt,
			"last_guess_at":  u.LastGuessAt,
			"pk_learning":    u.PKLearning,
		}).Error; err != nil {
			return err
		}

		updated.Ease, updated.Reps, updated.Interval = &u.Ease, &u.Reps, &u.Interval
		updated.NextReviewAt, updated.LastGuessAt, updated.PKLearning = &u.NextReviewAt, &u.LastGuessAt, &u.PKLearning
		return nil
	})
	if err != nil {
		if apperr.Kind(err) != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to apply review to %s: %w", id, err)
	}
	return &updated, nil
}

// QueryDue returns up to limit tracks of partition pk whose next review is
// at or before now, ordered by (next_review_at, id), starting after cursor.
func (r *gormTrackRepository) QueryDue(ctx context.Context, pk string, now time.Time, after *DueCursor, limit int) ([]*model.Track, error) {
	q := r.db.WithContext(ctx).
		Where("pk_learning = ? AND next_review_at <= ?", pk, now)
	if after != nil {
		q = q.Where("(next_review_at > ? OR (next_review_at = ? AND id > ?))", after.NextReviewAt, after.NextReviewAt, after.ID)
	}

	var tracks []*model.Track
	if err := q.Order("next_review_at ASC, id ASC").Limit(limit).Find(&tracks).Error; err != nil {
		return nil, fmt.Errorf("failed to query due tracks: %w", err)
	}
	return tracks, nil
}

// EnrollMissing fills learning defaults on tracks that have none, putting
// them into partition pk and making them due at firstReview.
func (r *gormTrackRepository) EnrollMissing(ctx context.Context, pk string, state model.LearningState, firstReview time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("pk_learning IS NULL OR next_review_at IS NULL OR ease IS NULL OR reps IS NULL OR interval_days IS NULL").
		Updates(map[string]any{
			"ease":           gorm.Expr("COALESCE(ease, ?)", state.Ease),
			"reps":           gorm.Expr("COALESCE(reps, ?)", state.Reps),
			"interval_days":  gorm.Expr("COALESCE(interval_days, ?)", state.Interval),
			"next_review_at": gorm.Expr("COALESCE(next_review_at, ?)", firstReview),
			"pk_learning":    gorm.Expr("COALESCE(pk_learning, ?)", pk),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to enroll tracks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// UpsertDetails stores the enrichment document for a track.
func (r *gormTrackRepository) UpsertDetails(ctx context.Context, details *model.TrackDetails) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		DoUpdates: clause.AssignmentColumns([]string{"details", "meta_s3_key", "updated_at"}),
	}).Create(details).Error
	if err != nil {
		return fmt.Errorf("failed to store details for %s: %w", details.TrackID, err)
	}
	return nil
}
