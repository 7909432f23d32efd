package model

import "time"

// Track is a catalog entry for one uploaded audio file.
// Learning fields are nil until the track is enrolled or graded.
type Track struct {
	ID            string    `gorm:"column:id;primaryKey;size:64" json:"id"`
	FileName      string    `gorm:"column:file_name;size:512;index:idx_file_name" json:"fileName,omitempty"`
	Title         string    `gorm:"column:title;size:512" json:"title"`
	Artist        string    `gorm:"column:artist;size:512" json:"artist"`
	Album         string    `gorm:"column:album;size:512" json:"album"`
	AudioS3Key    string    `gorm:"column:audio_s3_key;size:1024" json:"audioS3Key"`
	AlbumArtS3Key string    `gorm:"column:album_art_s3_key;size:1024" json:"albumArtS3Key"`
	Duration      *float64  `gorm:"column:duration" json:"duration,omitempty"` // seconds
	Bitrate       *int      `gorm:"column:bitrate" json:"bitrate,omitempty"`   // bits per second
	UploadedAt    time.Time `gorm:"column:uploaded_at;not null" json:"uploadedAt"`

	Ease         *float64   `gorm:"column:ease" json:"ease,omitempty"`
	Reps         *int       `gorm:"column:reps" json:"reps,omitempty"`
	Interval     *float64   `gorm:"column:interval_days" json:"interval,omitempty"` // days
	NextReviewAt *time.Time `gorm:"column:next_review_at;index:idx_learning,priority:2" json:"nextReviewAt,omitempty"`
	PKLearning   *string    `gorm:"column:pk_learning;size:32;index:idx_learning,priority:1" json:"pkLearning,omitempty"`
	LastGuessAt  *time.Time `gorm:"column:last_guess_at" json:"lastGuessAt,omitempty"`

	Moods         []string   `gorm:"column:moods;serializer:json" json:"moods,omitempty"`
	Style         []string   `gorm:"column:style;serializer:json" json:"style,omitempty"`
	Danceability  *float64   `gorm:"column:danceability" json:"danceability,omitempty"`
	BPM           *float64   `gorm:"column:bpm" json:"bpm,omitempty"`
	Year          *int       `gorm:"column:year" json:"year,omitempty"`
	MetaS3Key     string     `gorm:"column:meta_s3_key;size:1024" json:"metaS3Key,omitempty"`
	MetaUpdatedAt *time.Time `gorm:"column:meta_updated_at" json:"metaUpdatedAt,omitempty"`

	// Response-only presigned references.
	PresignedURL string `gorm:"-" json:"presignedUrl,omitempty"`
	AlbumArtURL  string `gorm:"-" json:"albumArtUrl,omitempty"`
}

// TableName pins the table name.
func (Track) TableName() string { return "tracks" }

// Enrolled reports whether the scheduling fields are populated.
func (t *Track) Enrolled() bool {
	return t.PKLearning != nil && t.NextReviewAt != nil && t.Ease != nil && t.Reps != nil && t.Interval != nil
}

// LearningState is the SM-2 scheduling state of a track.
type LearningState struct {
	Ease     float64
	Reps     int
	Interval float64
}

// DefaultLearningState is the state of a never-reviewed track.
var DefaultLearningState = LearningState{Ease: 2.5, Reps: 0, Interval: 0}

// Learning returns the stored scheduling state, falling back to defaults
// for fields that were never written.
func (t *Track) Learning() LearningState {
	s := DefaultLearningState
	if t.Ease != nil {
		s.Ease = *t.Ease
	}
	if t.Reps != nil {
		s.Reps = *t.Reps
	}
	if t.Interval != nil {
		s.Interval = *t.Interval
	}
	return s
}
