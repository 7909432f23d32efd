package model

import (
	"time"

	"gorm.io/datatypes"
)

// TrackDetails stores the raw enrichment document attached to a track.
type TrackDetails struct {
	TrackID   string         `gorm:"column:track_id;primaryKey;size:64" json:"trackId"`
	Details   datatypes.JSON `gorm:"column:details" json:"details"`
	MetaS3Key string         `gorm:"column:meta_s3_key;size:1024" json:"metaS3Key"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updatedAt"`
}

func (TrackDetails) TableName() string { return "track_details" }
