// Package events carries catalog change notifications and routes object
// store notifications to their handlers.
package events

import (
	"context"
	"time"
)

// Kind names a catalog change.
type Kind string

const (
	TrackIngested Kind = "track.ingested"
	TrackPlayable Kind = "track.playable"
	TrackGraded   Kind = "track.graded"
	TrackEnriched Kind = "track.enriched"
	TrackDeleted  Kind = "track.deleted"
)

// Event is a single catalog change notification.
type Event struct {
	Kind    Kind           `json:"kind"`
	TrackID string         `json:"trackId,omitempty"`
	Key     string         `json:"key,omitempty"`
	At      time.Time      `json:"at"`
	Data    map[string]any `json:"data,omitempty"`
}

// Publisher fans catalog events out to listeners. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
