// Package artwork stores extracted cover images.
package artwork

import (
	"context"
	"fmt"

	"waveloft/core/tagging"
	"waveloft/logger"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// ObjectWriter is the object store capability the publisher needs.
type ObjectWriter interface {
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error
}

// Outcome tells whether a cover was stored or the default applies.
type Outcome int

const (
	UseDefault Outcome = iota
	Published
)

// Result carries the key to record on the track either way.
type Result struct {
	Outcome Outcome
	Key     string
}

// Publisher writes covers under prefix and falls back to defaultKey.
type Publisher struct {
	store      ObjectWriter
	prefix     string
	defaultKey string
	newID      func() string
}

// NewPublisher creates a Publisher.
func NewPublisher(store ObjectWriter, prefix, defaultKey string) *Publisher {
	return &Publisher{
		store:      store,
		prefix:     prefix,
		defaultKey: defaultKey,
		newID:      uuid.NewString,
	}
}

// DefaultKey is the shared placeholder cover.
func (p *Publisher) DefaultKey() string { return p.defaultKey }

// KeyFor builds "<prefix><id>_album_art.<ext>".
func (p *Publisher) KeyFor(id, ext string) string {
	return fmt.Sprintf("%s%s_album_art.%s", p.prefix, id, ext)
}

// Publish stores pic and returns its key. No picture, or a failed write,
// yields the default key; the error never reaches the caller.
func (p *Publisher) Publish(ctx context.Context, pic *tagging.Picture) Result {
	if pic == nil || len(pic.Data) == 0 {
		return Result{Outcome: UseDefault, Key: p.defaultKey}
	}

	key := p.KeyFor(p.newID(), pic.Ext())
	if err := p.store.PutBytes(ctx, key, pic.Data, pic.ContentType()); err != nil {
		logger.Warn("album art upload failed, using default",
			logger.String("key", key),
			logger.ErrorField(err))
		return Result{Outcome: UseDefault, Key: p.defaultKey}
	}

	logger.Info("album art published",
		logger.String("key", key),
		logger.String("size", humanize.IBytes(uint64(len(pic.Data)))))
	return Result{Outcome: Published, Key: key}
}
