// Package enrich attaches externally produced analysis documents
// (meta/<trackId>.json) to catalog tracks.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/logger"
	"waveloft/model"

	"github.com/tidwall/gjson"
	"gorm.io/datatypes"
)

// Reader loads an object body.
type Reader interface {
	ReadAll(ctx context.Context, key string) ([]byte, error)
}

// Catalog stores the document and the promoted columns.
type Catalog interface {
	UpsertDetails(ctx context.Context, details *model.TrackDetails) error
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
}

type valueKind int

const (
	kindString valueKind = iota
	kindNumber
	kindInt
	kindSet
)

// promotion copies the first present path of a document onto column.
type promotion struct {
	column string
	paths  []string
	kind   valueKind
}

var promotions = []promotion{
	{"artist", []string{"meta.artist", "artist"}, kindString},
	{"title", []string{"meta.title", "title"}, kindString},
	{"moods", []string{"meta.moods", "moods"}, kindSet},
	{"danceability", []string{"features.danceability", "danceability"}, kindNumber},
	{"bpm", []string{"features.bpm", "bpm"}, kindNumber},
	{"year", []string{"meta.year", "year"}, kindInt},
	{"style", []string{"meta.style", "style"}, kindSet},
}

// Enricher handles meta document uploads.
type Enricher struct {
	store   Reader
	catalog Catalog
	events  events.Publisher
	prefix  string
	now     func() time.Time
}

// Option customizes an Enricher.
type Option func(*Enricher)

// WithEvents publishes track.enriched events.
func WithEvents(p events.Publisher) Option {
	return func(e *Enricher) { e.events = p }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Enricher) { e.now = now }
}

// NewEnricher creates an Enricher for documents under cfg.Keys.MetaPrefix.
func NewEnricher(store Reader, catalog Catalog, cfg *config.Config, opts ...Option) *Enricher {
	e := &Enricher{
		store:   store,
		catalog: catalog,
		events:  events.Nop{},
		prefix:  cfg.Keys.MetaPrefix,
		now:     time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Matches reports whether key is a meta document.
func (e *Enricher) Matches(key string) bool {
	return strings.HasPrefix(key, e.prefix) && strings.HasSuffix(strings.ToLower(key), ".json")
}

// TrackIDFromKey returns the id in "meta/<id>.json".
func TrackIDFromKey(key string) string {
	base := path.Base(key)
	id, _, _ := strings.Cut(base, ".")
	return id
}

// Handle implements events.Handler.
func (e *Enricher) Handle(ctx context.Context, obj events.ObjectCreated) error {
	_, err := e.Enrich(ctx, obj.Key)
	return err
}

// Enrich stores the document at key and promotes its known fields onto the
// track. It returns the columns written.
func (e *Enricher) Enrich(ctx context.Context, key string) (map[string]any, error) {
	trackID := TrackIDFromKey(key)
	if trackID == "" {
		return nil, apperr.Validation("cannot derive track id from %q", key)
	}

	doc, err := e.store.ReadAll(ctx, key)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(doc) {
		return nil, apperr.Validation("%s is not valid JSON", key)
	}

	now := e.now().UTC().Truncate(time.Second)
	if err := e.catalog.UpsertDetails(ctx, &model.TrackDetails{
		TrackID:   trackID,
		Details:   datatypes.JSON(doc),
		MetaS3Key: key,
		UpdatedAt: now,
	}); err != nil {
		return nil, err
	}

	fields, err := Promote(doc)
	if err != nil {
		return nil, err
	}
	fields["meta_s3_key"] = key
	fields["meta_updated_at"] = now

	err = e.catalog.UpdateFields(ctx, trackID, fields)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		logger.Warn("details stored for unknown track", logger.String("trackId", trackID), logger.String("key", key))
		return fields, nil
	case err != nil:
		return nil, err
	}

	logger.Info("track enriched",
		logger.String("trackId", trackID),
		logger.String("key", key),
		logger.Int("promoted", len(fields)))
	if err := e.events.Publish(ctx, events.Event{Kind: events.TrackEnriched, TrackID: trackID, Key: key, At: now}); err != nil {
		logger.Warn("event publish failed", logger.ErrorField(err))
	}
	return fields, nil
}

// Promote extracts the promoted columns from a document. The first path
// holding a non-null value decides; a value that cannot be coerced to the
// column type is dropped.
func Promote(doc []byte) (map[string]any, error) {
	fields := make(map[string]any)
	for _, p := range promotions {
		r := first(doc, p.paths)
		if !r.Exists() {
			continue
		}
		v, ok := coerce(r, p.kind)
		if !ok {
			continue
		}
		if p.kind == kindSet {
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", p.column, err)
			}
			v = datatypes.JSON(raw)
		}
		fields[p.column] = v
	}
	return fields, nil
}

func first(doc []byte, paths []string) gjson.Result {
	for _, p := range paths {
		if r := gjson.GetBytes(doc, p); r.Exists() && r.Type != gjson.Null {
			return r
		}
	}
	return gjson.Result{}
}

func coerce(r gjson.Result, kind valueKind) (any, bool) {
	switch kind {
	case kindString:
		if r.IsObject() || r.IsArray() || r.IsBool() {
			return nil, false
		}
		s := strings.TrimSpace(r.String())
		return s, s != ""
	case kindNumber:
		return toFloat(r)
	case kindInt:
		f, ok := toFloat(r)
		if !ok || f != math.Trunc(f) {
			return nil, false
		}
		return int(f), true
	case kindSet:
		return toSet(r)
	}
	return nil, false
}

func toFloat(r gjson.Result) (float64, bool) {
	switch r.Type {
	case gjson.Number:
		return r.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(r.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// toSet accepts a list or a string separated by commas, semicolons or
// newlines, and returns the distinct non-empty entries sorted.
func toSet(r gjson.Result) ([]string, bool) {
	var items []string
	switch {
	case r.IsArray():
		for _, el := range r.Array() {
			if el.IsObject() || el.IsArray() {
				continue
			}
			items = append(items, el.String())
		}
	case r.Type == gjson.String:
		items = strings.FieldsFunc(r.Str, func(c rune) bool { return c == ',' || c == ';' || c == '\n' })
	case r.IsObject():
		return nil, false
	default:
		items = []string{r.String()}
	}

	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	if len(out) == 0 {
		return nil, false
	}
	sort.Strings(out)
	return out, true
}
