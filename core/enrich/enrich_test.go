package enrich

import (
	"context"
	"testing"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type memObjects map[string][]byte

func (m memObjects) ReadAll(_ context.Context, key string) ([]byte, error) {
	b, ok := m[key]
	if !ok {
		return nil, apperr.NotFound("object", key)
	}
	return b, nil
}

type memCatalog struct {
	known   map[string]bool
	details []*model.TrackDetails
	updates map[string]map[string]any
}

func (c *memCatalog) UpsertDetails(_ context.Context, d *model.TrackDetails) error {
	c.details = append(c.details, d)
	return nil
}

func (c *memCatalog) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	if !c.known[id] {
		return apperr.NotFound("track", id)
	}
	if c.updates == nil {
		c.updates = map[string]map[string]any{}
	}
	c.updates[id] = fields
	return nil
}

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.got = append(r.got, ev)
	return nil
}

var enrichTime = time.Date(2024, 7, 2, 9, 15, 30, 0, time.UTC)

func newTestEnricher(objs memObjects, cat *memCatalog, opts ...Option) *Enricher {
	opts = append([]Option{WithClock(func() time.Time { return enrichTime })}, opts...)
	return NewEnricher(objs, cat, config.FromEnv(), opts...)
}

func TestMatchesAndTrackID(t *testing.T) {
	e := newTestEnricher(nil, &memCatalog{})
	assert.True(t, e.Matches("meta/t1.json"))
	assert.True(t, e.Matches("meta/t1.JSON"))
	assert.False(t, e.Matches("meta/t1.txt"))
	assert.False(t, e.Matches("flac/t1.json"))

	assert.Equal(t, "t1", TrackIDFromKey("meta/t1.json"))
	assert.Equal(t, "t1", TrackIDFromKey("meta/sub/t1.v2.json"))
}

func TestPromotePrefersNestedPaths(t *testing.T) {
	fields, err := Promote([]byte(`{
		"meta": {"artist": "Nested", "title": "Inner", "year": 2019, "style": ["house", "disco", "house"]},
		"artist": "Flat",
		"title": "Outer",
		"features": {"danceability": 0.82, "bpm": "124.5"},
		"moods": "night, open-air; warm\nnight"
	}`))
	require.NoError(t, err)

	assert.Equal(t, "Nested", fields["artist"])
	assert.Equal(t, "Inner", fields["title"])
	assert.Equal(t, 2019, fields["year"])
	assert.Equal(t, 0.82, fields["danceability"])
	assert.Equal(t, 124.5, fields["bpm"])
	assert.JSONEq(t, `["disco","house"]`, string(fields["style"].(datatypes.JSON)))
	assert.JSONEq(t, `["night","open-air","warm"]`, string(fields["moods"].(datatypes.JSON)))
}

func TestPromoteFallsBackToFlatPaths(t *testing.T) {
	fields, err := Promote([]byte(`{"meta": {"artist": null}, "artist": "Flat", "danceability": 1, "year": "1999"}`))
	require.NoError(t, err)
	assert.Equal(t, "Flat", fields["artist"])
	assert.Equal(t, 1.0, fields["danceability"])
	assert.Equal(t, 1999, fields["year"])
	assert.NotContains(t, fields, "title")
}

func TestPromoteDropsUncoercibleValues(t *testing.T) {
	fields, err := Promote([]byte(`{
		"meta": {"title": "   ", "year": 1999.5, "moods": [], "artist": {"name": "x"}},
		"title": "ignored because meta.title is present",
		"features": {"bpm": "fast", "danceability": true},
		"style": {"a": 1}
	}`))
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestEnrichStoresAndPromotes(t *testing.T) {
	objs := memObjects{"meta/t1.json": []byte(`{"meta":{"artist":"A","moods":["calm"]},"features":{"bpm":90}}`)}
	cat := &memCatalog{known: map[string]bool{"t1": true}}
	rec := &recorder{}
	e := newTestEnricher(objs, cat, WithEvents(rec))

	err := e.Handle(context.Background(), events.ObjectCreated{Key: "meta/t1.json"})
	require.NoError(t, err)

	require.Len(t, cat.details, 1)
	d := cat.details[0]
	assert.Equal(t, "t1", d.TrackID)
	assert.Equal(t, "meta/t1.json", d.MetaS3Key)
	assert.Equal(t, enrichTime, d.UpdatedAt)
	assert.JSONEq(t, string(objs["meta/t1.json"]), string(d.Details))

	up := cat.updates["t1"]
	assert.Equal(t, "A", up["artist"])
	assert.Equal(t, 90.0, up["bpm"])
	assert.Equal(t, "meta/t1.json", up["meta_s3_key"])
	assert.Equal(t, enrichTime, up["meta_updated_at"])

	require.Len(t, rec.got, 1)
	assert.Equal(t, events.TrackEnriched, rec.got[0].Kind)
}

func TestEnrichUnknownTrackKeepsDetails(t *testing.T) {
	objs := memObjects{"meta/ghost.json": []byte(`{"artist":"A"}`)}
	cat := &memCatalog{known: map[string]bool{}}
	rec := &recorder{}
	e := newTestEnricher(objs, cat, WithEvents(rec))

	fields, err := e.Enrich(context.Background(), "meta/ghost.json")
	require.NoError(t, err)
	assert.Equal(t, "A", fields["artist"])
	assert.Len(t, cat.details, 1)
	assert.Empty(t, rec.got)
}

func TestEnrichRejectsBadDocuments(t *testing.T) {
	objs := memObjects{"meta/t1.json": []byte(`{"artist":`)}
	cat := &memCatalog{known: map[string]bool{"t1": true}}
	e := newTestEnricher(objs, cat)

	_, err := e.Enrich(context.Background(), "meta/t1.json")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, cat.details)

	_, err = e.Enrich(context.Background(), "meta/missing.json")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
