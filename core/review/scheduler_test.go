package review

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/model"
	"waveloft/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCatalog struct {
	tracks     map[string]*model.Track
	pageSizes  []int
	enrolledPK string
	enrollAt   time.Time
}

func newMemCatalog(tracks ...*model.Track) *memCatalog {
	c := &memCatalog{tracks: map[string]*model.Track{}}
	for _, t := range tracks {
		c.tracks[t.ID] = t
	}
	return c
}

func (c *memCatalog) ApplyReview(_ context.Context, id string, next func(*model.Track) (repository.LearningUpdate, error)) (*model.Track, error) {
	t, ok := c.tracks[id]
	if !ok {
		return nil, apperr.NotFound("track", id)
	}
	u, err := next(t)
	if err != nil {
		return nil, err
	}
	t.Ease, t.Reps, t.Interval = &u.Ease, &u.Reps, &u.Interval
	t.NextReviewAt, t.LastGuessAt, t.PKLearning = &u.NextReviewAt, &u.LastGuessAt, &u.PKLearning
	return t, nil
}

func (c *memCatalog) QueryDue(_ context.Context, pk string, now time.Time, after *repository.DueCursor, limit int) ([]*model.Track, error) {
	c.pageSizes = append(c.pageSizes, limit)
	var due []*model.Track
	for _, t := range c.tracks {
		if t.PKLearning == nil || *t.PKLearning != pk || t.NextReviewAt == nil || t.NextReviewAt.After(now) {
			continue
		}
		if after != nil {
			at := *t.NextReviewAt
			if at.Before(after.NextReviewAt) || (at.Equal(after.NextReviewAt) && t.ID <= after.ID) {
				continue
			}
		}
		due = append(due, t)
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i], due[j]
		if !a.NextReviewAt.Equal(*b.NextReviewAt) {
			return a.NextReviewAt.Before(*b.NextReviewAt)
		}
		return a.ID < b.ID
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (c *memCatalog) EnrollMissing(_ context.Context, pk string, state model.LearningState, first time.Time) (int64, error) {
	c.enrolledPK, c.enrollAt = pk, first
	var n int64
	for _, t := range c.tracks {
		if t.Enrolled() {
			continue
		}
		ease, reps, interval, p, at := state.Ease, state.Reps, state.Interval, pk, first
		t.Ease, t.Reps, t.Interval, t.PKLearning, t.NextReviewAt = &ease, &reps, &interval, &p, &at
		n++
	}
	return n, nil
}

type fakeSigner struct{ fail map[string]bool }

func (f fakeSigner) PresignGet(_ context.Context, key string, expiry time.Duration) (string, error) {
	if f.fail[key] {
		return "", errors.New("signer down")
	}
	return "https://signed.example/" + key + "?exp=" + expiry.String(), nil
}

type recorder struct{ got []events.Event }

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.got = append(r.got, ev)
	return nil
}

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)

func schedulerFor(store Store, opts ...Option) *Scheduler {
	cfg := config.FromEnv()
	cfg.LearningPK = "DJ"
	cfg.DueDefaultLimit = 40
	cfg.PresignExpiry = time.Hour
	opts = append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewScheduler(store, fakeSigner{}, cfg, opts...)
}

func dueTrack(id, key string, minutesAgo int) *model.Track {
	pk := "DJ"
	at := fixedNow.Truncate(time.Second).Add(-time.Duration(minutesAgo) * time.Minute)
	return &model.Track{ID: id, AudioS3Key: key, PKLearning: &pk, NextReviewAt: &at}
}

func TestGradeValidation(t *testing.T) {
	s := schedulerFor(newMemCatalog())
	for _, g := range []int{-1, 6, 100} {
		_, err := s.Grade(context.Background(), "t1", g)
		assert.ErrorIs(t, err, apperr.ErrValidation, "grade %d", g)
	}
	_, err := s.Grade(context.Background(), " ", 3)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestGradeUnknownTrack(t *testing.T) {
	s := schedulerFor(newMemCatalog())
	_, err := s.Grade(context.Background(), "ghost", 4)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGradeWritesNextState(t *testing.T) {
	ease, reps, interval := 2.5, 1, 1.0
	track := &model.Track{ID: "t1", Ease: &ease, Reps: &reps, Interval: &interval}
	rec := &recorder{}
	s := schedulerFor(newMemCatalog(track), WithEvents(rec))

	res, err := s.Grade(context.Background(), "t1", 5)
	require.NoError(t, err)

	now := fixedNow.Truncate(time.Second)
	assert.True(t, res.OK)
	assert.Equal(t, "t1", res.TrackID)
	assert.Equal(t, now.Add(6*24*time.Hour), res.NextReviewAt)
	assert.Equal(t, 2, *track.Reps)
	assert.Equal(t, 6.0, *track.Interval)
	assert.Equal(t, 2.6, *track.Ease)
	assert.Equal(t, now, *track.LastGuessAt)
	assert.Equal(t, "DJ", *track.PKLearning)

	require.Len(t, rec.got, 1)
	assert.Equal(t, events.TrackGraded, rec.got[0].Kind)
}

func TestGradeNeverEnrolledTrackUsesDefaults(t *testing.T) {
	track := &model.Track{ID: "fresh"}
	s := schedulerFor(newMemCatalog(track))

	res, err := s.Grade(context.Background(), "fresh", 1)
	require.NoError(t, err)
	assert.Equal(t, 0, *track.Reps)
	assert.Equal(t, 0.007, *track.Interval)
	assert.Equal(t, 1.96, *track.Ease)
	assert.Equal(t, fixedNow.Truncate(time.Second).Add(days(0.007)), res.NextReviewAt)
}

func TestParseLimit(t *testing.T) {
	tests := map[string]int{"": 40, "abc": 40, "0": 40, "-3": 40, "2": 2, " 15 ": 15}
	for raw, want := range tests {
		assert.Equal(t, want, ParseLimit(raw, 40), "raw %q", raw)
	}
}

func TestClassifyAudioKey(t *testing.T) {
	tests := []struct {
		key  string
		want SkipReason
	}{
		{"", MissingKey},
		{"pending", Pending},
		{"flac/pending", Pending},
		{"flac/abc.flac", NotMP3},
		{"tracks/abc.wav", NotMP3},
		{"mp3/abc.mp3", Eligible},
		{"tracks/abc.mp3", Eligible},
		{"mp3/legacy", Eligible},
		{"   ", MissingKey},
		{"flac/PENDING", Pending},
		{" Pending ", Pending},
		{"tracks/x.MP3", Eligible},
		{" mp3/a.mp3 ", Eligible},
		{"FLAC/abc.FLAC", NotMP3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyAudioKey(tt.key), tt.key)
	}
}

func TestDueSkipsPendingAndHonoursLimit(t *testing.T) {
	store := newMemCatalog(
		dueTrack("p", "flac/pending", 40),
		dueTrack("a", "mp3/a.mp3", 30),
		dueTrack("b", "mp3/b.mp3", 20),
		dueTrack("c", "mp3/c.mp3", 10),
	)
	s := schedulerFor(store)

	res, err := s.Due(context.Background(), 2)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "a", res.Tracks[0].ID)
	assert.Equal(t, "b", res.Tracks[1].ID)
	assert.Equal(t, 1, res.Skipped.Pending)
	assert.Equal(t, fixedNow.Truncate(time.Second), res.Now)
	assert.Contains(t, res.Tracks[0].PresignedURL, "mp3/a.mp3")
	assert.Contains(t, res.Tracks[0].AlbumArtURL, "album_art/default_album_art.png")
	assert.Equal(t, []int{50}, store.pageSizes)
}

func TestDueExcludesFutureAndOtherPartitions(t *testing.T) {
	future := dueTrack("future", "mp3/f.mp3", -60)
	other := dueTrack("other", "mp3/o.mp3", 5)
	pk := "ELSE"
	other.PKLearning = &pk
	store := newMemCatalog(future, other, dueTrack("ok", "mp3/ok.mp3", 5))

	res, err := schedulerFor(store).Due(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "ok", res.Tracks[0].ID)
}

func TestDuePagesPastIneligibleRecords(t *testing.T) {
	var tracks []*model.Track
	for i := 0; i < 120; i++ {
		tracks = append(tracks, dueTrack(idOf(i), "flac/"+idOf(i)+".flac", 500-i))
	}
	tracks = append(tracks, dueTrack("zz-late", "mp3/late.mp3", 1))
	tracks = append(tracks, dueTrack("zz-missing", "", 2))
	store := newMemCatalog(tracks...)

	res, err := schedulerFor(store).Due(context.Background(), 5)
	require.NoError(t, err)

	require.Len(t, res.Tracks, 1)
	assert.Equal(t, "zz-late", res.Tracks[0].ID)
	assert.Equal(t, 120, res.Skipped.NotMP3)
	assert.Equal(t, 1, res.Skipped.MissingKey)
	assert.Equal(t, []int{50, 50, 50}, store.pageSizes)
}

func TestDueSurfacesPresignFailure(t *testing.T) {
	store := newMemCatalog(dueTrack("a", "mp3/a.mp3", 5))
	s := schedulerFor(store)
	s.presigner = fakeSigner{fail: map[string]bool{"mp3/a.mp3": true}}

	_, err := s.Due(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrTransientIO)
}

func TestEnrollBackfillsDefaults(t *testing.T) {
	store := newMemCatalog(&model.Track{ID: "new", AudioS3Key: "mp3/new.mp3"}, dueTrack("old", "mp3/old.mp3", 5))
	s := schedulerFor(store)

	n, err := s.Enroll(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, "DJ", store.enrolledPK)
	assert.Equal(t, time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC), store.enrollAt)

	res, err := s.Due(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, res.Tracks, 2)
	assert.Equal(t, "new", res.Tracks[0].ID)
}

func idOf(i int) string {
	return string(rune('a'+i/26)) + string(rune('a'+i%26))
}
