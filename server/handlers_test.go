package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/core/ingest"
	"waveloft/core/review"
	"waveloft/core/uploads"
	"waveloft/model"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracks struct {
	tracks  map[string]*model.Track
	updated map[string]map[string]any
	deleted []string
	listErr error
}

func (f *fakeTracks) GetByID(_ context.Context, id string) (*model.Track, error) {
	t, ok := f.tracks[id]
	if !ok {
		return nil, apperr.NotFound("track", id)
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTracks) FindByFileName(_ context.Context, name string) (*model.Track, error) {
	for _, t := range f.tracks {
		if t.FileName == name {
			return t, nil
		}
	}
	return nil, apperr.NotFound("track with fileName", name)
}

func (f *fakeTracks) List(context.Context) ([]*model.Track, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []*model.Track
	for _, t := range f.tracks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (f *fakeTracks) UpdateFields(_ context.Context, id string, fields map[string]any) error {
	if _, ok := f.tracks[id]; !ok {
		return apperr.NotFound("track", id)
	}
	if f.updated == nil {
		f.updated = make(map[string]map[string]any)
	}
	f.updated[id] = fields
	return nil
}

func (f *fakeTracks) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	delete(f.tracks, id)
	return nil
}

type fakeIngester struct {
	items []ingest.Item
	res   ingest.Result
	err   error
}

func (f *fakeIngester) Ingest(_ context.Context, items []ingest.Item) (ingest.Result, error) {
	f.items = items
	return f.res, f.err
}

func (f *fakeIngester) Register(_ context.Context, id, title string) (*model.Track, error) {
	if id == "" {
		id = "generated"
	}
	if title == "" {
		title = ingest.DefaultTitle
	}
	return &model.Track{ID: id, Title: title, AudioS3Key: "flac/pending"}, nil
}

type fakeReviewer struct {
	gradedID string
	grade    int
	limit    int
	enrolled int64
}

func (f *fakeReviewer) Grade(_ context.Context, id string, grade int) (review.GradeResult, error) {
	if grade < review.MinGrade || grade > review.MaxGrade {
		return review.GradeResult{}, apperr.Validation("grade must be between 0 and 5")
	}
	if id == "missing" {
		return review.GradeResult{}, apperr.NotFound("track", id)
	}
	f.gradedID, f.grade = id, grade
	return review.GradeResult{OK: true, TrackID: id, NextReviewAt: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)}, nil
}

func (f *fakeReviewer) Due(_ context.Context, limit int) (review.DueResult, error) {
	f.limit = limit
	return review.DueResult{Tracks: []*model.Track{}, Skipped: review.Skipped{Pending: 1}}, nil
}

func (f *fakeReviewer) Enroll(context.Context) (int64, error) {
	return f.enrolled, nil
}

type fakeUploader struct {
	files    []uploads.FileRequest
	body     string
	trackID  string
	fileName string
}

func (f *fakeUploader) Presign(_ context.Context, files []uploads.FileRequest) ([]uploads.Slot, error) {
	f.files = files
	out := make([]uploads.Slot, len(files))
	for i, fr := range files {
		out[i] = uploads.Slot{PresignedURL: "https://put/" + fr.FileName, TrackID: "id", S3Key: "flac/id.flac", FileName: fr.FileName}
	}
	return out, nil
}

func (f *fakeUploader) Upload(_ context.Context, trackID, fileName, contentType string, r io.Reader, size int64) (uploads.Uploaded, error) {
	b, _ := io.ReadAll(r)
	f.body, f.trackID, f.fileName = string(b), trackID, fileName
	return uploads.Uploaded{TrackID: "t-up", S3Key: "tracks/t-up.mp3", URL: "https://get/tracks/t-up.mp3"}, nil
}

type fakePresigner struct {
	fail map[string]bool
}

func (f fakePresigner) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	if f.fail[key] {
		return "", errors.New("signer down")
	}
	return "https://get/" + key, nil
}

type fakeDispatcher struct {
	records []events.ObjectCreated
}

func (f *fakeDispatcher) Dispatch(_ context.Context, records []events.ObjectCreated) events.Report {
	f.records = records
	return events.Report{Handled: len(records)}
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

type chanFeed chan events.Event

func (c chanFeed) Subscribe(context.Context) (<-chan events.Event, error) { return c, nil }

type fixture struct {
	tracks     *fakeTracks
	ingester   *fakeIngester
	reviewer   *fakeReviewer
	uploader   *fakeUploader
	dispatcher *fakeDispatcher
	events     *recorder
	feed       chanFeed
	router     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.FromEnv()
	f := &fixture{
		tracks: &fakeTracks{tracks: map[string]*model.Track{
			"t1": {ID: "t1", FileName: "a.mp3", Title: "A", AudioS3Key: "mp3/t1.mp3", AlbumArtS3Key: "album_art/t1.png"},
			"t2": {ID: "t2", FileName: "b.flac", Title: "B", AudioS3Key: cfg.Keys.PendingAudio},
		}},
		ingester:   &fakeIngester{},
		reviewer:   &fakeReviewer{},
		uploader:   &fakeUploader{},
		dispatcher: &fakeDispatcher{},
		events:     &recorder{},
		feed:       make(chanFeed, 4),
	}
	h := NewAPIHandler(Deps{
		Tracks:     f.tracks,
		Ingester:   f.ingester,
		Reviewer:   f.reviewer,
		Uploader:   f.uploader,
		Presigner:  fakePresigner{},
		Dispatcher: f.dispatcher,
		Events:     f.events,
		Feed:       f.feed,
	}, cfg)
	f.router = NewRouter(h)
	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIngestTracksHandler(t *testing.T) {
	f := newFixture(t)
	f.ingester.res = ingest.Result{Tracks: []*model.Track{{ID: "n1", Title: "New"}}}

	rec := f.do(http.MethodPost, "/api/tracks/ingest", `{"files":[{"fileName":"x.mp3","s3Key":"tracks/x.mp3"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, "Tracks created successfully", body["message"])
	assert.Len(t, body["tracks"], 1)
	assert.Equal(t, []any{}, body["failures"])
	assert.Equal(t, []ingest.Item{{FileName: "x.mp3", S3Key: "tracks/x.mp3"}}, f.ingester.items)
}

func TestIngestTracksHandlerValidation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty list", `{"files":[]}`, "files must be at least 1"},
		{"missing key", `{"files":[{"fileName":"x.mp3"}]}`, "files[0].s3Key is required"},
		{"not json", `{`, "invalid JSON body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/tracks/ingest", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, decode(t, rec)["error"], tt.want)
		})
	}
	assert.Nil(t, f.ingester.items)
}

func TestIngestTracksHandlerServerError(t *testing.T) {
	f := newFixture(t)
	f.ingester.err = errors.New("no track could be ingested")

	rec := f.do(http.MethodPost, "/api/tracks/ingest", `{"files":[{"fileName":"x.mp3","s3Key":"tracks/x.mp3"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRegisterTrackHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/tracks", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Untitled Track", decode(t, rec)["title"])

	rec = f.do(http.MethodPost, "/api/tracks", `{"trackId":"mine","title":"Demo"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "mine", body["id"])
	assert.Equal(t, "Demo", body["title"])
}

func TestGetTracksHandlerSignsPlayableTracks(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/tracks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tracks []model.Track `json:"tracks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Tracks, 2)

	byID := map[string]model.Track{}
	for _, tr := range body.Tracks {
		byID[tr.ID] = tr
	}
	assert.Equal(t, "https://get/mp3/t1.mp3", byID["t1"].PresignedURL)
	assert.Equal(t, "https://get/album_art/t1.png", byID["t1"].AlbumArtURL)
	assert.Empty(t, byID["t2"].PresignedURL)
	assert.Equal(t, "https://get/album_art/default_album_art.png", byID["t2"].AlbumArtURL)
}

func TestGetTrackHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/tracks/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t1", decode(t, rec)["id"])

	rec = f.do(http.MethodGet, "/api/tracks/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLookupTrackHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/tracks/lookup?fileName=a.mp3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"id": "t1", "fileName": "a.mp3"}, decode(t, rec))

	rec = f.do(http.MethodGet, "/api/tracks/lookup", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "fileName required")

	rec = f.do(http.MethodGet, "/api/tracks/lookup?fileName=zzz.mp3", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTrackHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPatch, "/api/tracks/t1", `{"title":" Renamed ","album":""}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "Track updated", body["message"])
	assert.Equal(t, map[string]any{"title": "Renamed"}, body["updatedAttributes"])
	assert.Equal(t, map[string]any{"title": "Renamed"}, f.tracks.updated["t1"])

	rec = f.do(http.MethodPatch, "/api/tracks/t1", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPatch, "/api/tracks/ghost", `{"artist":"X"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteTrackHandlerIsIdempotent(t *testing.T) {
	f := newFixture(t)

	for range 2 {
		rec := f.do(http.MethodDelete, "/api/tracks/t1", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Track deleted", decode(t, rec)["message"])
	}
	assert.Equal(t, []string{"t1", "t1"}, f.tracks.deleted)
	require.Len(t, f.events.events, 2)
	assert.Equal(t, events.TrackDeleted, f.events.events[0].Kind)
}

func TestGradeHandler(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"number", `{"trackId":"t1","grade":4}`, http.StatusOK},
		{"numeric string", `{"trackId":"t1","grade":"3"}`, http.StatusOK},
		{"zero", `{"trackId":"t1","grade":0}`, http.StatusOK},
		{"missing grade", `{"trackId":"t1"}`, http.StatusBadRequest},
		{"missing track id", `{"grade":4}`, http.StatusBadRequest},
		{"word", `{"trackId":"t1","grade":"good"}`, http.StatusBadRequest},
		{"out of range", `{"trackId":"t1","grade":6}`, http.StatusBadRequest},
		{"unknown track", `{"trackId":"missing","grade":4}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(http.MethodPost, "/api/learning/grade", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}

	rec := f.do(http.MethodPost, "/api/learning/grade", `{"trackId":"t1","grade":"5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "2026-01-02T00:00:00Z", body["nextReviewAt"])
	assert.Equal(t, 5, f.reviewer.grade)
}

func TestDueTracksHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/learning/due?limit=7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, f.reviewer.limit)
	body := decode(t, rec)
	assert.Equal(t, map[string]any{"pending": 1.0, "not_mp3": 0.0, "missing_key": 0.0}, body["skipped"])

	f.do(http.MethodGet, "/api/learning/due?limit=abc", "")
	assert.Equal(t, 40, f.reviewer.limit)
}

func TestEnrollHandler(t *testing.T) {
	f := newFixture(t)
	f.reviewer.enrolled = 3

	rec := f.do(http.MethodPost, "/api/learning/enroll", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.0, decode(t, rec)["enrolled"])
}

func TestPresignUploadHandler(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/audio/presign-upload", `{"files":[{"fileName":"a.flac","contentType":"audio/flac"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PresignedURLs []uploads.Slot `json:"presignedUrls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.PresignedURLs, 1)
	assert.Equal(t, "https://put/a.flac", body.PresignedURLs[0].PresignedURL)

	rec = f.do(http.MethodPost, "/api/audio/presign-upload", `{"files":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadAudioHandler(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("trackId", "t-up"))
	part, err := mw.CreateFormFile("file", "song.mp3")
	require.NoError(t, err)
	_, _ = part.Write([]byte("ID3 payload"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/audio/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "tracks/t-up.mp3", decode(t, rec)["s3Key"])
	assert.Equal(t, "ID3 payload", f.uploader.body)
	assert.Equal(t, "t-up", f.uploader.trackID)
	assert.Equal(t, "song.mp3", f.uploader.fileName)
}

func TestUploadAudioHandlerRequiresFile(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("trackId", "t-up"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/audio/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestS3EventHandler(t *testing.T) {
	f := newFixture(t)

	payload := `{"Records":[
		{"eventName":"s3:ObjectCreated:Put","s3":{"bucket":{"name":"waveloft"},"object":{"key":"flac/My+Song.flac","size":10}}},
		{"eventName":"s3:ObjectRemoved:Delete","s3":{"bucket":{"name":"waveloft"},"object":{"key":"flac/old.flac"}}}
	]}`
	rec := f.do(http.MethodPost, "/api/events/s3", payload)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, f.dispatcher.records, 1)
	assert.Equal(t, "flac/My Song.flac", f.dispatcher.records[0].Key)
	assert.Equal(t, 1.0, decode(t, rec)["handled"])

	rec = f.do(http.MethodPost, "/api/events/s3", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEventsWebSocketHandler(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/events?kinds=track.playable"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	f.feed <- events.Event{Kind: events.TrackGraded, TrackID: "t1"}
	f.feed <- events.Event{Kind: events.TrackPlayable, TrackID: "t2", Key: "mp3/t2.mp3"}

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.TrackPlayable, got.Kind)
	assert.Equal(t, "t2", got.TrackID)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodOptions, "/api/learning/grade", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
