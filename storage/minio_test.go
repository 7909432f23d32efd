package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"waveloft/config"
	"waveloft/core/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, endpoint string) *MinioStore {
	t.Helper()
	cfg := config.FromEnv()
	cfg.MinioEndpoint = endpoint
	cfg.MinioAccessKey = "minioadmin"
	cfg.MinioSecretKey = "minioadmin"
	cfg.MinioBucket = "waveloft"
	cfg.MinioRegion = "us-east-1"
	cfg.MinioUseSSL = false

	store, err := NewMinioStore(cfg)
	require.NoError(t, err)
	store.backoff = time.Millisecond
	return store
}

func TestObjectInfoMeta(t *testing.T) {
	info := ObjectInfo{UserMetadata: map[string]string{
		"X-Amz-Meta-Trackid": "t1",
		"Content-Type":       "audio/flac",
	}}
	assert.Equal(t, "t1", info.Meta("trackid"))
	assert.Equal(t, "t1", info.Meta("TrackId"))
	assert.Equal(t, "", info.Meta("owner"))

	plain := ObjectInfo{UserMetadata: map[string]string{"Trackid": "t2"}}
	assert.Equal(t, "t2", plain.Meta("trackid"))
}

func TestPresignGetIsOffline(t *testing.T) {
	store := newTestStore(t, "127.0.0.1:1")

	raw, err := store.PresignGet(context.Background(), "mp3/abc.mp3", time.Hour)
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "/waveloft/mp3/abc.mp3", u.Path)
	assert.Equal(t, "3600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestPresignPut(t *testing.T) {
	store := newTestStore(t, "127.0.0.1:1")

	raw, err := store.PresignPut(context.Background(), "flac/t1.flac", 2*time.Hour, map[string]string{"x-amz-meta-trackid": "t1"})
	require.NoError(t, err)
	assert.Contains(t, raw, "X-Amz-Expires=7200")
	assert.True(t, strings.Contains(raw, "/waveloft/flac/t1.flac"))

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(u.Query().Get("X-Amz-SignedHeaders")), "x-amz-meta-trackid")
}

func TestStatMissingObjectIsNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	store := newTestStore(t, strings.TrimPrefix(srv.URL, "http://"))

	_, err := store.Stat(context.Background(), "flac/missing.flac")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStatReadsUserMetadata(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "audio/flac")
		w.Header().Set("Content-Length", "2048")
		w.Header().Set("ETag", `"abc"`)
		w.Header().Set("Last-Modified", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).Format(http.TimeFormat))
		w.Header().Set("X-Amz-Meta-Trackid", "t1")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newTestStore(t, strings.TrimPrefix(srv.URL, "http://"))

	info, err := store.Stat(context.Background(), "flac/abc.flac")
	require.NoError(t, err)
	assert.Equal(t, int64(2048), info.Size)
	assert.Equal(t, "audio/flac", info.ContentType)
	assert.Equal(t, "t1", info.Meta("trackid"))
}
