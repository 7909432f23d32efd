// Package inbox watches a local directory and feeds dropped audio files
// into the bucket and the catalog.
package inbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"waveloft/core/ingest"
	"waveloft/core/uploads"
	"waveloft/logger"
	"waveloft/model"

	"github.com/fsnotify/fsnotify"
)

const (
	doneDir   = ".done"
	failedDir = ".failed"
)

// Uploader puts a local file into the bucket.
type Uploader interface {
	Upload(ctx context.Context, trackID, fileName, contentType string, r io.Reader, size int64) (uploads.Uploaded, error)
	IsLossless(key string) bool
}

// Ingester catalogs uploaded objects.
type Ingester interface {
	Ingest(ctx context.Context, items []ingest.Item) (ingest.Result, error)
	Register(ctx context.Context, trackID, title string) (*model.Track, error)
}

// Watcher uploads every audio file that appears in dir and catalogs it.
// The placeholder record is written before the upload, so the transcoder
// always finds a row to point at the MP3. Handled files move to dir/.done,
// failures to dir/.failed.
type Watcher struct {
	dir      string
	uploader Uploader
	ingester Ingester
	settle   time.Duration
	tick     time.Duration
}

// NewWatcher creates a Watcher on dir.
func NewWatcher(dir string, uploader Uploader, ingester Ingester) *Watcher {
	return &Watcher{
		dir:      dir,
		uploader: uploader,
		ingester: ingester,
		settle:   500 * time.Millisecond,
		tick:     100 * time.Millisecond,
	}
}

// Run watches until ctx is cancelled. Files already present are handled
// first.
func (w *Watcher) Run(ctx context.Context) error {
	for _, sub := range []string{w.dir, filepath.Join(w.dir, doneDir), filepath.Join(w.dir, failedDir)} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return fmt.Errorf("创建收件目录失败: %w", err)
		}
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}
	logger.Info("inbox watching", logger.String("dir", w.dir))

	// 最近一次写入时间；静默 settle 之后才认为文件写完
	pending := make(map[string]time.Time)
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("读取收件目录失败: %w", err)
	}
	for _, e := range entries {
		if w.wanted(e.Name()) && e.Type().IsRegular() {
			pending[filepath.Join(w.dir, e.Name())] = time.Time{}
		}
	}

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 && w.wanted(filepath.Base(ev.Name)) {
				pending[ev.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for path, last := range pending {
				if now.Sub(last) < w.settle {
					continue
				}
				delete(pending, path)
				w.handle(ctx, path)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("文件监听错误", logger.ErrorField(err))
		}
	}
}

// wanted filters out hidden and non-audio names.
func (w *Watcher) wanted(name string) bool {
	return !strings.HasPrefix(name, ".") && uploads.ContentTypeFor(name) != ""
}

func (w *Watcher) handle(ctx context.Context, path string) {
	name := filepath.Base(path)
	err := w.process(ctx, path)
	target := doneDir
	if err != nil {
		target = failedDir
		logger.Error("inbox file failed", logger.String("file", name), logger.ErrorField(err))
	}
	if err := os.Rename(path, filepath.Join(w.dir, target, name)); err != nil && !os.IsNotExist(err) {
		logger.Warn("inbox file could not be moved", logger.String("file", name), logger.ErrorField(err))
	}
}

func (w *Watcher) process(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", path)
	}

	name := filepath.Base(path)
	placeholder, err := w.ingester.Register(ctx, "", strings.TrimSuffix(name, filepath.Ext(name)))
	if err != nil {
		return fmt.Errorf("register %s: %w", name, err)
	}

	up, err := w.uploader.Upload(ctx, placeholder.ID, name, uploads.ContentTypeFor(name), f, info.Size())
	if err != nil {
		logger.Warn("upload failed, placeholder left pending", logger.String("trackId", placeholder.ID), logger.String("file", name))
		return err
	}

	// 无损文件同样入库；转码完成后音频键由转码器改为 mp3
	res, err := w.ingester.Ingest(ctx, []ingest.Item{{TrackID: up.TrackID, FileName: name, S3Key: up.S3Key}})
	if err != nil {
		return err
	}
	logger.Info("inbox file ingested",
		logger.String("file", name),
		logger.String("trackId", up.TrackID),
		logger.String("key", up.S3Key),
		logger.Bool("lossless", w.uploader.IsLossless(up.S3Key)),
		logger.Int("tracks", len(res.Tracks)))
	return nil
}
