package server

import (
	"context"
	"io"
	"net/http"
	"time"

	"waveloft/config"
	"waveloft/core/events"
	"waveloft/core/ingest"
	"waveloft/core/review"
	"waveloft/core/uploads"
	"waveloft/model"

	"github.com/gorilla/websocket"
)

// TrackStore 曲目读写
type TrackStore interface {
	GetByID(ctx context.Context, id string) (*model.Track, error)
	FindByFileName(ctx context.Context, fileName string) (*model.Track, error)
	List(ctx context.Context) ([]*model.Track, error)
	UpdateFields(ctx context.Context, id string, fields map[string]any) error
	Delete(ctx context.Context, id string) error
}

// Ingester 入库
type Ingester interface {
	Ingest(ctx context.Context, items []ingest.Item) (ingest.Result, error)
	Register(ctx context.Context, trackID, title string) (*model.Track, error)
}

// Reviewer 复习调度
type Reviewer interface {
	Grade(ctx context.Context, trackID string, grade int) (review.GradeResult, error)
	Due(ctx context.Context, limit int) (review.DueResult, error)
	Enroll(ctx context.Context) (int64, error)
}

// Uploader 上传
type Uploader interface {
	Presign(ctx context.Context, files []uploads.FileRequest) ([]uploads.Slot, error)
	Upload(ctx context.Context, trackID, fileName, contentType string, r io.Reader, size int64) (uploads.Uploaded, error)
}

// Presigner 生成下载链接
type Presigner interface {
	PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Dispatcher 分发对象存储事件
type Dispatcher interface {
	Dispatch(ctx context.Context, records []events.ObjectCreated) events.Report
}

// EventSource 订阅目录变更事件
type EventSource interface {
	Subscribe(ctx context.Context) (<-chan events.Event, error)
}

// Deps 处理器依赖
type Deps struct {
	Tracks     TrackStore
	Ingester   Ingester
	Reviewer   Reviewer
	Uploader   Uploader
	Presigner  Presigner
	Dispatcher Dispatcher
	Events     events.Publisher
	Feed       EventSource
}

// APIHandler 处理所有API请求
type APIHandler struct {
	Deps
	cfg      *config.Config
	upgrader websocket.Upgrader
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Deps, cfg *config.Config) *APIHandler {
	if deps.Events == nil {
		deps.Events = events.Nop{}
	}
	return &APIHandler{
		Deps: deps,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}
