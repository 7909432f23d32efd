package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"waveloft/core/apperr"
	"waveloft/core/events"
	"waveloft/core/ingest"
	"waveloft/core/review"
	"waveloft/logger"
	"waveloft/model"

	"github.com/gorilla/mux"
)

// IngestRequest 批量入库请求
type IngestRequest struct {
	Files []IngestFile `json:"files" validate:"required,min=1,dive"`
}

// IngestFile 单个待入库文件
type IngestFile struct {
	TrackID  string `json:"trackId,omitempty" validate:"omitempty,max=64"`
	FileName string `json:"fileName" validate:"required"`
	S3Key    string `json:"s3Key" validate:"required"`
}

// IngestResponse 入库响应
type IngestResponse struct {
	Message  string           `json:"message"`
	Tracks   []*model.Track   `json:"tracks"`
	Failures []ingest.Failure `json:"failures"`
}

// IngestTracksHandler 从已上传对象创建曲目
func (h *APIHandler) IngestTracksHandler(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	items := make([]ingest.Item, len(req.Files))
	for i, f := range req.Files {
		items[i] = ingest.Item{TrackID: f.TrackID, FileName: f.FileName, S3Key: f.S3Key}
	}

	res, err := h.Ingester.Ingest(r.Context(), items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if res.Failures == nil {
		res.Failures = []ingest.Failure{}
	}
	writeJSON(w, http.StatusOK, IngestResponse{
		Message:  "Tracks created successfully",
		Tracks:   res.Tracks,
		Failures: res.Failures,
	})
}

// RegisterTrackRequest 预注册曲目
type RegisterTrackRequest struct {
	TrackID string `json:"trackId,omitempty" validate:"omitempty,max=64"`
	Title   string `json:"title,omitempty" validate:"omitempty,max=512"`
}

// RegisterTrackHandler 预注册曲目，音频稍后上传
func (h *APIHandler) RegisterTrackHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterTrackRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, r, err)
			return
		}
	}
	track, err := h.Ingester.Register(r.Context(), req.TrackID, req.Title)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, track)
}

// GetTracksHandler 获取全部曲目（附带预签名链接）
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	tracks, err := h.Tracks.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	for _, t := range tracks {
		h.sign(r.Context(), t)
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

// GetTrackHandler 获取单个曲目
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.Tracks.GetByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	h.sign(r.Context(), track)
	writeJSON(w, http.StatusOK, track)
}

// LookupTrackHandler 按文件名查找曲目
func (h *APIHandler) LookupTrackHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("fileName")
	if strings.TrimSpace(name) == "" {
		writeError(w, r, apperr.Validation("fileName required"))
		return
	}
	track, err := h.Tracks.FindByFileName(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": track.ID, "fileName": track.FileName})
}

// UpdateTrackRequest 可修改的字段
type UpdateTrackRequest struct {
	Title  *string `json:"title" validate:"omitempty,max=512"`
	Artist *string `json:"artist" validate:"omitempty,max=512"`
	Album  *string `json:"album" validate:"omitempty,max=512"`
}

func (u UpdateTrackRequest) fields() map[string]any {
	fields := make(map[string]any)
	for col, v := range map[string]*string{"title": u.Title, "artist": u.Artist, "album": u.Album} {
		if v != nil && strings.TrimSpace(*v) != "" {
			fields[col] = strings.TrimSpace(*v)
		}
	}
	return fields
}

// UpdateTrackHandler 修改曲目信息
func (h *APIHandler) UpdateTrackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req UpdateTrackRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	fields := req.fields()
	if len(fields) == 0 {
		writeError(w, r, apperr.Validation("one of title, artist or album is required"))
		return
	}
	if err := h.Tracks.UpdateFields(r.Context(), id, fields); err != nil {
		writeError(w, r, err)
		return
	}
	logger.Info("track updated", logger.String("trackId", id), logger.Int("fields", len(fields)))
	writeJSON(w, http.StatusOK, map[string]any{"message": "Track updated", "updatedAttributes": fields})
}

// DeleteTrackHandler 删除曲目；重复删除同样返回成功
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.Tracks.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Events.Publish(r.Context(), events.Event{Kind: events.TrackDeleted, TrackID: id, At: time.Now().UTC()}); err != nil {
		logger.Warn("event publish failed", logger.ErrorField(err))
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Track deleted"})
}

// sign 为曲目附加音频和封面的预签名链接。待上传的曲目没有音频链接。
func (h *APIHandler) sign(ctx context.Context, t *model.Track) {
	switch review.ClassifyAudioKey(t.AudioS3Key) {
	case review.Pending, review.MissingKey:
	default:
		if u, err := h.Presigner.PresignGet(ctx, t.AudioS3Key, h.cfg.PresignExpiry); err == nil {
			t.PresignedURL = u
		} else {
			logger.Warn("presign audio failed", logger.String("key", t.AudioS3Key), logger.ErrorField(err))
		}
	}

	artKey := t.AlbumArtS3Key
	if artKey == "" {
		artKey = h.cfg.Keys.DefaultAlbumArt
	}
	if u, err := h.Presigner.PresignGet(ctx, artKey, h.cfg.PresignExpiry); err == nil {
		t.AlbumArtURL = u
	} else {
		logger.Warn("presign album art failed", logger.String("key", artKey), logger.ErrorField(err))
	}
}
