package server

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"waveloft/core/review"
)

// Grade accepts 4 as well as "4".
type Grade int

func (g *Grade) UnmarshalJSON(b []byte) error {
	raw := string(bytes.TrimSpace(b))
	if unq, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unq)
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("grade must be an integer, got %s", b)
	}
	*g = Grade(n)
	return nil
}

// GradeRequest 评分请求
type GradeRequest struct {
	TrackID string `json:"trackId" validate:"required"`
	Grade   *Grade `json:"grade" validate:"required"`
}

// GradeHandler 记录一次复习结果
func (h *APIHandler) GradeHandler(w http.ResponseWriter, r *http.Request) {
	var req GradeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Reviewer.Grade(r.Context(), req.TrackID, int(*req.Grade))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// DueTracksHandler 获取到期待复习的曲目
func (h *APIHandler) DueTracksHandler(w http.ResponseWriter, r *http.Request) {
	limit := review.ParseLimit(r.URL.Query().Get("limit"), h.cfg.DueDefaultLimit)
	res, err := h.Reviewer.Due(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// EnrollHandler 为缺少学习字段的曲目补齐默认值
func (h *APIHandler) EnrollHandler(w http.ResponseWriter, r *http.Request) {
	n, err := h.Reviewer.Enroll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "enrolled": n})
}
