package server

import (
	"net/http"

	"waveloft/core/apperr"
	"waveloft/core/uploads"
)

const (
	maxUploadBytes  = 1 << 30
	maxUploadMemory = 32 << 20
)

// PresignUploadRequest 申请上传链接
type PresignUploadRequest struct {
	Files []uploads.FileRequest `json:"files" validate:"required,min=1"`
}

// PresignUploadHandler 为每个文件生成预签名上传链接
func (h *APIHandler) PresignUploadHandler(w http.ResponseWriter, r *http.Request) {
	var req PresignUploadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	slots, err := h.Uploader.Presign(r.Context(), req.Files)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presignedUrls": slots})
}

// UploadAudioHandler 直接上传音频（multipart: file, trackId）
func (h *APIHandler) UploadAudioHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, r, apperr.Validation("invalid multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, apperr.Validation("file is required"))
		return
	}
	defer file.Close()

	up, err := h.Uploader.Upload(r.Context(), r.FormValue("trackId"), header.Filename, header.Header.Get("Content-Type"), file, header.Size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, up)
}
