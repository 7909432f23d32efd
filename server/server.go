package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"waveloft/logger"

	"github.com/gorilla/mux"
)

// NewRouter 注册所有路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	// 曲目
	router.HandleFunc("/api/tracks/ingest", h.IngestTracksHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/tracks/lookup", h.LookupTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", h.GetTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks", h.RegisterTrackHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/tracks/{id}", h.GetTrackHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id}", h.UpdateTrackHandler).Methods(http.MethodPatch, http.MethodOptions)
	router.HandleFunc("/api/tracks/{id}", h.DeleteTrackHandler).Methods(http.MethodDelete)

	// 上传
	router.HandleFunc("/api/audio/presign-upload", h.PresignUploadHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/audio/upload", h.UploadAudioHandler).Methods(http.MethodPost, http.MethodOptions)

	// 复习
	router.HandleFunc("/api/learning/grade", h.GradeHandler).Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/api/learning/due", h.DueTracksHandler).Methods(http.MethodGet)
	router.HandleFunc("/api/learning/enroll", h.EnrollHandler).Methods(http.MethodPost, http.MethodOptions)

	// 事件
	router.HandleFunc("/api/events/s3", h.S3EventHandler).Methods(http.MethodPost)
	if h.Feed != nil {
		router.HandleFunc("/ws/events", h.EventsWebSocketHandler).Methods(http.MethodGet)
	}

	return router
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully.
func Run(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP 服务启动", logger.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("正在关闭 HTTP 服务...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("HTTP 服务已停止")
	return nil
}
