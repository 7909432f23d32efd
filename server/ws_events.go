package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"waveloft/core/events"
	"waveloft/logger"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// EventsWebSocketHandler 将目录变更事件推送给 WebSocket 客户端。
// 可选 ?kinds=track.playable,track.graded 过滤。
func (h *APIHandler) EventsWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	kinds := parseKinds(r.URL.Query().Get("kinds"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	feed, err := h.Feed.Subscribe(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", logger.ErrorField(err))
		return
	}
	defer conn.Close()

	// 读协程只负责心跳与断开检测
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
			return
		case ev, ok := <-feed:
			if !ok {
				return
			}
			if len(kinds) > 0 && !kinds[ev.Kind] {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				logger.Debug("websocket write failed", logger.ErrorField(err))
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func parseKinds(raw string) map[events.Kind]bool {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	kinds := make(map[events.Kind]bool)
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[events.Kind(k)] = true
		}
	}
	return kinds
}
