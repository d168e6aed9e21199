package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	EventDownloadStarted  = "download_started"
	EventDownloadComplete = "download_complete"
	EventUploadComplete   = "upload_complete"
	EventReportStarted    = "report_started"
	EventReportCompleted  = "report_completed"
	EventReportFailed     = "report_failed"
	EventViewerUpdate     = "viewer_update"
)

// Event is one dashboard update.
type Event struct {
	Type    string `json:"type"`
	FileID  string `json:"file_id,omitempty"`
	JobID   string `json:"job_id,omitempty"`
	Rows    int    `json:"rows,omitempty"`
	Bytes   int64  `json:"bytes,omitempty"`
	Viewers int    `json:"viewers,omitempty"`
}

// Hub fans events out to connected dashboard websockets.
type Hub struct {
	mu         sync.Mutex
	dashboards map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{dashboards: make(map[*websocket.Conn]bool)}
}

func (h *Hub) Register(conn *websocket.Conn) {
	h.mu.Lock()
	h.dashboards[conn] = true
	count := len(h.dashboards)
	h.mu.Unlock()

	slog.Info("Dashboard connected", "total_connections", count)
	h.Broadcast(Event{Type: EventViewerUpdate, Viewers: count})
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.dashboards[conn]; ok {
		delete(h.dashboards, conn)
		conn.Close()
	}
	count := len(h.dashboards)
	h.mu.Unlock()

	slog.Info("Dashboard disconnected", "total_connections", count)
	h.Broadcast(Event{Type: EventViewerUpdate, Viewers: count})
}

func (h *Hub) Broadcast(event Event) {
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	payload, _ := json.Marshal(event)
	for conn := range h.dashboards {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Error("Dashboard broadcast failed", "error", err)
			conn.Close()
			delete(h.dashboards, conn)
		}
	}
}
