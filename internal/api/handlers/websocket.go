package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/atlasmesh/tileserve/internal/logger"
	"github.com/atlasmesh/tileserve/internal/metrics"
	"github.com/atlasmesh/tileserve/internal/pregen"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// How often progress snapshots are pushed to the peer
	progressInterval = time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS middleware handles origin policy
		return true
	},
}

// ProgressMessage is a frame on the pregeneration progress stream.
type ProgressMessage struct {
	Type    string           `json:"type"` // "progress", "done", "error"
	RunID   string           `json:"run_id"`
	Payload *pregen.Snapshot `json:"payload,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// ProgressStreamHandler streams live run progress over a WebSocket.
type ProgressStreamHandler struct {
	mgr *pregen.Manager
}

func NewProgressStreamHandler(mgr *pregen.Manager) *ProgressStreamHandler {
	return &ProgressStreamHandler{mgr: mgr}
}

// Stream upgrades the connection and pushes progress snapshots for one run
// until it finishes or the peer goes away.
// GET /api/admin/pregen/{id}/progress
func (h *ProgressStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	run, err := h.mgr.Get(id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	metrics.WebSocketConnections.Inc()
	logger.Info("Progress stream client connected", "run_id", id)

	go h.readLoop(conn)
	h.writeLoop(conn, run)
}

// readLoop drains the connection so pong frames are processed. Anything the
// peer sends is discarded.
func (h *ProgressStreamHandler) readLoop(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *ProgressStreamHandler) writeLoop(conn *websocket.Conn, run *pregen.Run) {
	progress := time.NewTicker(progressInterval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		progress.Stop()
		ping.Stop()
		_ = conn.Close()
		metrics.WebSocketConnections.Dec()
		logger.Info("Progress stream client disconnected", "run_id", run.ID)
	}()

	// Push an immediate snapshot so clients do not wait a full tick.
	if err := h.sendSnapshot(conn, run); err != nil {
		return
	}

	for {
		select {
		case <-run.Done():
			_ = h.sendFinal(conn, run)
			return

		case <-progress.C:
			if err := h.sendSnapshot(conn, run); err != nil {
				return
			}

		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *ProgressStreamHandler) sendSnapshot(conn *websocket.Conn, run *pregen.Run) error {
	snap := run.Progress.Snapshot()
	return h.write(conn, ProgressMessage{
		Type:    "progress",
		RunID:   run.ID,
		Payload: &snap,
	})
}

// sendFinal emits a terminal frame and a normal close so well-behaved
// clients can tell completion apart from a dropped connection.
func (h *ProgressStreamHandler) sendFinal(conn *websocket.Conn, run *pregen.Run) error {
	snap := run.Progress.Snapshot()
	msg := ProgressMessage{
		Type:    "done",
		RunID:   run.ID,
		Payload: &snap,
	}
	if err := run.Err(); err != nil && !errors.Is(err, context.Canceled) {
		msg.Type = "error"
		msg.Error = err.Error()
	}
	if err := h.write(conn, msg); err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *ProgressStreamHandler) write(conn *websocket.Conn, msg ProgressMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}
