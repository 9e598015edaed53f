package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// streamEvent is pushed to a device's websocket when work arrives.
type streamEvent struct {
	Event string `json:"event"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Device agents connect from apps, not browsers; origin carries no signal.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// streamHub tracks one websocket per device for wake-up nudges.
// Delivery semantics stay with polling; a lost nudge only delays
// pickup until the next poll.
type streamHub struct {
	logger *slog.Logger
	mu     sync.Mutex
	conns  map[string]*websocket.Conn
}

func newStreamHub(logger *slog.Logger) *streamHub {
	return &streamHub{
		logger: logger,
		conns:  make(map[string]*websocket.Conn),
	}
}

// handleStream implements GET /api/v1/devices/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request, device *store.Device) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "device_id", device.DeviceID, "error", err)
		return
	}
	s.hub.attach(device.DeviceID, conn)
	s.logger.Info("device stream opened", "device_id", device.DeviceID)

	// Drain the read side to notice disconnects; devices never send
	// payloads over the stream.
	go func() {
		defer s.hub.detach(device.DeviceID, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// attach registers a device connection, replacing any previous one.
func (h *streamHub) attach(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	old := h.conns[deviceID]
	h.conns[deviceID] = conn
	h.mu.Unlock()
	if old != nil {
		old.Close()
	}
}

// detach removes the connection if it is still the current one.
func (h *streamHub) detach(deviceID string, conn *websocket.Conn) {
	h.mu.Lock()
	if h.conns[deviceID] == conn {
		delete(h.conns, deviceID)
	}
	h.mu.Unlock()
	conn.Close()
}

// nudge sends a command_pending event to the device, if connected.
// The hub lock doubles as the write lock; gorilla connections do not
// allow concurrent writers.
func (h *streamHub) nudge(deviceID string) {
	h.mu.Lock()
	conn := h.conns[deviceID]
	if conn == nil {
		h.mu.Unlock()
		return
	}
	conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	err := conn.WriteJSON(streamEvent{Event: "command_pending"})
	if err != nil && h.conns[deviceID] == conn {
		delete(h.conns, deviceID)
	}
	h.mu.Unlock()
	if err != nil {
		h.logger.Debug("nudge failed, dropping stream", "device_id", deviceID, "error", err)
		conn.Close()
	}
}

// closeAll closes every device stream during shutdown.
func (h *streamHub) closeAll() {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*websocket.Conn)
	h.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}
