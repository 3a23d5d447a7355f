package push

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/dashboard"
	"github.com/lalithlochan/courier/internal/realtime"
)

// Frame types sent to dashboard clients.
const (
	FrameSnapshot = "snapshot"
	FrameDisplay  = "display"
	FrameNavigate = "navigate"
	FrameState    = "state"
	FrameError    = "error"
)

// Frame is one server-to-client websocket message.
type Frame struct {
	Type     string             `json:"type"`
	Snapshot *realtime.Snapshot `json:"snapshot,omitempty"`
	Display  *Display           `json:"display,omitempty"`
	Target   string             `json:"target,omitempty"`
	View     *dashboard.View    `json:"view,omitempty"`
	Error    string             `json:"error,omitempty"`
}

const writeWait = 5 * time.Second

// Conn is one dashboard websocket. Writes are serialized.
type Conn struct {
	ws         *websocket.Conn
	supplierID string

	writeMu sync.Mutex

	mu         sync.Mutex
	permission Permission
	lastSeen   time.Time
}

// SupplierID is the owner of the connection.
func (c *Conn) SupplierID() string { return c.supplierID }

// WriteFrame sends f to this connection only.
func (c *Conn) WriteFrame(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(f)
}

// SetPermission records the browser permission reported by the client.
func (c *Conn) SetPermission(p Permission) {
	c.mu.Lock()
	c.permission = p
	c.mu.Unlock()
}

// Touch marks the connection alive.
func (c *Conn) Touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Conn) state() (Permission, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.permission, c.lastSeen
}

// Hub tracks dashboard websockets per supplier and implements
// PlatformNotifier over them.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]map[*Conn]struct{}
	logger *zap.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{conns: make(map[string]map[*Conn]struct{}), logger: logger}
}

// Add registers ws for supplierID.
func (h *Hub) Add(supplierID string, ws *websocket.Conn) *Conn {
	c := &Conn{ws: ws, supplierID: supplierID, permission: PermissionDefault, lastSeen: time.Now()}

	h.mu.Lock()
	set, ok := h.conns[supplierID]
	if !ok {
		set = make(map[*Conn]struct{})
		h.conns[supplierID] = set
	}
	set[c] = struct{}{}
	total := len(set)
	h.mu.Unlock()

	h.logger.Debug("dashboard connected", zap.String("supplier_id", supplierID), zap.Int("connections", total))
	return c
}

// Remove unregisters and closes c. Safe to call more than once.
func (h *Hub) Remove(c *Conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.supplierID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.supplierID)
		}
	}
	h.mu.Unlock()

	_ = c.ws.Close()
	h.logger.Debug("dashboard disconnected", zap.String("supplier_id", c.supplierID))
}

// Connections returns how many dashboards supplierID has open.
func (h *Hub) Connections(supplierID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[supplierID])
}

func (h *Hub) snapshot(supplierID string) []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Conn, 0, len(h.conns[supplierID]))
	for c := range h.conns[supplierID] {
		out = append(out, c)
	}
	return out
}

// Send writes f to every connection of supplierID that passes keep (all
// when keep is nil) and returns how many received it. Failed connections
// are dropped.
func (h *Hub) Send(supplierID string, f Frame, keep func(*Conn) bool) int {
	sent := 0
	for _, c := range h.snapshot(supplierID) {
		if keep != nil && !keep(c) {
			continue
		}
		if err := c.WriteFrame(f); err != nil {
			h.logger.Warn("dashboard write failed", zap.String("supplier_id", supplierID), zap.Error(err))
			h.Remove(c)
			continue
		}
		sent++
	}
	return sent
}

// Permission is granted when any open dashboard granted it.
func (h *Hub) Permission(_ context.Context, supplierID string) Permission {
	conns := h.snapshot(supplierID)
	if len(conns) == 0 {
		return PermissionDenied
	}
	result := PermissionDenied
	for _, c := range conns {
		switch p, _ := c.state(); p {
		case PermissionGranted:
			return PermissionGranted
		case PermissionDefault:
			result = PermissionDefault
		}
	}
	return result
}

// Show sends a display frame to every dashboard that granted permission.
func (h *Hub) Show(_ context.Context, supplierID string, d Display) error {
	granted := func(c *Conn) bool {
		p, _ := c.state()
		return p == PermissionGranted
	}
	if h.Send(supplierID, Frame{Type: FrameDisplay, Display: &d}, granted) == 0 {
		return ErrNoAudience
	}
	return nil
}

// Heartbeat pings every connection each interval and drops the ones that
// have not answered for two intervals. It returns when ctx is done.
func (h *Hub) Heartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.mu.RLock()
			var all []*Conn
			for _, set := range h.conns {
				for c := range set {
					all = append(all, c)
				}
			}
			h.mu.RUnlock()

			for _, c := range all {
				if _, seen := c.state(); time.Since(seen) > 2*interval {
					h.Remove(c)
					continue
				}
				c.writeMu.Lock()
				err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
				c.writeMu.Unlock()
				if err != nil {
					h.Remove(c)
				}
			}
		}
	}
}
