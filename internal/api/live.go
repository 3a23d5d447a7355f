package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/courier/internal/dashboard"
	"github.com/lalithlochan/courier/internal/notification"
	"github.com/lalithlochan/courier/internal/push"
	"github.com/lalithlochan/courier/internal/realtime"
)

// Client frame types.
const (
	ClientPermission   = "permission"
	ClientClick        = "click"
	ClientMarkRead     = "mark_read"
	ClientMarkManyRead = "mark_many_read"
	ClientMarkAllRead  = "mark_all_read"
	ClientArchive      = "archive"
	ClientDelete       = "delete"
	ClientDeleteMany   = "delete_many"
	ClientFilter       = "filter"
	ClientSearch       = "search"
	ClientSort         = "sort"
	ClientClearError   = "clear_error"
	ClientPing         = "ping"
)

// ClientFrame is one client-to-server websocket message.
type ClientFrame struct {
	Type       string              `json:"type"`
	Permission string              `json:"permission,omitempty"`
	ID         string              `json:"id,omitempty"`
	IDs        []string            `json:"ids,omitempty"`
	Filter     notification.Filter `json:"filter,omitempty"`
	Term       string              `json:"term,omitempty"`
	Sort       string              `json:"sort,omitempty"`
}

const readWait = 60 * time.Second

// Live handles GET /v1/suppliers/{supplierID}/live. The connection receives
// a snapshot frame per change, display frames for newly arrived
// notifications and a state frame after every dashboard command.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	if h.live == nil || h.hub == nil {
		h.writeError(w, http.StatusNotImplemented, "not_configured", "Live updates are not configured", "")
		return
	}

	id := supplierID(r)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("supplier_id", id), zap.Error(err))
		return
	}

	conn := h.hub.Add(id, ws)
	defer h.hub.Remove(conn)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()

	session := dashboard.NewSession(h.store, id, h.logger)
	defer session.Close()
	if err := session.Load(ctx); err != nil {
		_ = conn.WriteFrame(push.Frame{Type: push.FrameError, Error: err.Error()})
	}

	sub, err := h.live.Subscribe(ctx, id, func(snap realtime.Snapshot) {
		session.Apply(snap)
		if err := conn.WriteFrame(push.Frame{Type: push.FrameSnapshot, Snapshot: &snap}); err != nil {
			cancel()
			return
		}
		if h.bridge != nil {
			h.bridge.Handle(ctx, id, snap)
		}
	}, realtime.OnError(func(err error) {
		_ = conn.WriteFrame(push.Frame{Type: push.FrameError, Error: err.Error()})
	}))
	if err != nil {
		h.logger.Error("live subscription failed", zap.String("supplier_id", id), zap.Error(err))
		_ = conn.WriteFrame(push.Frame{Type: push.FrameError, Error: err.Error()})
		return
	}
	defer sub.Unsubscribe()

	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		conn.Touch()
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		var f ClientFrame
		if err := ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("dashboard read failed", zap.String("supplier_id", id), zap.Error(err))
			}
			return
		}
		conn.Touch()
		_ = ws.SetReadDeadline(time.Now().Add(readWait))

		if ctx.Err() != nil {
			return
		}
		h.handleClientFrame(ctx, conn, session, f)
	}
}

func (h *Handler) handleClientFrame(ctx context.Context, conn *push.Conn, session *dashboard.Session, f ClientFrame) {
	id := conn.SupplierID()

	var err error
	switch f.Type {
	case ClientPing:
		return
	case ClientPermission:
		conn.SetPermission(push.ParsePermission(f.Permission))
		return
	case ClientClick:
		if h.bridge == nil {
			return
		}
		target, err := h.bridge.HandleClick(ctx, id, f.ID)
		if err != nil {
			_ = conn.WriteFrame(push.Frame{Type: push.FrameError, Error: err.Error()})
			return
		}
		_ = conn.WriteFrame(push.Frame{Type: push.FrameNavigate, Target: target})
		return
	case ClientMarkRead:
		err = session.MarkRead(ctx, f.ID)
	case ClientMarkManyRead:
		err = session.MarkManyRead(ctx, f.IDs)
	case ClientMarkAllRead:
		err = session.MarkAllRead(ctx)
	case ClientArchive:
		err = session.Archive(ctx, f.ID)
	case ClientDelete:
		err = session.Delete(ctx, f.ID)
	case ClientDeleteMany:
		err = session.DeleteMany(ctx, f.IDs)
	case ClientFilter:
		session.SetFilter(f.Filter)
	case ClientSearch:
		session.SetSearch(f.Term)
	case ClientSort:
		session.SetSort(notification.ParseSortKey(f.Sort))
	case ClientClearError:
		session.ClearError()
	default:
		_ = conn.WriteFrame(push.Frame{Type: push.FrameError, Error: "unknown frame type " + f.Type})
		return
	}

	if err != nil {
		h.logger.Debug("dashboard command failed",
			zap.String("supplier_id", id),
			zap.String("command", f.Type),
			zap.Error(err),
		)
	}
	view := session.View()
	_ = conn.WriteFrame(push.Frame{Type: push.FrameState, View: &view})
}
