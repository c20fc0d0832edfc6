package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/inkwell-app/inkwell/internal/connectivity"
	"github.com/inkwell-app/inkwell/internal/datalayer"
	"github.com/inkwell-app/inkwell/internal/engine"
)

// Handler bridges the data layer's events onto the dashboard server: it
// subscribes to conflict events and connectivity transitions, and polls sync
// status and store statistics on an interval.
type Handler struct {
	server *Server
	layer  *datalayer.DataLayer
	logger *log.Logger

	unsubscribe func()
}

// NewHandler creates a handler connected to a dashboard server.
func NewHandler(server *Server, layer *datalayer.DataLayer, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		server: server,
		layer:  layer,
		logger: logger,
	}
}

// Attach wires the handler to its event sources. The engine callback
// registration is permanent; the connectivity subscription is released by
// Detach.
func (h *Handler) Attach(eng *engine.Engine, monitor *connectivity.Monitor) {
	eng.OnConflict(h.onConflict)
	h.unsubscribe = monitor.Subscribe(h.onConnectivity)
}

// Detach releases the connectivity subscription.
func (h *Handler) Detach() {
	if h.unsubscribe != nil {
		h.unsubscribe()
		h.unsubscribe = nil
	}
}

// Poll broadcasts sync status and store statistics on the given interval
// until ctx is cancelled.
func (h *Handler) Poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.broadcastStatus(ctx)
			h.broadcastStats(ctx)
		}
	}
}

func (h *Handler) onConflict(event engine.ConflictEvent) {
	h.logger.Printf("Conflict: %s/%s (%s)", event.Collection, event.ID, event.Reason)
	h.send(MessageTypeConflict, event)
}

func (h *Handler) onConnectivity(online bool) {
	h.send(MessageTypeConnectivity, map[string]bool{"is_online": online})
}

func (h *Handler) broadcastStatus(ctx context.Context) {
	status, err := h.layer.GetSyncStatus(ctx)
	if err != nil {
		h.logger.Printf("Failed to read sync status: %v", err)
		return
	}
	h.send(MessageTypeSyncStatus, status)
}

func (h *Handler) broadcastStats(ctx context.Context) {
	stats, err := h.layer.GetStats(ctx)
	if err != nil {
		h.logger.Printf("Failed to read stats: %v", err)
		return
	}
	h.send(MessageTypeStats, stats)
}

func (h *Handler) send(typ MessageType, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal %s message: %v", typ, err)
		return
	}
	h.server.Broadcast(Message{
		Type:      typ,
		Timestamp: time.Now(),
		Data:      raw,
	})
}
