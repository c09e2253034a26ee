package sse

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tagvoteapp/tagvote-server/internal/domain"
)

// CallerResolver extracts the optional caller from a request.
// It returns (nil, nil) for anonymous requests and an error for a bad token.
type CallerResolver func(r *http.Request) (*domain.Caller, error)

// Handler handles SSE connections at GET /api/v1/events.
//
// Query parameters entity_type and entity_id, when both present, limit the
// stream to events about that entity.
type Handler struct {
	manager *Manager
	resolve CallerResolver
	logger  *slog.Logger
}

// NewHandler creates a new SSE Handler.
func NewHandler(manager *Manager, resolve CallerResolver, logger *slog.Logger) *Handler {
	return &Handler{
		manager: manager,
		resolve: resolve,
		logger:  logger,
	}
}

// ServeHTTP handles the SSE connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Context().Err() != nil {
		return
	}

	var caller *domain.Caller
	if h.resolve != nil {
		c, err := h.resolve(r)
		if err != nil {
			http.Error(w, "Invalid access token", http.StatusUnauthorized)
			return
		}
		caller = c
	}

	entity, err := entityFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		h.logger.Error("failed to flush headers", slog.String("error", err.Error()))
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	client, err := h.manager.Connect(caller, entity)
	if err != nil {
		h.logger.Error("failed to register SSE client", slog.String("error", err.Error()))
		http.Error(w, "Failed to establish connection", http.StatusInternalServerError)
		return
	}
	defer h.manager.Disconnect(client.ID)

	clientLogger := h.logger.With(slog.String("client_id", client.ID))

	if err := h.sendEvent(w, rc, "connected", map[string]string{
		"client_id": client.ID,
		"message":   "SSE connection established",
	}); err != nil {
		clientLogger.Warn("failed to send initial connection message", slog.String("error", err.Error()))
		return
	}

	ctx := r.Context()
	for {
		select {
		case event, ok := <-client.EventChan:
			if !ok {
				return
			}
			if err := h.sendEvent(w, rc, string(event.Type), event); err != nil {
				clientLogger.Info("client disconnected during send")
				return
			}

		case <-client.Done:
			clientLogger.Info("client closed by manager")
			return

		case <-ctx.Done():
			clientLogger.Info("client context canceled")
			return
		}
	}
}

func entityFilter(r *http.Request) (domain.EntityRef, error) {
	q := r.URL.Query()
	rawType, rawID := q.Get("entity_type"), q.Get("entity_id")
	if rawType == "" && rawID == "" {
		return domain.EntityRef{}, nil
	}

	t, err := domain.ParseEntityType(rawType)
	if err != nil {
		return domain.EntityRef{}, err
	}
	entityID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || entityID <= 0 {
		return domain.EntityRef{}, fmt.Errorf("invalid entity_id %q", rawID)
	}
	return domain.EntityRef{Type: t, ID: entityID}, nil
}

// sendEvent writes one event in SSE wire format and flushes it.
func (h *Handler) sendEvent(w http.ResponseWriter, rc *http.ResponseController, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", eventType); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", jsonData); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		return err
	}

	// Reset after each successful write so hung connections eventually fail.
	if err := rc.SetWriteDeadline(time.Now().Add(60 * time.Second)); err != nil {
		h.logger.Debug("failed to set write deadline", slog.String("error", err.Error()))
	}
	return nil
}
