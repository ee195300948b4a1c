// Package handlers provides HTTP handlers for the web service.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/nybots/iptv-hub/internal/playlist"
	"github.com/nybots/iptv-hub/internal/store"
	"github.com/nybots/iptv-hub/internal/webservice/metrics"
)

// ChannelStore is the slice of the channel store the handlers read from.
type ChannelStore interface {
	Snapshot(ctx context.Context) (*playlist.Snapshot, error)
	Channel(ctx context.Context, id int) (playlist.Channel, error)
	Count(ctx context.Context) (int, error)
}

// Reloader triggers a playlist refresh from upstream.
type Reloader interface {
	Refresh(ctx context.Context) error
}

// SourceSetter persists a new playlist source URL.
type SourceSetter interface {
	SetSource(string) error
}

// channelPayload is the wire form of a channel, without its snapshot-scoped ID.
type channelPayload struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Logo     string `json:"logo"`
	Category string `json:"category"`
}

func toPayload(ch playlist.Channel) channelPayload {
	return channelPayload{
		Name:     ch.Name,
		URL:      ch.URL,
		Logo:     ch.Logo,
		Category: ch.Category,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "err", err)
	}
}

// Channels is a handler listing all channels with their category index.
type Channels struct {
	store ChannelStore
}

// NewChannels creates a new Channels handler.
func NewChannels(st ChannelStore) *Channels {
	return &Channels{store: st}
}

// ServeHTTP handles GET /api/channels.
func (h *Channels) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	snapshot, err := h.store.Snapshot(r.Context())
	if err != nil {
		slog.Error("Failed to read snapshot", "err", err)
		http.Error(w, "Failed to read channels", http.StatusInternalServerError)
		return
	}

	channels := make(map[int]channelPayload, snapshot.Count())
	categories := make(map[string][]channelPayload, len(snapshot.Categories))
	for _, ch := range snapshot.Channels {
		channels[ch.ID] = toPayload(ch)
		categories[ch.Category] = append(categories[ch.Category], toPayload(ch))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"channels":   channels,
		"categories": categories,
	})
}

// Channel is a handler returning a single channel by ID.
type Channel struct {
	store ChannelStore
}

// NewChannel creates a new Channel handler.
func NewChannel(st ChannelStore) *Channel {
	return &Channel{store: st}
}

// ServeHTTP handles GET /api/channel/{id}.
func (h *Channel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Channel not found"})
		return
	}

	ch, err := h.store.Channel(r.Context(), id)
	if errors.Is(err, store.ErrChannelNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Channel not found"})
		return
	}
	if err != nil {
		slog.Error("Failed to read channel", "id", id, "err", err)
		http.Error(w, "Failed to read channel", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, toPayload(ch))
}

// Reload is a handler that re-fetches the playlist, optionally from a new URL.
type Reload struct {
	reloader     Reloader
	sources      SourceSetter
	maxBodyBytes int64
}

// NewReload creates a new Reload handler.
func NewReload(reloader Reloader, sources SourceSetter, maxBodyBytes int64) *Reload {
	return &Reload{
		reloader:     reloader,
		sources:      sources,
		maxBodyBytes: maxBodyBytes,
	}
}

// ServeHTTP handles POST /api/reload.
func (h *Reload) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)
	reqID := uuid.New().String()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		slog.Error("Error reading reload request body", "req_id", reqID, "err", err)
		return
	}

	var req struct {
		URL string `json:"url"`
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			slog.Error("Invalid JSON in reload request", "req_id", reqID, "err", err)
			return
		}
	}

	slog.Info("Reload requested", "req_id", reqID, "new_url", req.URL != "")
	if req.URL != "" {
		if err := h.sources.SetSource(req.URL); err != nil {
			slog.Error("Failed to persist new playlist source", "req_id", reqID, "err", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Failed to reload"})
			return
		}
	}

	if err := h.reloader.Refresh(r.Context()); err != nil {
		slog.Error("Playlist reload failed", "req_id", reqID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": "Failed to reload"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Playlist reloaded"})
}

// Health is the orchestrator readiness/liveness probe handler.
type Health struct {
	store ChannelStore
}

// NewHealth creates a new Health handler.
func NewHealth(st ChannelStore) *Health {
	return &Health{store: st}
}

// ServeHTTP handles GET /health.
//
// It reports ok as soon as the server is up: an empty playlist is degraded,
// not dead, and must not make the orchestrator restart-loop the container.
func (h *Health) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	count, err := h.store.Count(r.Context())
	if err != nil {
		slog.Error("Failed to count channels", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "channels": count})
}
