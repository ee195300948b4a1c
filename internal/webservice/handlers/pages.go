package handlers

import (
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/nybots/iptv-hub/internal/store"
	"github.com/nybots/iptv-hub/internal/webservice/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Pages serves the index and Mini App player pages.
type Pages struct {
	store ChannelStore
}

// NewPages creates a new Pages handler.
func NewPages(st ChannelStore) *Pages {
	return &Pages{store: st}
}

// Index handles GET /.
func (h *Pages) Index(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	count, err := h.store.Count(r.Context())
	if err != nil {
		slog.Error("Failed to count channels", "err", err)
		count = 0
	}

	h.render(w, "index.html", map[string]any{
		"ChannelCount": count,
	})
}

// Player handles GET /player?ch=<id>.
func (h *Pages) Player(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	id, err := strconv.Atoi(r.URL.Query().Get("ch"))
	if err != nil {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	ch, err := h.store.Channel(r.Context(), id)
	if errors.Is(err, store.ErrChannelNotFound) {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("Failed to read channel", "id", id, "err", err)
		http.Error(w, "Failed to read channel", http.StatusInternalServerError)
		return
	}

	h.render(w, "player.html", map[string]any{
		"ChannelName": ch.Name,
		"ChannelLogo": ch.Logo,
		"ChannelID":   ch.ID,
	})
}

func (h *Pages) render(w http.ResponseWriter, name string, data map[string]any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("Failed to render page", "page", name, "err", err)
	}
}
