package botservice

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	tele "gopkg.in/telebot.v3"

	"github.com/nybots/iptv-hub/internal/playlist"
)

// storeTimeout bounds store lookups made from update handlers.
const storeTimeout = 10 * time.Second

// Config holds the configuration for the Telegram bot.
type Config struct {
	Token       string
	WebAppURL   string
	AdminIDs    []int64
	PollTimeout time.Duration
}

// ChannelStore is the slice of the channel store the bot reads from.
type ChannelStore interface {
	Snapshot(ctx context.Context) (*playlist.Snapshot, error)
	Channel(ctx context.Context, id int) (playlist.Channel, error)
	Count(ctx context.Context) (int, error)
}

// Reloader triggers a playlist refresh from upstream.
type Reloader interface {
	Refresh(ctx context.Context) error
}

// SourceConfig reads and persists the playlist source URL.
type SourceConfig interface {
	Source() string
	SetSource(string) error
}

// Bot handles Telegram updates: category browsing, channel search, playback
// via the web-app player, and the admin panel.
type Bot struct {
	tb *tele.Bot

	store    ChannelStore
	reloader Reloader
	sources  SourceConfig

	webAppURL string
	admins    map[int64]struct{}

	mu          sync.Mutex
	awaitingURL map[int64]struct{}

	updatesTotal *prometheus.CounterVec
}

// NewBot creates the bot and registers its update handlers.
func NewBot(cfg Config, st ChannelStore, reloader Reloader, sources SourceConfig, reg prometheus.Registerer) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("bot token is required in bot mode")
	}

	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}

	tb, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	updatesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "bot_updates_total",
		Help: "Telegram updates handled, by kind.",
	}, []string{"kind"})
	if err := reg.Register(updatesTotal); err != nil {
		return nil, fmt.Errorf("failed to register updates counter: %v", err)
	}

	admins := make(map[int64]struct{}, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins[id] = struct{}{}
	}

	b := &Bot{
		tb:           tb,
		store:        st,
		reloader:     reloader,
		sources:      sources,
		webAppURL:    strings.TrimRight(cfg.WebAppURL, "/"),
		admins:       admins,
		awaitingURL:  make(map[int64]struct{}),
		updatesTotal: updatesTotal,
	}

	tb.Handle("/start", b.handleStart)
	tb.Handle("/cancel", b.handleCancel)
	tb.Handle(tele.OnCallback, b.handleCallback)
	tb.Handle(tele.OnText, b.handleText)

	return b, nil
}

// Start begins long polling. Blocks until Stop is called.
func (b *Bot) Start() {
	b.tb.Start()
}

// Stop stops the poller.
func (b *Bot) Stop() {
	b.tb.Stop()
}

func (b *Bot) isAdmin(id int64) bool {
	_, ok := b.admins[id]
	return ok
}

func (b *Bot) handleStart(c tele.Context) error {
	b.updatesTotal.WithLabelValues("start").Inc()

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if count, err := b.store.Count(ctx); err == nil && count == 0 {
		if b.sources.Source() == "" {
			slog.Warn("Playlist source not configured", "user", c.Sender().ID)
			if b.isAdmin(c.Sender().ID) {
				markup := &tele.ReplyMarkup{InlineKeyboard: adminKeyboard()}
				return c.Send(notConfiguredText(), markup, tele.ModeMarkdown)
			}
			return c.Send(notConfiguredText(), tele.ModeMarkdown)
		}
		slog.Info("Playlist empty on /start, refreshing", "user", c.Sender().ID)
		if err := b.reloader.Refresh(ctx); err != nil {
			slog.Error("Playlist refresh on /start failed", "err", err)
			return c.Send(loadFailedText(b.sources.Source()), tele.ModeMarkdown)
		}
	}

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to read snapshot", "err", err)
		return c.Send("Something went wrong, please try again later.")
	}

	markup := &tele.ReplyMarkup{InlineKeyboard: categoryKeyboard(snapshot, b.isAdmin(c.Sender().ID))}
	text := welcomeText(c.Sender().FirstName, snapshot)

	if c.Callback() != nil {
		return c.Edit(text, markup, tele.ModeMarkdown)
	}
	return c.Send(text, markup, tele.ModeMarkdown)
}

func (b *Bot) handleCancel(c tele.Context) error {
	b.updatesTotal.WithLabelValues("cancel").Inc()

	b.mu.Lock()
	delete(b.awaitingURL, c.Sender().ID)
	b.mu.Unlock()

	return c.Send("✅ Operation cancelled.")
}

// handleCallback routes inline keyboard presses by their data prefix.
func (b *Bot) handleCallback(c tele.Context) error {
	data := strings.TrimSpace(c.Callback().Data)
	b.updatesTotal.WithLabelValues("callback").Inc()

	switch {
	case strings.HasPrefix(data, "cat_"):
		return b.showCategory(c, strings.TrimPrefix(data, "cat_"))
	case strings.HasPrefix(data, "play_"):
		return b.showPlay(c, strings.TrimPrefix(data, "play_"))
	case data == "search_hint":
		return c.Respond(&tele.CallbackResponse{
			Text:      "Type a channel name in the chat to search!",
			ShowAlert: true,
		})
	case data == "back_to_start":
		if err := c.Respond(); err != nil {
			return err
		}
		return b.handleStart(c)
	case data == "admin_panel":
		return b.showAdminPanel(c)
	case data == "admin_change_m3u":
		return b.promptSourceChange(c)
	case data == "admin_reload":
		return b.adminReload(c)
	case data == "admin_stats":
		return b.showStats(c)
	default:
		slog.Debug("Unknown callback", "data", data)
		return c.Respond()
	}
}

func (b *Bot) showCategory(c tele.Context, category string) error {
	if err := c.Respond(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to read snapshot", "err", err)
		return c.Edit("Something went wrong, please try again later.")
	}

	channels, ok := snapshot.Categories[category]
	if !ok {
		return c.Edit("❌ Category not found!")
	}

	markup := &tele.ReplyMarkup{InlineKeyboard: channelKeyboard(channels)}
	text := fmt.Sprintf("📺 *%s*\n\n🎬 Select a channel to watch:\n\n(%d channels available)", category, len(channels))
	return c.Edit(text, markup, tele.ModeMarkdown)
}

func (b *Bot) showPlay(c tele.Context, rawID string) error {
	if err := c.Respond(); err != nil {
		return err
	}

	id, err := strconv.Atoi(rawID)
	if err != nil {
		return c.Edit("❌ Channel not found!")
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	ch, err := b.store.Channel(ctx, id)
	if err != nil {
		return c.Edit("❌ Channel not found!")
	}

	markup := &tele.ReplyMarkup{InlineKeyboard: playKeyboard(b.webAppURL, ch)}
	text := fmt.Sprintf("🎬 *%s*\n\n📂 Category: %s\n\n✨ Click \"▶️ Watch Now\" to start streaming!", ch.Name, ch.Category)
	return c.Edit(text, markup, tele.ModeMarkdown)
}

func (b *Bot) showAdminPanel(c tele.Context) error {
	if !b.isAdmin(c.Sender().ID) {
		return c.Respond(&tele.CallbackResponse{Text: "⛔ Access Denied!", ShowAlert: true})
	}
	if err := c.Respond(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to read snapshot", "err", err)
		return c.Edit("Something went wrong, please try again later.")
	}

	markup := &tele.ReplyMarkup{InlineKeyboard: adminKeyboard()}
	return c.Edit(adminPanelText(b.sources.Source(), snapshot), markup, tele.ModeMarkdown)
}

func (b *Bot) promptSourceChange(c tele.Context) error {
	if !b.isAdmin(c.Sender().ID) {
		return c.Respond(&tele.CallbackResponse{Text: "⛔ Access Denied!", ShowAlert: true})
	}
	if err := c.Respond(); err != nil {
		return err
	}

	b.mu.Lock()
	b.awaitingURL[c.Sender().ID] = struct{}{}
	b.mu.Unlock()

	return c.Edit(
		"🔗 *Change M3U URL*\n\n"+
			"Please send the new M3U playlist URL:\n\n"+
			"Format: `https://example.com/playlist.m3u`\n\n"+
			"Send /cancel to abort.",
		tele.ModeMarkdown)
}

func (b *Bot) adminReload(c tele.Context) error {
	if !b.isAdmin(c.Sender().ID) {
		return c.Respond(&tele.CallbackResponse{Text: "⛔ Access Denied!", ShowAlert: true})
	}
	if err := c.Respond(&tele.CallbackResponse{Text: "🔄 Reloading playlist..."}); err != nil {
		return err
	}

	if err := c.Edit("⏳ Reloading playlist... This may take up to 60 seconds..."); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := b.reloader.Refresh(ctx); err != nil {
		slog.Error("Admin playlist reload failed", "err", err)
		return c.Edit(
			"❌ *Failed to reload playlist!*\n\n" +
				"Check logs for details. Possible issues:\n" +
				"• Invalid M3U URL\n" +
				"• Server timeout\n" +
				"• Network connection problem")
	}

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		return c.Edit("✅ Playlist reloaded.")
	}
	return c.Edit(fmt.Sprintf(
		"✅ *Playlist Reloaded Successfully!*\n\n📺 Channels: %d\n📂 Categories: %d",
		snapshot.Count(), len(snapshot.Categories)), tele.ModeMarkdown)
}

func (b *Bot) showStats(c tele.Context) error {
	if !b.isAdmin(c.Sender().ID) {
		return c.Respond(&tele.CallbackResponse{Text: "⛔ Access Denied!", ShowAlert: true})
	}
	if err := c.Respond(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to read snapshot", "err", err)
		return c.Edit("Something went wrong, please try again later.")
	}

	markup := &tele.ReplyMarkup{InlineKeyboard: [][]tele.InlineButton{
		{{Text: "⬅️ Back to Admin Panel", Data: "admin_panel"}},
	}}
	return c.Edit(statsText(snapshot), markup, tele.ModeMarkdown)
}

// handleText serves channel search, or consumes a pending admin URL change.
func (b *Bot) handleText(c tele.Context) error {
	b.updatesTotal.WithLabelValues("text").Inc()
	text := strings.TrimSpace(c.Text())

	b.mu.Lock()
	_, pending := b.awaitingURL[c.Sender().ID]
	b.mu.Unlock()

	if pending && b.isAdmin(c.Sender().ID) {
		return b.applySourceChange(c, text)
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		slog.Error("Failed to read snapshot", "err", err)
		return c.Send("Something went wrong, please try again later.")
	}

	results := snapshot.Search(text, searchLimit)
	if len(results) == 0 {
		return c.Send(fmt.Sprintf(
			"❌ No channels found for: *%s*\n\nTry searching with different keywords!", text),
			tele.ModeMarkdown)
	}

	markup := &tele.ReplyMarkup{InlineKeyboard: searchKeyboard(results)}
	return c.Send(fmt.Sprintf(
		"🔍 *Search Results for:* `%s`\n\nFound %d channel(s):", text, len(results)),
		markup, tele.ModeMarkdown)
}

func (b *Bot) applySourceChange(c tele.Context, url string) error {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return c.Send("❌ Invalid URL! Please send a valid HTTP/HTTPS URL.")
	}

	b.mu.Lock()
	delete(b.awaitingURL, c.Sender().ID)
	b.mu.Unlock()

	if err := b.sources.SetSource(url); err != nil {
		slog.Error("Failed to persist new playlist source", "err", err)
		return c.Send("❌ Failed to save the new URL, please try again.")
	}

	if err := c.Send("⏳ Loading new playlist... This may take up to 60 seconds..."); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := b.reloader.Refresh(ctx); err != nil {
		slog.Error("Playlist reload with new source failed", "err", err)
		return c.Send(
			"❌ *Failed to parse M3U playlist!*\n\n" +
				"Please check:\n" +
				"• URL is correct and accessible\n" +
				"• M3U file format is valid\n" +
				"• Server is not blocking requests")
	}

	snapshot, err := b.store.Snapshot(ctx)
	if err != nil {
		return c.Send("✅ M3U URL updated.")
	}
	return c.Send(fmt.Sprintf(
		"✅ *M3U URL Updated Successfully!*\n\n📺 Channels: %d\n📂 Categories: %d",
		snapshot.Count(), len(snapshot.Categories)), tele.ModeMarkdown)
}
