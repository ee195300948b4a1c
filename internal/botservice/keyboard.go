package botservice

import (
	"fmt"
	"net/url"
	"strings"

	tele "gopkg.in/telebot.v3"

	"github.com/nybots/iptv-hub/internal/playlist"
)

const (
	// searchLimit caps how many results a text search returns.
	searchLimit = 10

	// maxLabelRunes keeps button labels readable on small screens.
	maxLabelRunes = 30

	// maxCallbackBytes is Telegram's limit for callback data.
	maxCallbackBytes = 64
)

// categoryKeyboard lists categories three per row, with search and admin rows.
func categoryKeyboard(s *playlist.Snapshot, isAdmin bool) [][]tele.InlineButton {
	names := s.CategoryNames()

	var rows [][]tele.InlineButton
	var row []tele.InlineButton
	for _, name := range names {
		row = append(row, tele.InlineButton{
			Text: truncLabel(fmt.Sprintf("📺 %s (%d)", name, len(s.Categories[name]))),
			Data: truncData("cat_" + name),
		})
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	rows = append(rows, []tele.InlineButton{{Text: "🔍 Search Channels", Data: "search_hint"}})
	if isAdmin {
		rows = append(rows, []tele.InlineButton{{Text: "⚙️ Admin Panel", Data: "admin_panel"}})
	}
	return rows
}

// channelKeyboard lists a category's channels two per row, plus a back row.
func channelKeyboard(channels []playlist.Channel) [][]tele.InlineButton {
	var rows [][]tele.InlineButton
	var row []tele.InlineButton
	for _, ch := range channels {
		row = append(row, tele.InlineButton{
			Text: truncLabel(ch.Name),
			Data: fmt.Sprintf("play_%d", ch.ID),
		})
		if len(row) == 2 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	rows = append(rows, []tele.InlineButton{{Text: "⬅️ Back to Categories", Data: "back_to_start"}})
	return rows
}

// playKeyboard offers the web-app player button and a back row.
func playKeyboard(webAppURL string, ch playlist.Channel) [][]tele.InlineButton {
	rows := [][]tele.InlineButton{
		{{
			Text:   "▶️ Watch Now",
			WebApp: &tele.WebApp{URL: playerURL(webAppURL, ch.ID)},
		}},
		{{
			Text: "⬅️ Back",
			Data: truncData("cat_" + ch.Category),
		}},
	}
	return rows
}

// searchKeyboard lists search hits one per row, plus a back row.
func searchKeyboard(results []playlist.Channel) [][]tele.InlineButton {
	rows := make([][]tele.InlineButton, 0, len(results)+1)
	for _, ch := range results {
		rows = append(rows, []tele.InlineButton{{
			Text: truncLabel(fmt.Sprintf("📺 %s (%s)", ch.Name, ch.Category)),
			Data: fmt.Sprintf("play_%d", ch.ID),
		}})
	}
	rows = append(rows, []tele.InlineButton{{Text: "⬅️ Back to Categories", Data: "back_to_start"}})
	return rows
}

func adminKeyboard() [][]tele.InlineButton {
	return [][]tele.InlineButton{
		{{Text: "🔗 Change M3U URL", Data: "admin_change_m3u"}},
		{{Text: "🔄 Reload Playlist", Data: "admin_reload"}},
		{{Text: "📊 Statistics", Data: "admin_stats"}},
		{{Text: "⬅️ Back to Main Menu", Data: "back_to_start"}},
	}
}

// playerURL builds the web-app player link for a channel.
func playerURL(base string, id int) string {
	return fmt.Sprintf("%s/player?ch=%s", base, url.QueryEscape(fmt.Sprint(id)))
}

// truncLabel shortens a button label to maxLabelRunes runes.
func truncLabel(s string) string {
	runes := []rune(s)
	if len(runes) <= maxLabelRunes {
		return s
	}
	return string(runes[:maxLabelRunes-1]) + "…"
}

// truncData shortens callback data to Telegram's 64-byte limit without
// splitting a UTF-8 sequence.
func truncData(s string) string {
	if len(s) <= maxCallbackBytes {
		return s
	}
	cut := maxCallbackBytes
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}

// welcomeText is the /start greeting with playlist totals.
func welcomeText(firstName string, s *playlist.Snapshot) string {
	name := strings.TrimSpace(firstName)
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(
		"👋 Welcome, *%s*!\n\n"+
			"🎬 *IPTV Hub*\n\n"+
			"📺 Channels: %d\n"+
			"📂 Categories: %d\n\n"+
			"Select a category below, or type a channel name to search:",
		name, s.Count(), len(s.Categories))
}

func notConfiguredText() string {
	return "⚠️ *M3U URL not configured!*\n\n" +
		"Please contact an admin to set up the playlist URL.\n\n" +
		"Admin: Use /start and go to Admin Panel → Change M3U URL"
}

func loadFailedText(source string) string {
	return fmt.Sprintf(
		"❌ *Failed to load the playlist!*\n\n"+
			"Source: `%s`\n\n"+
			"Please try again later, or contact an administrator.", source)
}

func adminPanelText(source string, s *playlist.Snapshot) string {
	return fmt.Sprintf(
		"⚙️ *Admin Panel*\n\n"+
			"🔗 Current M3U URL:\n`%s`\n\n"+
			"📺 Channels: %d\n"+
			"📂 Categories: %d",
		source, s.Count(), len(s.Categories))
}

func statsText(s *playlist.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 *Playlist Statistics*\n\n📺 Total channels: %d\n📂 Categories: %d\n\n", s.Count(), len(s.Categories))
	for _, name := range s.CategoryNames() {
		fmt.Fprintf(&sb, "• %s: %d\n", name, len(s.Categories[name]))
	}
	return sb.String()
}
