package botservice

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"github.com/nybots/iptv-hub/internal/playlist"
)

const adminID int64 = 7

type stubStore struct {
	snapshot *playlist.Snapshot
	err      error
}

func (s *stubStore) Snapshot(context.Context) (*playlist.Snapshot, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.snapshot, nil
}

func (s *stubStore) Channel(_ context.Context, id int) (playlist.Channel, error) {
	if s.err != nil {
		return playlist.Channel{}, s.err
	}
	ch, ok := s.snapshot.Channel(id)
	if !ok {
		return playlist.Channel{}, errors.New("channel not found")
	}
	return ch, nil
}

func (s *stubStore) Count(context.Context) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.snapshot.Count(), nil
}

type stubReloader struct {
	err   error
	calls int
}

func (r *stubReloader) Refresh(context.Context) error {
	r.calls++
	return r.err
}

type stubSources struct {
	source string
	setErr error
	set    []string
}

func (s *stubSources) Source() string { return s.source }

func (s *stubSources) SetSource(url string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.set = append(s.set, url)
	s.source = url
	return nil
}

// stubContext fakes the parts of tele.Context the handlers touch. Calls to
// anything else panic through the embedded nil interface.
type stubContext struct {
	tele.Context

	sender   *tele.User
	callback *tele.Callback
	text     string

	sent      []string
	edited    []string
	markups   []*tele.ReplyMarkup
	responses []*tele.CallbackResponse
}

func (c *stubContext) Sender() *tele.User       { return c.sender }
func (c *stubContext) Callback() *tele.Callback { return c.callback }
func (c *stubContext) Text() string             { return c.text }

func (c *stubContext) Send(what interface{}, opts ...interface{}) error {
	c.sent = append(c.sent, fmt.Sprint(what))
	c.recordMarkup(opts)
	return nil
}

func (c *stubContext) Edit(what interface{}, opts ...interface{}) error {
	c.edited = append(c.edited, fmt.Sprint(what))
	c.recordMarkup(opts)
	return nil
}

func (c *stubContext) Respond(resp ...*tele.CallbackResponse) error {
	if len(resp) == 0 {
		resp = []*tele.CallbackResponse{{}}
	}
	c.responses = append(c.responses, resp...)
	return nil
}

func (c *stubContext) recordMarkup(opts []interface{}) {
	for _, o := range opts {
		if m, ok := o.(*tele.ReplyMarkup); ok {
			c.markups = append(c.markups, m)
		}
	}
}

func userContext(id int64) *stubContext {
	return &stubContext{sender: &tele.User{ID: id, FirstName: "Alice"}}
}

func callbackContext(id int64, data string) *stubContext {
	c := userContext(id)
	c.callback = &tele.Callback{Data: data}
	return c
}

func newTestBot(st ChannelStore, rel Reloader, src SourceConfig, admins ...int64) *Bot {
	adminSet := make(map[int64]struct{}, len(admins))
	for _, id := range admins {
		adminSet[id] = struct{}{}
	}
	return &Bot{
		store:       st,
		reloader:    rel,
		sources:     src,
		webAppURL:   "https://hub.example",
		admins:      adminSet,
		awaitingURL: make(map[int64]struct{}),
		updatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_updates_total",
			Help: "Telegram updates handled, by kind.",
		}, []string{"kind"}),
	}
}

func TestStartWithoutConfiguredSource(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		isAdmin bool

		wantAdminMarkup bool
	}{
		"Regular user gets the hint":         {},
		"Admin gets the hint with the panel": {isAdmin: true, wantAdminMarkup: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reloader := &stubReloader{}
			var admins []int64
			if tc.isAdmin {
				admins = append(admins, adminID)
			}
			b := newTestBot(&stubStore{snapshot: playlist.NewSnapshot(nil)}, reloader, &stubSources{}, admins...)

			c := userContext(adminID)
			require.NoError(t, b.handleStart(c), "start should not fail")

			require.Len(t, c.sent, 1, "expected exactly one message")
			assert.Contains(t, c.sent[0], "M3U URL not configured", "expected the not-configured hint")
			assert.Zero(t, reloader.calls, "no refresh should be attempted without a source")

			if tc.wantAdminMarkup {
				require.Len(t, c.markups, 1, "expected a keyboard for the admin")
				assert.Equal(t, "admin_change_m3u", c.markups[0].InlineKeyboard[0][0].Data, "expected the change-URL button first")
			} else {
				assert.Empty(t, c.markups, "expected no keyboard for regular users")
			}
		})
	}
}

func TestStartPrimesEmptyStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		refreshErr error

		wantContain string
	}{
		"Successful load greets the user": {wantContain: "Welcome"},

		// Error cases
		"Failed load is reported": {refreshErr: errors.New("upstream down"), wantContain: "Failed to load"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reloader := &stubReloader{err: tc.refreshErr}
			b := newTestBot(&stubStore{snapshot: playlist.NewSnapshot(nil)}, reloader, &stubSources{source: "http://upstream.example/list.m3u"})

			c := userContext(42)
			require.NoError(t, b.handleStart(c), "start should not fail")

			assert.Equal(t, 1, reloader.calls, "expected one refresh for an empty store")
			require.Len(t, c.sent, 1, "expected exactly one message")
			assert.Contains(t, c.sent[0], tc.wantContain, "unexpected start message")
		})
	}
}

func TestStartEditsWhenTriggeredByCallback(t *testing.T) {
	t.Parallel()

	b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, &stubReloader{}, &stubSources{source: "http://upstream.example/list.m3u"})

	c := callbackContext(42, "back_to_start")
	require.NoError(t, b.handleCallback(c), "callback should not fail")

	assert.Empty(t, c.sent, "a callback-triggered start must edit, not send")
	require.Len(t, c.edited, 1, "expected the message to be edited")
	assert.Contains(t, c.edited[0], "Welcome", "expected the welcome text")
}

func TestCallbackRouting(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data string

		wantEditContain string
		wantAlert       string
	}{
		"Category lists its channels":  {data: "cat_News", wantEditContain: "News"},
		"Unknown category is an error": {data: "cat_Nope", wantEditContain: "Category not found"},
		"Play shows the channel":       {data: "play_0", wantEditContain: "CNN International"},
		"Unknown channel is an error":  {data: "play_999", wantEditContain: "Channel not found"},
		"Bad channel ID is an error":   {data: "play_abc", wantEditContain: "Channel not found"},
		"Search hint shows an alert":   {data: "search_hint", wantAlert: "Type a channel name"},
		"Unknown data is acknowledged": {data: "bogus_42"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, &stubReloader{}, &stubSources{source: "http://upstream.example/list.m3u"})

			c := callbackContext(42, tc.data)
			require.NoError(t, b.handleCallback(c), "callback should not fail")

			if tc.wantEditContain != "" {
				require.Len(t, c.edited, 1, "expected the message to be edited")
				assert.Contains(t, c.edited[0], tc.wantEditContain, "unexpected edit content")
			} else {
				assert.Empty(t, c.edited, "expected no edit")
			}

			require.NotEmpty(t, c.responses, "every callback must be acknowledged")
			if tc.wantAlert != "" {
				last := c.responses[len(c.responses)-1]
				assert.True(t, last.ShowAlert, "expected an alert response")
				assert.Contains(t, last.Text, tc.wantAlert, "unexpected alert text")
			}
		})
	}
}

func TestAdminCallbacksRejectNonAdmins(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data string
	}{
		"Admin panel":    {data: "admin_panel"},
		"Change M3U URL": {data: "admin_change_m3u"},
		"Reload":         {data: "admin_reload"},
		"Statistics":     {data: "admin_stats"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reloader := &stubReloader{}
			b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, reloader, &stubSources{source: "http://upstream.example/list.m3u"}, adminID)

			c := callbackContext(42, tc.data) // not an admin
			require.NoError(t, b.handleCallback(c), "callback should not fail")

			assert.Empty(t, c.edited, "a rejected action must not edit the message")
			assert.Zero(t, reloader.calls, "a rejected action must not refresh")
			require.Len(t, c.responses, 1, "expected exactly one response")
			assert.True(t, c.responses[0].ShowAlert, "expected an alert response")
			assert.Contains(t, c.responses[0].Text, "Access Denied", "expected the rejection text")
		})
	}
}

func TestAdminPanelAndStats(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		data string

		wantEditContain string
	}{
		"Panel shows the source":     {data: "admin_panel", wantEditContain: "Admin Panel"},
		"Stats show category counts": {data: "admin_stats", wantEditContain: "Statistics"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, &stubReloader{}, &stubSources{source: "http://upstream.example/list.m3u"}, adminID)

			c := callbackContext(adminID, tc.data)
			require.NoError(t, b.handleCallback(c), "callback should not fail")

			require.Len(t, c.edited, 1, "expected the message to be edited")
			assert.Contains(t, c.edited[0], tc.wantEditContain, "unexpected edit content")
		})
	}
}

func TestAdminReload(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		refreshErr error

		wantContain string
	}{
		"Successful reload reports totals": {wantContain: "Reloaded Successfully"},

		// Error cases
		"Failed reload is reported": {refreshErr: errors.New("upstream down"), wantContain: "Failed to reload"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			reloader := &stubReloader{err: tc.refreshErr}
			b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, reloader, &stubSources{source: "http://upstream.example/list.m3u"}, adminID)

			c := callbackContext(adminID, "admin_reload")
			require.NoError(t, b.handleCallback(c), "callback should not fail")

			assert.Equal(t, 1, reloader.calls, "expected one refresh")
			require.NotEmpty(t, c.edited, "expected the message to be edited")
			assert.Contains(t, c.edited[len(c.edited)-1], tc.wantContain, "unexpected reload result")
		})
	}
}

func TestAdminURLChangeFlow(t *testing.T) {
	t.Parallel()

	reloader := &stubReloader{}
	sources := &stubSources{source: "http://old.example/list.m3u"}
	b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, reloader, sources, adminID)

	// The admin asks to change the URL.
	c := callbackContext(adminID, "admin_change_m3u")
	require.NoError(t, b.handleCallback(c), "prompt should not fail")
	require.Len(t, c.edited, 1, "expected the prompt to be shown")
	assert.Contains(t, c.edited[0], "Change M3U URL", "unexpected prompt text")

	// A non-URL message is rejected and the change stays pending.
	c = userContext(adminID)
	c.text = "definitely not a url"
	require.NoError(t, b.handleText(c), "text handling should not fail")
	require.Len(t, c.sent, 1, "expected a rejection message")
	assert.Contains(t, c.sent[0], "Invalid URL", "unexpected rejection text")
	assert.Empty(t, sources.set, "an invalid URL must not be persisted")

	// A valid URL is persisted and the playlist reloaded.
	c = userContext(adminID)
	c.text = "https://new.example/list.m3u"
	require.NoError(t, b.handleText(c), "text handling should not fail")
	assert.Equal(t, []string{"https://new.example/list.m3u"}, sources.set, "expected the new URL to be persisted")
	assert.Equal(t, 1, reloader.calls, "expected a refresh with the new URL")
	assert.Contains(t, c.sent[len(c.sent)-1], "Updated Successfully", "unexpected confirmation text")

	// The pending state is consumed: further text is a search again.
	c = userContext(adminID)
	c.text = "https://another.example/list.m3u"
	require.NoError(t, b.handleText(c), "text handling should not fail")
	assert.Len(t, sources.set, 1, "a consumed flow must not persist further URLs")
}

func TestCancelClearsPendingURLChange(t *testing.T) {
	t.Parallel()

	sources := &stubSources{source: "http://old.example/list.m3u"}
	b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, &stubReloader{}, sources, adminID)

	c := callbackContext(adminID, "admin_change_m3u")
	require.NoError(t, b.handleCallback(c), "prompt should not fail")

	c = userContext(adminID)
	require.NoError(t, b.handleCancel(c), "cancel should not fail")
	assert.Contains(t, c.sent[0], "cancelled", "expected a cancellation confirmation")

	// The next URL-looking message is treated as a search, not a change.
	c = userContext(adminID)
	c.text = "https://new.example/list.m3u"
	require.NoError(t, b.handleText(c), "text handling should not fail")
	assert.Empty(t, sources.set, "a cancelled flow must not persist URLs")
	assert.Contains(t, c.sent[0], "No channels found", "expected a search result instead")
}

func TestTextSearch(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		query string

		wantContain string
	}{
		"Match lists results":      {query: "cnn", wantContain: "Search Results"},
		"Case-insensitive match":   {query: "EsPn", wantContain: "Search Results"},
		"No match reports nothing": {query: "zzz", wantContain: "No channels found"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			b := newTestBot(&stubStore{snapshot: sampleSnapshot()}, &stubReloader{}, &stubSources{source: "http://upstream.example/list.m3u"})

			c := userContext(42)
			c.text = tc.query
			require.NoError(t, b.handleText(c), "text handling should not fail")

			require.Len(t, c.sent, 1, "expected exactly one message")
			assert.Contains(t, c.sent[0], tc.wantContain, "unexpected search response")
		})
	}
}
