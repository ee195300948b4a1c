package playlist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nybots/iptv-hub/internal/playlist"
)

func TestNewSnapshotReassignsIDs(t *testing.T) {
	t.Parallel()

	s := playlist.NewSnapshot([]playlist.Channel{
		{ID: 42, Name: "First", Category: "News"},
		{ID: 42, Name: "Second", Category: "News"},
		{ID: 7, Name: "Third", Category: "Sports"},
	})

	require.Equal(t, 3, s.Count(), "expected all channels in snapshot")
	for i, ch := range s.Channels {
		assert.Equal(t, i, ch.ID, "expected dense IDs in insertion order")
	}

	require.Len(t, s.Categories["News"], 2, "expected category index to group channels")
	assert.Equal(t, s.Channels[0], s.Categories["News"][0], "expected category entries to carry reassigned IDs")
}

func TestChannel(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		id int

		wantName string
		wantOK   bool
	}{
		"First channel":     {id: 0, wantName: "Alpha", wantOK: true},
		"Last channel":      {id: 1, wantName: "Beta", wantOK: true},
		"Negative ID":       {id: -1},
		"Out of bounds ID":  {id: 2},
		"Far out of bounds": {id: 1000},
	}

	s := playlist.NewSnapshot([]playlist.Channel{
		{Name: "Alpha"},
		{Name: "Beta"},
	})

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ch, ok := s.Channel(tc.id)
			require.Equal(t, tc.wantOK, ok, "unexpected lookup result")
			assert.Equal(t, tc.wantName, ch.Name, "unexpected channel name")
		})
	}
}

func TestCategoryNamesAreSorted(t *testing.T) {
	t.Parallel()

	s := playlist.NewSnapshot([]playlist.Channel{
		{Name: "a", Category: "Sports"},
		{Name: "b", Category: "Movies"},
		{Name: "c", Category: "News"},
		{Name: "d", Category: "Movies"},
	})

	assert.Equal(t, []string{"Movies", "News", "Sports"}, s.CategoryNames(), "expected sorted category names")
}

func TestSearch(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		query string
		limit int

		wantNames []string
	}{
		"Case insensitive match":   {query: "cnn", limit: 10, wantNames: []string{"CNN International", "CNN Arabic"}},
		"Substring match":          {query: "nation", limit: 10, wantNames: []string{"CNN International", "National Geographic"}},
		"Limit caps results":       {query: "cnn", limit: 1, wantNames: []string{"CNN International"}},
		"No limit returns all":     {query: "c", limit: 0, wantNames: []string{"CNN International", "CNN Arabic", "National Geographic", "BBC One"}},
		"Whitespace query trimmed": {query: "  bbc  ", limit: 10, wantNames: []string{"BBC One"}},

		"No match returns nothing": {query: "zzz", limit: 10},
		"Empty query matches none": {query: "", limit: 10},
		"Blank query matches none": {query: "   ", limit: 10},
	}

	s := playlist.NewSnapshot([]playlist.Channel{
		{Name: "CNN International"},
		{Name: "CNN Arabic"},
		{Name: "National Geographic"},
		{Name: "BBC One"},
	})

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := s.Search(tc.query, tc.limit)

			names := make([]string, 0, len(got))
			for _, ch := range got {
				names = append(names, ch.Name)
			}
			if tc.wantNames == nil {
				assert.Empty(t, names, "expected no search results")
				return
			}
			assert.Equal(t, tc.wantNames, names, "unexpected search results")
		})
	}
}

func TestNilSnapshotIsEmpty(t *testing.T) {
	t.Parallel()

	var s *playlist.Snapshot
	assert.Zero(t, s.Count(), "expected zero count on nil snapshot")
	assert.Empty(t, s.CategoryNames(), "expected no categories on nil snapshot")
	assert.Empty(t, s.Search("anything", 10), "expected no search results on nil snapshot")

	_, ok := s.Channel(0)
	assert.False(t, ok, "expected channel lookup to fail on nil snapshot")
}
