// Package playlist defines the channel model and handles fetching and parsing
// M3U playlists from an upstream provider.
package playlist

import (
	"sort"
	"strings"
)

// Channel is a single entry of an M3U playlist.
type Channel struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Logo     string `json:"logo"`
	Category string `json:"category"`
	URL      string `json:"url"`
}

// Snapshot is an immutable view of a parsed playlist.
//
// Channel IDs are dense and assigned in parse order, so they are only stable
// within a single snapshot.
type Snapshot struct {
	Channels   []Channel            `json:"channels"`
	Categories map[string][]Channel `json:"categories"`
}

// NewSnapshot builds a snapshot from an ordered channel list, reassigning IDs
// and rebuilding the category index.
func NewSnapshot(channels []Channel) *Snapshot {
	s := Snapshot{
		Channels:   make([]Channel, 0, len(channels)),
		Categories: make(map[string][]Channel, 16),
	}
	for _, ch := range channels {
		ch.ID = len(s.Channels)
		s.Channels = append(s.Channels, ch)
		s.Categories[ch.Category] = append(s.Categories[ch.Category], ch)
	}
	return &s
}

// Channel returns the channel with the given ID.
func (s *Snapshot) Channel(id int) (Channel, bool) {
	if s == nil || id < 0 || id >= len(s.Channels) {
		return Channel{}, false
	}
	return s.Channels[id], true
}

// Count returns the number of channels in the snapshot.
func (s *Snapshot) Count() int {
	if s == nil {
		return 0
	}
	return len(s.Channels)
}

// CategoryNames returns the category names in sorted order.
func (s *Snapshot) CategoryNames() []string {
	if s == nil {
		return nil
	}
	names := make([]string, 0, len(s.Categories))
	for name := range s.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Search returns channels whose name contains the query, case-insensitively.
// At most limit channels are returned; limit <= 0 means no cap.
func (s *Snapshot) Search(query string, limit int) []Channel {
	if s == nil {
		return nil
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	var results []Channel
	for _, ch := range s.Channels {
		if !strings.Contains(strings.ToLower(ch.Name), query) {
			continue
		}
		results = append(results, ch)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results
}
