// Package store persists the current playlist snapshot and serves channel
// lookups for the web service and the bot.
package store

import (
	"context"
	"errors"

	"github.com/nybots/iptv-hub/internal/playlist"
)

// ErrChannelNotFound is returned when a channel ID is not part of the current snapshot.
var ErrChannelNotFound = errors.New("channel not found")

// Store is the channel storage used by both run modes.
//
// Replace swaps the entire playlist: readers must never observe a
// half-replaced snapshot.
type Store interface {
	Replace(ctx context.Context, snapshot *playlist.Snapshot) error
	Snapshot(ctx context.Context) (*playlist.Snapshot, error)
	Channel(ctx context.Context, id int) (playlist.Channel, error)
	Count(ctx context.Context) (int, error)
	Close() error
}
