// Package refresher keeps the channel store in sync with the upstream playlist.
package refresher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nybots/iptv-hub/internal/cache"
	"github.com/nybots/iptv-hub/internal/playlist"
)

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	Source() string
}

type dFetcher interface {
	Fetch(ctx context.Context, url string) (*playlist.Snapshot, error)
}

type dStore interface {
	Replace(ctx context.Context, snapshot *playlist.Snapshot) error
	Count(ctx context.Context) (int, error)
}

// SnapshotCache is the optional shared cache consulted before the first
// upstream fetch and updated after every successful one.
type SnapshotCache interface {
	Save(ctx context.Context, snapshot *playlist.Snapshot) error
	Load(ctx context.Context) (*playlist.Snapshot, error)
}

// Refresher periodically re-fetches the playlist and replaces the stored
// snapshot. A failed refresh keeps the previous snapshot in place.
type Refresher struct {
	cm      dConfigManager
	fetcher dFetcher
	store   dStore
	cache   SnapshotCache // may be nil

	interval time.Duration

	channelsGauge prometheus.Gauge
	refreshTotal  *prometheus.CounterVec
}

// New creates a refresher with the provided config manager, fetcher, store,
// optional cache, and Prometheus registerer.
func New(cm dConfigManager, fetcher dFetcher, store dStore, snapCache SnapshotCache, interval time.Duration, reg prometheus.Registerer) (*Refresher, error) {
	channelsGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playlist_channels_loaded",
		Help: "Number of channels in the currently served playlist snapshot.",
	})
	if err := reg.Register(channelsGauge); err != nil {
		return nil, fmt.Errorf("failed to register channels gauge: %v", err)
	}

	refreshTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playlist_refresh_total",
		Help: "Playlist refresh attempts by result.",
	}, []string{"result"})
	if err := reg.Register(refreshTotal); err != nil {
		return nil, fmt.Errorf("failed to register refresh counter: %v", err)
	}

	return &Refresher{
		cm:            cm,
		fetcher:       fetcher,
		store:         store,
		cache:         snapCache,
		interval:      interval,
		channelsGauge: channelsGauge,
		refreshTotal:  refreshTotal,
	}, nil
}

// Run keeps the store synchronized until the context is canceled.
//
// It primes the store (cache first, then upstream), then refreshes on every
// interval tick and whenever the dynamic configuration changes.
//
// Always returns a non-nil error, which is either a context error or a
// watcher error.
func (r *Refresher) Run(ctx context.Context) error {
	slog.Info("Playlist refresher started", "interval", r.interval)

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := r.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	if err := r.Prime(ctx); err != nil {
		slog.Warn("Initial playlist load failed, serving empty snapshot until next refresh", "err", err)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping refresher")
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				return fmt.Errorf("reloadEventCh closed unexpectedly")
			}
			slog.Info("Configuration changed, refreshing playlist")
			if err := r.Refresh(ctx); err != nil {
				slog.Error("Playlist refresh after config change failed", "err", err)
			}
			ticker.Reset(r.interval)

		case <-ticker.C:
			if err := r.Refresh(ctx); err != nil {
				slog.Error("Scheduled playlist refresh failed", "err", err)
			}

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				return fmt.Errorf("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				slog.Error("Configuration watcher error", "err", err)
			}
		}
	}
}

// Prime fills an empty store, preferring the snapshot cache over an upstream
// fetch.
func (r *Refresher) Prime(ctx context.Context) error {
	if count, err := r.store.Count(ctx); err == nil && count > 0 {
		slog.Info("Store already primed", "channels", count)
		r.channelsGauge.Set(float64(count))
		return nil
	}

	if r.cache != nil {
		snapshot, err := r.cache.Load(ctx)
		if err == nil && snapshot.Count() > 0 {
			if err := r.store.Replace(ctx, snapshot); err != nil {
				return fmt.Errorf("failed to store cached snapshot: %v", err)
			}
			slog.Info("Primed store from cache", "channels", snapshot.Count())
			r.channelsGauge.Set(float64(snapshot.Count()))
			return nil
		}
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			slog.Warn("Snapshot cache read failed", "err", err)
		}
	}

	return r.Refresh(ctx)
}

// Refresh fetches the playlist from the configured source and replaces the
// stored snapshot.
func (r *Refresher) Refresh(ctx context.Context) error {
	url := r.cm.Source()

	snapshot, err := r.fetcher.Fetch(ctx, url)
	if err != nil {
		r.refreshTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to fetch playlist: %w", err)
	}

	if err := r.store.Replace(ctx, snapshot); err != nil {
		r.refreshTotal.WithLabelValues("failure").Inc()
		return fmt.Errorf("failed to replace snapshot: %v", err)
	}

	if r.cache != nil {
		if err := r.cache.Save(ctx, snapshot); err != nil {
			slog.Warn("Snapshot cache write failed", "err", err)
		}
	}

	r.refreshTotal.WithLabelValues("success").Inc()
	r.channelsGauge.Set(float64(snapshot.Count()))
	slog.Info("Playlist refreshed", "channels", snapshot.Count())
	return nil
}
