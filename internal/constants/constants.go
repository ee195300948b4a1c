// Package constants is responsible for defining the constants used in the application.
package constants

import (
	"log/slog"
	"time"
)

var (
	// Version is the version of the application.
	Version = "Dev"
)

const (
	// CmdName is the name of the iptv-hub command.
	CmdName = "iptv-hub"

	// DefaultLogLevel is the default log level of the application.
	DefaultLogLevel = slog.LevelWarn

	// DefaultListenPort is the port the web service listens on.
	DefaultListenPort = 5000

	// DefaultMetricsPort is the port the Prometheus metrics server listens on.
	DefaultMetricsPort = 10000

	// DefaultRefreshInterval is how often the playlist is re-fetched from upstream.
	DefaultRefreshInterval = time.Hour

	// DefaultFetchTimeout is the timeout for a single upstream playlist fetch.
	DefaultFetchTimeout = 30 * time.Second

	// DefaultCacheTTL is how long a cached playlist snapshot stays valid.
	DefaultCacheTTL = time.Hour

	// DefaultCategory is assigned to channels without a group-title attribute.
	DefaultCategory = "Uncategorized"
)
