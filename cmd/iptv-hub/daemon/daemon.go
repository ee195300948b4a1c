// Package daemon provides the IPTV hub daemon, which runs either the web
// service or the Telegram bot depending on the bot-mode setting.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nybots/iptv-hub/internal/botservice"
	"github.com/nybots/iptv-hub/internal/cache"
	"github.com/nybots/iptv-hub/internal/cli"
	"github.com/nybots/iptv-hub/internal/config"
	"github.com/nybots/iptv-hub/internal/constants"
	"github.com/nybots/iptv-hub/internal/metricsserver"
	"github.com/nybots/iptv-hub/internal/playlist"
	"github.com/nybots/iptv-hub/internal/refresher"
	"github.com/nybots/iptv-hub/internal/store"
	"github.com/nybots/iptv-hub/internal/webservice"
)

// service is what both run modes provide.
type service interface {
	Run() error
	Quit(force bool)
}

// App represents the application.
type App struct {
	cmd    *cobra.Command
	viper  *viper.Viper
	config appConfig

	daemon service

	ready chan struct{}
}

// appConfig holds the configuration for the application.
type appConfig struct {
	Verbosity int
	JSONLogs  bool

	BotMode bool

	M3UURL    string
	BotToken  string
	AdminIDs  string
	WebAppURL string

	WebConfig     webservice.StaticConfig
	MetricsConfig metricsserver.Config
	DBConfig      store.Config
	RedisConfig   cache.Config

	RefreshInterval time.Duration
	FetchTimeout    time.Duration
	PollTimeout     time.Duration
	CacheTTL        time.Duration

	ConfigPath    string
	MigrationsDir string
}

// envAliases maps viper keys to the bare environment variables used by the
// container deployment, alongside the usual IPTV_HUB_* prefixed forms.
var envAliases = map[string]string{
	"webconfig.listenport": "PORT",
	"botmode":              "BOT_MODE",
	"m3uurl":               "M3U_URL",
	"bottoken":             "BOT_TOKEN",
	"adminids":             "ADMIN_IDS",
	"webappurl":            "WEB_APP_URL",
}

// New creates a new App instance with default values.
func New() (*App, error) {
	a := App{ready: make(chan struct{})}

	a.cmd = &cobra.Command{
		Use:           constants.CmdName,
		Short:         "IPTV hub web service and Telegram bot",
		Long:          "IPTV hub serves M3U playlists over an HTTP API with a web player, and over a Telegram bot with an inline web-app player.",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Command parsing has been successful. Returns to not print usage anymore.
			a.cmd.SilenceUsage = true
			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Set verbosity before loading config
			if err := cli.InitViperConfig(constants.CmdName, a.cmd, a.viper); err != nil {
				return err
			}
			for key, env := range envAliases {
				if err := a.viper.BindEnv(key, env); err != nil {
					return fmt.Errorf("could not bind environment variable %s: %w", env, err)
				}
			}
			if err := a.viper.Unmarshal(&a.config); err != nil {
				return fmt.Errorf("unable to strictly decode configuration into struct: %w", err)
			}
			slog.Info("got app config", "botMode", a.config.BotMode, "listenPort", a.config.WebConfig.ListenPort)

			cli.SetSlog(a.config.Verbosity, a.config.JSONLogs) // Update logging after loading config if necessary
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a.cmd.SilenceUsage = true

			return a.run()
		},
	}
	a.viper = viper.New()
	a.cmd.CompletionOptions.HiddenDefaultCmd = true

	installRootCmd(&a)
	installMigrateCmd(&a)
	cli.InstallConfigFlag(a.cmd)

	if err := a.viper.BindPFlags(a.cmd.PersistentFlags()); err != nil {
		return nil, err
	}

	a.installVersion()

	return &a, nil
}

func installRootCmd(app *App) {
	cmd := app.cmd

	cmd.PersistentFlags().CountVarP(&app.config.Verbosity, "verbose", "v", "issue INFO (-v), DEBUG (-vv)")
	cmd.PersistentFlags().BoolVar(&app.config.JSONLogs, "json-logs", false, "enable JSON formatted logs")

	// Daemon flags
	cmd.Flags().BoolVar(&app.config.BotMode, "bot-mode", false, "run the Telegram bot instead of the web service")
	cmd.Flags().StringVar(&app.config.M3UURL, "m3u-url", "", "fallback M3U playlist URL, used until the dynamic configuration provides one")
	cmd.Flags().StringVarP(&app.config.ConfigPath, "daemon-config", "c", "", "path to the dynamic configuration file")
	cmd.Flags().DurationVar(&app.config.RefreshInterval, "refresh-interval", constants.DefaultRefreshInterval, "how often the playlist is re-fetched from upstream")
	cmd.Flags().DurationVar(&app.config.FetchTimeout, "fetch-timeout", constants.DefaultFetchTimeout, "timeout for a single upstream playlist fetch")

	// Web service flags
	cmd.Flags().StringVar(&app.config.WebConfig.ListenHost, "listen-host", "", "host for the web service")
	cmd.Flags().IntVar(&app.config.WebConfig.ListenPort, "listen-port", constants.DefaultListenPort, "port for the web service")
	cmd.Flags().DurationVar(&app.config.WebConfig.ReadTimeout, "listen-read-timeout", 5*time.Second, "read timeout for the web service HTTP server")
	cmd.Flags().DurationVar(&app.config.WebConfig.WriteTimeout, "listen-write-timeout", 65*time.Second, "write timeout for the web service HTTP server")
	cmd.Flags().DurationVar(&app.config.WebConfig.RequestTimeout, "request-timeout", 60*time.Second, "timeout for a single request to the web service")
	cmd.Flags().IntVar(&app.config.WebConfig.MaxHeaderBytes, "max-header-bytes", 1<<13, "maximum header size of a request to the web service")
	cmd.Flags().IntVar(&app.config.WebConfig.MaxBodyBytes, "max-body-bytes", 1<<20, "maximum body size of a request to the web service")
	cmd.Flags().Float64Var(&app.config.WebConfig.ReloadRate, "reload-rate", 0.1, "reload requests allowed per second, per client IP")
	cmd.Flags().IntVar(&app.config.WebConfig.ReloadBurst, "reload-burst", 3, "burst of reload requests allowed per client IP")

	// Bot flags
	cmd.Flags().StringVar(&app.config.BotToken, "bot-token", "", "Telegram bot API token")
	cmd.Flags().StringVar(&app.config.AdminIDs, "admin-ids", "", "comma-separated Telegram user IDs with admin access")
	cmd.Flags().StringVar(&app.config.WebAppURL, "web-app-url", "", "public base URL of the web service, used for web-app player buttons")
	cmd.Flags().DurationVar(&app.config.PollTimeout, "poll-timeout", 10*time.Second, "long polling timeout for Telegram updates")

	// Metrics server flags
	cmd.Flags().DurationVar(&app.config.MetricsConfig.ReadTimeout, "read-timeout", 5*time.Second, "read timeout for the metrics HTTP server")
	cmd.Flags().DurationVar(&app.config.MetricsConfig.WriteTimeout, "write-timeout", 10*time.Second, "write timeout for the metrics HTTP server")
	cmd.Flags().StringVar(&app.config.MetricsConfig.Host, "metrics-host", "", "host for the metrics endpoint")
	cmd.Flags().IntVar(&app.config.MetricsConfig.Port, "metrics-port", constants.DefaultMetricsPort, "port for the metrics endpoint")

	// Cache flags
	cmd.Flags().StringVar(&app.config.RedisConfig.Addr, "redis-addr", "", "Redis address for the shared snapshot cache, disabled if empty")
	cmd.Flags().StringVar(&app.config.RedisConfig.Password, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&app.config.RedisConfig.DB, "redis-db", 0, "Redis database number")
	cmd.Flags().DurationVar(&app.config.CacheTTL, "cache-ttl", constants.DefaultCacheTTL, "how long a cached playlist snapshot stays valid")

	addDBFlags(cmd, &app.config.DBConfig)

	if err := cmd.MarkFlagFilename("daemon-config"); err != nil {
		panic(fmt.Sprintf("failed to mark daemon-config flag as filename: %v", err))
	}
}

func addDBFlags(cmd *cobra.Command, config *store.Config) {
	cmd.Flags().StringVar(&config.Host, "db-host", "", "database host, in-memory store is used if empty")
	cmd.Flags().IntVarP(&config.Port, "db-port", "p", 5432, "database port")
	cmd.Flags().StringVarP(&config.User, "db-user", "u", "", "database user")
	cmd.Flags().StringVarP(&config.Password, "db-password", "P", "", "database password")
	cmd.Flags().StringVarP(&config.DBName, "db-name", "n", "", "database name")
	cmd.Flags().StringVarP(&config.SSLMode, "db-sslmode", "s", "", "database SSL mode")
}

// Run executes the command and associated process, returning an error if any.
func (a App) Run() error {
	return a.cmd.Execute()
}

// UsageError returns if the error is a command parsing or runtime one.
func (a App) UsageError() bool {
	return !a.cmd.SilenceUsage
}

// Hup prints all goroutine stack traces and return false to signal you shouldn't quit.
func (a App) Hup() (shouldQuit bool) {
	buf := make([]byte, 1<<16)
	runtime.Stack(buf, true)
	fmt.Printf("%s", buf)
	return false
}

// Quit gracefully shuts down the daemon.
func (a *App) Quit() {
	a.WaitReady()
	if a.daemon != nil {
		a.daemon.Quit(false)
	}
}

// WaitReady waits for the daemon to be ready.
func (a *App) WaitReady() {
	<-a.ready
}

// RootCmd returns the root command.
func (a App) RootCmd() cobra.Command {
	return *a.cmd
}

func (a *App) run() (err error) {
	defer func() {
		// Unblock Quit on construction errors too.
		select {
		case <-a.ready:
		default:
			close(a.ready)
		}
	}()

	ctx := context.Background()

	if a.config.ConfigPath != "" {
		a.config.ConfigPath, err = filepath.Abs(a.config.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to get absolute path for config file: %v", err)
		}
	}
	cm := config.New(a.config.ConfigPath, a.config.M3UURL)
	if err := cm.Load(); err != nil {
		return fmt.Errorf("failed to load dynamic configuration: %v", err)
	}
	if cm.Source() == "" {
		// Start with an empty playlist: an admin can bootstrap the URL later
		// through the bot's admin panel or POST /api/reload.
		slog.Warn("No playlist source configured, starting with an empty playlist")
	}

	st, err := a.newStore(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cErr := st.Close(); cErr != nil {
			slog.Error("Error closing store", "err", cErr)
		}
	}()

	registry := prometheus.NewRegistry()

	var snapCache refresher.SnapshotCache
	if a.config.RedisConfig.Addr != "" {
		redisCache, err := cache.New(ctx, a.config.RedisConfig, cache.WithTTL(a.config.CacheTTL))
		if err != nil {
			return fmt.Errorf("failed to connect to Redis: %v", err)
		}
		defer func() {
			if cErr := redisCache.Close(); cErr != nil {
				slog.Error("Error closing snapshot cache", "err", cErr)
			}
		}()
		snapCache = redisCache
	}

	fetcher := playlist.NewFetcher(a.config.FetchTimeout)
	refr, err := refresher.New(cm, fetcher, st, snapCache, a.config.RefreshInterval, registry)
	if err != nil {
		return fmt.Errorf("failed to create playlist refresher: %v", err)
	}

	metricsServer := metricsserver.New(a.config.MetricsConfig, registry)

	if a.config.BotMode {
		adminIDs, err := parseAdminIDs(a.config.AdminIDs)
		if err != nil {
			return err
		}
		bot, err := botservice.NewBot(botservice.Config{
			Token:       a.config.BotToken,
			WebAppURL:   a.config.WebAppURL,
			AdminIDs:    adminIDs,
			PollTimeout: a.config.PollTimeout,
		}, st, refr, cm, registry)
		if err != nil {
			return fmt.Errorf("failed to create Telegram bot: %v", err)
		}

		a.daemon = botservice.New(ctx, bot, metricsServer, refr)
		close(a.ready)
		return a.daemon.Run()
	}

	web, err := webservice.New(ctx, st, refr, cm, metricsServer, registry, a.config.WebConfig)
	if err != nil {
		return fmt.Errorf("failed to create web service: %v", err)
	}

	a.daemon = web
	close(a.ready)
	return a.daemon.Run()
}

// newStore connects to PostgreSQL when a database host is configured, and
// falls back to the in-memory store otherwise.
func (a *App) newStore(ctx context.Context) (store.Store, error) {
	if a.config.DBConfig.Host == "" {
		slog.Info("No database configured, using in-memory store")
		return store.NewMemory(), nil
	}

	pg, err := store.NewPostgres(ctx, a.config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}
	return pg, nil
}

// parseAdminIDs parses a comma-separated list of Telegram user IDs.
func parseAdminIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid admin ID %q: %v", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
