// Command banter is the chat backend for a Twitch chat client.
// It:
//   - Loads configuration and initializes structured logging.
//   - Opens the credential store (Postgres with encrypted tokens, or memory).
//   - Starts the OAuth token refresher and loads chat badge metadata.
//   - Runs the chat supervisor and auto-joins TWITCH_CHANNEL when a session exists.
//   - Exposes the HTTP command surface, the event stream, /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/banter/chat"
	"github.com/onnwee/banter/config"
	"github.com/onnwee/banter/crypto"
	"github.com/onnwee/banter/db"
	"github.com/onnwee/banter/oauth"
	"github.com/onnwee/banter/server"
	"github.com/onnwee/banter/telemetry"
	"github.com/onnwee/banter/twitchapi"
)

const version = "1.0.0"

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		format = "text"
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", format))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()
	shutdownTracing, err := telemetry.InitTracing(context.Background(), telemetry.Tracing{
		ServiceName:    "banter",
		ServiceVersion: version,
		Endpoint:       cfg.OTLPEndpoint,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Error("tracing shutdown failed", slog.Any("err", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, database, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("credential store unavailable", slog.String("backend", cfg.CredentialStore), slog.Any("err", err))
		os.Exit(1)
	}
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
	}

	deps := server.Deps{
		Store:              store,
		Events:             server.NewBroker(0),
		APIToken:           cfg.APIToken,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		AuthRateLimit:      cfg.AuthRateLimit,
		AuthRateWindow:     cfg.AuthRateWindow,
	}
	if database != nil {
		deps.DB = database
	}

	var opts []chat.Option
	if err := cfg.ValidateOAuth(); err != nil {
		slog.Warn("twitch login disabled", slog.Any("err", err))
	} else {
		oc, err := twitchapi.NewOAuthClient(twitchapi.OAuthConfig{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			RedirectURI:  cfg.TwitchRedirectURI,
			Scopes:       twitchapi.ParseScopes(cfg.TwitchScopes),
		})
		if err != nil {
			slog.Error("oauth client", slog.Any("err", err))
			os.Exit(1)
		}
		deps.OAuth = oc
		opts = append(opts, chat.WithRefresh(oc.Refresh))
		oauth.StartRefresher(ctx, store, cfg.RefreshInterval, cfg.RefreshWindow, oc.Refresh)
	}

	// Badge metadata uses an app access token; chat itself needs the user's token.
	if ts, err := twitchapi.NewAppTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret, "", nil); err != nil {
		slog.Info("badge metadata disabled", slog.Any("err", err))
	} else {
		helix := &twitchapi.HelixClient{ClientID: cfg.TwitchClientID, Tokens: ts}
		deps.Users = helix
		deps.Badges = twitchapi.NewBadgeCache(helix)
		go loadBadges(ctx, helix, deps.Badges, cfg.TwitchChannel)
	}

	sup := chat.NewSupervisor(chat.Config{
		URL:              cfg.ChatURL,
		IdleTimeout:      cfg.ChatIdleTimeout,
		ReconnectBackoff: cfg.ChatReconnectBackoff,
		SendTimeout:      cfg.ChatSendTimeout,
		DisconnectGrace:  cfg.ChatDisconnectGrace,
		OutboundCapacity: cfg.ChatOutboundCapacity,
		MaxAuthFailures:  cfg.ChatMaxAuthFailures,
	}, store, chat.WSDialer{}, chat.EmitterFunc(func(e chat.Event) {
		if e.Type == chat.EventStatus {
			slog.Info("chat status", slog.Any("status", e.Payload))
		}
		deps.Events.Emit(e)
	}), opts...)
	deps.Chat = sup

	if cfg.TwitchChannel != "" {
		if err := sup.Connect(ctx, cfg.TwitchChannel); err != nil {
			slog.Warn("chat auto-connect skipped", slog.String("channel", cfg.TwitchChannel), slog.Any("err", err))
		} else {
			slog.Info("chat auto-connect", slog.String("channel", cfg.TwitchChannel))
		}
	}

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		if err := server.Start(ctx, cfg.HTTPAddr, server.NewMux(ctx, deps)); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ChatDisconnectGrace+5*time.Second)
	defer cancel()
	if err := sup.Close(closeCtx); err != nil {
		slog.Warn("chat did not stop in time", slog.Any("err", err))
	}
	<-serverDone
}

// openStore returns the configured credential store. The *sql.DB is nil for
// the memory backend.
func openStore(ctx context.Context, cfg *config.Config) (oauth.Store, *sql.DB, error) {
	if cfg.CredentialStore == config.StoreMemory {
		slog.Warn("using in-memory credential store; sessions are lost on restart")
		return oauth.NewMemoryStore(nil), nil, nil
	}
	var keys *crypto.Keyring
	if cfg.EncryptionKey != "" {
		var err error
		if keys, err = crypto.LoadKeyring(cfg.EncryptionKey, cfg.EncryptionKeysOld); err != nil {
			return nil, nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	database, err := db.Connect(connectCtx, cfg.DBDsn)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		_ = database.Close()
		return nil, nil, err
	}
	return db.NewCredentialStore(database, keys), database, nil
}

// loadBadges fills the badge cache for channel, or with global badges only.
// Failures are logged; POST /badges/reload retries.
func loadBadges(ctx context.Context, helix *twitchapi.HelixClient, cache *twitchapi.BadgeCache, channel string) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var broadcasterID string
	if login, err := chat.NormalizeChannel(channel); err == nil {
		id, err := helix.GetUserID(ctx, strings.TrimPrefix(login, "#"))
		if err != nil {
			slog.Warn("badge channel lookup failed", slog.String("channel", channel), slog.Any("err", err))
		} else {
			broadcasterID = id
		}
	}
	if err := cache.Load(ctx, broadcasterID); err != nil {
		slog.Warn("badge load failed", slog.Any("err", err))
		return
	}
	slog.Info("badges loaded", slog.Int("count", cache.Len()), slog.String("broadcaster_id", broadcasterID))
}
