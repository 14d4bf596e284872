package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/small-frappuccino/tgperms/pkg/access"
	"github.com/small-frappuccino/tgperms/pkg/config"
	"github.com/small-frappuccino/tgperms/pkg/control"
	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
	"github.com/small-frappuccino/tgperms/pkg/reconcile"
	"github.com/small-frappuccino/tgperms/pkg/telegram"
	"github.com/small-frappuccino/tgperms/pkg/util"
	"github.com/small-frappuccino/tgperms/pkg/webapp"
)

// App is one wired control panel instance.
type App struct {
	cfg        config.Config
	client     *telegram.Client
	store      *permissions.Store
	reconciler *reconcile.Reconciler
	server     *control.Server
}

// New wires the components for cfg without touching the network.
func New(cfg config.Config, clientOpts ...telegram.Option) (*App, error) {
	opts := append([]telegram.Option{telegram.WithTimeout(cfg.RequestTimeout)}, clientOpts...)
	client, err := telegram.NewClient(cfg.BotToken, cfg.KeySet, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram client: %w", err)
	}

	store := permissions.NewStore(permissions.Defaults(cfg.KeySet))
	rec := reconcile.New(store, client, cfg.ChatID, reconcile.WithVerifyPolicy(cfg.VerifyPolicy()))

	server := control.NewServer(cfg.ListenAddr, control.Deps{
		Reconciler:       rec,
		Gate:             access.NewGate(cfg.AllowedUserIDs...),
		Validator:        webapp.NewValidator(cfg.BotToken, cfg.InitDataMaxAge),
		Notifier:         client,
		PanelURL:         cfg.PanelURL(),
		WebhookSecret:    cfg.WebhookSecret,
		DebugUserID:      cfg.DebugUserID,
		OperationTimeout: operationTimeout(cfg),
	})
	if server == nil {
		return nil, fmt.Errorf("control server requires a listen address")
	}

	return &App{cfg: cfg, client: client, store: store, reconciler: rec, server: server}, nil
}

// operationTimeout covers one push plus every verification fetch.
func operationTimeout(cfg config.Config) time.Duration {
	attempts := time.Duration(cfg.VerifyAttempts)
	if attempts < 1 {
		attempts = 1
	}
	return cfg.RequestTimeout + attempts*(cfg.SettleDelay+cfg.RequestTimeout)
}

// Start checks the token, pulls the initial record, optionally registers
// the webhook and opens the control server. A failed initial sync is not
// fatal: the panel serves defaults until the next successful sync.
func (a *App) Start(ctx context.Context) error {
	me, err := a.client.Identity()
	if err != nil {
		errutil.Report("app", "get_me", err)
		return fmt.Errorf("authenticate bot: %w", err)
	}
	log.TelegramLogger().Info(fmt.Sprintf("✅ Authenticated as @%s", me.UserName), "bot_id", me.ID)

	syncCtx, cancel := context.WithTimeout(ctx, operationTimeout(a.cfg))
	out := a.reconciler.Sync(syncCtx)
	cancel()
	if out.Success() {
		log.ApplicationLogger().Info("🔄 Initial sync completed", "chat_id", a.cfg.ChatID, "settings", out.Settings.String())
	} else {
		log.ApplicationLogger().Warn("Initial sync failed; serving defaults until the next sync", "chat_id", a.cfg.ChatID, "code", string(out.Code))
	}

	if a.cfg.RegisterWebhook {
		err := errutil.HandleTelegramError("register_webhook", func() error {
			return a.client.RegisterWebhook(a.cfg.WebhookURL(), a.cfg.WebhookSecret)
		})
		if err != nil {
			log.ApplicationLogger().Warn("Webhook registration failed; bot commands are unavailable", "err", err)
		}
	}

	return a.server.Start()
}

// Stop shuts the control server down.
func (a *App) Stop(ctx context.Context) error {
	return a.server.Stop(ctx)
}

// Addr is the control server's bound address.
func (a *App) Addr() string { return a.server.Addr() }

// Store exposes the settings store.
func (a *App) Store() *permissions.Store { return a.store }

// Run loads the configuration, starts the panel and blocks until SIGINT or
// SIGTERM.
func Run(appName string) error {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Logger first so subsequent steps can log meaningfully
	if err := log.SetupLogger(log.Options{Dir: cfg.LogDir, Level: cfg.LogLevel}); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer log.GlobalLogger.Close()

	if err := tgbotapi.SetLogger(slog.NewLogLogger(log.TelegramLogger().Handler(), slog.LevelDebug)); err != nil {
		log.ApplicationLogger().Warn("Failed to route Bot API library logs", "err", err)
	}

	log.ApplicationLogger().Info(formatStartupMessage(appName, Version))
	log.ApplicationLogger().Info("Configuration loaded", attrs(cfg.Redacted())...)
	for _, w := range cfg.Warnings() {
		log.ApplicationLogger().Warn("⚠️ " + w)
	}

	a, err := New(cfg)
	if err != nil {
		return err
	}
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🎯 %s initialized successfully in %s", appName, time.Since(started).Round(time.Millisecond)))
	if url := cfg.PanelURL(); url != "" {
		log.ApplicationLogger().Info("⚙️ Control panel available", "url", url)
	}
	log.ApplicationLogger().Info(fmt.Sprintf("🤖 %s running. Press Ctrl+C to stop...", appName))

	util.WaitForInterrupt()
	log.ApplicationLogger().Info(fmt.Sprintf("🛑 Stopping %s...", appName))

	shutdownCtx, shutdownCancel := context.WithTimeoutCause(context.Background(), 30*time.Second, fmt.Errorf("application shutdown"))
	defer shutdownCancel()

	if err := a.Stop(shutdownCtx); err != nil {
		log.ErrorLoggerRaw().Error("Control server failed to stop cleanly", "err", err)
	}
	return nil
}

// attrs flattens m into sorted slog key/value pairs.
func attrs(m map[string]any) []any {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		out = append(out, k, m[k])
	}
	return out
}
