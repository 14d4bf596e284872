// Package config loads the deployment settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
	"github.com/small-frappuccino/tgperms/pkg/reconcile"
	"github.com/small-frappuccino/tgperms/pkg/util"
)

// Environment variable names.
const (
	EnvPrefix = "TGPERMS_"

	EnvBotToken        = EnvPrefix + "BOT_TOKEN"
	EnvChatID          = EnvPrefix + "CHAT_ID"
	EnvAllowedUserIDs  = EnvPrefix + "ALLOWED_USER_IDS"
	EnvListenAddr      = EnvPrefix + "LISTEN_ADDR"
	EnvPublicURL       = EnvPrefix + "PUBLIC_URL"
	EnvWebhookSecret   = EnvPrefix + "WEBHOOK_SECRET"
	EnvRegisterWebhook = EnvPrefix + "REGISTER_WEBHOOK"
	EnvKeySet          = EnvPrefix + "KEYSET"
	EnvVerify          = EnvPrefix + "VERIFY"
	EnvSettleDelay     = EnvPrefix + "SETTLE_DELAY"
	EnvVerifyAttempts  = EnvPrefix + "VERIFY_ATTEMPTS"
	EnvRequestTimeout  = EnvPrefix + "REQUEST_TIMEOUT"
	EnvInitDataMaxAge  = EnvPrefix + "INITDATA_MAX_AGE"
	EnvDebugUserID     = EnvPrefix + "DEBUG_USER_ID"
	EnvLogDir          = EnvPrefix + "LOG_DIR"
	EnvLogLevel        = EnvPrefix + "LOG_LEVEL"
	EnvFile            = EnvPrefix + "ENV_FILE"

	// EnvPort is honored for platforms that inject the listen port.
	EnvPort = "PORT"
)

const (
	defaultListenPort   = "5000"
	defaultSettleDelay  = time.Second
	defaultReqTimeout   = 10 * time.Second
	defaultInitDataLife = 24 * time.Hour
)

// Config is immutable after Load.
type Config struct {
	BotToken       string  `validate:"required"`
	ChatID         int64   `validate:"required,ne=0"`
	AllowedUserIDs []int64 `validate:"required,min=1,dive,ne=0"`

	ListenAddr      string `validate:"required"`
	PublicURL       string `validate:"omitempty,url"`
	WebhookSecret   string `validate:"omitempty,min=1,max=256"`
	RegisterWebhook bool

	KeySet permissions.KeySet `validate:"-"`

	Verify         bool
	SettleDelay    time.Duration `validate:"min=0"`
	VerifyAttempts int           `validate:"min=1,max=10"`
	RequestTimeout time.Duration `validate:"gt=0"`

	InitDataMaxAge time.Duration `validate:"min=0"`
	DebugUserID    int64

	LogDir   string
	LogLevel string `validate:"omitempty,oneof=debug info warn warning error"`
}

var validate = validator.New()

// Load reads the environment. Optional .env files (TGPERMS_ENV_FILE and
// $HOME/.local/bin/.env) fill variables that are not already set.
func Load() (Config, error) {
	for _, path := range []string{os.Getenv(EnvFile), util.LocalBinEnvPath()} {
		err := errutil.HandleConfigError("load", path, func() error {
			_, err := util.LoadEnvFiles(path)
			return err
		})
		if err != nil {
			return Config{}, err
		}
	}
	return FromEnv()
}

// FromEnv reads and validates the current environment without touching any
// .env file.
func FromEnv() (Config, error) {
	var errs []error

	cfg := Config{
		BotToken:        strings.TrimSpace(os.Getenv(EnvBotToken)),
		ListenAddr:      util.EnvString(EnvListenAddr, ":"+util.EnvString(EnvPort, defaultListenPort)),
		PublicURL:       strings.TrimRight(util.EnvString(EnvPublicURL, ""), "/"),
		WebhookSecret:   util.EnvString(EnvWebhookSecret, ""),
		RegisterWebhook: util.EnvBool(EnvRegisterWebhook),
		Verify:          util.EnvBoolDefault(EnvVerify, true),
		LogDir:          util.EnvString(EnvLogDir, ""),
		LogLevel:        strings.ToLower(util.EnvString(EnvLogLevel, "info")),
	}

	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	var attempts int64
	var err error
	cfg.ChatID, err = util.EnvInt64(EnvChatID, 0)
	collect(err)
	cfg.SettleDelay, err = util.EnvDuration(EnvSettleDelay, defaultSettleDelay)
	collect(err)
	attempts, err = util.EnvInt64(EnvVerifyAttempts, 1)
	collect(err)
	cfg.VerifyAttempts = int(attempts)
	cfg.RequestTimeout, err = util.EnvDuration(EnvRequestTimeout, defaultReqTimeout)
	collect(err)
	cfg.InitDataMaxAge, err = util.EnvDuration(EnvInitDataMaxAge, defaultInitDataLife)
	collect(err)
	cfg.DebugUserID, err = util.EnvInt64(EnvDebugUserID, 0)
	collect(err)

	ids, err := util.ParseInt64List(os.Getenv(EnvAllowedUserIDs))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvAllowedUserIDs, err))
	}
	cfg.AllowedUserIDs = ids

	if strings.EqualFold(cfg.LogDir, "auto") {
		cfg.LogDir = util.DefaultLogDir(util.DefaultAppName)
	}

	ks, err := permissions.ParseKeySet(os.Getenv(EnvKeySet))
	if err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", EnvKeySet, err))
	}
	cfg.KeySet = ks

	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}
	if c.RegisterWebhook && c.PublicURL == "" {
		return fmt.Errorf("config validation failed: %s requires %s", EnvRegisterWebhook, EnvPublicURL)
	}
	if c.RegisterWebhook && c.WebhookSecret == "" {
		return fmt.Errorf("config validation failed: %s requires %s", EnvRegisterWebhook, EnvWebhookSecret)
	}
	return nil
}

// Warnings lists settings that are valid but unsafe outside local testing.
func (c Config) Warnings() []string {
	var out []string
	if c.DebugUserID != 0 {
		out = append(out, fmt.Sprintf("%s is set: requests without initData act as user %d", EnvDebugUserID, c.DebugUserID))
	}
	if c.WebhookSecret == "" {
		out = append(out, fmt.Sprintf("%s is empty: the bot webhook is disabled", EnvWebhookSecret))
	}
	return out
}

// VerifyPolicy derives the reconciler's verification settings.
func (c Config) VerifyPolicy() reconcile.VerifyPolicy {
	return reconcile.VerifyPolicy{
		Enabled:     c.Verify,
		SettleDelay: c.SettleDelay,
		Attempts:    c.VerifyAttempts,
	}
}

// PanelURL is the public address of the settings page, empty when unknown.
func (c Config) PanelURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + "/settings"
}

// WebhookURL is where Telegram should deliver updates.
func (c Config) WebhookURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + "/webhook"
}

// Redacted is safe to log.
func (c Config) Redacted() map[string]any {
	return map[string]any{
		"chat_id":          c.ChatID,
		"allowed_users":    c.AllowedUserIDs,
		"listen_addr":      c.ListenAddr,
		"public_url":       c.PublicURL,
		"register_webhook": c.RegisterWebhook,
		"keyset":           c.KeySet.String(),
		"verify":           c.Verify,
		"settle_delay":     c.SettleDelay.String(),
		"verify_attempts":  c.VerifyAttempts,
		"request_timeout":  c.RequestTimeout.String(),
		"debug_user":       c.DebugUserID != 0,
	}
}
