package control

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
)

// HeaderWebhookSecret is set by Telegram when the webhook has a secret token.
const HeaderWebhookSecret = "X-Telegram-Bot-Api-Secret-Token"

// Notifier sends bot replies. *telegram.Client implements it.
type Notifier interface {
	SendText(chatID int64, text string) error
	SendPanelLink(chatID int64, text, button, url string) error
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	secret := s.deps.WebhookSecret
	got := r.Header.Get(HeaderWebhookSecret)
	if secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
		log.TelegramLogger().Warn("Webhook secret mismatch", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, failure(errutil.CodeUnauthorized, "invalid secret token"))
		return
	}

	var update tgbotapi.Update
	if err := decodeBody(r, &update); err != nil {
		writeError(w, err)
		return
	}

	s.dispatch(update)
	writeJSON(w, http.StatusOK, Response{Success: true})
}

func (s *Server) dispatch(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	chatID := msg.Chat.ID
	userID := msg.From.ID
	cmd := strings.ToLower(msg.Command())
	log.TelegramLogger().Info("Bot command received", "command", cmd, "user_id", userID, "chat_id", chatID)

	if err := s.deps.Gate.Require(userID); err != nil {
		s.reply(chatID, "⛔ You are not allowed to manage this group's permissions.")
		return
	}

	switch cmd {
	case "start", "settings":
		if s.deps.PanelURL == "" {
			s.reply(chatID, "The control panel address is not configured.")
			return
		}
		_ = errutil.HandleTelegramError("send_panel_link", func() error {
			return s.deps.Notifier.SendPanelLink(chatID, "Manage the group permissions:", "⚙️ Open settings", s.deps.PanelURL)
		})
	case "status":
		s.reply(chatID, statusText(s.deps.Reconciler.Store()))
	default:
		s.reply(chatID, "Unknown command. Use /settings or /status.")
	}
}

func (s *Server) reply(chatID int64, text string) {
	_ = errutil.HandleTelegramError("send_text", func() error {
		return s.deps.Notifier.SendText(chatID, text)
	})
}

func statusText(store *permissions.Store) string {
	set := store.Get()

	var b strings.Builder
	b.WriteString("Current permissions:\n")
	for _, k := range set.KeySet().Keys() {
		mark := "❌"
		if set.Get(k) {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s\n", mark, k.Label())
	}

	if last := store.LastSynced(); last.IsZero() {
		b.WriteString("Never synced with Telegram.")
	} else {
		fmt.Fprintf(&b, "Last synced %s.", humanize.Time(last))
	}
	return b.String()
}
