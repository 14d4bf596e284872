package telegram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
)

const (
	DefaultTimeout = 10 * time.Second

	methodGetChat            = "getChat"
	methodSetChatPermissions = "setChatPermissions"
	methodSetWebhook         = "setWebhook"
)

// Client talks to the Bot API for one bot token. It owns no state besides
// the shared HTTP client; every call is an independent request.
type Client struct {
	bot  *tgbotapi.BotAPI
	keys permissions.KeySet
}

type options struct {
	endpoint   string
	httpClient *http.Client
	timeout    time.Duration
}

// Option customizes NewClient.
type Option func(*options)

// WithEndpoint overrides the Bot API endpoint format ("https://host/bot%s/%s").
func WithEndpoint(endpoint string) Option {
	return func(o *options) { o.endpoint = endpoint }
}

// WithHTTPClient replaces the HTTP client. Its Timeout is left untouched.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout sets the per-call timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// NewClient builds a Client without contacting Telegram. Fetched records are
// decoded over keys.
func NewClient(token string, keys permissions.KeySet, opts ...Option) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("bot token is empty")
	}
	if keys.Len() == 0 {
		return nil, fmt.Errorf("key set is empty")
	}

	o := options{endpoint: tgbotapi.APIEndpoint, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: o.timeout}
	}

	bot := &tgbotapi.BotAPI{
		Token:  token,
		Client: o.httpClient,
		Buffer: 100,
	}
	bot.SetAPIEndpoint(o.endpoint)

	return &Client{bot: bot, keys: keys}, nil
}

type chatInfo struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	Permissions map[string]bool `json:"permissions"`
}

// Fetch reads the chat's current member permissions.
func (c *Client) Fetch(chatID int64) (permissions.Remote, error) {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)

	resp, err := c.bot.MakeRequest(methodGetChat, params)
	if err != nil {
		return permissions.Remote{}, classify(methodGetChat, err)
	}

	var info chatInfo
	if err := json.Unmarshal(resp.Result, &info); err != nil {
		return permissions.Remote{}, &RemoteError{Kind: ErrRemoteUnavailable, Method: methodGetChat, Cause: fmt.Errorf("decode chat: %w", err)}
	}
	if info.Permissions == nil {
		return permissions.Remote{}, &RemoteError{Kind: ErrRemoteRejected, Method: methodGetChat, Description: "chat has no member permissions (not a group?)"}
	}

	remote := permissions.FromRemote(c.keys, info.Permissions)
	log.TelegramLogger().Debug("Fetched chat permissions", "chat_id", chatID, "permissions", remote.String(), "unreported", len(remote.Unreported()))
	return remote, nil
}

// Push asks Telegram to adopt the full record. setChatPermissions has no
// partial form, so every canonical key is always sent.
func (c *Client) Push(chatID int64, set permissions.Set) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	if err := params.AddInterface("permissions", set.Map()); err != nil {
		return fmt.Errorf("encode permissions: %w", err)
	}
	// Sets carrying the legacy media flag rely on Telegram's implied
	// permissions; otherwise every flag is applied independently.
	params["use_independent_chat_permissions"] = strconv.FormatBool(!set.KeySet().Contains(permissions.CanSendMediaMessages))

	if _, err := c.bot.MakeRequest(methodSetChatPermissions, params); err != nil {
		return classify(methodSetChatPermissions, err)
	}
	log.TelegramLogger().Info("Pushed chat permissions", "chat_id", chatID, "permissions", set.String())
	return nil
}

// Identity returns the bot account, mainly to validate the token at startup.
func (c *Client) Identity() (tgbotapi.User, error) {
	me, err := c.bot.GetMe()
	if err != nil {
		return tgbotapi.User{}, classify("getMe", err)
	}
	return me, nil
}

// RegisterWebhook points Telegram at url. An empty secret disables the
// secret-token header.
func (c *Client) RegisterWebhook(url, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)
	if err := params.AddInterface("allowed_updates", []string{"message"}); err != nil {
		return err
	}

	if _, err := c.bot.MakeRequest(methodSetWebhook, params); err != nil {
		return classify(methodSetWebhook, err)
	}
	log.TelegramLogger().Info("Webhook registered", "url", url)
	return nil
}

// SendText sends a plain message.
func (c *Client) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := c.bot.Send(msg); err != nil {
		return classify("sendMessage", err)
	}
	return nil
}

// SendPanelLink sends text with a single button opening the control panel.
func (c *Client) SendPanelLink(chatID int64, text, button, url string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonURL(button, url)),
	)
	if _, err := c.bot.Send(msg); err != nil {
		return classify("sendMessage", err)
	}
	return nil
}
