package telegram

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/small-frappuccino/tgperms/pkg/permissions"
)

const testToken = "123:abc"

// fakeBotAPI is a minimal in-memory Bot API speaking the form-encoded
// requests the client sends. With dropLegacy it behaves like current Bot API
// versions and never stores can_send_media_messages.
type fakeBotAPI struct {
	mu         sync.Mutex
	perms      map[string]bool
	dropLegacy bool
	reject     string
	calls    []string
	lastForm map[string]string
}

func (f *fakeBotAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	prefix := "/bot" + testToken + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	method := strings.TrimPrefix(r.URL.Path, prefix)
	_ = r.ParseForm()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, method)
	f.lastForm = map[string]string{}
	for k := range r.PostForm {
		f.lastForm[k] = r.PostForm.Get(k)
	}

	if f.reject != "" {
		writeJSON(w, map[string]any{"ok": false, "error_code": 400, "description": f.reject})
		return
	}

	switch method {
	case "getMe":
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"id": 1, "is_bot": true, "first_name": "Perms", "username": "perms_bot"}})
	case "getChat":
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"id": -100, "type": "supergroup", "title": "Group", "permissions": f.perms}})
	case "setChatPermissions":
		var next map[string]bool
		if err := json.Unmarshal([]byte(r.PostForm.Get("permissions")), &next); err != nil {
			writeJSON(w, map[string]any{"ok": false, "error_code": 400, "description": "Bad Request: can't parse permissions"})
			return
		}
		if f.dropLegacy {
			delete(next, "can_send_media_messages")
		}
		f.perms = next
		writeJSON(w, map[string]any{"ok": true, "result": true})
	case "setWebhook":
		writeJSON(w, map[string]any{"ok": true, "result": true})
	case "sendMessage":
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"message_id": 7, "date": 0, "chat": map[string]any{"id": 5, "type": "private"}}})
	default:
		writeJSON(w, map[string]any{"ok": false, "error_code": 404, "description": "Not Found"})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, api http.Handler, keys permissions.KeySet) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)

	c, err := NewClient(testToken, keys, WithEndpoint(srv.URL+"/bot%s/%s"))
	require.NoError(t, err)
	return c, srv
}

func TestNewClientValidates(t *testing.T) {
	_, err := NewClient(" ", permissions.Extended)
	require.Error(t, err)

	_, err = NewClient(testToken, permissions.KeySet{})
	require.Error(t, err)
}

func TestFetchDecodesPermissions(t *testing.T) {
	api := &fakeBotAPI{perms: map[string]bool{"can_send_messages": true, "can_pin_messages": false, "can_manage_topics": true}}
	ks := permissions.MustKeySet(permissions.CanSendMessages, permissions.CanPinMessages)
	c, _ := newTestClient(t, api, ks)

	set, err := c.Fetch(-100)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"can_send_messages": true, "can_pin_messages": false}, set.Map())
	assert.Equal(t, "-100", api.lastForm["chat_id"])
}

func TestPushSendsFullRecord(t *testing.T) {
	api := &fakeBotAPI{perms: map[string]bool{}}
	c, _ := newTestClient(t, api, permissions.Extended)

	set := permissions.Defaults(permissions.Extended)
	require.NoError(t, c.Push(-100, set))

	assert.Len(t, api.perms, permissions.Extended.Len())
	assert.Equal(t, set.Map(), api.perms)
	assert.Equal(t, "false", api.lastForm["use_independent_chat_permissions"])
}

func TestPushThenFetchRoundTrips(t *testing.T) {
	api := &fakeBotAPI{perms: map[string]bool{}}
	c, _ := newTestClient(t, api, permissions.Reduced)

	set, _ := permissions.Defaults(permissions.Reduced).With(permissions.CanPinMessages, true)
	require.NoError(t, c.Push(-100, set))

	got, err := c.Fetch(-100)
	require.NoError(t, err)
	assert.True(t, set.Equal(got.Set), "pushed %s fetched %s", set, got)
}

func TestFetchMarksMissingLegacyMediaUnreported(t *testing.T) {
	api := &fakeBotAPI{perms: map[string]bool{}, dropLegacy: true}
	c, _ := newTestClient(t, api, permissions.Extended)

	pushed := permissions.Defaults(permissions.Extended)
	require.NoError(t, c.Push(-100, pushed))
	assert.NotContains(t, api.perms, "can_send_media_messages")

	got, err := c.Fetch(-100)
	require.NoError(t, err)
	assert.Equal(t, []permissions.Key{permissions.CanSendMediaMessages}, got.Unreported())
	assert.False(t, got.Get(permissions.CanSendMediaMessages), "audios and documents are not managed")
	assert.True(t, pushed.Equal(got.Over(pushed)))
}

func TestRejectedCallsAreClassified(t *testing.T) {
	api := &fakeBotAPI{reject: "Bad Request: not enough rights to change chat permissions"}
	c, _ := newTestClient(t, api, permissions.Reduced)

	err := c.Push(-100, permissions.Defaults(permissions.Reduced))
	require.ErrorIs(t, err, ErrRemoteRejected)
	require.NotErrorIs(t, err, ErrRemoteUnavailable)

	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, 400, remote.Code)
	assert.Contains(t, remote.Description, "not enough rights")
	assert.Equal(t, "setChatPermissions", remote.Method)
}

func TestServerErrorsAreUnavailable(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": false, "error_code": 502, "description": "Bad Gateway"})
	})
	c, _ := newTestClient(t, api, permissions.Reduced)

	_, err := c.Fetch(-100)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestNonJSONReplyIsUnavailable(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "<html>bad gateway</html>")
	})
	c, _ := newTestClient(t, api, permissions.Reduced)

	_, err := c.Fetch(-100)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	api := &fakeBotAPI{}
	c, srv := newTestClient(t, api, permissions.Reduced)
	srv.Close()

	err := c.Push(-100, permissions.Defaults(permissions.Reduced))
	require.ErrorIs(t, err, ErrRemoteUnavailable)
}

func TestFetchWithoutPermissionsIsRejected(t *testing.T) {
	api := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true, "result": map[string]any{"id": 5, "type": "private"}})
	})
	c, _ := newTestClient(t, api, permissions.Reduced)

	_, err := c.Fetch(5)
	require.ErrorIs(t, err, ErrRemoteRejected)
}

func TestIdentityWebhookAndMessages(t *testing.T) {
	api := &fakeBotAPI{}
	c, _ := newTestClient(t, api, permissions.Reduced)

	me, err := c.Identity()
	require.NoError(t, err)
	assert.Equal(t, "perms_bot", me.UserName)

	require.NoError(t, c.RegisterWebhook("https://example.org/webhook", "s3cret"))
	assert.Equal(t, "s3cret", api.lastForm["secret_token"])
	assert.Equal(t, "https://example.org/webhook", api.lastForm["url"])

	require.NoError(t, c.SendPanelLink(5, "Open the panel", "Settings", "https://example.org/settings"))
	assert.Contains(t, api.lastForm["reply_markup"], "https://example.org/settings")

	require.NoError(t, c.SendText(5, "hi"))
	assert.Equal(t, []string{"getMe", "setWebhook", "sendMessage", "sendMessage"}, api.calls)
}
