// Package webapp authenticates control panel callers through the signed
// initData string Telegram hands to Mini Apps.
package webapp

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidInitData is matched by every validation failure.
	ErrInvalidInitData = errors.New("invalid init data")

	ErrMissingHash  = fmt.Errorf("%w: missing hash", ErrInvalidInitData)
	ErrHashMismatch = fmt.Errorf("%w: hash mismatch", ErrInvalidInitData)
	ErrExpired      = fmt.Errorf("%w: expired", ErrInvalidInitData)
	ErrNoUser       = fmt.Errorf("%w: no user", ErrInvalidInitData)
)

// Principal is the verified Telegram user behind a request.
type Principal struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// Validator checks initData signatures for one bot token.
type Validator struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewValidator returns a Validator. maxAge <= 0 disables the freshness check.
func NewValidator(botToken string, maxAge time.Duration) *Validator {
	return &Validator{
		secret: secretKey(botToken),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Validate verifies initData and returns the signing user.
func (v *Validator) Validate(initData string) (Principal, error) {
	values, err := url.ParseQuery(strings.TrimSpace(initData))
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	got := values.Get("hash")
	if got == "" {
		return Principal{}, ErrMissingHash
	}
	want := sign(v.secret, values)
	if !hmac.Equal([]byte(strings.ToLower(got)), []byte(want)) {
		return Principal{}, ErrHashMismatch
	}

	if v.maxAge > 0 {
		authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
		if err != nil {
			return Principal{}, fmt.Errorf("%w: auth_date: %v", ErrInvalidInitData, err)
		}
		if v.now().Sub(time.Unix(authDate, 0)) > v.maxAge {
			return Principal{}, ErrExpired
		}
	}

	raw := values.Get("user")
	if raw == "" {
		return Principal{}, ErrNoUser
	}
	var p Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Principal{}, fmt.Errorf("%w: user: %v", ErrInvalidInitData, err)
	}
	if p.ID == 0 {
		return Principal{}, ErrNoUser
	}
	return p, nil
}

// Sign returns values encoded as initData with a valid hash for botToken.
// Used by tests and local tooling.
func Sign(values url.Values, botToken string) string {
	out := url.Values{}
	for k, vs := range values {
		if k == "hash" {
			continue
		}
		out[k] = vs
	}
	out.Set("hash", sign(secretKey(botToken), out))
	return out.Encode()
}

func secretKey(botToken string) []byte {
	mac := hmac.New(sha256.New, []byte("WebAppData"))
	mac.Write([]byte(botToken))
	return mac.Sum(nil)
}

// sign computes the hex HMAC of the data-check-string: every field but hash,
// sorted by key, as key=value lines.
func sign(secret []byte, values url.Values) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, len(keys))
	for i, k := range keys {
		lines[i] = k + "=" + values.Get(k)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
