package control

import (
	"context"
	"net/http"
	"strings"

	"github.com/small-frappuccino/tgperms/pkg/errutil"
	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/webapp"
)

// HeaderInitData carries Telegram.WebApp.initData from the panel page.
const HeaderInitData = "X-Telegram-Init-Data"

type principalKey struct{}

// PrincipalFrom returns the caller stored by the auth middleware.
func PrincipalFrom(ctx context.Context) (webapp.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(webapp.Principal)
	return p, ok
}

func initDataFrom(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderInitData)); v != "" {
		return v
	}
	if v := strings.TrimSpace(r.Header.Get("Authorization")); len(v) > 4 && strings.EqualFold(v[:4], "tma ") {
		return strings.TrimSpace(v[4:])
	}
	return strings.TrimSpace(r.URL.Query().Get("initData"))
}

// authenticate resolves the caller and runs the access gate before any
// handler can read or change settings. Denied requests never see settings.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := s.principal(r)
		if err != nil {
			log.ApplicationLogger().Info("Control request rejected", "path", r.URL.Path, "err", err)
			writeJSON(w, http.StatusUnauthorized, failure(errutil.CodeUnauthorized, "authentication required"))
			return
		}

		if err := s.deps.Gate.Require(p.ID); err != nil {
			log.ApplicationLogger().Warn("Control request denied", "path", r.URL.Path, "user_id", p.ID, "username", p.Username)
			writeJSON(w, http.StatusForbidden, failure(errutil.CodeUnauthorized, "access denied"))
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func (s *Server) principal(r *http.Request) (webapp.Principal, error) {
	raw := initDataFrom(r)
	if raw == "" && s.deps.DebugUserID != 0 {
		return webapp.Principal{ID: s.deps.DebugUserID, FirstName: "debug"}, nil
	}
	if raw == "" || s.deps.Validator == nil {
		return webapp.Principal{}, webapp.ErrMissingHash
	}
	return s.deps.Validator.Validate(raw)
}
