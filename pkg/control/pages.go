package control

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/small-frappuccino/tgperms/pkg/log"
	"github.com/small-frappuccino/tgperms/pkg/permissions"
)

//go:embed templates/*.html
var templateFS embed.FS

type pages struct {
	index    *template.Template
	settings *template.Template
}

func mustLoadPages() *pages {
	return &pages{
		index:    template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/index.html")),
		settings: template.Must(template.ParseFS(templateFS, "templates/layout.html", "templates/settings.html")),
	}
}

type toggle struct {
	Name        string
	Label       string
	Description string
}

type toggleGroup struct {
	Title   string
	Toggles []toggle
}

var groupOrder = []string{"Messages", "Media", "Group management"}

func groupOf(k permissions.Key) string {
	switch k {
	case permissions.CanSendMediaMessages,
		permissions.CanSendAudios,
		permissions.CanSendDocuments,
		permissions.CanSendPhotos,
		permissions.CanSendVideos,
		permissions.CanSendVideoNotes,
		permissions.CanSendVoiceNotes:
		return "Media"
	case permissions.CanChangeInfo,
		permissions.CanInviteUsers,
		permissions.CanPinMessages,
		permissions.CanManageTopics:
		return "Group management"
	default:
		return "Messages"
	}
}

// toggleGroups lays out the managed keys. Values are not rendered: the page
// loads them through the gated API.
func toggleGroups(ks permissions.KeySet) []toggleGroup {
	byTitle := make(map[string][]toggle, len(groupOrder))
	for _, k := range ks.Keys() {
		g := groupOf(k)
		byTitle[g] = append(byTitle[g], toggle{Name: k.String(), Label: k.Label(), Description: k.Description()})
	}

	out := make([]toggleGroup, 0, len(groupOrder))
	for _, title := range groupOrder {
		if len(byTitle[title]) > 0 {
			out = append(out, toggleGroup{Title: title, Toggles: byTitle[title]})
		}
	}
	return out
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.pages.index, map[string]any{"Title": "Group permissions"})
}

func (s *Server) handleSettingsPage(w http.ResponseWriter, r *http.Request) {
	s.render(w, s.pages.settings, map[string]any{
		"Title":  "Group permissions",
		"Groups": toggleGroups(s.deps.Reconciler.Store().KeySet()),
	})
}

func (s *Server) render(w http.ResponseWriter, t *template.Template, data any) {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.ApplicationLogger().Error("Failed to render page", "template", t.Name(), "err", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}
