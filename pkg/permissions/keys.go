package permissions

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arbovm/levenshtein"
)

// ErrUnknownField is returned when a permission name is not part of the
// deployment's canonical key set.
var ErrUnknownField = errors.New("unknown permission field")

// Key identifies one Telegram ChatPermissions flag.
type Key uint8

const (
	CanSendMessages Key = iota
	CanSendMediaMessages
	CanSendAudios
	CanSendDocuments
	CanSendPhotos
	CanSendVideos
	CanSendVideoNotes
	CanSendVoiceNotes
	CanSendPolls
	CanSendOtherMessages
	CanAddWebPagePreviews
	CanChangeInfo
	CanInviteUsers
	CanPinMessages
	CanManageTopics

	keyCount
)

type keyInfo struct {
	name        string
	label       string
	description string
}

var keyTable = [keyCount]keyInfo{
	CanSendMessages:       {"can_send_messages", "Messages", "Members can send text messages"},
	CanSendMediaMessages:  {"can_send_media_messages", "Media", "All media types (legacy umbrella flag)"},
	CanSendAudios:         {"can_send_audios", "Audio", "Members can send audio files"},
	CanSendDocuments:      {"can_send_documents", "Documents", "Members can send documents"},
	CanSendPhotos:         {"can_send_photos", "Photos", "Members can send photos and images"},
	CanSendVideos:         {"can_send_videos", "Videos", "Members can send videos"},
	CanSendVideoNotes:     {"can_send_video_notes", "Video notes", "Members can send round video notes"},
	CanSendVoiceNotes:     {"can_send_voice_notes", "Voice notes", "Members can send voice messages"},
	CanSendPolls:          {"can_send_polls", "Polls", "Members can create polls and quizzes"},
	CanSendOtherMessages:  {"can_send_other_messages", "Stickers & GIFs", "Stickers, GIFs, games and inline bots"},
	CanAddWebPagePreviews: {"can_add_web_page_previews", "Link previews", "Members can attach web page previews"},
	CanChangeInfo:         {"can_change_info", "Change info", "Members can edit the chat title, photo and description"},
	CanInviteUsers:        {"can_invite_users", "Invite users", "Members can add new members"},
	CanPinMessages:        {"can_pin_messages", "Pin messages", "Members can pin messages"},
	CanManageTopics:       {"can_manage_topics", "Manage topics", "Members can create forum topics"},
}

// String returns the Bot API field name.
func (k Key) String() string {
	if k >= keyCount {
		return fmt.Sprintf("Key(%d)", uint8(k))
	}
	return keyTable[k].name
}

// Label is the short human-readable name shown in the control panel.
func (k Key) Label() string {
	if k >= keyCount {
		return k.String()
	}
	return keyTable[k].label
}

// Description is a one-line explanation of the flag.
func (k Key) Description() string {
	if k >= keyCount {
		return ""
	}
	return keyTable[k].description
}

func (k Key) valid() bool { return k < keyCount }

func (k Key) bit() uint32 { return 1 << uint32(k) }

// AllKeys returns every key this package knows about, in declaration order.
func AllKeys() []Key {
	out := make([]Key, 0, keyCount)
	for k := Key(0); k < keyCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKey maps a Bot API field name to its Key. Unknown names yield
// ErrUnknownField.
func ParseKey(name string) (Key, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for k := Key(0); k < keyCount; k++ {
		if keyTable[k].name == n {
			return k, nil
		}
	}
	return 0, unknownField(name, AllKeys())
}

// unknownField builds an ErrUnknownField wrapper, suggesting the closest
// candidate name when one is near enough to be a plausible typo.
func unknownField(name string, candidates []Key) error {
	if s, ok := suggest(name, candidates); ok {
		return fmt.Errorf("%w %q (did you mean %q?)", ErrUnknownField, name, s)
	}
	return fmt.Errorf("%w %q", ErrUnknownField, name)
}

func suggest(name string, candidates []Key) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return "", false
	}
	best, bestDist := "", -1
	for _, k := range candidates {
		d := levenshtein.Distance(n, k.String())
		if bestDist < 0 || d < bestDist {
			best, bestDist = k.String(), d
		}
	}
	// Beyond a third of the input length the match is noise.
	if bestDist < 0 || bestDist > len(n)/3 {
		return "", false
	}
	return best, true
}
