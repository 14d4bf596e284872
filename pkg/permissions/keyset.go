package permissions

import (
	"fmt"
	"strings"
)

// KeySet is the canonical, ordered list of permission keys a deployment
// manages. The zero value is an empty set.
type KeySet struct {
	keys []Key
	mask uint32
}

var (
	// Reduced is the six-flag set used by the smallest deployments.
	Reduced = MustKeySet(
		CanSendMessages,
		CanSendMediaMessages,
		CanSendPolls,
		CanChangeInfo,
		CanInviteUsers,
		CanPinMessages,
	)

	// Extended is the eleven-flag set of the full control panel.
	Extended = MustKeySet(
		CanSendMessages,
		CanSendMediaMessages,
		CanSendPhotos,
		CanSendVideos,
		CanSendVideoNotes,
		CanSendVoiceNotes,
		CanSendPolls,
		CanSendOtherMessages,
		CanChangeInfo,
		CanInviteUsers,
		CanPinMessages,
	)
)

// NewKeySet builds a KeySet preserving the given order. Duplicate or invalid
// keys are rejected.
func NewKeySet(keys ...Key) (KeySet, error) {
	if len(keys) == 0 {
		return KeySet{}, fmt.Errorf("key set must not be empty")
	}
	ks := KeySet{keys: make([]Key, 0, len(keys))}
	for _, k := range keys {
		if !k.valid() {
			return KeySet{}, fmt.Errorf("invalid permission key %d", uint8(k))
		}
		if ks.mask&k.bit() != 0 {
			return KeySet{}, fmt.Errorf("duplicate permission key %s", k)
		}
		ks.mask |= k.bit()
		ks.keys = append(ks.keys, k)
	}
	return ks, nil
}

// MustKeySet is NewKeySet for package-level presets.
func MustKeySet(keys ...Key) KeySet {
	ks, err := NewKeySet(keys...)
	if err != nil {
		panic(err)
	}
	return ks
}

// ParseKeySet accepts "extended", "reduced" or a comma separated list of
// field names.
func ParseKeySet(raw string) (KeySet, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "extended":
		return Extended, nil
	case "reduced":
		return Reduced, nil
	}

	var keys []Key
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, err := ParseKey(part)
		if err != nil {
			return KeySet{}, err
		}
		keys = append(keys, k)
	}
	return NewKeySet(keys...)
}

// Keys returns a copy of the ordered key list.
func (ks KeySet) Keys() []Key {
	out := make([]Key, len(ks.keys))
	copy(out, ks.keys)
	return out
}

func (ks KeySet) Len() int { return len(ks.keys) }

func (ks KeySet) Contains(k Key) bool {
	return k.valid() && ks.mask&k.bit() != 0
}

// Equal reports whether both sets hold the same keys, ignoring order.
func (ks KeySet) Equal(other KeySet) bool { return ks.mask == other.mask }

// Lookup resolves an untyped field name against this set. Names that are
// valid Telegram fields but outside the set are unknown here too.
func (ks KeySet) Lookup(name string) (Key, error) {
	k, err := ParseKey(name)
	if err != nil || !ks.Contains(k) {
		return 0, unknownField(name, ks.keys)
	}
	return k, nil
}

func (ks KeySet) String() string {
	names := make([]string, len(ks.keys))
	for i, k := range ks.keys {
		names[i] = k.String()
	}
	return strings.Join(names, ",")
}
