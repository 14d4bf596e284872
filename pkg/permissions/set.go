package permissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrIncomplete is returned when a strict decode is missing canonical keys.
var ErrIncomplete = errors.New("incomplete permission set")

// Set is an immutable permission record: one boolean for every key of its
// KeySet. Mutating helpers return a new Set.
type Set struct {
	keys KeySet
	bits uint32
}

// NewSet returns a Set over ks with every key set to false.
func NewSet(ks KeySet) Set { return Set{keys: ks} }

// Defaults is the record used before the first successful sync: everything
// allowed except editing chat info and pinning.
func Defaults(ks KeySet) Set {
	s := NewSet(ks)
	for _, k := range ks.keys {
		if k == CanChangeInfo || k == CanPinMessages {
			continue
		}
		s.bits |= k.bit()
	}
	return s
}

// KeySet returns the canonical set this record is defined over.
func (s Set) KeySet() KeySet { return s.keys }

// Get reports the value of k. Keys outside the set read as false.
func (s Set) Get(k Key) bool {
	return s.keys.Contains(k) && s.bits&k.bit() != 0
}

// With returns a copy of s with k set to v.
func (s Set) With(k Key, v bool) (Set, error) {
	if !s.keys.Contains(k) {
		return s, unknownField(k.String(), s.keys.keys)
	}
	if v {
		s.bits |= k.bit()
	} else {
		s.bits &^= k.bit()
	}
	return s, nil
}

// Equal compares key sets and values.
func (s Set) Equal(other Set) bool {
	return s.keys.Equal(other.keys) && s.bits == other.bits
}

// Diff lists the keys of s whose value differs in other, in s's key order.
func (s Set) Diff(other Set) []Key {
	var out []Key
	for _, k := range s.keys.keys {
		if s.Get(k) != other.Get(k) {
			out = append(out, k)
		}
	}
	return out
}

// Map returns the wire form, always containing every canonical key.
func (s Set) Map() map[string]bool {
	m := make(map[string]bool, len(s.keys.keys))
	for _, k := range s.keys.keys {
		m[k.String()] = s.Get(k)
	}
	return m
}

// FromMap decodes a wire map strictly: every key of ks must be present and
// no other key is accepted.
func FromMap(ks KeySet, m map[string]bool) (Set, error) {
	s := NewSet(ks)
	seen := uint32(0)
	for name, v := range m {
		k, err := ks.Lookup(name)
		if err != nil {
			return Set{}, err
		}
		seen |= k.bit()
		s, _ = s.With(k, v)
	}
	if seen != ks.mask {
		return Set{}, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing(ks, seen), ", "))
	}
	return s, nil
}

// Remote is a record as returned by the Bot API, together with the keys
// the API did not report at all.
type Remote struct {
	Set
	unreported uint32
}

// Reported wraps a record whose every key was reported.
func Reported(s Set) Remote { return Remote{Set: s} }

// IsReported reports whether the API returned a value for k.
func (r Remote) IsReported(k Key) bool { return r.unreported&k.bit() == 0 }

// Unreported lists the keys the API left out, in key order.
func (r Remote) Unreported() []Key {
	var out []Key
	for _, k := range r.keys.keys {
		if !r.IsReported(k) {
			out = append(out, k)
		}
	}
	return out
}

// Over returns the remote record with every unreported key taken from base.
// A base over a different key set is ignored.
func (r Remote) Over(base Set) Set {
	if r.unreported == 0 || !r.keys.Equal(base.keys) {
		return r.Set
	}
	s := r.Set
	s.bits = s.bits&^r.unreported | base.bits&r.unreported
	return s
}

// FromRemote decodes a record returned by the Bot API. Telegram omits
// optional booleans that are false, so absent keys read as false, and fields
// outside ks are ignored. Newer Bot API versions no longer report the legacy
// can_send_media_messages flag; when it is absent it is marked unreported and
// its value is derived from the per-type media flags.
func FromRemote(ks KeySet, m map[string]bool) Remote {
	r := Remote{Set: NewSet(ks)}
	for _, k := range ks.keys {
		v, ok := m[k.String()]
		if !ok && k == CanSendMediaMessages {
			r.unreported |= k.bit()
			v = allMedia(m)
		}
		if v {
			r.bits |= k.bit()
		}
	}
	return r
}

var mediaKeys = []Key{CanSendAudios, CanSendDocuments, CanSendPhotos, CanSendVideos, CanSendVideoNotes, CanSendVoiceNotes}

func allMedia(m map[string]bool) bool {
	for _, k := range mediaKeys {
		if !m[k.String()] {
			return false
		}
	}
	return true
}

func missing(ks KeySet, seen uint32) []string {
	var out []string
	for _, k := range ks.keys {
		if seen&k.bit() == 0 {
			out = append(out, k.String())
		}
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the full wire map.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

func (s Set) String() string {
	parts := make([]string, 0, len(s.keys.keys))
	for _, k := range s.keys.keys {
		parts = append(parts, fmt.Sprintf("%s=%t", k, s.Get(k)))
	}
	return "{" + strings.Join(parts, " ") + "}"
}
