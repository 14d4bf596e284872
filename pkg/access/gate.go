// Package access decides which Telegram users may manage the chat.
package access

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnauthorized is returned for principals outside the allow-list.
var ErrUnauthorized = errors.New("unauthorized")

// Decision is the outcome of a Gate check.
type Decision bool

const (
	Denied  Decision = false
	Allowed Decision = true
)

func (d Decision) String() string {
	if d {
		return "allowed"
	}
	return "denied"
}

// Gate is a static allow-list of Telegram user IDs. An empty Gate denies
// everyone.
type Gate struct {
	allowed map[int64]struct{}
}

// NewGate builds a Gate. Zero IDs are ignored since Telegram never issues them.
func NewGate(ids ...int64) *Gate {
	g := &Gate{allowed: make(map[int64]struct{}, len(ids))}
	for _, id := range ids {
		if id == 0 {
			continue
		}
		g.allowed[id] = struct{}{}
	}
	return g
}

// Check reports whether id may read or change settings.
func (g *Gate) Check(id int64) Decision {
	if g == nil || len(g.allowed) == 0 {
		return Denied
	}
	_, ok := g.allowed[id]
	return Decision(ok)
}

// Require is Check as an error, wrapping ErrUnauthorized.
func (g *Gate) Require(id int64) error {
	if g.Check(id) == Denied {
		return fmt.Errorf("%w: user %d", ErrUnauthorized, id)
	}
	return nil
}

// IDs returns the allow-list in ascending order.
func (g *Gate) IDs() []int64 {
	if g == nil {
		return nil
	}
	out := make([]int64, 0, len(g.allowed))
	for id := range g.allowed {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
