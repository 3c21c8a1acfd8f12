// Package client defines the identity of a connected endpoint: a named
// player or an anonymous viewer.
package client

import (
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
)

// ViewerName is the reserved name a client sends to join as a spectator.
const ViewerName = "@viewer"

var validPlayerName = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Kind discriminates Name variants.
type Kind int

const (
	Player Kind = iota
	Viewer
)

// Name identifies one connected endpoint. It is immutable, comparable and
// used as the map key throughout the room layer. Players render as their raw
// name, viewers as "@viewer:<id>".
type Name struct {
	kind Kind
	name string
}

// ViewerSequence hands out synthetic viewer ids. The server owns one
// instance and threads it into name parsing.
type ViewerSequence struct {
	counter atomic.Int64
}

func (s *ViewerSequence) next() string {
	return strconv.FormatInt(s.counter.Add(1)-1, 10)
}

// ParseName validates a raw client-supplied name. The reserved name
// "@viewer" yields a fresh viewer identity from seq.
func ParseName(raw string, seq *ViewerSequence, maxLen int) (Name, error) {
	if maxLen > 0 && len(raw) > maxLen {
		return Name{}, fmt.Errorf("client name is too long: %d > %d", len(raw), maxLen)
	}
	if validPlayerName.MatchString(raw) {
		return Name{kind: Player, name: raw}, nil
	}
	if raw == ViewerName {
		return Name{kind: Viewer, name: seq.next()}, nil
	}
	return Name{}, fmt.Errorf("invalid client name: %q", raw)
}

// IsPlayer reports whether the name identifies a player.
func (n Name) IsPlayer() bool { return n.kind == Player }

func (n Name) String() string {
	if n.kind == Viewer {
		return ViewerName + ":" + n.name
	}
	return n.name
}
