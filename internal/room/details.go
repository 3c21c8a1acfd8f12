package room

import (
	"time"
	"unicode"

	"github.com/snake-arena/server/internal/game"
	"github.com/snake-arena/server/internal/proto"
)

// Details is the mutable per-room record. The internal id is stable; the
// display name may change via rename. Guarded by the manager's lock.
type Details struct {
	ID          string
	Name        string
	Admins      map[string]struct{}
	MinPlayers  int
	MaxPlayers  int
	SnakeLen    int
	FieldWidth  int
	FieldHeight int
	NumFood     int
	RespawnFood proto.FoodRespawn
	Open        proto.RoomOpenness
	MaxTurns    int           // zero means no turn cap
	TurnTimeout time.Duration // zero disables the per-turn timeout
	GameStarted bool
}

func defaultDetails(id string, creator string) *Details {
	return &Details{
		ID:          id,
		Name:        id,
		Admins:      map[string]struct{}{creator: {}},
		MinPlayers:  2,
		MaxPlayers:  3,
		SnakeLen:    5,
		FieldWidth:  40,
		FieldHeight: 40,
		NumFood:     3,
		RespawnFood: proto.FoodRespawn{Kind: proto.RespawnYes},
		Open:        proto.RoomOpenness{Kind: proto.RoomClosed},
		MaxTurns:    1000,
	}
}

// GameConfig derives the rule set for a game played in this room.
func (d *Details) GameConfig() game.Config {
	return game.Config{
		SnakeLen:     d.SnakeLen,
		FieldWidth:   d.FieldWidth,
		FieldHeight:  d.FieldHeight,
		NumFoodItems: d.NumFood,
		RespawnFood:  d.RespawnFood,
		MaxTurns:     d.MaxTurns,
	}
}

func (d *Details) isAdmin(name string) bool {
	_, ok := d.Admins[name]
	return ok
}

func isRoomNameValid(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}
