// Package config holds the server-operator limits that bound what clients may
// request for their rooms.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"
)

// Limits is a validated bag of numeric bounds. Room property writes are
// checked against it; the defaults are permissive enough for casual play.
type Limits struct {
	MinFieldSide      int
	MaxFieldSide      int
	MaxClientNameLen  int
	MaxFoodItems      int
	MaxPasswordLen    int
	MaxPlayersInRoom  int
	MaxRoomNameLen    int
	MaxSnakeLen       int
	MaxTurnTimeout    time.Duration // zero means unlimited
	MaxTurns          int           // zero means unlimited
	WorkUnits         int           // budget for randomized field generation
	TurnDelay         time.Duration // pause between consecutive turns
}

// Default returns the stock limits.
func Default() Limits {
	return Limits{
		MinFieldSide:     2,
		MaxFieldSide:     256,
		MaxClientNameLen: 64,
		MaxFoodItems:     64,
		MaxPasswordLen:   128,
		MaxPlayersInRoom: 16,
		MaxRoomNameLen:   128,
		MaxSnakeLen:      32,
		MaxTurnTimeout:   0,
		MaxTurns:         0,
		WorkUnits:        100000,
		TurnDelay:        200 * time.Millisecond,
	}
}

// FromEnv loads limits from the environment, starting from Default. A .env
// file is honored when present.
func FromEnv() Limits {
	if err := godotenv.Load(); err != nil {
		klog.V(1).Infof(".env file not loaded: %v", err)
	}

	l := Default()
	l.MinFieldSide = envInt("ARENA_MIN_FIELD_SIDE", l.MinFieldSide)
	l.MaxFieldSide = envInt("ARENA_MAX_FIELD_SIDE", l.MaxFieldSide)
	l.MaxClientNameLen = envInt("ARENA_MAX_CLIENT_NAME_LEN", l.MaxClientNameLen)
	l.MaxFoodItems = envInt("ARENA_MAX_FOOD_ITEMS", l.MaxFoodItems)
	l.MaxPasswordLen = envInt("ARENA_MAX_PASSWORD_LEN", l.MaxPasswordLen)
	l.MaxPlayersInRoom = envInt("ARENA_MAX_PLAYERS_IN_ROOM", l.MaxPlayersInRoom)
	l.MaxRoomNameLen = envInt("ARENA_MAX_ROOM_NAME_LEN", l.MaxRoomNameLen)
	l.MaxSnakeLen = envInt("ARENA_MAX_SNAKE_LEN", l.MaxSnakeLen)
	l.MaxTurns = envInt("ARENA_MAX_TURNS", l.MaxTurns)
	l.WorkUnits = envInt("ARENA_WORK_UNITS", l.WorkUnits)
	l.MaxTurnTimeout = envDuration("ARENA_MAX_TURN_TIMEOUT", l.MaxTurnTimeout)
	l.TurnDelay = envDuration("ARENA_TURN_DELAY", l.TurnDelay)
	return l
}

func envInt(key string, fallback int) int {
	s, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		klog.Fatalf("Environment variable %s must be an integer: %v", key, err)
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	s, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		klog.Fatalf("Environment variable %s must be a duration: %v", key, err)
	}
	return v
}
