package proto

import "encoding/json"

// Event is an out-of-band notification delivered to room members. Data is an
// event-specific payload; MustKnow marks events a client may not ignore.
type Event struct {
	Name     string          `json:"name"`
	Data     json.RawMessage `json:"data,omitempty"`
	MustKnow bool            `json:"must_know"`
}

// Recognized event names.
const (
	EventGameStarted        = "GameStarted"
	EventSnakeDied          = "SnakeDied"
	EventGameFinished       = "GameFinished"
	EventGameScoreChanged   = "GameScoreChanged"
	EventClientDisconnected = "ClientDisconnected"
	EventPlayerTimedOut     = "PlayerTimedOut"
)

// GameStartedData carries the field dimensions.
type GameStartedData struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// GameFinishedData carries the winner list. Ties produce several names.
type GameFinishedData struct {
	Winners []string `json:"winners"`
}

func newEvent(name string, data any, mustKnow bool) Event {
	var raw json.RawMessage
	if data != nil {
		raw, _ = json.Marshal(data)
	}
	return Event{Name: name, Data: raw, MustKnow: mustKnow}
}

func NewGameStartedEvent(width, height int) Event {
	return newEvent(EventGameStarted, GameStartedData{Width: width, Height: height}, true)
}

func NewSnakeDiedEvent(name string) Event {
	return newEvent(EventSnakeDied, name, false)
}

func NewGameFinishedEvent(winners []string) Event {
	if winners == nil {
		winners = []string{}
	}
	return newEvent(EventGameFinished, GameFinishedData{Winners: winners}, true)
}

func NewGameScoreChangedEvent(scores map[string]int) Event {
	return newEvent(EventGameScoreChanged, scores, false)
}

func NewClientDisconnectedEvent(name string) Event {
	return newEvent(EventClientDisconnected, name, false)
}

func NewPlayerTimedOutEvent(name string) Event {
	return newEvent(EventPlayerTimedOut, name, false)
}
