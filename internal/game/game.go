// Package game implements the deterministic arena rules: the field, snake
// movement, food placement, scoring and the finish condition. It knows
// nothing about rooms, sessions or turn pacing.
package game

import (
	"sync"

	"github.com/snake-arena/server/internal/proto"
)

// MoveResult says how a move resolved.
type MoveResult int

const (
	MoveOK MoveResult = iota
	MoveCrash
)

// Game wraps the field with a turn counter and a lock. The rendezvous
// protocol in the room layer makes the master loop and the active player the
// only regular writers, but a disconnect can force a kill from any
// goroutine, so mutable state stays behind the mutex.
type Game struct {
	mu     sync.Mutex
	config Config
	turns  int
	field  *field
}

// NewGame places one snake per player (random self-avoiding walk of
// Config.SnakeLen cells) and the configured food items. Randomized placement
// is metered by workUnits; an exhausted budget fails construction instead of
// looping forever on a board that is too small.
func NewGame(playerNames []string, config Config, workUnits int) (*Game, error) {
	f := newField(config, newWorkCounter(workUnits))
	for _, name := range playerNames {
		s, err := f.generateSnake(config.SnakeLen)
		if err != nil {
			return nil, err
		}
		f.addSnake(name, s)
	}
	for i := 0; i < config.NumFoodItems; i++ {
		p, err := f.randomFreeCell()
		if err != nil {
			return nil, err
		}
		f.objects[p] = proto.Food
	}
	return &Game{config: config, field: f}, nil
}

// Width returns the field width.
func (g *Game) Width() int { return g.config.FieldWidth }

// Height returns the field height.
func (g *Game) Height() int { return g.config.FieldHeight }

// MoveSnake resolves one move for the named snake.
func (g *Game) MoveSnake(name string, d proto.Direction) (MoveResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.field.moveSnake(name, d)
}

// FinishTurn advances the turn counter. Called by the room's master loop
// after a full pass over all members.
func (g *Game) FinishTurn() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.turns++
}

// IsFinishConditionSatisfied reports whether the game is over: at most one
// snake left alive, or the turn cap reached.
func (g *Game) IsFinishConditionSatisfied() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.field.countAlive() <= 1 {
		return true
	}
	return g.config.MaxTurns > 0 && g.turns >= g.config.MaxTurns
}

// GetWinners lists the surviving snakes tied for the top score. Only
// meaningful once the finish condition holds; nil otherwise.
func (g *Game) GetWinners() []string {
	if !g.IsFinishConditionSatisfied() {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	score := g.field.currentScore()
	return score.winners(func(name string) bool {
		_, alive := g.field.snakes[name]
		return alive
	})
}

// KillSnakeOff removes the named snake and frees its cells. A no-op if the
// snake is already gone; used for disconnect-forced deaths.
func (g *Game) KillSnakeOff(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, alive := g.field.snakes[name]; alive {
		_ = g.field.killSnake(name)
	}
}

// Score returns a snapshot of all scores.
func (g *Game) Score() Score {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.field.currentScore()
}

// FieldState returns a deep snapshot of the field in wire form.
func (g *Game) FieldState() proto.FieldState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.field.state()
}

// SnakeNames lists the currently living snakes.
func (g *Game) SnakeNames() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	names := make([]string, 0, len(g.field.snakes))
	for name := range g.field.snakes {
		names = append(names, name)
	}
	return names
}
