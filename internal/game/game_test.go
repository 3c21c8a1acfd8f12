package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snake-arena/server/internal/proto"
)

func testConfig() Config {
	return Config{
		SnakeLen:     3,
		FieldWidth:   10,
		FieldHeight:  10,
		NumFoodItems: 0,
		RespawnFood:  proto.FoodRespawn{Kind: proto.RespawnNo},
	}
}

// gameWithSnakes builds a game with hand-placed snakes, bypassing random
// generation.
func gameWithSnakes(config Config, snakes map[string]*snake) *Game {
	f := newField(config, newWorkCounter(100000))
	for name, s := range snakes {
		f.addSnake(name, s)
	}
	return &Game{config: config, field: f}
}

// requireOccupiedConsistent checks that the occupied-cell cache is exactly
// the union of all snake bodies.
func requireOccupiedConsistent(t *testing.T, f *field) {
	t.Helper()
	want := make(map[proto.Point]struct{})
	for _, s := range f.snakes {
		for _, p := range s.occupiedCells() {
			want[p] = struct{}{}
		}
	}
	require.Equal(t, want, f.occupied)
}

func TestMoveIntoFoodGrows(t *testing.T) {
	config := testConfig()
	config.RespawnFood = proto.FoodRespawn{Kind: proto.RespawnYes}

	g := gameWithSnakes(config, map[string]*snake{
		"s": newSnake(pt(4, 3), nil),
	})
	g.field.objects[pt(4, 4)] = proto.Food

	result, err := g.MoveSnake("s", proto.Up)
	require.NoError(t, err)
	assert.Equal(t, MoveOK, result)

	state := g.FieldState()
	assert.Equal(t, proto.SnakeState{
		Head: pt(4, 4),
		Tail: []proto.Direction{proto.Down},
	}, state.Snakes["s"])
	assert.Equal(t, Score{"s": 1}, g.Score())

	// The eaten food was replaced immediately, somewhere else.
	require.Len(t, state.Objects, 1)
	assert.NotEqual(t, pt(4, 4), state.Objects[0].Point)
	requireOccupiedConsistent(t, g.field)
}

func TestMoveIntoFoodNoRespawn(t *testing.T) {
	g := gameWithSnakes(testConfig(), map[string]*snake{
		"s": newSnake(pt(4, 3), nil),
	})
	g.field.objects[pt(4, 4)] = proto.Food

	_, err := g.MoveSnake("s", proto.Up)
	require.NoError(t, err)
	assert.Empty(t, g.FieldState().Objects)
}

func TestCrashIntoAnotherSnake(t *testing.T) {
	g := gameWithSnakes(testConfig(), map[string]*snake{
		"a": newSnake(pt(1, 1), nil),
		"b": newSnake(pt(2, 1), []proto.Direction{proto.Up}),
	})

	result, err := g.MoveSnake("a", proto.Right)
	require.NoError(t, err)
	assert.Equal(t, MoveCrash, result)

	state := g.FieldState()
	assert.NotContains(t, state.Snakes, "a")
	assert.Contains(t, state.Snakes, "b")
	requireOccupiedConsistent(t, g.field)

	// A dead snake cannot move again.
	_, err = g.MoveSnake("a", proto.Up)
	var noSuch *NoSuchSnakeError
	require.ErrorAs(t, err, &noSuch)
	assert.Equal(t, "a", noSuch.Name)
}

func TestCrashIntoWall(t *testing.T) {
	g := gameWithSnakes(testConfig(), map[string]*snake{
		"s": newSnake(pt(0, 0), []proto.Direction{proto.Up}),
	})

	result, err := g.MoveSnake("s", proto.Left)
	require.NoError(t, err)
	assert.Equal(t, MoveCrash, result)
	assert.Empty(t, g.field.occupied)
}

func TestCrashKeepsScore(t *testing.T) {
	g := gameWithSnakes(testConfig(), map[string]*snake{
		"s": newSnake(pt(4, 3), nil),
	})
	g.field.objects[pt(4, 4)] = proto.Food

	_, err := g.MoveSnake("s", proto.Up) // eat, score 1
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		result, err := g.MoveSnake("s", proto.Up)
		require.NoError(t, err)
		if result == MoveCrash {
			break
		}
	}
	assert.Empty(t, g.field.snakes)
	assert.Equal(t, Score{"s": 1}, g.Score())
}

func TestOccupiedCellInvariantUnderRandomPlay(t *testing.T) {
	config := Config{
		SnakeLen:     4,
		FieldWidth:   12,
		FieldHeight:  12,
		NumFoodItems: 5,
		RespawnFood:  proto.FoodRespawn{Kind: proto.RespawnYes},
	}
	g, err := NewGame([]string{"a", "b", "c"}, config, 100000)
	require.NoError(t, err)
	requireOccupiedConsistent(t, g.field)

	dirs := []proto.Direction{proto.Up, proto.Right, proto.Up, proto.Left, proto.Down, proto.Right}
	for turn := 0; turn < 50; turn++ {
		for _, name := range []string{"a", "b", "c"} {
			if _, alive := g.field.snakes[name]; !alive {
				continue
			}
			_, err := g.MoveSnake(name, dirs[turn%len(dirs)])
			require.NoError(t, err)
			requireOccupiedConsistent(t, g.field)
		}
	}
}

func TestNewGamePlacesSnakesAndFood(t *testing.T) {
	config := Config{
		SnakeLen:     5,
		FieldWidth:   20,
		FieldHeight:  20,
		NumFoodItems: 3,
		RespawnFood:  proto.FoodRespawn{Kind: proto.RespawnYes},
	}
	g, err := NewGame([]string{"a", "b"}, config, 100000)
	require.NoError(t, err)

	state := g.FieldState()
	require.Len(t, state.Snakes, 2)
	for name, s := range state.Snakes {
		assert.Len(t, s.Tail, config.SnakeLen-1, "snake %q has the wrong length", name)
	}
	assert.Len(t, state.Objects, 3)
	requireOccupiedConsistent(t, g.field)
}

func TestNewGameWorkBudgetExhausted(t *testing.T) {
	config := Config{
		SnakeLen:    40, // cannot fit on a 3x3 board
		FieldWidth:  3,
		FieldHeight: 3,
	}
	_, err := NewGame([]string{"a"}, config, 1000)
	require.ErrorIs(t, err, ErrWorkLimitExceeded)
}

func TestFinishConditionAndWinners(t *testing.T) {
	config := testConfig()
	config.MaxTurns = 2
	g := gameWithSnakes(config, map[string]*snake{
		"a": newSnake(pt(1, 1), nil),
		"b": newSnake(pt(5, 5), nil),
	})

	assert.False(t, g.IsFinishConditionSatisfied())
	assert.Nil(t, g.GetWinners())

	g.FinishTurn()
	assert.False(t, g.IsFinishConditionSatisfied())
	g.FinishTurn()
	assert.True(t, g.IsFinishConditionSatisfied())

	// Both survivors have score zero: a tie.
	assert.ElementsMatch(t, []string{"a", "b"}, g.GetWinners())
}

func TestWinnersAfterLastSnakeStanding(t *testing.T) {
	g := gameWithSnakes(testConfig(), map[string]*snake{
		"a": newSnake(pt(1, 1), nil),
		"b": newSnake(pt(5, 5), nil),
	})

	g.KillSnakeOff("a")
	require.True(t, g.IsFinishConditionSatisfied())
	assert.Equal(t, []string{"b"}, g.GetWinners())
}

func TestKillSnakeOffIsIdempotent(t *testing.T) {
	g := gameWithSnakes(testConfig(), map[string]*snake{
		"a": newSnake(pt(1, 1), nil),
	})

	g.KillSnakeOff("a")
	g.KillSnakeOff("a")
	g.KillSnakeOff("never-existed")
	assert.Empty(t, g.field.snakes)
	assert.Empty(t, g.field.occupied)
}
