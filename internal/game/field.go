package game

import (
	"math/rand/v2"
	"sort"

	"github.com/snake-arena/server/internal/proto"
)

// Config is the per-game rule set, derived from room properties.
type Config struct {
	SnakeLen     int
	FieldWidth   int
	FieldHeight  int
	NumFoodItems int
	RespawnFood  proto.FoodRespawn
	MaxTurns     int // zero means no turn cap
}

// field owns all mutable game state: the living snakes, placed objects and
// the occupied-cell cache. The cache is kept incrementally consistent via
// changeInFreeCells deltas; it is never recomputed from scratch.
type field struct {
	config   Config
	snakes   map[string]*snake
	objects  map[proto.Point]proto.Object
	occupied map[proto.Point]struct{}
	score    Score
	work     *workCounter
}

func newField(config Config, work *workCounter) *field {
	return &field{
		config:   config,
		snakes:   make(map[string]*snake),
		objects:  make(map[proto.Point]proto.Object),
		occupied: make(map[proto.Point]struct{}),
		score:    make(Score),
		work:     work,
	}
}

func (f *field) width() int  { return f.config.FieldWidth }
func (f *field) height() int { return f.config.FieldHeight }

func (f *field) inBounds(p proto.Point) bool {
	return p.X >= 0 && p.X < f.width() && p.Y >= 0 && p.Y < f.height()
}

// isCellPassable: a snake may enter the cell (food cells are passable).
func (f *field) isCellPassable(p proto.Point) bool {
	if !f.inBounds(p) {
		return false
	}
	_, taken := f.occupied[p]
	return !taken
}

// isCellCompletelyFree: in bounds, no snake body, no object.
func (f *field) isCellCompletelyFree(p proto.Point) bool {
	if !f.isCellPassable(p) {
		return false
	}
	_, hasObject := f.objects[p]
	return !hasObject
}

func (f *field) applyChange(change changeInFreeCells) {
	for p := range change.newOccupied {
		f.occupied[p] = struct{}{}
	}
	for p := range change.newFree {
		delete(f.occupied, p)
	}
}

func (f *field) addSnake(name string, s *snake) {
	if _, exists := f.snakes[name]; exists {
		panic("snake " + name + " is already present on the field")
	}
	f.snakes[name] = s
	f.score[name] = 0
	f.applyChange(newChangeInFreeCells(nil, s.occupiedCells()))
}

func (f *field) countAlive() int { return len(f.snakes) }

func (f *field) killSnake(name string) error {
	s, ok := f.snakes[name]
	if !ok {
		return &NoSuchSnakeError{Name: name}
	}
	f.applyChange(newChangeInFreeCells(s.occupiedCells(), nil))
	f.score[name] = s.score
	delete(f.snakes, name)
	return nil
}

// moveSnake resolves one move: crash, food consumption or a plain advance.
// The probabilistic food-placement step runs after every resolved move.
func (f *field) moveSnake(name string, d proto.Direction) (MoveResult, error) {
	s, ok := f.snakes[name]
	if !ok {
		return MoveOK, &NoSuchSnakeError{Name: name}
	}
	defer f.objectPlacementStep()

	destination := s.head.Shift(d)
	if !f.isCellPassable(destination) {
		// The snake has crashed: free its cells and remove it.
		f.applyChange(newChangeInFreeCells(s.occupiedCells(), nil))
		f.score[name] = s.score
		delete(f.snakes, name)
		return MoveCrash, nil
	}

	if _, hasObject := f.objects[destination]; hasObject {
		f.consumeFood(s, d)
		return MoveOK, nil
	}

	f.applyChange(s.move(d))
	return MoveOK, nil
}

func (f *field) consumeFood(s *snake, d proto.Direction) {
	f.applyChange(s.grow(d))
	delete(f.objects, s.head)
	s.score++
	if f.config.RespawnFood.Kind == proto.RespawnYes {
		f.placeObjectRandomly(proto.Food)
	}
}

func (f *field) objectPlacementStep() {
	if f.config.RespawnFood.Kind != proto.RespawnRandom {
		return
	}
	if rand.Float64() >= f.config.RespawnFood.Probability {
		return
	}
	f.placeObjectRandomly(proto.Food)
}

// placeObjectRandomly rejection-samples a completely free cell. Mid-game the
// work budget is already spent, so a full board silently skips the placement
// after a bounded number of probes.
func (f *field) placeObjectRandomly(obj proto.Object) {
	const midGameProbes = 1024
	for i := 0; i < midGameProbes; i++ {
		if f.tryPlaceObjectRandomly(obj) {
			return
		}
	}
}

func (f *field) tryPlaceObjectRandomly(obj proto.Object) bool {
	p := proto.Point{X: rand.IntN(f.width()), Y: rand.IntN(f.height())}
	if !f.isCellCompletelyFree(p) {
		return false
	}
	f.objects[p] = obj
	return true
}

// randomFreeCell rejection-samples against the work budget.
func (f *field) randomFreeCell() (proto.Point, error) {
	for {
		if err := f.work.do(1); err != nil {
			return proto.Point{}, err
		}
		p := proto.Point{X: rand.IntN(f.width()), Y: rand.IntN(f.height())}
		if f.isCellCompletelyFree(p) {
			return p, nil
		}
	}
}

// currentScore folds the live snake scores into the score map and returns a
// snapshot. Dead snakes keep the last value recorded for them.
func (f *field) currentScore() Score {
	for name, s := range f.snakes {
		f.score[name] = s.score
	}
	return f.score.Copy()
}

func (f *field) state() proto.FieldState {
	snakes := make(map[string]proto.SnakeState, len(f.snakes))
	for name, s := range f.snakes {
		snakes[name] = s.state()
	}
	objects := make([]proto.PlacedObject, 0, len(f.objects))
	for p, obj := range f.objects {
		objects = append(objects, proto.PlacedObject{Point: p, Object: obj})
	}
	sort.Slice(objects, func(i, j int) bool {
		if objects[i].Point.Y != objects[j].Point.Y {
			return objects[i].Point.Y < objects[j].Point.Y
		}
		return objects[i].Point.X < objects[j].Point.X
	})
	return proto.FieldState{Snakes: snakes, Objects: objects}
}

// generateSnake retries self-avoiding-walk placement until it succeeds or
// the work budget runs out.
func (f *field) generateSnake(length int) (*snake, error) {
	for {
		s, err := f.tryGenerateSnake(length)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
}

// tryGenerateSnake attempts one self-avoiding random walk of the requested
// length. A dead end returns (nil, nil) so the caller can retry.
func (f *field) tryGenerateSnake(length int) (*snake, error) {
	head, err := f.randomFreeCell()
	if err != nil {
		return nil, err
	}

	var tail []proto.Point
	body := map[proto.Point]struct{}{head: {}}
	for i := 0; i < length-1; i++ {
		if err := f.work.do(1); err != nil {
			return nil, err
		}
		var candidates []proto.Point
		for _, d := range []proto.Direction{proto.Up, proto.Down, proto.Left, proto.Right} {
			c := head.Shift(d)
			if _, taken := body[c]; taken {
				continue
			}
			if f.isCellCompletelyFree(c) {
				candidates = append(candidates, c)
			}
		}
		if len(candidates) == 0 {
			return nil, nil
		}
		next := candidates[rand.IntN(len(candidates))]
		tail = append(tail, head)
		head = next
		body[next] = struct{}{}
	}

	// tail was accumulated walk-first; the snake wants head-to-tail order.
	for i, j := 0, len(tail)-1; i < j; i, j = i+1, j-1 {
		tail[i], tail[j] = tail[j], tail[i]
	}
	return snakeFromRawParts(head, tail), nil
}
