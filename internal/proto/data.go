package proto

import (
	"encoding/json"
	"fmt"
)

// Direction is one of the four grid directions a snake can move in.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionTags = map[Direction]string{
	Up:    "u",
	Down:  "d",
	Left:  "l",
	Right: "r",
}

func (d Direction) String() string {
	if s, ok := directionTags[d]; ok {
		return s
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

// Opposite returns the reverse direction.
func (d Direction) Opposite() Direction {
	switch d {
	case Up:
		return Down
	case Down:
		return Up
	case Left:
		return Right
	case Right:
		return Left
	}
	panic(fmt.Sprintf("invalid direction: %d", int(d)))
}

func (d Direction) MarshalJSON() ([]byte, error) {
	s, ok := directionTags[d]
	if !ok {
		return nil, fmt.Errorf("invalid direction: %d", int(d))
	}
	return json.Marshal(s)
}

func (d *Direction) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for dir, tag := range directionTags {
		if tag == s {
			*d = dir
			return nil
		}
	}
	return fmt.Errorf("unknown direction tag: %q", s)
}

// Point is a zero-based grid cell.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Shift returns the neighboring point in the given direction.
func (p Point) Shift(d Direction) Point {
	switch d {
	case Up:
		return Point{p.X, p.Y + 1}
	case Down:
		return Point{p.X, p.Y - 1}
	case Left:
		return Point{p.X - 1, p.Y}
	case Right:
		return Point{p.X + 1, p.Y}
	}
	panic(fmt.Sprintf("invalid direction: %d", int(d)))
}

// Object is something that can occupy a field cell besides a snake.
// Food is currently the only kind.
type Object int

const (
	Food Object = iota
)

func (o Object) MarshalJSON() ([]byte, error) {
	switch o {
	case Food:
		return json.Marshal("f")
	}
	return nil, fmt.Errorf("invalid object: %d", int(o))
}

func (o *Object) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s != "f" {
		return fmt.Errorf("unknown object tag: %q", s)
	}
	*o = Food
	return nil
}

// Action is what a player may do on their turn. Moving is the only kind.
type Action struct {
	Move Direction `json:"move"`
}

// SnakeState is the wire form of a snake: a head cell plus the chain of
// directions leading from the head towards the tail end.
type SnakeState struct {
	Head Point       `json:"head"`
	Tail []Direction `json:"tail"`
}

// PlacedObject pairs an object with its cell.
type PlacedObject struct {
	Point  Point  `json:"point"`
	Object Object `json:"object"`
}

// FieldState is a full snapshot of the game field.
type FieldState struct {
	Snakes  map[string]SnakeState `json:"snakes"`
	Objects []PlacedObject        `json:"objects"`
}

// DirectionsToPoints expands a direction chain starting after head into the
// corresponding cell sequence.
func DirectionsToPoints(head Point, tail []Direction) []Point {
	points := make([]Point, 0, len(tail))
	pos := head
	for _, d := range tail {
		pos = pos.Shift(d)
		points = append(points, pos)
	}
	return points
}

// PointsToDirections is the inverse of DirectionsToPoints. It fails if two
// consecutive cells are not orthogonally adjacent.
func PointsToDirections(head Point, tail []Point) ([]Direction, error) {
	dirs := make([]Direction, 0, len(tail))
	last := head
	for _, p := range tail {
		dx, dy := p.X-last.X, p.Y-last.Y
		switch {
		case dx == 1 && dy == 0:
			dirs = append(dirs, Right)
		case dx == -1 && dy == 0:
			dirs = append(dirs, Left)
		case dx == 0 && dy == 1:
			dirs = append(dirs, Up)
		case dx == 0 && dy == -1:
			dirs = append(dirs, Down)
		default:
			return nil, fmt.Errorf("points %v and %v are not adjacent", last, p)
		}
		last = p
	}
	return dirs, nil
}
