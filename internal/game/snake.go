package game

import "github.com/snake-arena/server/internal/proto"

// snake is a live snake on the field. The tail holds body segments in
// head-to-tail order; the head cell is stored separately.
type snake struct {
	head  proto.Point
	tail  []proto.Point
	score int
}

func newSnake(head proto.Point, tailDirs []proto.Direction) *snake {
	return &snake{head: head, tail: proto.DirectionsToPoints(head, tailDirs)}
}

func snakeFromRawParts(head proto.Point, tail []proto.Point) *snake {
	return &snake{head: head, tail: tail}
}

// grow advances the head without dropping a tail segment.
// Legality of the destination is not checked. Complexity: O(length).
func (s *snake) grow(d proto.Direction) changeInFreeCells {
	oldHead := s.head
	s.head = s.head.Shift(d)
	s.tail = append([]proto.Point{oldHead}, s.tail...)
	return newChangeInFreeCells(nil, []proto.Point{s.head})
}

// move is grow plus dropping the last tail segment, so the length stays
// constant. Complexity: O(length).
func (s *snake) move(d proto.Direction) changeInFreeCells {
	change := s.grow(d)
	popped := s.tail[len(s.tail)-1]
	s.tail = s.tail[:len(s.tail)-1]
	change.addNewFree(popped)
	return change
}

// occupiedCells lists the head plus all tail segments.
func (s *snake) occupiedCells() []proto.Point {
	cells := make([]proto.Point, 0, len(s.tail)+1)
	cells = append(cells, s.head)
	cells = append(cells, s.tail...)
	return cells
}

// state renders the snake in wire form, with the tail as a direction chain.
func (s *snake) state() proto.SnakeState {
	dirs, err := proto.PointsToDirections(s.head, s.tail)
	if err != nil {
		panic("corrupted snake body: " + err.Error())
	}
	return proto.SnakeState{Head: s.head, Tail: dirs}
}
