package game

import "github.com/snake-arena/server/internal/proto"

// changeInFreeCells is an explicit delta of cells that became free or
// occupied during one snake mutation. The field applies these deltas to its
// occupied-cell cache instead of ever recomputing the union of all snakes.
type changeInFreeCells struct {
	newFree     map[proto.Point]struct{}
	newOccupied map[proto.Point]struct{}
}

func newChangeInFreeCells(newFree, newOccupied []proto.Point) changeInFreeCells {
	c := changeInFreeCells{
		newFree:     make(map[proto.Point]struct{}, len(newFree)),
		newOccupied: make(map[proto.Point]struct{}, len(newOccupied)),
	}
	for _, p := range newFree {
		c.newFree[p] = struct{}{}
	}
	for _, p := range newOccupied {
		// A cell both freed and re-occupied cancels out.
		if _, ok := c.newFree[p]; ok {
			delete(c.newFree, p)
			continue
		}
		c.newOccupied[p] = struct{}{}
	}
	return c
}

func (c *changeInFreeCells) addNewFree(p proto.Point) {
	if _, ok := c.newOccupied[p]; ok {
		delete(c.newOccupied, p)
		return
	}
	c.newFree[p] = struct{}{}
}

func (c *changeInFreeCells) addNewOccupied(p proto.Point) {
	if _, ok := c.newFree[p]; ok {
		delete(c.newFree, p)
		return
	}
	c.newOccupied[p] = struct{}{}
}
