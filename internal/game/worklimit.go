package game

// workCounter meters randomized generation steps so that a pathologically
// small or full field cannot stall the server in a rejection-sampling loop.
type workCounter struct {
	remaining int
}

func newWorkCounter(units int) *workCounter {
	return &workCounter{remaining: units}
}

func (w *workCounter) do(units int) error {
	w.remaining -= units
	if w.remaining < 0 {
		return ErrWorkLimitExceeded
	}
	return nil
}
