package engine

// SetPick replaces the random column choice of automatic moves.
func (e *Engine) SetPick(pick func(n int) int) {
	e.pick = pick
}
