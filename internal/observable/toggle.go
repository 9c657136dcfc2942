package observable

// Toggle is an observable boolean, the enabled/disabled switch of a unit
type Toggle struct {
	*Observable[bool]
}

// NewToggle creates a toggle with the given initial state
func NewToggle(initial bool) *Toggle {
	return &Toggle{Observable: New(initial)}
}

// Flip inverts the value, notifies observers and returns the new value
func (t *Toggle) Flip() bool {
	next := !t.Get()
	t.Set(next)
	return next
}
