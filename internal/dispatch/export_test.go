package dispatch

import "time"

// SetClock replaces the dispatcher clock.
func (d *Dispatcher) SetClock(now func() time.Time) { d.now = now }
