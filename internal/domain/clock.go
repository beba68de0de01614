package domain

import "github.com/jonboulle/clockwork"

// clock stamps ProcessedAt on analysis results. Tests and fixture tools freeze
// it via SetClock so serialized results are reproducible.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source used for ProcessedAt. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}
