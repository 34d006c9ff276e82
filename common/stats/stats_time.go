package stats

import (
	"github.com/jonboulle/clockwork"
)

// Time is the clock used by Latency instruments and uptime reporting.
// Tests swap in clockwork.NewFakeClock() to control measured durations.
var Time clockwork.Clock = clockwork.NewRealClock()
