package cycle

import "time"

// State is the scheduler's position in the daily round.
type State int32

const (
	StateWaiting State = iota
	StateCollecting
	StateGrace
	StateDistributing
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateCollecting:
		return "collecting"
	case StateGrace:
		return "grace"
	case StateDistributing:
		return "distributing"
	default:
		return "unknown"
	}
}

// Config controls the daily round timing. Values are fixed at startup.
type Config struct {
	// BeginHour/EndHour bound the random daily trigger: the round opens at a
	// uniformly random instant in [BeginHour:00, EndHour:00) local time on the
	// following calendar day.
	BeginHour int
	EndHour   int

	// Window is the total submission window; Grace is its trailing part
	// during which participants without a submission get a reminder.
	Window time.Duration
	Grace  time.Duration

	Location *time.Location
}

func (c Config) withDefaults() Config {
	if c.BeginHour == 0 && c.EndHour == 0 {
		c.BeginHour, c.EndHour = 10, 21
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Minute
	}
	if c.Grace <= 0 || c.Grace >= c.Window {
		c.Grace = c.Window / 3
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	return c
}
