package alert

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// Output is a digital output line
type Output interface {
	Set(on bool) error
}

// Phase durations per alert level
const (
	LowOff   = 1500 * time.Millisecond
	LowOn    = 500 * time.Millisecond
	HighHalf = 200 * time.Millisecond
)

// Controller drives the buzzer pattern for the current alert level
type Controller struct {
	out    Output
	state  models.BuzzerState
	logger zerolog.Logger
}

// NewController creates a controller with the buzzer off
func NewController(out Output, now time.Time, logger zerolog.Logger) *Controller {
	c := &Controller{
		out:    out,
		state:  models.BuzzerState{ChangedAt: now},
		logger: logger.With().Str("component", "alert").Logger(),
	}
	c.write(false)
	return c
}

// SetLevel selects the pattern; the output is not toggled until the next due Tick
func (c *Controller) SetLevel(level models.AlertLevel) {
	if level == c.state.Level {
		return
	}
	c.logger.Info().Stringer("from", c.state.Level).Stringer("to", level).Msg("alert level changed")
	c.state.Level = level
}

// State returns a copy of the buzzer state
func (c *Controller) State() models.BuzzerState {
	return c.state
}

// Tick advances the pattern
func (c *Controller) Tick(now time.Time) {
	if c.state.Level == models.AlertNone {
		if c.state.On {
			c.state.On = false
			c.write(false)
		}
		return
	}

	if now.Sub(c.state.ChangedAt) < PhaseDuration(c.state.Level, c.state.On) {
		return
	}
	c.state.On = !c.state.On
	c.state.ChangedAt = now
	c.write(c.state.On)
}

// PhaseDuration is how long the output stays in its current phase
func PhaseDuration(level models.AlertLevel, on bool) time.Duration {
	switch level {
	case models.AlertLow:
		if on {
			return LowOn
		}
		return LowOff
	case models.AlertHigh:
		return HighHalf
	default:
		return 0
	}
}

func (c *Controller) write(on bool) {
	if c.out == nil {
		return
	}
	if err := c.out.Set(on); err != nil {
		c.logger.Warn().Err(err).Bool("on", on).Msg("failed to drive buzzer")
	}
}
