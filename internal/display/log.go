package display

import (
	"github.com/rs/zerolog"
)

// LogRenderer writes frames to the log, for boards without an LCD
type LogRenderer struct {
	logger zerolog.Logger
	last   Frame
}

// NewLogRenderer creates a renderer that logs at debug level
func NewLogRenderer(logger zerolog.Logger) *LogRenderer {
	return &LogRenderer{logger: logger.With().Str("component", "display").Logger()}
}

// Render logs the frame when it changed
func (r *LogRenderer) Render(f Frame) error {
	if f == r.last {
		return nil
	}
	r.last = f
	r.logger.Debug().Strs("rows", f[:]).Msg("frame")
	return nil
}
