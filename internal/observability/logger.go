package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component derives a logger tagged with the owning component from the
// global logger configured by internal/logging.
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
