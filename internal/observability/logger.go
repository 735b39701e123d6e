package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Component derives a logger tagged with the app and component names from
// the globally configured logger.
func Component(app, component string) zerolog.Logger {
	return log.Logger.With().Str("app", app).Str("component", component).Logger()
}
