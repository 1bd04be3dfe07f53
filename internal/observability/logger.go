package observability

import (
	"github.com/danmuck/osdkctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logger and tags every line with the node id.
func InitLogger(node string) zerolog.Logger {
	logging.ConfigureRuntime()
	log.Logger = log.Logger.With().Str("node", node).Logger()
	return log.Logger
}
