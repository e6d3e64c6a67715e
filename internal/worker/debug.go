package worker

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const debugEnv = "USERCHAT_WORKER_DEBUG"

// workerLogger lowers the worker's level to debug when USERCHAT_WORKER_DEBUG=1,
// independent of the process log level.
func workerLogger(base zerolog.Logger) zerolog.Logger {
	log := base.With().Str("component", "worker").Logger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv(debugEnv)), "1") {
		log = log.Level(zerolog.DebugLevel)
	}
	return log
}
