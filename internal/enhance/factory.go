package enhance

import (
	"log/slog"
	"time"

	"github.com/phrazzld/openvoice/internal/config"
)

// NewFactory selects the enhancer implementation from configuration: the
// command enhancer when a command is set, Passthrough otherwise.
func NewFactory(cfg config.WorkerConfig, logger *slog.Logger) Factory {
	if cfg.EnhancerCommand == "" {
		if logger != nil {
			logger.Warn("no enhancer command configured, using passthrough enhancer")
		}
		return NewPassthroughFactory()
	}
	return NewCommandFactory(CommandConfig{
		Path:      cfg.EnhancerCommand,
		Args:      cfg.EnhancerArgs,
		WaitDelay: 5 * time.Second,
	}, logger)
}
