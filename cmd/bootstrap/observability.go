package bootstrap

import (
	"context"

	"github.com/lechuhuuha/event_relay/internal/metrics"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
	"github.com/lechuhuuha/event_relay/util"
)

// InitObservability wires metrics and the optional pprof server.
// The returned func stops the pprof server.
func InitObservability(logger loggerpkg.Logger) func(context.Context) {
	metrics.Init()
	srv := util.MaybeStartPprof(logger)
	return func(ctx context.Context) {
		if srv != nil {
			_ = srv.Shutdown(ctx)
		}
	}
}
