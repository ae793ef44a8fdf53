package bootstrap

import (
	"fmt"

	"go.uber.org/zap/zapgrpc"
	"google.golang.org/grpc/grpclog"

	"github.com/lechuhuuha/event_relay/config"
	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

// InitLogger builds the structured logger used throughout the application
// and routes grpc-go's internal logging through it.
func InitLogger(cfg config.LogConfig) (loggerpkg.Logger, func(), error) {
	zl, cleanup, err := loggerpkg.NewProduction(cfg.Level, cfg.Format)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	grpclog.SetLoggerV2(zapgrpc.NewLogger(zl.Zap()))
	return zl, cleanup, nil
}
