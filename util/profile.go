package util

import (
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"strconv"
	"strings"
	"time"

	loggerpkg "github.com/lechuhuuha/event_relay/logger"
)

// MaybeStartPprof serves net/http/pprof on PROFILE_ADDR when PROFILE_ENABLED is true.
// The returned server is nil when profiling is disabled.
func MaybeStartPprof(logger loggerpkg.Logger) *http.Server {
	if logger == nil {
		logger = loggerpkg.NewNop()
	}
	if !ProfileEnabled() {
		return nil
	}
	addr := GetEnv(ProfileAddr, DefaultProfileAddr)
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("pprof server listening", loggerpkg.F("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("pprof server error", loggerpkg.F("error", err))
		}
	}()
	return srv
}

func ProfileEnabled() bool {
	return parseBoolEnv(ProfileEnable)
}

func parseBoolEnv(key string) bool {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return false
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false
	}
	return b
}
