package runtime

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

// SignalContext is cancelled on SIGINT or SIGTERM.
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// Stopper is one component to shut down, such as an HTTP server or the OTel exporter.
type Stopper struct {
	Name string
	Stop func(context.Context) error
}

// Shutdown runs the stoppers in order, sharing one deadline, and logs each failure.
// It keeps going past errors so a stuck exporter cannot leave the server listening.
func Shutdown(logger *slog.Logger, timeout time.Duration, stoppers ...Stopper) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, s := range stoppers {
		if s.Stop == nil {
			continue
		}
		if err := s.Stop(ctx); err != nil {
			logger.Error("shutdown failed", "component", s.Name, "err", err)
			errs = append(errs, err)
			continue
		}
		logger.Info("stopped", "component", s.Name)
	}
	return errors.Join(errs...)
}
