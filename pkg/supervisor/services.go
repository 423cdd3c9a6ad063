package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server until its context is cancelled, then
// shuts it down gracefully.
type HTTPServerService struct {
	server  HTTPServer
	timeout time.Duration
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, timeout: shutdownTimeout}
}

func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }

// Runner is anything with a context-bound run loop, such as the gateway hub
// or a Kafka consumer.
type Runner interface {
	RunWithContext(ctx context.Context) error
}

type RunnerService struct {
	name   string
	runner Runner
}

func NewRunnerService(name string, r Runner) *RunnerService {
	return &RunnerService{name: name, runner: r}
}

func (s *RunnerService) Serve(ctx context.Context) error { return s.runner.RunWithContext(ctx) }

func (s *RunnerService) String() string { return s.name }
