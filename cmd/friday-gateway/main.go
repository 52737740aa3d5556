// Command friday-gateway runs the voice-chat streaming gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samwang0723/friday-sub000/internal/dotenv"
	"github.com/samwang0723/friday-sub000/pkg/gateway/config"
	gatewayserver "github.com/samwang0723/friday-sub000/pkg/gateway/server"
)

// gatewayDeps makes the process skeleton testable without real signals or
// listeners.
type gatewayDeps struct {
	loadConfig   func() (config.Config, error)
	newGateway   func(context.Context, config.Config, *slog.Logger, gatewayserver.Deps) (*gatewayserver.Server, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultGatewayDeps() gatewayDeps {
	return gatewayDeps{
		loadConfig: config.Load,
		newGateway: gatewayserver.New,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

func (d gatewayDeps) validate() error {
	if d.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if d.newGateway == nil {
		return errors.New("missing newGateway dependency")
	}
	if d.signalNotify == nil || d.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	return nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// No WriteTimeout: SSE and WebSocket responses outlive any sane
		// value; per-stream duration caps bound them instead.
	}
}

func runGateway(ctx context.Context, logger *slog.Logger, deps gatewayDeps) error {
	if err := deps.validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gw, err := deps.newGateway(ctx, cfg, logger, gatewayserver.Deps{})
	if err != nil {
		return fmt.Errorf("build gateway: %w", err)
	}

	httpSrv := buildHTTPServer(cfg, gw.Handler())
	serveErr := serve(httpSrv, logger, cfg)

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	if err := drainAndStop(gw, httpSrv, logger, cfg); err != nil {
		return err
	}
	if err := <-serveErr; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("gateway stopped")
	return nil
}

func serve(srv *http.Server, logger *slog.Logger, cfg config.Config) <-chan error {
	logger.Info("starting gateway",
		"addr", cfg.Addr,
		"auth_mode", cfg.AuthMode,
		"agent_mode", cfg.Agent.Mode,
	)
	out := make(chan error, 1)
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		out <- err
	}()
	return out
}

// drainAndStop fails readiness first so load balancers stop routing, then
// stops the listener, then aborts whatever streams outlived the grace
// period.
func drainAndStop(gw *gatewayserver.Server, srv *http.Server, logger *slog.Logger, cfg config.Config) error {
	gw.Draining().Set(true)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	switch err := srv.Shutdown(shutdownCtx); {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		// Open streams rode out the whole grace period; cut them loose.
		n := gw.Lifecycle().CancelAll()
		logger.Warn("cancelled in-flight requests at shutdown", "count", n)
	default:
		return fmt.Errorf("shutdown http server: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancelWait()
	if !gw.Lifecycle().Wait(waitCtx) {
		logger.Warn("requests still in flight after grace period")
	}
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps gatewayDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "friday-gateway: %v\n", err)
		return 1
	}
	if err := runGateway(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "friday-gateway: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultGatewayDeps()))
}
