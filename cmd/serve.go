package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kozaktomas/presence-gate/internal/admission"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/presence"
	"github.com/kozaktomas/presence-gate/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Presence Gate HTTP API.

The API accepts frames for recognition, manual entries and exits, and serves
attendance history, subjects and settings. With --cameras the entry and exit
camera flows run in the same process and share its duplicate suppressor.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
	serveCmd.Flags().Bool("cameras", false, "Also run the entry and exit camera flows")
}

// resolveServeHostPort applies the flag overrides on top of the environment.
func resolveServeHostPort(cmd *cobra.Command, cfg *config.Config) {
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	resolveServeHostPort(cmd, cfg)
	withCameras := mustGetBool(cmd, "cameras")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("Connecting to PostgreSQL database...")
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	g, err := buildGate(ctx, cfg, st, logger)
	if err != nil {
		return err
	}
	g.background(ctx, cfg.Matching.ReloadInterval)

	loc, _ := cfg.Location()
	server := web.NewServer(cfg, web.Dependencies{
		Service:  g.service,
		Ledger:   st.ledger,
		Subjects: st.subjects,
		Settings: st.settings,
		Gallery:  g.gallery,
		Tiers:    g.matcher.Tiers(),
		Location: loc,
		Logger:   logger,
	})

	flows := make(map[string]flowRunner)
	if withCameras {
		for _, direction := range []admission.Direction{admission.Entry, admission.Exit} {
			flow, err := newFlow(cfg, g.service, direction, flowOptions{Mode: presence.RunContinuous})
			if err != nil {
				return err
			}
			flows[string(direction)] = flow
		}
	}

	// Camera flows stop on their own failures without taking the API down.
	flowCtx, stopFlows := context.WithCancel(ctx)
	defer stopFlows()
	waitFlows := startFlows(flowCtx, flows, logger)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start()
	})
	group.Go(func() error {
		<-gctx.Done()
		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	fmt.Printf("Starting Presence Gate API on http://%s:%d\n", cfg.Web.Host, cfg.Web.Port)
	fmt.Println("Press Ctrl+C to stop")

	err = group.Wait()
	stopFlows()
	waitFlows()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

type flowRunner interface {
	Run(ctx context.Context) error
}

// startFlows runs each flow in its own goroutine. A flow that stops with an
// error is logged and left stopped; the others keep running. The returned
// func waits for all of them.
func startFlows(ctx context.Context, flows map[string]flowRunner, logger *slog.Logger) func() {
	var wg sync.WaitGroup
	for name, flow := range flows {
		wg.Go(func() {
			if err := flow.Run(ctx); err != nil {
				logger.Error("camera flow stopped", "flow", name, "error", err)
				return
			}
			logger.Info("camera flow finished", "flow", name)
		})
	}
	return wg.Wait
}
