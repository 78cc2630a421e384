package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/presence-gate/internal/admission"
	"github.com/kozaktomas/presence-gate/internal/camera"
	"github.com/kozaktomas/presence-gate/internal/config"
	"github.com/kozaktomas/presence-gate/internal/presence"
)

var cameraCmd = &cobra.Command{
	Use:   "camera",
	Short: "Run a camera flow",
	Long: `Run the entry or the exit camera flow.

Each flow reads frames from its camera, recognizes the subject and opens or
closes a session. A lock file in CAMERA_LOCK_DIR keeps a second process from
running the same flow.

Camera sources:
  http://cam/snapshot.jpg      still image per frame
  http://cam/video.mjpg        MJPEG stream (also mjpeg+http://...)
  dir:/path/to/frames          replay a directory of images

Examples:
  # Watch the entry camera until stopped
  presence-gate camera entry

  # Record a single exit and stop
  presence-gate camera exit --mode once --category "Data Science"

  # Sample the entry camera every two seconds
  presence-gate camera entry --mode interval --interval 2s`,
}

var cameraEntryCmd = &cobra.Command{
	Use:   "entry",
	Short: "Run the entry flow (opens sessions)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCamera(cmd, admission.Entry)
	},
}

var cameraExitCmd = &cobra.Command{
	Use:   "exit",
	Short: "Run the exit flow (closes sessions and records attendance)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCamera(cmd, admission.Exit)
	},
}

func init() {
	rootCmd.AddCommand(cameraCmd)
	cameraCmd.AddCommand(cameraEntryCmd, cameraExitCmd)

	for _, c := range []*cobra.Command{cameraEntryCmd, cameraExitCmd} {
		c.Flags().String("source", "", "Camera source URI (overrides CAMERA_ENTRY_SOURCE / CAMERA_EXIT_SOURCE)")
		c.Flags().String("mode", "continuous", "Run mode: continuous, once, interval")
		c.Flags().Duration("interval", 0, "Pause between frames in interval mode (defaults to CAMERA_FRAME_INTERVAL)")
		c.Flags().String("category", "", "Attendance category (defaults to the active category setting)")
	}
}

// flowOptions are the per-invocation knobs of a camera flow.
type flowOptions struct {
	Source   string
	Mode     presence.RunMode
	Interval time.Duration
	Category string
	OnEvent  func(presence.Event)
}

func newFlow(cfg *config.Config, service *presence.Service, direction admission.Direction, opts flowOptions) (*presence.Monitor, error) {
	uri := opts.Source
	if uri == "" {
		uri = cfg.Camera.EntrySource
		if direction == admission.Exit {
			uri = cfg.Camera.ExitSource
		}
	}
	if uri == "" {
		return nil, fmt.Errorf("no %s camera configured (set CAMERA_%s_SOURCE)", direction, strings.ToUpper(string(direction)))
	}
	if opts.Interval <= 0 {
		opts.Interval = cfg.Camera.FrameInterval
	}

	logger := slog.Default().With("component", "camera")
	source, err := camera.Open(uri, camera.Options{
		MaxRetries:   cfg.Camera.MaxRetries,
		RetryDelay:   cfg.Camera.RetryDelay,
		ReadTimeout:  cfg.Camera.ReadTimeout,
		MaxDimension: cfg.Matching.MaxFrameSize,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	flow, err := presence.NewMonitor(service, source, presence.MonitorConfig{
		Direction: direction,
		Category:  opts.Category,
		Mode:      opts.Mode,
		Interval:  opts.Interval,
		LockDir:   cfg.Camera.LockDir,
		OnEvent:   opts.OnEvent,
	}, logger)
	if err != nil {
		_ = source.Close()
		return nil, err
	}
	return flow, nil
}

func runCamera(cmd *cobra.Command, direction admission.Direction) error {
	cfg := config.Load()
	logger, err := setupLogger(cmd, cfg)
	if err != nil {
		return err
	}
	mode, err := presence.ParseRunMode(mustGetString(cmd, "mode"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	flow, err := newFlow(cfg, g.service, direction, flowOptions{
		Source:   mustGetString(cmd, "source"),
		Mode:     mode,
		Interval: mustGetDuration(cmd, "interval"),
		Category: mustGetString(cmd, "category"),
		OnEvent:  printEvent,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Running %s flow (%s mode), press Ctrl+C to stop\n", direction, mode)
	runErr := flow.Run(ctx)

	stats := flow.Stats()
	fmt.Printf("\nFrames: %d, accepted: %d, suppressed: %d, skipped: %d\n",
		stats.Frames, stats.Accepted, stats.Suppressed, stats.Skipped)
	return runErr
}

func printEvent(ev presence.Event) {
	switch {
	case ev.Entry != nil:
		e := ev.Entry
		fmt.Printf("ENTRY  %-24s %s  tier %s  confidence %d%%  session %s\n",
			e.Subject.Name, e.Session.EntryTime.Format(time.TimeOnly), e.Tier, e.Confidence, e.Session.ID)
	case ev.Exit != nil:
		x := ev.Exit
		line := fmt.Sprintf("EXIT   %-24s %s  %s  (%s)",
			x.Subject.Name, x.Record.ExitTime.Format(time.TimeOnly), x.Verdict, x.DurationText)
		if x.Shortage > 0 {
			line += fmt.Sprintf("  %d minutes short", x.Shortage)
		}
		fmt.Println(line)
	}
}
