package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/rollcall/internal/archive"
	"github.com/andresmejia3/rollcall/internal/config"
	"github.com/andresmejia3/rollcall/internal/dispatch"
	"github.com/andresmejia3/rollcall/internal/frameloop"
	"github.com/andresmejia3/rollcall/internal/notify"
	"github.com/andresmejia3/rollcall/internal/render"
	"github.com/andresmejia3/rollcall/internal/rollover"
	"github.com/andresmejia3/rollcall/internal/status"
	"github.com/andresmejia3/rollcall/internal/tracker"
	"github.com/andresmejia3/rollcall/internal/utils"
	"github.com/andresmejia3/rollcall/internal/worker"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// drainTimeout bounds how long Ctrl+C waits for queued side effects.
const drainTimeout = 30 * time.Second

// WatchOptions holds flag values for the watch command. Only flags the user set
// override the loaded configuration.
type WatchOptions struct {
	Input          string
	FrameStride    int
	Threshold      float64
	StatusAddr     string
	PreviewPath    string
	LedgerBackend  string
	IdentitiesFile string
	MQTTBroker     string
	Progress       bool
}

var watchOpts WatchOptions

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a camera feed and record attendance",
	Long: `Runs a live session: frames from ffmpeg are matched against known identities,
confirmed people are marked present in the ledger once per day and their photo is archived.
Ctrl+C stops capture and waits for pending ledger and photo writes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		applyWatchFlags(cmd.Flags(), Cfg, watchOpts)
		if err := Cfg.Validate(); err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}
		if err := validateInput(Cfg.Capture.Input); err != nil {
			utils.ShowError("Invalid input", err, nil)
			return err
		}
		return runWatch(cmd.Context(), Cfg, watchOpts.Progress)
	},
}

func init() {
	addWatchFlags(watchCmd.Flags(), &watchOpts)
	rootCmd.AddCommand(watchCmd)
}

func addWatchFlags(f *pflag.FlagSet, o *WatchOptions) {
	f.StringVarP(&o.Input, "input", "i", "", "Camera device, video file or stream URL (default /dev/video0)")
	f.IntVarP(&o.FrameStride, "nth-frame", "n", 3, "Process every Nth captured frame")
	f.Float64VarP(&o.Threshold, "threshold", "t", 0.40, "Face matching distance threshold (lower is stricter)")
	f.StringVar(&o.StatusAddr, "status-addr", "", "Serve the status API on this address, e.g. :8080")
	f.StringVar(&o.PreviewPath, "preview", "", "Keep the latest annotated frame at this path")
	f.StringVar(&o.LedgerBackend, "ledger", "file", "Ledger backend: file, postgres or memory")
	f.StringVar(&o.IdentitiesFile, "identities", "", "YAML identities file to use instead of the database")
	f.StringVar(&o.MQTTBroker, "mqtt-broker", "", "Publish confirmations to this MQTT broker, e.g. tcp://localhost:1883")
	f.BoolVarP(&o.Progress, "progress", "p", false, "Show a frame counter on stderr")
}

func applyWatchFlags(flags *pflag.FlagSet, cfg *config.Config, opts WatchOptions) {
	if flags.Changed("input") {
		cfg.Capture.Input = opts.Input
	}
	if flags.Changed("nth-frame") {
		cfg.Capture.FrameStride = opts.FrameStride
	}
	if flags.Changed("threshold") {
		cfg.Match.DistanceThreshold = opts.Threshold
	}
	if flags.Changed("status-addr") {
		cfg.Status.Addr = opts.StatusAddr
	}
	if flags.Changed("preview") {
		cfg.Capture.PreviewPath = opts.PreviewPath
	}
	if flags.Changed("ledger") {
		cfg.Ledger.Backend = opts.LedgerBackend
	}
	if flags.Changed("identities") {
		cfg.Match.IdentitiesFile = opts.IdentitiesFile
	}
	if flags.Changed("mqtt-broker") {
		cfg.MQTT.Broker = opts.MQTTBroker
	}
}

// validateInput checks local inputs before heavy processes start. Stream URLs are left to ffmpeg.
func validateInput(input string) error {
	if input == "" {
		return fmt.Errorf("no input given")
	}
	if strings.Contains(input, "://") {
		return nil
	}
	info, err := os.Stat(input)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("input %s does not exist: %w", input, err)
		}
		return fmt.Errorf("unable to access input %s: %w", input, err)
	}
	if info.IsDir() {
		return fmt.Errorf("input %s is a directory, expected a device, video file or stream", input)
	}
	return nil
}

// runWatch wires the session together: identities, ledger, dispatcher, tracker, rollover
// timer, optional status server, the Python worker and the ffmpeg capture pipe.
func runWatch(ctx context.Context, cfg *config.Config, progress bool) error {
	loc, err := cfg.Location()
	if err != nil {
		utils.ShowError("Invalid timezone", err, nil)
		return err
	}

	m, err := loadMatcher(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to load identities", err, nil)
		return err
	}

	led, err := openLedger(ctx, cfg)
	if err != nil {
		utils.ShowError("Failed to open ledger", err, nil)
		return err
	}

	// 1. Side effects run on their own workers
	var notifiers []dispatch.Notifier
	if cfg.MQTT.Broker != "" {
		mq := notify.NewMQTT(notify.Config{
			Broker:         cfg.MQTT.Broker,
			Topic:          cfg.MQTT.Topic,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			PublishTimeout: cfg.MQTT.PublishTimeout,
		})
		if err := mq.Connect(ctx); err != nil {
			// The client keeps retrying in the background.
			fmt.Fprintf(os.Stderr, "⚠️  MQTT broker not reachable yet: %v\n", err)
		}
		defer mq.Close()
		notifiers = append(notifiers, mq)
	}

	arch := &archive.Dir{Root: cfg.Archive.Root, Quality: cfg.Archive.Quality}
	disp := dispatch.New(dispatchConfig(cfg), arch, led, notifiers...)
	disp.Start()

	tr := tracker.New(trackerConfig(cfg, loc), disp)

	// 2. Rollover runs on its own timer, independent of frame cadence
	ctrl := rollover.New(tr, led, m.Names, rolloverConfig(cfg, loc))
	if err := ctrl.Prime(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Could not create today's ledger section, will retry: %v\n", err)
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		ctrl.Run(bgCtx)
	}()

	var srv *status.Server
	if cfg.Status.Addr != "" {
		srv = status.NewServer(cfg.Status.Addr, status.Sources{
			Tracker:    tr,
			Dispatcher: disp,
			Ledger:     led,
			Location:   loc,
		})
		bg.Add(1)
		go func() {
			defer bg.Done()
			if err := srv.Start(); err != nil {
				fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
			}
		}()
	}

	loopErr := runCapture(ctx, cfg, m, tr, progress)

	// 3. Shut down: background first, then drain side effects
	stopBackground()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
		}
		cancel()
	}
	bg.Wait()

	if pending := disp.Stats().Pending; pending > 0 {
		fmt.Fprintf(os.Stderr, "⏳ Waiting for %s...\n", english.Plural(pending, "pending side effect", ""))
	}
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := disp.Close(drainCtx); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  %v\n", err)
	}

	st := disp.Stats()
	fmt.Fprintf(os.Stderr, "\n🏁 Session ended. %s confirmed today, %d succeeded, %d failed, %d dropped.\n",
		english.Plural(len(tr.ConfirmedToday()), "person", "people"), st.Succeeded, st.Failed, st.Dropped)

	return loopErr
}

// runCapture streams frames from ffmpeg through the Python worker until the input ends or ctx is cancelled.
func runCapture(ctx context.Context, cfg *config.Config, m frameloop.Matcher, tr *tracker.Tracker, progress bool) error {
	fmt.Fprintln(os.Stderr, "🚀 Starting AI Engine...")
	w, err := worker.NewPythonWorker(0, worker.Config{
		Python:      cfg.Worker.Python,
		Script:      cfg.Worker.Script,
		ReadTimeout: cfg.Worker.ReadTimeout,
	})
	if err != nil {
		utils.ShowError("Worker startup failed", err, nil)
		return err
	}
	defer w.Close()

	ffmpeg := utils.NewCaptureCmd(cfg.Capture.Input)
	var stderrBuf bytes.Buffer
	ffmpeg.Stderr = &stderrBuf

	ffmpegOut, err := ffmpeg.StdoutPipe()
	if err != nil {
		utils.ShowError("Failed to create FFmpeg stdout pipe", err, nil)
		return err
	}
	if err := ffmpeg.Start(); err != nil {
		utils.ShowError("Failed to start FFmpeg", err, nil)
		return err
	}

	// Killing ffmpeg closes the pipe, which ends the frame loop.
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			ffmpeg.Process.Kill()
		case <-stopped:
		}
	}()

	var renderer frameloop.Renderer
	if cfg.Capture.PreviewPath != "" {
		renderer = &render.PreviewFile{Path: cfg.Capture.PreviewPath, Quality: 80}
	}

	loopCfg := frameloop.Config{Stride: cfg.Capture.FrameStride}
	if progress {
		loopCfg.Progress = os.Stderr
	}
	fmt.Fprintf(os.Stderr, "🎥 Watching %s (every %d frames)\n", cfg.Capture.Input, cfg.Capture.FrameStride)

	stats, loopErr := frameloop.New(loopCfg, w, m, tr, renderer).Run(ctx, ffmpegOut)
	if loopErr != nil {
		ffmpeg.Process.Kill()
		ffmpeg.Wait()
		utils.ShowError("Frame loop stopped", loopErr, w.Cmd)
		return loopErr
	}

	if err := ffmpeg.Wait(); err != nil && ctx.Err() == nil {
		if stderrBuf.Len() > 0 {
			fmt.Fprintf(os.Stderr, "\nFFmpeg Logs:\n%s\n", stderrBuf.String())
		}
		utils.ShowError("FFmpeg execution failed", err, nil)
		return err
	}

	fmt.Fprintf(os.Stderr, "\n📼 Processed %d of %d frames, %d faces, %d unknown.\n",
		stats.Processed, stats.Captured, stats.Faces, stats.Unknown)
	return nil
}
