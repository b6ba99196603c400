package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/btmon/internal/config"
	"github.com/danmuck/btmon/internal/logging"
	"github.com/danmuck/btmon/internal/monitor"
	"github.com/danmuck/btmon/internal/observability"
	"github.com/danmuck/btmon/internal/status"
	"github.com/danmuck/btmon/internal/transport/rtt"
	"github.com/danmuck/btmon/internal/transport/serial"
	"github.com/danmuck/btmon/internal/uart"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type runFlags struct {
	configPath string
	transport  string
	device     string
	output     string
	noStatus   bool
	stdin      bool
}

func runCommand() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream stdin as system notes and process logs as user-logging packets",
		Long: `run opens the configured transport, announces the controller with a
new-index packet, and keeps streaming until interrupted or stdin ends.
Every line read from stdin becomes a system note; btmonctl's own log
lines are forwarded as user-logging packets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadRunConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			var in io.Reader
			if flags.stdin {
				in = cmd.InOrStdin()
			}
			return run(ctx, cfg, in, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to a TOML config file")
	cmd.Flags().StringVarP(&flags.transport, "transport", "t", "", "Override the transport: serial or rtt")
	cmd.Flags().StringVarP(&flags.device, "device", "d", "", "Override the serial device")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Override the rtt host output file")
	cmd.Flags().BoolVar(&flags.noStatus, "no-status", false, "Do not start the status HTTP server")
	cmd.Flags().BoolVar(&flags.stdin, "stdin", true, "Forward stdin lines as system notes and stop at EOF")
	return cmd
}

func loadRunConfig(flags runFlags) (config.Config, error) {
	cfg := config.DefaultConfig()
	if flags.configPath != "" {
		loaded, err := config.Load(flags.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if flags.transport != "" {
		cfg.Transport = flags.transport
	}
	if flags.device != "" {
		cfg.Serial.Device = flags.device
	}
	if flags.output != "" {
		cfg.RTT.Output = flags.output
	}
	if flags.noStatus {
		cfg.Status.Enabled = false
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// pipeline is a monitor bound to an open transport. drain, when set, copies
// the host side of a trace channel out until the channel is closed.
type pipeline struct {
	mon     *monitor.Monitor
	drain   func() error
	closers []io.Closer
}

// openPipeline builds the transport named by cfg. logger must not be the
// bridged application logger.
func openPipeline(cfg config.Config, stdout io.Writer, logger zerolog.Logger) (*pipeline, error) {
	p := &pipeline{}
	var sink io.Writer

	switch cfg.Transport {
	case config.TransportSerial:
		// Hide Close so the transport never closes the process's stdout.
		line := io.Writer(struct{ io.Writer }{stdout})
		if cfg.Serial.Device != "" {
			port, err := uart.Open(uart.Config{Device: cfg.Serial.Device, Baud: cfg.Serial.Baud})
			if err != nil {
				return nil, err
			}
			logger.Info().Str("device", port.Name()).Int("baud", cfg.Serial.Baud).Bool("raw", port.Raw()).Msg("serial line open")
			line = port
		}
		tr, err := serial.Open(line, cfg.Serial.RingSize, logger)
		if err != nil {
			if c, ok := line.(io.Closer); ok {
				_ = c.Close()
			}
			return nil, fmt.Errorf("open serial transport: %w", err)
		}
		sink = tr

	case config.TransportRTT:
		cb := rtt.NewControlBlock(rtt.DefaultMaxUpBuffers)
		up, err := cb.AllocUpBuffer(cfg.RTT.Channel, cfg.RTT.Size, cfg.RTT.Mode)
		if err != nil {
			return nil, fmt.Errorf("allocate trace channel: %w", err)
		}
		tr, err := rtt.New(up, rtt.Config{
			Buffered:         cfg.RTT.Buffered,
			PacketBufferSize: cfg.RTT.PacketBuffer,
			Logger:           logger,
		})
		if err != nil {
			return nil, fmt.Errorf("open rtt transport: %w", err)
		}
		out := stdout
		if cfg.RTT.Output != "" {
			f, err := os.Create(cfg.RTT.Output)
			if err != nil {
				return nil, fmt.Errorf("open rtt output: %w", err)
			}
			p.closers = append(p.closers, f)
			out = f
		}
		p.drain = func() error { return drainUpBuffer(up, out) }
		sink = tr

	default:
		return nil, fmt.Errorf("%w: transport %q", config.ErrInvalid, cfg.Transport)
	}

	mcfg := monitor.DefaultConfig()
	mcfg.Ident = cfg.Monitor.Ident
	mcfg.LineSize = cfg.Monitor.LineSize
	mcfg.Logger = logger
	mon, err := monitor.New(sink, mcfg)
	if err != nil {
		if c, ok := sink.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, multierr.Append(err, closeAll(p.closers))
	}
	p.mon = mon
	return p, nil
}

func closeAll(closers []io.Closer) error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// drainUpBuffer plays the debug probe: it copies whatever the target side
// queued until the up-buffer is closed and empty. On a write failure it closes
// the up-buffer itself, otherwise a blocking-mode writer would wait forever
// for room while holding the monitor's emission lock.
func drainUpBuffer(up *rtt.UpBuffer, out io.Writer) (err error) {
	defer func() {
		if err != nil {
			_ = up.Close()
		}
	}()
	buf := make([]byte, 512)
	for {
		n, rerr := up.ReadContext(context.Background(), buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write rtt output: %w", werr)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

func run(ctx context.Context, cfg config.Config, in io.Reader, stdout io.Writer) error {
	if cfg.LogLevel < zerolog.GlobalLevel() {
		zerolog.SetGlobalLevel(cfg.LogLevel)
	}
	base := observability.InitLogger("btmonctl").Level(cfg.LogLevel)
	observability.RegisterMetrics()

	p, err := openPipeline(cfg, stdout, base)
	if err != nil {
		return err
	}

	// Process logs also travel the monitor stream; only this logger is bridged.
	logger := base.Output(zerolog.MultiLevelWriter(
		logging.Writer(),
		p.mon.LevelWriter(cfg.LogLevel),
	))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The host drain runs before the first send: a blocking channel would
	// otherwise wait for room that nobody makes.
	if p.drain != nil {
		g.Go(p.drain)
	}

	if cfg.Index.Announce {
		p.mon.NewIndex(cfg.Index.Bus, cfg.Index.Addr, cfg.Index.Name)
	}
	logger.Info().Str("transport", cfg.Transport).Str("ident", cfg.Monitor.Ident).Msg("monitor started")

	if cfg.Status.Enabled {
		srv := status.New(cfg.Status.Addr, status.Info{
			Transport: cfg.Transport,
			Ident:     cfg.Monitor.Ident,
			Version:   version,
		}, p.mon, logger)
		g.Go(func() error { return srv.Run(gctx) })
	}
	if in != nil {
		// Not part of the group: a read on stdin cannot be interrupted.
		go func() {
			if _, err := io.Copy(p.mon.NoteWriter(), in); err != nil {
				logger.Warn().Err(err).Msg("stdin read failed")
			}
			p.mon.Flush()
			cancel()
		}()
	}

	<-gctx.Done()
	s := p.mon.Stats()
	logger.Info().Uint64("packets", s.Packets).Uint64("bytes", s.Bytes).Uint64("sink_errors", s.SinkErrors).Msg("monitor stopping")

	// The monitor closes first so a trace channel drain sees EOF before its
	// output file is closed.
	err = p.mon.Close()
	waitErr := g.Wait()
	if errors.Is(waitErr, context.Canceled) {
		waitErr = nil
	}
	return multierr.Combine(err, waitErr, closeAll(p.closers))
}
