// Command imu-logger records IMU telemetry from a serial port into CSV files,
// one header plus rows per logging session, and appends a distance summary
// row for every completed session.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/imu-logger/internal/config"
	"github.com/banshee-data/imu-logger/internal/db"
	"github.com/banshee-data/imu-logger/internal/fsutil"
	"github.com/banshee-data/imu-logger/internal/monitoring"
	"github.com/banshee-data/imu-logger/internal/recorder"
	"github.com/banshee-data/imu-logger/internal/serialmux"
	"github.com/banshee-data/imu-logger/internal/sink"
	"github.com/banshee-data/imu-logger/internal/timeutil"
	"github.com/banshee-data/imu-logger/internal/version"
)

func main() {
	flags := newFlags(os.Args[0])
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}
	if flags.version {
		fmt.Println(version.Long())
		return
	}

	cfg := &config.Config{}
	if flags.configFile != "" {
		var err error
		cfg, err = config.LoadConfig(flags.configFile)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	flags.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	monitoring.SetDebug(cfg.GetLogDebug())

	a := &app{
		cfg:         cfg,
		ports:       serialmux.NewRealSerialPortFactory(),
		fsys:        fsutil.OSFileSystem{},
		clock:       timeutil.RealClock{},
		stdout:      os.Stdout,
		devFixture:  flags.dev,
		devInterval: flags.devInterval,
	}
	if err := a.run(context.Background()); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// app is one run of the logger with its dependencies.
type app struct {
	cfg    *config.Config
	ports  serialmux.SerialPortFactory
	fsys   fsutil.FileSystem
	clock  timeutil.Clock
	stdout io.Writer

	// devFixture replaces the serial port with a replay of the file's lines.
	devFixture  string
	devInterval time.Duration
}

// run opens the port, then the outputs, and logs until ctx is cancelled, an
// interrupt arrives, or the port fails. An interrupt or the end of a replay
// is a normal stop and returns nil; a port failure is returned after the
// outputs are closed.
func (a *app) run(ctx context.Context) error {
	opts, err := a.cfg.PortOptions().Normalize()
	if err != nil {
		return err
	}

	// The port is opened before any output file so a missing device leaves
	// no empty files behind.
	serial, portName, err := a.openSerial(opts)
	if err != nil {
		return err
	}
	defer serial.Close()

	rec, console, store, err := a.openOutputs(portName, opts)
	if err != nil {
		return err
	}
	// Close is idempotent; the explicit call below reports errors.
	defer rec.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if console != nil {
		if err := console.Ready(portName, opts.BaudRate); err != nil {
			log.Printf("failed to write to console: %v", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	// runCtx also ends when the recorder returns, so the debug server stops
	// after a replay finishes.
	runCtx, cancelRun := context.WithCancel(gctx)
	defer cancelRun()

	g.Go(func() error {
		err := serial.Monitor(runCtx)
		log.Print("monitor routine terminated")
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("connection to %s lost: %w", portName, err)
		}
		return nil
	})

	// The recorder watches only the interrupt context: when the port fails,
	// Monitor closes Lines and the recorder drains what was already read.
	g.Go(func() error {
		defer cancelRun()
		return rec.Run(ctx, serial.Lines())
	})

	if listen := a.cfg.GetDebugListen(); listen != "" {
		if err := a.serveDebug(runCtx, g, listen, serial, store); err != nil {
			cancelRun()
			g.Wait()
			return err
		}
	}

	runErr := g.Wait()
	if runErr == nil && ctx.Err() != nil && console != nil {
		if err := console.Interrupted(); err != nil {
			log.Printf("failed to write to console: %v", err)
		}
	}

	if err := rec.Close(); err != nil {
		log.Printf("failed to close outputs: %v", err)
	}
	return runErr
}

// openSerial returns the line source and the name shown on the console.
func (a *app) openSerial(opts serialmux.PortOptions) (serialmux.SerialMuxInterface, string, error) {
	if a.devFixture != "" {
		data, err := a.fsys.ReadFile(a.devFixture)
		if fsutil.IsNotExist(err) {
			return nil, "", fmt.Errorf("fixtures file %s does not exist", a.devFixture)
		}
		if err != nil {
			return nil, "", fmt.Errorf("failed to open fixtures file: %w", err)
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		log.Printf("replaying %d lines from %s", len(lines), a.devFixture)
		return serialmux.NewReplaySerialMux(lines, a.devInterval), a.devFixture, nil
	}

	path := a.cfg.GetPort()
	port, err := a.ports.Open(path, opts)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open serial port %s: %w", path, err)
	}
	log.Printf("opened serial port %s (%s)", path, opts)

	if err := serialmux.Settle(port, a.cfg.GetSettleDelay(), a.clock); err != nil {
		port.Close()
		return nil, "", err
	}
	return serialmux.NewSerialMux(port), path, nil
}

// openOutputs creates the CSV files, the optional store and console, and the
// recorder that owns them. On error everything opened so far is closed.
func (a *app) openOutputs(portName string, opts serialmux.PortOptions) (_ *recorder.Recorder, _ *sink.Console, _ *db.DB, err error) {
	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				c.Close()
			}
		}
	}()

	data, err := sink.NewDataWriter(a.fsys, a.cfg.GetDataFile())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create data file: %w", err)
	}
	closers = append(closers, data)

	ropts := recorder.Options{Data: data, Clock: a.clock}

	if a.cfg.GetSummaryEnabled() {
		summary, err := sink.NewSummaryWriter(a.fsys, a.cfg.GetSummaryFile())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create summary file: %w", err)
		}
		closers = append(closers, summary)
		ropts.Summary = summary
	}

	var store *db.DB
	if path := a.cfg.GetStorePath(); path != "" {
		store, err = db.NewDB(path)
		if err != nil {
			return nil, nil, nil, err
		}
		closers = append(closers, store)

		run := &db.Run{
			Port:      portName,
			BaudRate:  opts.BaudRate,
			Version:   version.String(),
			StartedAt: a.clock.Now(),
		}
		if err := store.CreateRun(run); err != nil {
			return nil, nil, nil, err
		}
		log.Printf("recording run %s to %s", run.ID, path)
		ropts.Store = store
		ropts.RunID = run.ID
	}

	if a.cfg.GetConsoleEnabled() {
		copts := sink.ConsoleOptions{Clear: a.cfg.GetConsoleClear(), DataPath: data.Path()}
		if ropts.Summary != nil {
			copts.SummaryPath = ropts.Summary.Path()
		}
		ropts.Console = sink.NewConsole(a.stdout, copts)
	}

	rec, err := recorder.New(ropts)
	if err != nil {
		return nil, nil, nil, err
	}
	return rec, ropts.Console, store, nil
}

// debugMux mounts the debug routes of the line source and, when present,
// the session store.
func debugMux(serial serialmux.SerialMuxInterface, store *db.DB) (*http.ServeMux, error) {
	mux := http.NewServeMux()
	serial.AttachAdminRoutes(mux)
	if store != nil {
		if err := store.AttachAdminRoutes(mux); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

// serveDebug starts the debug HTTP server in g and shuts it down when ctx
// ends.
func (a *app) serveDebug(ctx context.Context, g *errgroup.Group, listen string, serial serialmux.SerialMuxInterface, store *db.DB) error {
	mux, err := debugMux(serial, store)
	if err != nil {
		return fmt.Errorf("failed to mount debug routes: %w", err)
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}
	log.Printf("debug server listening on http://%s/debug/", ln.Addr())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("debug server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
		return nil
	})
	return nil
}
