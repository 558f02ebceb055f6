// Command pocket-trk tracks GNSS signals in a raw IF sample stream.
//
//	pocket-trk [-sig sig -prn prn[,...] ...] [-toff toff] [-f freq] [-fi freq]
//	    [-d freq[,freq]] [-IQ] [-ti tint] [-log path] [-out path] [-q] [file]
//
// Each -prn binds the -sig and -fi given before it, so one invocation can
// track several signals:
//
//	pocket-trk -sig L1CA -prn 1-32 -sig E1B -prn 1-36 -f 12 -fi 0 capture.bin
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/pocket-trk/modules/config"
	"github.com/e7canasta/pocket-trk/modules/emitter"
	"github.com/e7canasta/pocket-trk/modules/logstream"
	"github.com/e7canasta/pocket-trk/modules/receiver"
	"github.com/e7canasta/pocket-trk/modules/sampling"
)

const version = "v0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// options holds the parsed command line on top of the configuration file.
type options struct {
	cfg   *config.Config
	debug bool
}

// run executes one receiver session and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	// Setup logging
	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Shutdown signal received, stopping receiver...")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := runReceiver(ctx, opts.cfg, stdout, logger); err != nil {
		logger.Error("Receiver failed", "error", err)
		return 1
	}
	return 0
}

func usage(fs *flag.FlagSet, w io.Writer) func() {
	return func() {
		fmt.Fprintf(w, "pocket-trk %s: GNSS signal tracker\n\n", version)
		fmt.Fprintf(w, "Usage: pocket-trk [options] [file]\n\n")
		fmt.Fprintf(w, "  file: IF sample file, - for stdin (default), gst:<pipeline> with the gst build tag\n\n")
		fs.PrintDefaults()
	}
}

// parseArgs parses the command line. With -config the file is loaded first
// and only flags actually given override its values.
func parseArgs(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("pocket-trk", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs, stderr)

	sig := "L1CA"
	var (
		configPath string
		debug      bool

		fi     float64
		groups []config.ChannelGroup

		refDop, maxDop float64
	)

	fs.StringVar(&configPath, "config", "", "YAML configuration file")
	fs.BoolVar(&debug, "debug", false, "Enable debug logging")

	fs.Func("sig", "signal type of the following -prn (default L1CA)", func(s string) error {
		sig = strings.ToUpper(s)
		return nil
	})
	fs.Func("prn", "PRN numbers of the current -sig, e.g. 1-32,40", func(s string) error {
		v := fi
		groups = append(groups, config.ChannelGroup{Sig: sig, PRNs: s, FiMHz: &v})
		return nil
	})
	fs.Func("fi", "IF frequency (MHz) of the following -prn (default 0.0)", func(s string) error {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		fi = v
		return nil
	})
	fs.Func("d", "reference and max Doppler (Hz) as ref[,max] (default 0,5000)", func(s string) error {
		var err error
		ref, mx, hasMax := strings.Cut(s, ",")
		if refDop, err = strconv.ParseFloat(ref, 64); err != nil {
			return err
		}
		if hasMax {
			if maxDop, err = strconv.ParseFloat(mx, 64); err != nil {
				return err
			}
		}
		return nil
	})

	toff := fs.Float64("toff", 0, "time offset into the input (s)")
	fsMHz := fs.Float64("f", 12.0, "sampling frequency (MHz)")
	iq := fs.Bool("IQ", false, "I/Q sampling")
	ti := fs.Float64("ti", 0.1, "status update interval (s)")
	logPath := fs.String("log", "", "record stream: file, :port or addr:port")
	logLevel := fs.Int("log-level", logstream.DefaultLevel, "record level, 0 prints records to stdout")
	outPath := fs.String("out", "", "decoded message output stream")
	quiet := fs.Bool("q", false, "suppress the status display")
	sync := fs.Bool("sync", false, "writer waits for the slowest channel (file replay)")
	pin := fs.Bool("pin", false, "pin channel workers to CPUs")
	httpAddr := fs.String("http", "", "health and metrics server address, e.g. :8080")
	broker := fs.String("mqtt", "", "MQTT broker host:port for status publishing")
	encoding := fs.String("mqtt-encoding", "json", "MQTT status payload: json or msgpack")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("unexpected arguments %v", fs.Args()[1:])
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "prn":
			cfg.Channels = groups
		case "fi":
			cfg.Input.FiMHz = fi
		case "d":
			cfg.Acquisition.RefDopHz = refDop
			if maxDop > 0 {
				cfg.Acquisition.MaxDopHz = maxDop
			}
		case "toff":
			cfg.Input.ToffS = *toff
		case "f":
			cfg.Input.FsMHz = *fsMHz
		case "IQ":
			cfg.Input.IQ = *iq
		case "ti":
			cfg.Receiver.StatusIntervalS = *ti
		case "log":
			cfg.Log.Path = *logPath
		case "log-level":
			cfg.Log.Level = *logLevel
		case "out":
			cfg.Log.OutPath = *outPath
		case "q":
			cfg.Receiver.Quiet = *quiet
		case "sync":
			cfg.Receiver.Sync = *sync
		case "pin":
			cfg.Receiver.PinCPUs = *pin
		case "http":
			cfg.HTTP.Addr = *httpAddr
		case "mqtt":
			cfg.MQTT.Broker = *broker
		case "mqtt-encoding":
			cfg.MQTT.Encoding = *encoding
		}
	})
	if fs.NArg() == 1 {
		cfg.Input.Path = fs.Arg(0)
	}

	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return &options{cfg: cfg, debug: debug}, nil
}

func runReceiver(ctx context.Context, cfg *config.Config, stdout io.Writer, logger *slog.Logger) error {
	fs := cfg.Input.FsMHz * 1e6
	format := sampling.SelectFormat(cfg.Input.IQ, cfg.Input.FiMHz)
	runID := uuid.NewString()

	// 1. Open the sample stream
	src, err := sampling.Open(cfg.Input.Path, sampling.Config{
		Fs:     fs,
		Format: format,
		Toff:   cfg.Input.ToffS,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer src.Close()

	// 2. Open record and output streams
	records, err := logstream.Open(cfg.Log.Path, logstream.Config{
		Level:  cfg.Log.Level,
		Stdout: stdout,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log stream: %w", err)
	}
	defer records.Close()

	var output io.Writer
	if cfg.Log.OutPath != "" {
		out, err := logstream.Open(cfg.Log.OutPath, logstream.Config{
			Level:  cfg.Log.Level,
			Stdout: stdout,
			Logger: logger,
		})
		if err != nil {
			return fmt.Errorf("failed to open output stream: %w", err)
		}
		defer out.Close()
		output = out
	}

	// 3. Create the receiver (starts channel workers)
	acq := receiver.Acquisition{
		RefDop: cfg.Acquisition.RefDopHz,
		MaxDop: cfg.Acquisition.MaxDopHz,
		SpCorr: cfg.Acquisition.SpCorr,
	}
	rcv, err := receiver.New(receiver.Config{
		Source:         src,
		Fs:             fs,
		Format:         format,
		Channels:       cfg.ChannelSpecs(),
		Acq:            acq,
		BufferCycles:   cfg.Receiver.BufferCycles,
		StatusInterval: time.Duration(cfg.Receiver.StatusIntervalS * float64(time.Second)),
		Sync:           cfg.Receiver.Sync,
		DrainTimeout:   time.Duration(cfg.Receiver.DrainTimeoutS * float64(time.Second)),
		PinCPUs:        cfg.Receiver.PinCPUs,
		Records:        records,
		Output:         output,
		RunID:          runID,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create receiver: %w", err)
	}
	defer rcv.Close()

	// 4. Status observers
	if !cfg.Receiver.Quiet {
		rcv.AddObserver(receiver.NewStatusPrinter(stdout))
	}

	if cfg.HTTP.Addr != "" {
		hs := receiver.NewHealthServer(logger)
		if err := hs.Start(cfg.HTTP.Addr); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			hs.Shutdown(shutdownCtx)
		}()
		rcv.AddObserver(hs)
	}

	if cfg.MQTT.Broker != "" {
		em, err := emitter.NewMQTTEmitter(emitter.Config{
			Broker:      cfg.MQTT.Broker,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			ClientID:    cfg.MQTT.ClientID,
			Encoding:    cfg.MQTT.Encoding,
			RunID:       runID,
			Logger:      logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create mqtt emitter: %w", err)
		}
		if err := em.Connect(); err != nil {
			logger.Warn("MQTT broker not reachable, publishing once it connects", "error", err)
		}
		defer em.Close()
		rcv.AddObserver(em)
	}

	// 5. Run until end of stream or signal
	if err := rcv.Run(ctx); err != nil {
		return err
	}

	logger.Debug("Input closed", "input", src.Name(), "bytes_read", src.Stats().BytesRead)
	return nil
}
