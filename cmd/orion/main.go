// Orion (Go) - proof-of-work mining client
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/carlosrabelo/orion/internal/config"
	"github.com/carlosrabelo/orion/internal/engine"
	"github.com/carlosrabelo/orion/internal/hw"
	"github.com/carlosrabelo/orion/internal/miner"
	"github.com/carlosrabelo/orion/internal/watchdog"
	apperrors "github.com/carlosrabelo/orion/pkg/errors"
	"github.com/carlosrabelo/orion/pkg/logger"
)

type options struct {
	config  string
	version bool
	info    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, os.Getenv))
}

func run(args []string, stdout, stderr io.Writer, getenv func(string) string) int {
	cfg, opts, err := parseArgs(args, stderr, getenv)
	if err != nil {
		fmt.Fprintf(stderr, "orion: %v\n", err)
		return 2
	}

	if opts.version {
		fmt.Fprintln(stdout, miner.Version)
		return 0
	}

	probe := hw.Host()
	if opts.info {
		printInfo(stdout, probe)
		return 0
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "orion: %v\n", err)
		return 2
	}

	log, err := logger.New(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(stderr, "orion: building logger: %v\n", err)
		return 1
	}
	defer func() { _ = log.Sync() }()

	m, err := miner.New(cfg, log, probe, nil)
	if err != nil {
		log.Error("Failed to create miner: %v", err)
		if apperrors.CodeOf(err) == apperrors.CodeConfig {
			return 2
		}
		return 1
	}

	// Setup context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		log.Error("Failed to start miner: %v", err)
		return 1
	}

	if cfg.HTTP.Listen != "" {
		go m.HTTPServe(ctx)
	}
	go m.ReportLoop(ctx, cfg.ReportInterval())

	<-ctx.Done()
	log.Info("Shutting down...")

	if err := m.Stop(); err != nil {
		log.Error("Shutdown: %v", err)
		return 1
	}
	log.Info("Shutdown complete")
	return 0
}

// parseArgs loads the config file, then applies environment overrides, then
// any flag given explicitly on the command line
func parseArgs(args []string, output io.Writer, getenv func(string) string) (*config.Config, options, error) {
	var opts options
	fs := flag.NewFlagSet("orion", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&opts.config, "config", "", "Path to configuration file (.json, .yaml or .yml)")
	fs.BoolVar(&opts.version, "version", false, "Show version information")
	fs.BoolVar(&opts.info, "info", false, "Show hardware information and supported hashers")
	threads := fs.Int("threads", 0, "Hashing threads (0 = all threads)")
	cpuHasher := fs.String("cpu-hasher", "", "CPU hasher (stock, native-avx2, avx512, disabled)")
	cpuAuto := fs.Bool("cpu-auto", false, "Auto select the best CPU hasher for this host")
	poolURL := fs.String("pool", "", "Pool URL (stratum+tcp, stratum+ssl, ws or wss)")
	worker := fs.String("worker", "", "Worker name")
	timeout := fs.Int("timeout", 0, "Seconds without a challenge before reconnecting (default 180)")
	ratio := fs.Float64("ratio", 0, "CPU share of the pool nonce window (default 0.33)")
	level := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return nil, opts, err
	}

	cfg := config.Default()
	if opts.config != "" {
		loaded, err := config.Load(opts.config)
		if err != nil {
			return nil, opts, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(getenv); err != nil {
		return nil, opts, err
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "threads":
			cfg.CPU.Threads = *threads
		case "cpu-hasher":
			cfg.CPU.Hasher = *cpuHasher
		case "cpu-auto":
			cfg.CPU.Auto = *cpuAuto
		case "pool":
			cfg.Pool.URL = *poolURL
		case "worker":
			cfg.Pool.Worker = *worker
		case "timeout":
			cfg.TimeoutSec = *timeout
		case "ratio":
			cfg.NonceRatio = *ratio
		case "log-level":
			cfg.Log.Level = *level
		}
	})
	return cfg, opts, nil
}

func printInfo(w io.Writer, p engine.Platform) {
	desc := "unknown"
	if d, ok := p.(interface{ Describe() string }); ok {
		desc = d.Describe()
	}
	fmt.Fprintf(w, "CPU: %s\n", desc)
	fmt.Fprintf(w, "Parallelism: %d\n", p.Parallelism())

	reg := engine.DefaultRegistry()
	best, _ := reg.Best(engine.CPU, p)
	fmt.Fprintln(w, "CPU hashers:")
	for _, v := range reg.Variants(engine.CPU) {
		status := "unsupported"
		if v.Supported(p.Features()) {
			status = "supported"
		}
		if v.Name == best.Name {
			status += ", auto"
		}
		fmt.Fprintf(w, "  %-12s %-11s %s (%s rounds)\n", v.Name, status, v.Description, v.Strategy)
	}
	fmt.Fprintf(w, "Watchdog minimum timeout: %s\n", watchdog.MinTimeout)
}
