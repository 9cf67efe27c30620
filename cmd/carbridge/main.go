// Carbridge publishes a connected-vehicle model to MQTT and keeps Home
// Assistant's device discovery in sync with it.
//
// The vehicle model is read from a YAML garage snapshot. Every
// attribute is mirrored to the broker under a topic prefix, and one
// device discovery document per vehicle (plus one for the bridge
// itself) is published whenever the set of entities changes.
//
// Usage:
//
//	carbridge serve              Run the bridge
//	carbridge render [garage]    Print discovery documents for a snapshot
//	carbridge status [url]       Query a running bridge's status API
//	carbridge init [dir]         Write an example config and snapshot
//	carbridge version            Print version and build information
//	carbridge -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/carbridge/internal/api"
	"github.com/nugget/carbridge/internal/buildinfo"
	"github.com/nugget/carbridge/internal/config"
	"github.com/nugget/carbridge/internal/connwatch"
	"github.com/nugget/carbridge/internal/discovery"
	"github.com/nugget/carbridge/internal/garage"
	"github.com/nugget/carbridge/internal/journal"
	"github.com/nugget/carbridge/internal/model"
	"github.com/nugget/carbridge/internal/mqtt"
)

// journalRetention is how long command journal entries are kept.
const journalRetention = 30 * 24 * time.Hour

// mqttPluginID names the transport plugin in the model.
const mqttPluginID = "mqtt"

// main only builds the OS environment and hands it to [run], so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Cancelling ctx shuts down a running
// bridge. Structured logs go to stdout; fatal errors are returned for
// main to print.
//
// Arguments are parsed by hand: the flag package's global FlagSet
// would keep tests from calling run concurrently.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, stderr, configPath)
	case "render":
		return runRender(ctx, stdout, stderr, configPath, outputFmt, cmdArgs)
	case "status":
		return runStatus(ctx, stdout, configPath, outputFmt, cmdArgs)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

// printUsage writes the top-level help text to w.
func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Carbridge - vehicle telemetry to Home Assistant over MQTT")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: carbridge [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve            Run the bridge")
	fmt.Fprintln(w, "  render [garage]  Print discovery documents for a garage snapshot")
	fmt.Fprintln(w, "  status [url]     Query a running bridge (default: the configured listen port)")
	fmt.Fprintln(w, "  init [dir]       Write an example config and garage snapshot (default: .)")
	fmt.Fprintln(w, "  version          Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  "+strings.Join(config.DefaultSearchPaths(), ", "))
	return nil
}

// runServe runs the bridge until ctx is cancelled or SIGINT/SIGTERM
// arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting carbridge", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if !cfg.MQTT.Configured() {
		return fmt.Errorf("%s: mqtt.broker is required to serve", cfgPath)
	}

	// Validate has already rejected unknown levels.
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger = config.NewLogger(stdout, level, cfg.LogFormat)

	logger.Info("config loaded",
		"path", cfgPath,
		"broker", cfg.MQTT.Broker,
		"prefix", cfg.MQTT.Prefix,
		"ha_prefix", cfg.HomeAssistant.Prefix,
		"discovery", cfg.HomeAssistant.DiscoveryEnabled(),
		"garage", cfg.Garage.File,
	)

	// --- Data directory ---
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("load mqtt instance id: %w", err)
	}
	logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

	// --- Command journal ---
	dbPath := filepath.Join(cfg.DataDir, "journal.db")
	jrnl, err := journal.NewStore(dbPath)
	if err != nil {
		return fmt.Errorf("open command journal %s: %w", dbPath, err)
	}
	defer jrnl.Close()
	if n, err := jrnl.Prune(ctx, time.Now().Add(-journalRetention)); err != nil {
		logger.Warn("command journal prune failed", "error", err)
	} else if n > 0 {
		logger.Info("command journal pruned", "removed", n)
	}
	logger.Info("command journal opened", "path", dbPath)

	// --- Model and transport ---
	hub := model.NewHub()
	plugin := hub.PluginRegistry().Ensure(mqttPluginID, "MQTT")
	client := mqtt.New(cfg.MQTT, instanceID, plugin, logger.With("component", "mqtt"))

	images := cfg.MQTT.ImageFormat == "png"
	router, err := discovery.NewRouter(hub, client, discovery.Config{
		HAPrefix:                cfg.HomeAssistant.Prefix,
		Discovery:               cfg.HomeAssistant.DiscoveryEnabled(),
		RediscoverOnValueChange: cfg.HomeAssistant.RediscoverOnValueChange,
		Images:                  images,
	}, logger.With("component", "discovery"))
	if err != nil {
		return fmt.Errorf("create discovery router: %w", err)
	}

	mirror := mqtt.NewMirror(hub, client, images, logger.With("component", "mirror"))
	mirror.SetRecorder(func(ctx context.Context, w mqtt.WriteResult) {
		e := journal.Entry{
			Time:  w.Time,
			Path:  w.Path,
			Topic: w.Topic,
			Raw:   w.Raw,
			Value: w.Value,
		}
		if w.Err != nil {
			e.Error = w.Err.Error()
		}
		if _, err := jrnl.Record(ctx, e); err != nil {
			logger.Warn("command journal write failed", "path", w.Path, "error", err)
		}
	})

	// --- Signal handling ---
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := router.Start(ctx); err != nil {
		return fmt.Errorf("start discovery router: %w", err)
	}
	defer router.Stop()
	if err := mirror.Start(ctx); err != nil {
		return fmt.Errorf("start mirror: %w", err)
	}
	defer mirror.Stop()

	// --- Garage snapshot ---
	// Loaded after the router and mirror are attached so the initial
	// enable notifications reach both.
	source := garage.New(hub, cfg.Garage.File, logger.With("component", "garage"))
	if err := source.Load(ctx); err != nil {
		logger.Error("garage snapshot load failed", "file", cfg.Garage.File, "error", err)
	} else {
		logger.Info("garage snapshot loaded", "file", cfg.Garage.File, "vehicles", len(hub.Vehicles()))
	}
	if cfg.Garage.WatchEnabled() {
		go func() {
			if err := source.Watch(ctx); err != nil {
				logger.Error("garage watcher failed", "error", err)
			}
		}()
	}

	// --- Broker connection ---
	go func() {
		if err := client.Start(ctx); err != nil {
			logger.Error("mqtt client failed", "error", err)
			cancel()
		}
	}()

	connMgr := connwatch.NewManager(logger)
	defer connMgr.Stop()
	connMgr.Watch(ctx, connwatch.WatcherConfig{
		Name: "mqtt",
		Probe: func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return client.AwaitConnection(awaitCtx)
		},
		Backoff: connwatch.DefaultBackoffConfig(),
		Health:  plugin.Healthy,
		Logger:  logger,
	})

	// --- Status API ---
	var server *api.Server
	if cfg.Listen.Enabled() {
		server = api.NewServer(cfg.Listen.Address, cfg.Listen.Port, logger.With("component", "api"))
		server.SetDiscovery(router)
		server.SetJournal(jrnl)
		server.SetHealth(connMgr)
		server.SetTopics(client)
	} else {
		logger.Info("status API disabled")
	}

	// --- Graceful shutdown ---
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		logger.Info("shutdown signal received")

		// Publish "disconnected" before dropping the connection.
		offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer offlineCancel()
		if err := client.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}

		if server != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				logger.Error("status API shutdown failed", "error", err)
			}
		}
	}()

	if server != nil {
		if err := server.Start(ctx); err != nil && ctx.Err() == nil {
			cancel()
			<-stopped
			return fmt.Errorf("status API failed: %w", err)
		}
	}
	<-ctx.Done()
	<-stopped

	logger.Info("carbridge stopped")
	return nil
}

// loadConfig locates and parses the YAML configuration file. If explicit
// is non-empty, that exact path is used (and must exist). Otherwise,
// [config.FindConfig] searches the default locations.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// loadConfigOrDefault is loadConfig for commands that work without a
// config file: when none is found in the search paths the defaults are
// used. An explicit path must still exist, and a file that exists must
// still be valid.
func loadConfigOrDefault(explicit string) (*config.Config, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		if explicit != "" {
			return nil, err
		}
		return config.Default(), nil
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}
