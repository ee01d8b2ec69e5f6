// Agora is a multi-agent social simulation.
//
// Autonomous agents with Big Five personalities, emotion state, and a
// social battery deliberate on a shared tick, talk to each other
// through a message hub, and optionally consult an Ollama-compatible
// LLM for desires and dialogue. An HTTP API plus a WebSocket feed
// expose the world to viewers; telemetry can be pushed over MQTT.
// Configuration is loaded from a single YAML file discovered
// automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	agora serve              Start the simulation and API server
//	agora init [dir]         Initialize a working directory with defaults
//	agora version            Print version and build information
//	agora -o json version    Output version information as JSON
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

	"github.com/agorasim/agora/internal/advisor"
	"github.com/agorasim/agora/internal/api"
	"github.com/agorasim/agora/internal/bdi"
	"github.com/agorasim/agora/internal/buildinfo"
	"github.com/agorasim/agora/internal/config"
	"github.com/agorasim/agora/internal/events"
	"github.com/agorasim/agora/internal/hub"
	"github.com/agorasim/agora/internal/mqtt"
	"github.com/agorasim/agora/internal/store"
	"github.com/agorasim/agora/internal/world"
)

// main is intentionally minimal. It constructs the OS-level environment
// (context, stdio, argv) and delegates immediately to [run]. This keeps
// os.Exit, os.Stdout, and os.Args out of the application logic so that
// the full startup-to-shutdown lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point for the agora command. All OS-level
// dependencies are injected as parameters so the lifecycle can be
// driven from tests. Arguments are parsed by hand; the flag package
// relies on package-level globals, which makes concurrent test runs
// awkward, and the surface here is small.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++ // skip the value
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
	fmt.Fprintln(w, "Agora - Multi-Agent Social Simulation")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: agora [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the simulation and API server")
	fmt.Fprintln(w, "  init [dir]   Initialize working directory with defaults (default: .)")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./agora.yaml, ~/.config/agora/agora.yaml, /etc/agora/agora.yaml")
	return nil
}

// defaultConfigYAML is written by "agora init". It documents every knob
// with its default and seeds a small household of agents.
const defaultConfigYAML = `# Agora configuration

listen:
  address: ""          # bind address ("" = all interfaces)
  port: 8000

advisor:
  enabled: false       # set true to use an Ollama-compatible endpoint
  base_url: "http://localhost:11434"
  model: "qwen3:4b"
  timeout_sec: 30

simulation:
  base_tick_seconds: 5.0
  time_speed: 1.0
  agents:
    - id: alice
      name: Alice
      avatar: "🦊"
      openness: 0.8
      conscientiousness: 0.6
      extraversion: 0.75
      agreeableness: 0.7
      neuroticism: 0.3
    - id: bob
      name: Bob
      avatar: "🦉"
      openness: 0.5
      conscientiousness: 0.85
      extraversion: 0.25
      agreeableness: 0.6
      neuroticism: 0.55
    - id: carol
      name: Carol
      avatar: "🐱"
      openness: 0.65
      conscientiousness: 0.4
      extraversion: 0.6
      agreeableness: 0.8
      neuroticism: 0.45

mqtt:
  enabled: false
  broker: "mqtt://localhost:1883"
  username: ""
  password: ""
  device_name: "agora"
  publish_interval_sec: 15

data_dir: "."
log_level: "info"
`

// runInit handles "agora init [dir]". It creates the directory and
// writes a commented default config file, refusing to overwrite one
// that already exists.
func runInit(stdout io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	cfgPath := filepath.Join(dir, "agora.yaml")
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", cfgPath)
	}

	if err := os.WriteFile(cfgPath, []byte(defaultConfigYAML), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Fprintf(stdout, "Initialized %s\n", cfgPath)
	fmt.Fprintln(stdout, "Edit the config, then start the simulation with: agora serve")
	return nil
}

// runServe handles "agora serve". It is the primary operating mode:
// loads config, opens the database, builds the hub, world, and advisor,
// seeds agents, starts the tick loop and the API server, and blocks
// until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := newLogger(stdout, slog.LevelInfo)
	logger.Info("starting Agora", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	// A missing config file is not fatal; the built-in defaults run a
	// demo world with two agents.
	var cfg *config.Config
	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		if configPath != "" {
			return err
		}
		logger.Warn("no config file found, using defaults")
		cfg = config.Default()
	} else {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", cfgPath, err)
		}
		logger.Info("config loaded", "path", cfgPath)
	}

	// Reconfigure the logger now that the desired level is known.
	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("invalid log_level: %w", err)
		}
		logger = newLogger(stdout, level)
	}

	// --- Data directory and store ---
	// Agents, messages, conversations, and the event log persist here so
	// the household survives restarts.
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	dbPath := filepath.Join(cfg.DataDir, "agora.db")
	st, err := store.New(dbPath, logger)
	if err != nil {
		return fmt.Errorf("open database %s: %w", dbPath, err)
	}
	defer st.Close()
	logger.Info("database opened", "path", dbPath)

	// --- Advisor ---
	// The LLM advisor is optional. Every advisory path has a
	// deterministic fallback, so a disabled or unreachable endpoint
	// degrades behavior but never halts the world.
	var adv advisor.Advisor
	if cfg.Advisor.Enabled {
		timeout := time.Duration(cfg.Advisor.TimeoutSec) * time.Second
		adv = advisor.NewOllama(cfg.Advisor.BaseURL, cfg.Advisor.Model, timeout, logger)
		logger.Info("llm advisor enabled", "url", cfg.Advisor.BaseURL, "model", cfg.Advisor.Model)
	} else {
		adv = advisor.NewStatic()
		logger.Info("llm advisor disabled, using static fallback")
	}

	// --- World ---
	bus := events.New()
	h := hub.New(st, logger)
	w := world.New(world.Options{
		Hub:       h,
		Advisor:   adv,
		Bus:       bus,
		Recorder:  st,
		Logger:    logger,
		BaseTick:  time.Duration(cfg.Simulation.BaseTickSeconds * float64(time.Second)),
		TimeSpeed: cfg.Simulation.TimeSpeed,
	})

	if err := seedAgents(w, st, cfg, logger); err != nil {
		return err
	}

	// --- API server ---
	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, w, st, bus, logger)

	// --- MQTT publisher ---
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Enabled && cfg.MQTT.Broker != "" {
		mqttPub = mqtt.New(cfg.MQTT, &mqttStatsAdapter{world: w}, logger)
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled")
	}

	// --- Signal handling and graceful shutdown ---
	// NotifyContext wraps the parent context so that SIGINT/SIGTERM
	// cancellation flows through the same ctx used by all components.
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go w.Run(ctx)
	if mqttPub != nil {
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if mqttPub != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := mqttPub.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		_ = server.Shutdown(context.Background())
	}()

	// Start the API server. This blocks until the server is shut down
	// via context cancellation or a fatal error.
	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("Agora stopped")
	return nil
}

// seedAgents populates the world. Agents persisted from a previous run
// win; otherwise the config roster is used, falling back to a built-in
// demo pair so "agora serve" with no config still shows something.
func seedAgents(w *world.World, st *store.Store, cfg *config.Config, logger *slog.Logger) error {
	records, err := st.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}

	if len(records) > 0 {
		for _, rec := range records {
			w.AddAgent(bdi.NewAgent(rec.ID, rec.Name, rec.Avatar, bdi.Personality{
				Openness:          rec.Openness,
				Conscientiousness: rec.Conscientiousness,
				Extraversion:      rec.Extraversion,
				Agreeableness:     rec.Agreeableness,
				Neuroticism:       rec.Neuroticism,
			}))
		}
		logger.Info("agents restored from database", "count", len(records))
		return nil
	}

	roster := cfg.Simulation.Agents
	if len(roster) == 0 {
		roster = []config.AgentConfig{
			{ID: "alice", Name: "Alice", Avatar: "🦊", Openness: 0.8, Conscient: 0.6, Extraversion: 0.75, Agreeable: 0.7, Neuroticism: 0.3},
			{ID: "bob", Name: "Bob", Avatar: "🦉", Openness: 0.5, Conscient: 0.85, Extraversion: 0.25, Agreeable: 0.6, Neuroticism: 0.55},
		}
		logger.Info("no agents configured, seeding demo pair")
	}

	for _, ac := range roster {
		a := bdi.NewAgent(ac.ID, ac.Name, ac.Avatar, bdi.Personality{
			Openness:          ac.Openness,
			Conscientiousness: ac.Conscient,
			Extraversion:      ac.Extraversion,
			Agreeableness:     ac.Agreeable,
			Neuroticism:       ac.Neuroticism,
		})
		w.AddAgent(a)
		if err := st.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", a.ID, err)
		}
	}
	logger.Info("agents seeded", "count", len(roster))
	return nil
}

// newLogger creates a structured text logger writing to w at the given
// level. All log output goes through slog; this helper standardizes the
// handler configuration across subcommands.
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

// mqttStatsAdapter bridges the world and build info to the MQTT
// publisher's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	world *world.World
}

func (a *mqttStatsAdapter) Uptime() time.Duration { return buildinfo.Uptime() }
func (a *mqttStatsAdapter) Version() string       { return buildinfo.Version }
func (a *mqttStatsAdapter) Tick() uint64          { return a.world.Snapshot().Tick }
func (a *mqttStatsAdapter) AgentCount() int       { return len(a.world.Snapshot().Agents) }
func (a *mqttStatsAdapter) OpenConversations() int {
	return a.world.Hub().OpenConversationCount()
}
func (a *mqttStatsAdapter) MeanBattery() float64 { return a.world.MeanBattery() }
func (a *mqttStatsAdapter) TimeSpeed() float64   { return a.world.TimeSpeed() }
