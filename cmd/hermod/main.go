// Copyright 2025 Peerex, Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command hermod runs the Peerex support gateway.
//
// Usage:
//
//	hermod serve --config hermod.yaml
//	hermod serve --config hermod/config --config-source consul
//	hermod reindex --config hermod.yaml
//	hermod validate hermod.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/peerex/hermod"
	"github.com/peerex/hermod/pkg/config"
	"github.com/peerex/hermod/pkg/config/provider"
	"github.com/peerex/hermod/pkg/logger"
	"github.com/peerex/hermod/pkg/runtime"
)

// defaultConfigFile is picked up when --config is not given.
const defaultConfigFile = "hermod.yaml"

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the support gateway."`
	Reindex  ReindexCmd  `cmd:"" help:"Rebuild the knowledge index and exit."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for the configuration."`

	Config          string   `short:"c" help:"Config path (file path, or key path for remote sources)." type:"path"`
	ConfigSource    string   `name:"config-source" help:"Config source: file, consul, etcd, or zookeeper." default:"file"`
	ConfigEndpoints []string `name:"config-endpoints" help:"Remote config source endpoints (defaults per source)."`

	LogLevel  string `help:"Log level (debug, info, warn, error). Defaults to info."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose). Defaults to simple."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println(hermod.GetVersion().String())
	return nil
}

// ServeCmd starts the support gateway.
type ServeCmd struct {
	Port  int  `help:"Override the configured listen port."`
	Watch bool `help:"Watch the config source for changes and hot-reload."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, loader, err := loadConfig(ctx, cli)
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	// Config logger settings apply only where CLI flags and env vars
	// are silent; redaction keys always come from the config.
	cleanup, err := applyLoggerConfig(cli, &cfg.Logger)
	if err != nil {
		return err
	}
	if cleanup != nil {
		defer cleanup()
	}

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	// A shared pool keeps SQLite on a single connection across all
	// stores, which prevents "database is locked" errors.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	rt, err := runtime.New(ctx, cfg,
		runtime.WithDBPool(dbPool),
		runtime.WithLogger(logger.GetLogger()),
	)
	if err != nil {
		return fmt.Errorf("failed to assemble runtime: %w", err)
	}
	defer rt.Close()

	printStartupInfo(cfg, rt)

	return rt.Start(ctx)
}

// printStartupInfo prints the reachable surface after assembly.
func printStartupInfo(cfg *config.Config, rt *runtime.Runtime) {
	addr := rt.Server().Address()

	fmt.Printf("\n%sHermod support gateway ready!%s\n", colorPeerexBlue, colorReset)
	fmt.Printf("   Chat API:    http://%s/v1/channels/{channel}/messages\n", addr)
	fmt.Printf("   Staff API:   http://%s/v1/escalations\n", addr)
	fmt.Printf("   FAQ API:     http://%s/v1/faqs\n", addr)
	fmt.Printf("   Health:      http://%s/health\n", addr)

	fmt.Printf("   Channels:    ")
	first := true
	for id := range cfg.Channels.Webchat {
		if !first {
			fmt.Printf(", ")
		}
		fmt.Printf("webchat/%s", id)
		first = false
	}
	if mc := cfg.Channels.Matrix; mc != nil && config.BoolValue(mc.Enabled, false) {
		if !first {
			fmt.Printf(", ")
		}
		fmt.Printf("matrix (%s, %d rooms)", mc.Homeserver, len(mc.Rooms))
	}
	fmt.Println()

	fmt.Printf("   Storage:     %s (%s)\n", cfg.Database.Driver, cfg.Database.Database)
	fmt.Printf("   Knowledge:   %d sources, watch=%v\n",
		len(cfg.Knowledge.Sources), config.BoolValue(cfg.Knowledge.Watch, false))

	if obs := cfg.Server.Observability; obs != nil {
		if obs.Tracing.Enabled {
			fmt.Printf("   Tracing:     %s (%s)\n", obs.Tracing.Exporter, obs.Tracing.Endpoint)
		}
		if obs.Metrics.Enabled {
			metricsPath := obs.Metrics.Endpoint
			if metricsPath == "" {
				metricsPath = "/metrics"
			}
			fmt.Printf("   Metrics:     http://%s%s\n", addr, metricsPath)
		}
	}
	if ac := cfg.Server.Auth; ac != nil && ac.Enabled {
		fmt.Printf("   Auth:        JWT (%s, staff role %q)\n", ac.Issuer, ac.StaffRole)
	}

	fmt.Println("\nPress Ctrl+C to stop")
}

// loadConfig resolves the configuration from the selected source. With
// no --config and no hermod.yaml on disk it falls back to built-in
// defaults, which run a local stack (sqlite, ollama, qdrant).
func loadConfig(ctx context.Context, cli *CLI) (*config.Config, *config.Loader, error) {
	srcType, err := provider.ParseType(cli.ConfigSource)
	if err != nil {
		return nil, nil, err
	}

	path := cli.Config
	if srcType == provider.TypeFile && path == "" {
		if fileExists(defaultConfigFile) {
			path = defaultConfigFile
		} else {
			slog.Info("No config file found, using built-in defaults")
			cfg, err := config.ProcessConfigPipeline(&config.Config{})
			return cfg, nil, err
		}
	}
	if path == "" {
		return nil, nil, fmt.Errorf("--config is required for source %q", srcType)
	}

	endpoints := cli.ConfigEndpoints
	if len(endpoints) == 0 {
		endpoints = provider.DefaultEndpoints(srcType)
	}

	cfg, loader, err := config.LoadConfig(ctx, provider.ProviderConfig{
		Type:      srcType,
		Path:      path,
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	slog.Info("Loaded configuration", "source", srcType, "path", path)
	return cfg, loader, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Peerex blue: #3b82f6 = RGB(59, 130, 246)
const (
	colorPeerexBlue = "\033[38;2;59;130;246m"
	colorReset      = "\033[0m"
)

// printBanner prints a colored ASCII banner when stdout is a terminal.
func printBanner() {
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			return
		}
	} else {
		return
	}

	banner := `
██╗  ██╗███████╗██████╗ ███╗   ███╗ ██████╗ ██████╗
██║  ██║██╔════╝██╔══██╗████╗ ████║██╔═══██╗██╔══██╗
███████║█████╗  ██████╔╝██╔████╔██║██║   ██║██║  ██║
██╔══██║██╔══╝  ██╔══██╗██║╚██╔╝██║██║   ██║██║  ██║
██║  ██║███████╗██║  ██║██║ ╚═╝ ██║╚██████╔╝██████╔╝
╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝╚═╝     ╚═╝ ╚═════╝ ╚═════╝
`
	fmt.Printf("%s%s%s\n", colorPeerexBlue, banner, colorReset)
}

// shouldSkipBanner reports whether the invoked command is informational
// and must not print the banner.
func shouldSkipBanner(args []string) bool {
	for _, arg := range args[1:] {
		switch arg {
		case "validate", "schema", "version":
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("hermod"),
		kong.Description("Hermod - multi-channel AI support gateway for Peerex"),
		kong.UsageOnError(),
	)

	// Initialize logging from CLI flags and env vars before any config
	// loading; serve re-initializes once config logger settings are known.
	cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
