// Command arrowbridge drives the bridge from the command line: it creates
// tables, streams Arrow IPC or CSV files into them and reads them back.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/arrowbridge/pkg/bridge"
	"github.com/ajitpratap0/arrowbridge/pkg/config"
	"github.com/ajitpratap0/arrowbridge/pkg/logger"
	"github.com/ajitpratap0/arrowbridge/pkg/observability"
)

var version = "0.1.0"

// cli carries the state shared by every subcommand.
type cli struct {
	v       *viper.Viper
	app     *bridge.App
	metrics *http.Server
	tracing bool
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	c := &cli{v: viper.New()}
	root := c.rootCommand()
	err := root.Execute()
	if terr := c.teardown(); err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode turns a bridge status into a process exit code.
func exitCode(err error) int {
	if s := bridge.StatusOf(err); s != bridge.StatusInternal {
		return int(-s)
	}
	return 1
}

func (c *cli) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "arrowbridge",
		Short: "Stream Arrow data into and out of versioned datasets",
		Long: `arrowbridge manages tables stored as versioned parquet datasets under a
location (a directory, s3://bucket/prefix or gs://bucket/prefix).

Settings come from flags, then ARROWBRIDGE_* environment variables (a .env
file is loaded first), then the YAML file given by --config.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return c.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.String("location", "", "Root location for table datasets")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.String("metrics-addr", "", "Serve prometheus metrics on this address while the command runs")
	flags.Bool("trace", false, "Export trace spans to stderr")
	for _, name := range []string{"config", "location", "log-level", "metrics-addr", "trace"} {
		_ = c.v.BindPFlag(name, flags.Lookup(name))
	}
	c.v.SetEnvPrefix("ARROWBRIDGE")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root.AddCommand(
		c.createCommand(),
		c.writeCommand(),
		c.readCommand(),
		c.schemaCommand(),
		c.dropCommand(),
		c.versionsCommand(),
		&cobra.Command{
			Use:   "version",
			Short: "Show version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "arrowbridge v%s\n", version)
				fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
				fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			},
		},
	)
	return root
}

// loadConfig layers the YAML file, then flags and environment, over the
// defaults.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg := config.NewConfig("")
	if path := c.v.GetString("config"); path != "" {
		if err := config.Load(path, cfg); err != nil {
			return nil, err
		}
	}
	if loc := c.v.GetString("location"); loc != "" {
		cfg.Location = loc
	}
	if lvl := c.v.GetString("log-level"); lvl != "" {
		cfg.Observability.LogLevel = lvl
	}
	if c.v.GetBool("trace") {
		cfg.Observability.EnableTracing = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *cli) setup() error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Encoding:    cfg.Observability.LogFormat,
		OutputPaths: cfg.Observability.LogOutput,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Observability.EnableTracing {
		tc := observability.DefaultTracingConfig()
		tc.SamplingRate = 1
		tc.PrettyPrint = true
		if err := observability.InitTracing(tc); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
		c.tracing = true
	}

	if addr := c.v.GetString("metrics-addr"); addr != "" && cfg.Observability.EnableMetrics {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		c.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := c.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	c.app, err = bridge.New(cfg)
	return err
}

func (c *cli) teardown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if c.app != nil {
		errs = append(errs, c.app.Close())
		c.app = nil
	}
	if c.metrics != nil {
		errs = append(errs, c.metrics.Shutdown(ctx))
	}
	if c.tracing {
		errs = append(errs, observability.Shutdown(ctx))
	}
	_ = logger.Sync()
	return errors.Join(errs...)
}
