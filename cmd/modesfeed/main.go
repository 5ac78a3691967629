package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"modesfeed/internal/app"
)

const envPrefix = "MODESFEED"

func main() {
	rootCmd := newRootCommand(func(config app.Config) error {
		return app.NewApplication(config).Start()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCommand builds the CLI. Settings come from flags, then
// MODESFEED_* environment variables, then the optional config file.
func newRootCommand(run func(app.Config) error) *cobra.Command {
	v := viper.New()
	defaults := app.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:   "modesfeed",
		Short: "Mode S / ADS-B feed decoder",
		Long: `Mode S / ADS-B decoder for receiver feeds.

Reads hex frames ("*8D...;", dump1090 port 30002) or Beast binary frames
(port 30005) from a TCP socket or a file, verifies and corrects them,
resolves CPR positions and writes the results to SQLite or PostgreSQL,
NATS and BaseStation (SBS) logs.

Example usage:
  modesfeed --source tcp://localhost:30002 --store sqlite --sbs-dir ./logs
  modesfeed --source capture.bin --format beast --two-bit df17`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig(v)
			if err != nil {
				return err
			}
			if config.ShowVersion {
				app.ShowVersion()
				return nil
			}
			return run(config)
		},
	}

	flags := rootCmd.Flags()
	flags.String("config", "", "Config file (yaml, json or toml)")
	flags.StringP("source", "s", defaults.Source, `Feed source: tcp://host:port, a file path, or "-" for stdin`)
	flags.StringP("format", "f", defaults.Format, "Feed format: raw or beast")
	flags.String("store", defaults.Store, "Record store: none, sqlite or postgres")
	flags.String("sqlite-path", defaults.SQLitePath, "SQLite database path")
	flags.String("postgres-url", "", "PostgreSQL connection URL")
	flags.String("nats-url", "", "NATS server URL; publishing is disabled when empty")
	flags.String("nats-subject", defaults.NATSSubject, "NATS subject prefix")
	flags.StringP("sbs-dir", "l", "", "BaseStation log directory; disabled when empty")
	flags.BoolP("utc", "u", defaults.SBSRotateUTC, "Use UTC for log rotation")
	flags.Int("sbs-retention-days", 0, "Delete SBS logs older than this many days (0 keeps all)")
	flags.Bool("sbs-stdout", false, "Also print SBS lines to stdout")
	flags.String("http-addr", "", "Stats HTTP listen address, e.g. :8080; disabled when empty")
	flags.Float64("receiver-lat", 0, "Receiver latitude for range statistics")
	flags.Float64("receiver-lon", 0, "Receiver longitude for range statistics")
	flags.Duration("pair-window", defaults.PairWindow, "Maximum age difference of a CPR even/odd pair")
	flags.Duration("icao-ttl", defaults.ICAOTTL, "How long a verified address stays trusted")
	flags.Int("icao-cache-size", defaults.ICAOCacheSize, "ICAO recency cache slots")
	flags.Bool("fix-errors", defaults.FixErrors, "Correct single-bit errors")
	flags.String("two-bit", defaults.TwoBit, "Two-bit error correction: off, df17 or all")
	flags.Duration("stats-interval", defaults.StatsInterval, "Statistics logging interval")
	flags.BoolP("verbose", "v", false, "Verbose logging")
	flags.Bool("version", false, "Show version information")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return rootCmd
}

// loadConfig reads the config file, if any, and resolves every setting
func loadConfig(v *viper.Viper) (app.Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return app.Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return app.Config{
		Source:           v.GetString("source"),
		Format:           v.GetString("format"),
		Store:            v.GetString("store"),
		SQLitePath:       v.GetString("sqlite-path"),
		PostgresURL:      v.GetString("postgres-url"),
		NATSURL:          v.GetString("nats-url"),
		NATSSubject:      v.GetString("nats-subject"),
		SBSDir:           v.GetString("sbs-dir"),
		SBSRotateUTC:     v.GetBool("utc"),
		SBSRetentionDays: v.GetInt("sbs-retention-days"),
		SBSStdout:        v.GetBool("sbs-stdout"),
		HTTPAddr:         v.GetString("http-addr"),
		ReceiverLat:      v.GetFloat64("receiver-lat"),
		ReceiverLon:      v.GetFloat64("receiver-lon"),
		PairWindow:       v.GetDuration("pair-window"),
		ICAOTTL:          v.GetDuration("icao-ttl"),
		ICAOCacheSize:    v.GetInt("icao-cache-size"),
		FixErrors:        v.GetBool("fix-errors"),
		TwoBit:           v.GetString("two-bit"),
		StatsInterval:    v.GetDuration("stats-interval"),
		Verbose:          v.GetBool("verbose"),
		ShowVersion:      v.GetBool("version"),
	}, nil
}
