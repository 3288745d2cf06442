package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/uon-team/db/config"
	"github.com/uon-team/db/service"
)

var rootCmd = &cobra.Command{
	Use:   "uondb",
	Short: "uondb - connection and index management",
	Long: `uondb manages the store connections declared in a YAML configuration file.

Examples:
  # Check that every configured connection answers
  uondb --config db.yaml ping

  # Create missing indexes and recreate changed ones on one connection
  uondb --config db.yaml sync-indexes --connection main`,
	SilenceUsage: true,
}

var (
	configPath string
	logLevel   string
	timeout    time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "db.yaml", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level, overrides the configuration")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Overall timeout")

	pingCmd := &cobra.Command{
		Use:   "ping [connection...]",
		Short: "Ping configured connections",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				names := args
				if len(names) == 0 {
					for _, c := range cfg.Connections {
						names = append(names, c.Name)
					}
				}
				for _, name := range names {
					d, err := svc.Driver(ctx, name)
					if err == nil {
						err = d.Ping(ctx)
					}
					if err != nil {
						return fmt.Errorf("%s: %w", name, err)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", name)
				}
				return nil
			})
		},
	}

	var connection string
	syncCmd := &cobra.Command{
		Use:   "sync-indexes",
		Short: "Synchronize the indexes declared in the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd.Context(), func(ctx context.Context, cfg *config.Config, svc *service.Service) error {
				names := []string{connection}
				if connection == "" {
					names = names[:0]
					for _, c := range cfg.Connections {
						names = append(names, c.Name)
					}
				}
				for _, name := range names {
					results, err := svc.SyncIndexes(ctx, name)
					if err != nil {
						return err
					}
					collections := make([]string, 0, len(results))
					for c := range results {
						collections = append(collections, c)
					}
					sort.Strings(collections)
					for _, c := range collections {
						for _, r := range results[c] {
							fmt.Fprintf(cmd.OutOrStdout(), "%s.%s.%s: %s\n", name, c, r.Name, r.Action)
						}
					}
				}
				return nil
			})
		},
	}
	syncCmd.Flags().StringVar(&connection, "connection", "", "Connection to synchronize (default: all)")

	rootCmd.AddCommand(pingCmd, syncCmd)
}

func withService(parent context.Context, fn func(ctx context.Context, cfg *config.Config, svc *service.Service) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	svc := service.New(cfg, service.WithLogger(logger))
	defer func() {
		if err := svc.Close(ctx); err != nil {
			logger.Warn().Err(err).Msg("close")
		}
	}()
	return fn(ctx, cfg, svc)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	levelName := cfg.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
