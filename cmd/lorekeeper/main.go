// cmd/lorekeeper is the command line entry point for Lorekeeper: it runs the
// engine as a long-lived service (serve) and exposes one-shot maintenance
// and inspection commands over the same storage.
//
// All logging goes to stderr; command output (JSON) goes to stdout.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scrypster/lorekeeper/internal/config"
	"github.com/scrypster/lorekeeper/internal/engine"
	"github.com/scrypster/lorekeeper/internal/logging"
)

const lorekeeperLongDesc string = `Lorekeeper keeps narrative memory for every player character and caches
generated responses.

Run the service using:
  lorekeeper serve             Run the engine with background compression

Inspect and maintain the store using:
  lorekeeper events <entity>   Show the working memory window
  lorekeeper context <entity>  Print the assembled context bundle
  lorekeeper compress <entity> Fold aged events into an episode
  lorekeeper cache purge       Delete expired durable cache rows`

const lorekeeperShortDesc string = "Lorekeeper - narrative memory and response cache"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lorekeeper",
		Short:        lorekeeperShortDesc,
		Long:         lorekeeperLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().String("config", "", "Path to a YAML config file (default: $"+config.EnvConfigPath+")")
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("log-json", false, "Log JSON lines instead of console output")

	cmd.AddCommand(
		newServeCmd(),
		newCompressCmd(),
		newContextCmd(),
		newEventsCmd(),
		newFactsCmd(),
		newWorldCmd(),
		newCacheCmd(),
	)
	return cmd
}

// loadConfig resolves the configuration for cmd: defaults, the YAML file,
// environment variables, then command line flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("debug") {
		cfg.Log.Debug, _ = cmd.Flags().GetBool("debug")
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}
	return cfg, nil
}

// openEngine loads the configuration and opens the engine it describes.
// The caller owns both results and must Close the engine and Sync the logger.
func openEngine(cmd *cobra.Command) (*engine.Engine, *config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := logging.New(cfg.Log.Debug, cfg.Log.JSON, cmd.ErrOrStderr())

	eng, err := engine.Open(cmd.Context(), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return eng, cfg, logger, nil
}

// withEngine runs fn against a freshly opened engine and closes it after.
func withEngine(cmd *cobra.Command, fn func(eng *engine.Engine) error) error {
	eng, _, logger, err := openEngine(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warn("closing engine", zap.Error(err))
		}
	}()
	return fn(eng)
}

func parseEntityID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid entity id %q: must be a positive integer", arg)
	}
	return id, nil
}
