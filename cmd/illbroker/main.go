package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yourusername/open-ill-broker/pkg/config"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "illbroker",
	Short: "Inter-library loan request broker",
	Long: `illbroker places, tracks and cancels inter-library loan requests against
partner catalogs reachable over SRU or Z39.50, placing holds through ILS-DI.

Examples:
  illbroker serve --config illbroker.toml
  illbroker targets
  illbroker ping Alpha`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		path := configPath
		if path == "" {
			path = os.Getenv("ILLBROKER_CONFIG")
		}
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
		initLogger(cfg.Log.Level)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (TOML or YAML); defaults to $ILLBROKER_CONFIG")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogger(level string) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	}))
	slog.SetDefault(logger)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
