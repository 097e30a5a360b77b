package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/saiset-co/sai-ratecache/config"
	"github.com/saiset-co/sai-ratecache/logger"
	"github.com/saiset-co/sai-ratecache/ratelimit"
	"github.com/saiset-co/sai-ratecache/service"
	"github.com/saiset-co/sai-ratecache/storage"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ratecache",
	Short: "Tiered cache and rate limiting service",
	Long: `ratecache runs a two-tier cache (in-memory LRU over a durable key/value
store) together with token bucket, sliding window and fixed window rate
limiters, and exposes them over a small admin HTTP API.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the service and block until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, err := service.NewService(cmd.Context(), configPath)
		if err != nil {
			return err
		}
		return svc.Run()
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and ping the configured storage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		manager, err := config.NewConfigurationManager(ctx, configPath)
		if err != nil {
			return err
		}
		cfg := manager.GetConfig()

		store, err := storage.NewStorage(ctx, cfg.Storage, logger.NewNop(), nil)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Ping(ctx); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "config ok: %s %s, storage %q reachable\n", cfg.Name, cfg.Version, cfg.Storage.Type)
		return nil
	},
}

var presetsCmd = &cobra.Command{
	Use:   "presets",
	Short: "Print the built-in rate limit presets",
	Run: func(cmd *cobra.Command, _ []string) {
		presets := ratelimit.Presets()

		names := make([]string, 0, len(presets))
		for name := range presets {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-8s %6s %8s %-15s %s\n", "NAME", "LIMIT", "WINDOW", "ALGORITHM", "BLOCK")
		for _, name := range names {
			p := presets[name]
			block := "-"
			if p.BlockDuration > 0 {
				block = p.BlockDuration.String()
			}
			fmt.Fprintf(out, "%-8s %6d %8s %-15s %s\n", name, p.Limit, p.Window, p.Algorithm, block)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the YAML config file")

	rootCmd.AddCommand(serveCmd, checkCmd, presetsCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
