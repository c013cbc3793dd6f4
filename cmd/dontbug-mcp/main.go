package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/dontbug/internal/config"
	"github.com/ctagard/dontbug/internal/logger"
	"github.com/ctagard/dontbug/internal/mcp"
	"github.com/ctagard/dontbug/internal/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	configPath string
	mode       string
	verbosity  int
}

func newRootCmd() *cobra.Command {
	var flags rootFlags

	rootCmd := &cobra.Command{
		Use:   "dontbug-mcp",
		Short: "Serves dontbug debug sessions over the Model Context Protocol",
		Long: `dontbug-mcp runs programs for the dontbug interpreter with a tracepoint
policy installed and exposes them to MCP clients over stdio.

Clients launch sessions, step, set breakpoints and run DBGp commands
against a paused program, either on a disposable copy or on the live
session.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, flags)
		},
	}
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	rootCmd.Flags().StringVar(&flags.configPath, "config", "", "Path to a TOML configuration file")
	rootCmd.Flags().StringVar(&flags.mode, "mode", "", "Capability mode: 'readonly' or 'full' (overrides the config file)")
	rootCmd.Flags().IntVarP(&flags.verbosity, "verbosity", "v", 0, "Log verbosity (overrides the config file)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the dontbug version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dontbug-mcp version %s\n", version.GetVersion())
		},
	})

	return rootCmd
}

func run(ctx context.Context, cmd *cobra.Command, flags rootFlags) error {
	cfg, err := config.LoadConfig(flags.configPath)
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("mode") {
		cfg.Mode = config.CapabilityMode(flags.mode)
	}
	if cmd.Flags().Changed("verbosity") {
		cfg.Log.Verbosity = flags.verbosity
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New("dontbug")
	log.SetVerbosity(cfg.Log.Verbosity)
	defer log.Flush()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := mcp.NewServer(cfg, log.Logger)
	defer server.Close()

	log.Info("dontbug MCP server starting", "version", version.Version)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// stdin closing ends the session manager too
		defer cancel()
		err := server.Listen(gctx, os.Stdin, os.Stdout)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return server.Sessions().Run(gctx)
	})

	err = g.Wait()
	log.Info("Shutting down")
	return err
}
