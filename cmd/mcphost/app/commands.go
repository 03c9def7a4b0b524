// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the mcphost command-line
// application.
package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/mcphost/pkg/config"
	"github.com/stacklok/mcphost/pkg/host"
	"github.com/stacklok/mcphost/pkg/host/core"
	"github.com/stacklok/mcphost/pkg/host/sampling"
	"github.com/stacklok/mcphost/pkg/host/server"
	"github.com/stacklok/mcphost/pkg/host/session"
	"github.com/stacklok/mcphost/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "mcphost",
	DisableAutoGenTag: true,
	Short:             "MCP host bridge - connect MCP servers behind one HTTP endpoint",
	Long: `mcphost connects to a set of MCP (Model Context Protocol) servers over
stdio, SSE or streamable HTTP, aggregates their tools, resources and
prompts, and exposes the result through a single JSON-RPC endpoint with
SSE and WebSocket event streams.

Server-initiated sampling requests are brokered to connected WebSocket
or SSE consumers; workspace roots are pushed to every server that
declares interest.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the mcphost CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	if err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to mcphost configuration file")
	err = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	if err != nil {
		logger.Errorf("Error binding config flag: %v", err)
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())

	// Silence printing the usage on error
	rootCmd.SilenceUsage = true

	return rootCmd
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP host bridge",
		Long: `Start the bridge: connect the configured MCP servers, then listen for
HTTP clients. Configuration comes from the --config file with MCPHOST_*
environment overrides; a missing file starts an empty host.`,
		RunE: runServe,
	}
	cmd.Flags().Int("port", 0, "Listen port (overrides config)")
	if err := viper.BindPFlag("port", cmd.Flags().Lookup("port")); err != nil {
		logger.Errorf("Error binding port flag: %v", err)
	}
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			logger.Infof("mcphost version: %s", getVersion())
		},
	}
}

// getVersion returns the version string (will be set at build time)
func getVersion() string {
	return "dev"
}

// runServe wires the host engine, sampling broker, session manager and
// HTTP bridge together, then blocks until the context is cancelled.
func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg := config.Load(viper.GetString("config"))
	if port := viper.GetInt("port"); port > 0 {
		cfg.Bridge.Port = port
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	// One broadcaster shared by the engine and the broker so sampling
	// lifecycle events reach bridge consumers.
	events := host.NewEvents()
	broker := sampling.NewBroker(events, sampling.WithTimeout(cfg.Bridge.SamplingTimeout))
	engine := core.New(cfg.Host.Info, cfg.Host.Capabilities,
		core.WithEvents(events),
		core.WithSamplingRelay(broker),
		core.WithReconnect(5),
	)

	for _, srv := range cfg.Host.Servers {
		if err := engine.AddServer(srv); err != nil {
			return fmt.Errorf("failed to register server %q: %w", srv.ID, err)
		}
	}

	sessions := session.NewManager(cfg.Bridge.SessionTTL,
		session.WithDestroyHook(func(id, reason string) {
			broker.UnregisterSink("sse:"+id, reason)
		}))
	defer sessions.Stop()

	srv := server.New(server.Config{
		Endpoint:     cfg.Bridge.Endpoint,
		Port:         cfg.Bridge.Port,
		APIKeys:      cfg.Bridge.APIKeys,
		AuthRequired: cfg.Bridge.AuthRequired,
	}, engine, cfg.Host.Info, cfg.Host.Capabilities, broker, sessions)
	defer srv.Close()

	logger.Infof("Connecting %d configured servers", len(cfg.Host.Servers))
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start host: %w", err)
	}
	defer engine.Stop()
	defer sessions.DestroyAll()

	logger.Infof("Starting MCP host bridge on :%d%s", cfg.Bridge.Port, cfg.Bridge.Endpoint)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("bridge server error: %w", err)
	}
	return nil
}
