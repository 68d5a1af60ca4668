// expose-mcp serves a ship's %expose operations as MCP tools, so an AI host
// can publish, withdraw and list clearweb posts.
//
// Add to Claude Desktop (~/.claude/claude_desktop_config.json):
//
//	{
//	  "mcpServers": {
//	    "expose": {
//	      "command": "/path/to/expose-mcp",
//	      "args": ["--url", "https://zod.tlon.network"],
//	      "env": {"SHIP_CODE": "lidlut-tabwed-pillex-ridrup"}
//	    }
//	  }
//	}
//
// Pass --read-only to offer only the listing and lookup tools.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jmerrifield20/expose/internal/config"
	"github.com/jmerrifield20/expose/internal/mcpbridge"
	"github.com/jmerrifield20/expose/internal/metrics"
	"github.com/jmerrifield20/expose/internal/shipconn"
)

var version = "dev"

var (
	cfgFile     string
	readOnly    bool
	metricsAddr string
	v           = viper.New()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "expose-mcp",
	Short: "MCP server for a ship's %expose agent",
	Long: `expose-mcp is a stdio MCP server that offers these tools to any
MCP-compatible AI host:

  list_exposed    list every exposed post with its public URL
  check_exposed   report whether one post is exposed
  exposed_url     compute a post's public URL without contacting the ship
  expose_post     publish a post on the clearweb
  hide_post       withdraw a published post
  set_eager_mode  toggle pre-fetching of pinned posts

The last three are left out with --read-only.
All logging goes to stderr so it does not interfere with the protocol.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	pf := rootCmd.Flags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.expose/config.yaml)")
	pf.BoolVar(&readOnly, "read-only", false, "Only register tools that do not change what is exposed")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	config.BindFlags(v, pf)
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return err
	}
	logger, err := config.NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := shipconn.Open(ctx, cfg, logger, !readOnly)
	if err != nil {
		return fmt.Errorf("connect to ship: %w", err)
	}

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		logger.Info("metrics listening", zap.String("addr", metricsAddr))
	}

	tools := mcpbridge.NewToolRegistry(svc, readOnly)
	server := mcpbridge.NewServer(tools, version, logger)

	logger.Info("expose MCP server ready",
		zap.String("ship_url", cfg.ShipURL),
		zap.Bool("read_only", readOnly),
		zap.Strings("tools", tools.Names()),
	)

	return server.Serve(ctx, os.Stdin, os.Stdout)
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
