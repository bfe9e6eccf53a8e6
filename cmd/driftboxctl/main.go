// Command driftboxctl is the operator-facing CLI over one node's
// storage core: start a node, inspect its change log and bitmaps, and
// run the housekeeping passes (compaction, tombstone purge) an operator
// would otherwise have to trigger by hand.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/driftbox/pkg/core"
	"github.com/cuemby/driftbox/pkg/log"
	"github.com/cuemby/driftbox/pkg/metrics"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "driftboxctl",
	Short: "driftboxctl - storage core for a multi-tenant mail server",
	Long: `driftboxctl runs and inspects one node of the document store,
change log, and bitmap index that back a JMAP/IMAP/LMTP mail service.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"driftboxctl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory holding the bbolt file and Raft state")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(bitmapCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(purgeCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// openStore opens the node's store with the flags common to every
// subcommand, failing fast rather than creating a half-configured
// store a later command would silently misbehave against.
func openStore(cmd *cobra.Command) (*core.Store, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg := core.DefaultConfig()
	cfg.DataDir = dataDir
	if nodeID, _ := cmd.Flags().GetString("node-id"); nodeID != "" {
		cfg.NodeID = nodeID
	}
	if bindAddr, _ := cmd.Flags().GetString("bind-addr"); bindAddr != "" {
		cfg.BindAddr = bindAddr
	}
	return core.Open(cfg)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run this node: open the store, bootstrap Raft, and serve /metrics and /health",
	RunE: func(cmd *cobra.Command, args []string) error {
		nodeID, _ := cmd.Flags().GetString("node-id")
		bindAddr, _ := cmd.Flags().GetString("bind-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		bootstrap, _ := cmd.Flags().GetBool("bootstrap")

		logger := log.WithComponent("serve")
		logger.Info().Str("node_id", nodeID).Str("bind_addr", bindAddr).Str("data_dir", dataDir).Msg("opening store")

		store, err := openStore(cmd)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		if bootstrap {
			if err := store.Bootstrap(); err != nil {
				return fmt.Errorf("bootstrap raft: %w", err)
			}
			logger.Info().Msg("raft bootstrapped as single-voter cluster")
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("raft", true, "open")
		metrics.RegisterComponent("storage", true, "open")
		metrics.RegisterComponent("api", true, "n/a")

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.Handle("/health", metrics.HealthHandler())
		mux.Handle("/ready", metrics.ReadyHandler())
		mux.Handle("/live", metrics.LivenessHandler())

		errCh := make(chan error, 1)
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
		logger.Info().Str("addr", metricsAddr).Msg("serving /metrics, /health, /ready, /live")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
			return nil
		}
	},
}

func init() {
	serveCmd.Flags().String("node-id", "node-1", "Raft node id")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7070", "Raft transport bind address")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address to serve /metrics and /health on")
	serveCmd.Flags().Bool("bootstrap", false, "Bootstrap a new single-voter Raft cluster on this node")
}
