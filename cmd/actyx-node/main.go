package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/spf13/cobra"

	"github.com/cuemby/actyx/pkg/api"
	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/config"
	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/node"
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
	Use:   "actyx-node",
	Short: "actyx-node runs a single decentralized event-database node",
	Long: `actyx-node runs one node of a local-first, decentralized event
database: events are appended to per-stream tagged trees, persisted
to a local block store, and replicated to the rest of the swarm by
gossip and block exchange — no leader, no quorum, no central server.`,
	Version: Version,
	RunE:    runNode,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"actyx-node version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.Flags()
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "output logs in JSON format")

	flags.String("config", "", "path to a YAML node config file (optional; flags below override it)")
	flags.String("data-dir", "/var/lib/actyx", "node data directory (keystore, swarm key, block database)")
	flags.String("passphrase", "", "passphrase protecting the node's identity keystore")

	flags.String("listen-addr", "0.0.0.0:4001", "address advertised to peers for inbound connections")
	flags.String("bind-addr", "0.0.0.0:4001", "swarm peer-connection listen address")
	flags.String("discovery-bind-addr", "0.0.0.0:4053", "UDP address for peer discovery")
	flags.StringSlice("bootstrap", nil, "addresses of bootstrap peers to dial on startup")
	flags.String("swarm-key-file", "", "path to the shared swarm key (generated on first run if absent; default <data-dir>/swarm.key)")

	flags.String("api-addr", "127.0.0.1:4080", "HTTP/WS API listen address")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.Flags().GetString("log-level")
	logJSON, _ := rootCmd.Flags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

func runNode(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	l := log.WithComponent("main")

	cfgPath, _ := flags.GetString("config")
	ncfg := config.DefaultNodeConfig()
	if cfgPath != "" {
		loaded, err := config.LoadNodeConfig(cfgPath)
		if err != nil {
			return fmt.Errorf("failed to load node config: %w", err)
		}
		ncfg = loaded
	} else if err := ncfg.Resolve(); err != nil {
		return fmt.Errorf("failed to resolve default node config: %w", err)
	}

	dataDir, _ := flags.GetString("data-dir")
	passphrase, _ := flags.GetString("passphrase")
	listenAddr, _ := flags.GetString("listen-addr")
	bindAddr, _ := flags.GetString("bind-addr")
	discoveryBindAddr, _ := flags.GetString("discovery-bind-addr")
	bootstrap, _ := flags.GetStringSlice("bootstrap")
	swarmKeyFile, _ := flags.GetString("swarm-key-file")
	apiAddr, _ := flags.GetString("api-addr")

	if !flags.Changed("data-dir") && ncfg.DataDir != "" {
		dataDir = ncfg.DataDir
	}
	if !flags.Changed("bind-addr") && ncfg.BindAddr != "" {
		bindAddr = ncfg.BindAddr
	}
	if !flags.Changed("bootstrap") && len(ncfg.BootstrapPeers) > 0 {
		bootstrap = ncfg.BootstrapPeers
	}
	if !flags.Changed("swarm-key-file") && ncfg.SwarmKeyFile != "" {
		swarmKeyFile = ncfg.SwarmKeyFile
	}

	if swarmKeyFile == "" {
		swarmKeyFile = dataDir + "/swarm.key"
	}

	nodeCfg := node.Config{
		DataDir:    dataDir,
		Passphrase: passphrase,

		ListenAddr:        listenAddr,
		BindAddr:          bindAddr,
		DiscoveryBindAddr: discoveryBindAddr,
		Bootstrap:         bootstrap,

		SwarmKeyPath: swarmKeyFile,

		Tree: banyan.Config{
			LeafTargetBytes:  ncfg.LeafTargetBytes(),
			LeafHardMaxBytes: ncfg.LeafHardMaxBytes(),
			ZstdLevel:        ncfg.ZstdLevel,
		},
		GCInterval:       ncfg.GCInterval,
		GCWriteThreshold: ncfg.GCWriteThreshold,

		HeartbeatInterval:     ncfg.GossipInterval,
		DiscoveryPollInterval: ncfg.DiscoveryBaseTau,
		DialRateLimit:         rate.Limit(1),
		MaxOutstandingWants:   ncfg.MaxOutstandingWants,

		ShutdownTimeout: 10 * time.Second,
	}

	n, err := node.New(nodeCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize node: %w", err)
	}
	l.Info().Str("node_id", string(n.NodeID())).Msg("node initialized")

	server, err := api.NewServer(api.Config{
		Addr: apiAddr,
		Node: n,
	})
	if err != nil {
		return fmt.Errorf("failed to build API server: %w", err)
	}

	go func() {
		l.Info().Str("addr", apiAddr).Msg("API server listening")
		if err := server.Start(); err != nil {
			l.Error().Err(err).Msg("API server stopped")
		}
	}()

	ctx := context.Background()
	runErr := n.Run(ctx)
	_ = server.Stop(nodeCfg.ShutdownTimeout)
	return runErr
}
