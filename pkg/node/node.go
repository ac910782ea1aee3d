package node

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/actyx/pkg/banyan"
	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/swarm"
	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

// Config configures a Node. Zero values for every duration and size
// field fall back to the defaults applied by the layers they
// configure (blockstore, banyan, swarm).
type Config struct {
	// DataDir holds the keystore, swarm key file, and block
	// database. Created if it does not yet exist.
	DataDir string
	// Passphrase unlocks (or, on first run, encrypts) the node's
	// Ed25519 identity in DataDir/keystore.
	Passphrase string

	ListenAddr        string
	BindAddr          string
	DiscoveryBindAddr string
	Bootstrap         []string

	// SwarmKeyPath is where the shared swarm secret is read from or,
	// if absent, generated and written to on first run. Every node
	// meant to join the same swarm must be given the same file
	// out-of-band.
	SwarmKeyPath string

	Tree             banyan.Config
	CacheSize        int
	GCInterval       time.Duration
	GCWriteThreshold int

	HeartbeatInterval     time.Duration
	DiscoveryPollInterval time.Duration
	DialRateLimit         rate.Limit
	// MaxOutstandingWants caps unanswered want-list entries per peer;
	// see swarm.Config.MaxOutstandingWants.
	MaxOutstandingWants int

	// PackInterval is how often ephemeral streams are swept for
	// their retention horizon. Defaults to one minute.
	PackInterval time.Duration
	// ShutdownTimeout bounds how long Stop waits for each layer to
	// drain before moving on to the next.
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.PackInterval <= 0 {
		c.PackInterval = time.Minute
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Node is a single actyx process: its identity, its local storage and
// tree state, and its connection to the rest of the swarm.
type Node struct {
	cfg      Config
	identity crypto.Identity
	swarmKey crypto.SwarmKey

	bs    *blockstore.Store
	clock *swarm.Clock
	trees *trees.Adapter
	swarm *swarm.Swarm

	packStopCh chan struct{}
	packDone   chan struct{}
}

// New brings up a node's storage in the order a restart must follow:
// load or create the identity, load or generate the swarm key, open
// the block store, build the tree adapter and rehydrate the streams
// it already had on disk. The swarm itself is not started yet; call
// Start.
func New(cfg Config) (*Node, error) {
	cfg = cfg.withDefaults()
	l := log.WithComponent("node")

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	identity, err := loadOrCreateIdentity(cfg.DataDir, cfg.Passphrase)
	if err != nil {
		return nil, err
	}
	nodeID := identity.NodeID()
	l.Info().Str("node_id", string(nodeID)).Msg("identity loaded")

	swarmKey, err := loadOrGenerateSwarmKey(cfg.SwarmKeyPath)
	if err != nil {
		return nil, err
	}

	bs, err := blockstore.NewStore(blockstore.Config{
		DataDir:          cfg.DataDir,
		CacheSize:        cfg.CacheSize,
		GCInterval:       cfg.GCInterval,
		GCWriteThreshold: cfg.GCWriteThreshold,
		Links:            banyan.LinkExtractor(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}

	clock := swarm.NewClock(0)
	treeAdapter := trees.New(bs, trees.Config{
		LocalNode:  nodeID,
		Tree:       cfg.Tree,
		LamportNow: clock.Tick,
	})

	rehydrated, err := treeAdapter.Rehydrate()
	if err != nil {
		_ = bs.Close()
		return nil, fmt.Errorf("failed to rehydrate streams: %w", err)
	}
	l.Info().Int("streams", rehydrated).Msg("streams rehydrated")

	sw := swarm.New(bs, banyan.LinkExtractor(), swarm.Config{
		Self:                  nodeID,
		ListenAddr:            cfg.ListenAddr,
		BindAddr:              cfg.BindAddr,
		DiscoveryBindAddr:     cfg.DiscoveryBindAddr,
		Bootstrap:             cfg.Bootstrap,
		SwarmKey:              swarmKey,
		Trees:                 treeAdapter,
		Clock:                 clock,
		HeartbeatInterval:     cfg.HeartbeatInterval,
		DiscoveryPollInterval: cfg.DiscoveryPollInterval,
		DialRateLimit:         cfg.DialRateLimit,
		MaxOutstandingWants:   cfg.MaxOutstandingWants,
	})

	return &Node{
		cfg:      cfg,
		identity: identity,
		swarmKey: swarmKey,
		bs:       bs,
		clock:    clock,
		trees:    treeAdapter,
		swarm:    sw,
	}, nil
}

func loadOrCreateIdentity(dataDir, passphrase string) (crypto.Identity, error) {
	ks := crypto.Open(dataDir)
	if ks.Exists() {
		id, err := ks.Load(passphrase)
		if err != nil {
			return crypto.Identity{}, fmt.Errorf("failed to load identity: %w", err)
		}
		return id, nil
	}
	id, err := ks.Create(passphrase)
	if err != nil {
		return crypto.Identity{}, fmt.Errorf("failed to create identity: %w", err)
	}
	return id, nil
}

func loadOrGenerateSwarmKey(path string) (crypto.SwarmKey, error) {
	if _, err := os.Stat(path); err == nil {
		key, err := crypto.LoadSwarmKeyFile(path)
		if err != nil {
			return crypto.SwarmKey{}, fmt.Errorf("failed to load swarm key: %w", err)
		}
		return key, nil
	}
	key, err := crypto.GenerateSwarmKey()
	if err != nil {
		return crypto.SwarmKey{}, fmt.Errorf("failed to generate swarm key: %w", err)
	}
	if err := crypto.WriteSwarmKeyFile(path, key); err != nil {
		return crypto.SwarmKey{}, fmt.Errorf("failed to persist swarm key: %w", err)
	}
	return key, nil
}

// NodeID returns this node's identity.
func (n *Node) NodeID() types.NodeId { return n.identity.NodeID() }

// Trees exposes the tree adapter for the API layer to emit/query
// against.
func (n *Node) Trees() *trees.Adapter { return n.trees }

// Swarm exposes the running swarm for the API layer's peer/status
// endpoints.
func (n *Node) Swarm() *swarm.Swarm { return n.swarm }

// Blockstore exposes the block store for health checks and metrics.
func (n *Node) Blockstore() *blockstore.Store { return n.bs }
