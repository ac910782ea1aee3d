package swarm

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/trees"
	"github.com/cuemby/actyx/pkg/types"
)

// Config configures a Swarm.
type Config struct {
	Self types.NodeId

	// ListenAddr is the TCP address other peers dial to reach this
	// node; BindAddr is the address this node actually listens on
	// (normally the same, different when behind a forwarded port).
	ListenAddr string
	BindAddr   string

	// DiscoveryBindAddr is the UDP address the discovery responder
	// listens on; Bootstrap is the set of peer discovery addresses to
	// query on startup.
	DiscoveryBindAddr string
	Bootstrap         []string

	SwarmKey crypto.SwarmKey
	Trees    *trees.Adapter
	Clock    *Clock

	HeartbeatInterval     time.Duration
	DiscoveryPollInterval time.Duration
	DialRateLimit         rate.Limit

	// MaxOutstandingWants caps how many unanswered want-list entries
	// this node will have in flight to a single peer at once; Fetch
	// fails fast once a peer is at its cap rather than piling up
	// requests a slow or unresponsive peer will never answer. Zero
	// means unlimited.
	MaxOutstandingWants int
}

func (c Config) withDefaults() Config {
	if c.BindAddr == "" {
		c.BindAddr = c.ListenAddr
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.DiscoveryPollInterval <= 0 {
		c.DiscoveryPollInterval = 10 * time.Second
	}
	if c.DialRateLimit <= 0 {
		c.DialRateLimit = rate.Limit(5)
	}
	return c
}

// Swarm is a node's connection to every other reachable node sharing
// its swarm key.
type Swarm struct {
	cfg   Config
	bs    *blockstore.Store
	exch  *exchange
	disco *discovery
	links blockstore.LinkExtractor

	listener net.Listener
	dialRate *rate.Limiter

	mu    sync.RWMutex
	peers map[types.NodeId]*Peer

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Swarm. links is the DAG-walking callback used to
// discover a stream root's reachable blocks before importing it
// (ordinarily banyan.LinkExtractor()).
func New(bs *blockstore.Store, links blockstore.LinkExtractor, cfg Config) *Swarm {
	cfg = cfg.withDefaults()
	return &Swarm{
		cfg:      cfg,
		bs:       bs,
		exch:     newExchange(bs),
		links:    links,
		dialRate: rate.NewLimiter(cfg.DialRateLimit, 1),
		peers:    make(map[types.NodeId]*Peer),
		stopCh:   make(chan struct{}),
	}
}

// Start opens the peer listener, the discovery responder, and the
// heartbeat and dial loops.
func (s *Swarm) Start() error {
	l := log.WithComponent("swarm")

	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.BindAddr, err)
	}
	s.listener = ln
	go s.acceptLoop()

	s.disco = newDiscovery(s.cfg.Self, s.cfg.ListenAddr, s.cfg.DiscoveryBindAddr, s.cfg.Bootstrap, s.onDiscovered)
	s.disco.pollInterval = s.cfg.DiscoveryPollInterval
	if err := s.disco.start(); err != nil {
		_ = ln.Close()
		return err
	}

	go s.heartbeatLoop()

	l.Info().Str("addr", s.cfg.BindAddr).Msg("swarm started")
	return nil
}

// Stop tears down every connection and background loop.
func (s *Swarm) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	var err error
	if s.disco != nil {
		err = s.disco.stop()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.peers {
		if conn := p.Connection(); conn != nil {
			_ = conn.Close()
		}
	}
	return err
}

// onDiscovered is fed to discovery; it rate-limits and deduplicates
// outbound dials so a burst of discovery responses doesn't open many
// redundant connections.
func (s *Swarm) onDiscovered(f Found) {
	s.mu.RLock()
	p, known := s.peers[f.NodeID]
	s.mu.RUnlock()
	if known && p.State() == StateConnected {
		return
	}
	if !s.dialRate.Allow() {
		return
	}
	go s.dial(f.NodeID, f.Addr)
}

func (s *Swarm) peerFor(id types.NodeId, addr string) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.peers[id]; ok {
		if addr != "" {
			p.Addr = addr
		}
		return p
	}
	p := newPeer(id, addr)
	s.peers[id] = p
	return p
}

func (s *Swarm) connectedPeers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		if p.State() == StateConnected {
			out = append(out, p)
		}
	}
	return out
}

// Peers returns a snapshot of every peer this swarm currently knows
// about, connected or not.
func (s *Swarm) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// AddBootstrapPeer adds addr to the set of discovery addresses this
// swarm polls, the same way a Config.Bootstrap entry is learned at
// startup. Used to reintroduce a peer after a network partition heals
// without restarting the node.
func (s *Swarm) AddBootstrapPeer(addr string) {
	if s.disco != nil {
		s.disco.addPeerAddr(addr)
	}
}
