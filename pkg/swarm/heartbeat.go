package swarm

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/metrics"
	"github.com/cuemby/actyx/pkg/types"
)

const fetchTimeout = 5 * time.Second

// heartbeatLoop periodically advertises this node's own stream roots
// to every connected peer on a simple ticker+stopCh loop.
func (s *Swarm) heartbeatLoop() {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	l := log.WithComponent("swarm")

	for {
		select {
		case <-ticker.C:
			s.broadcastHeartbeat(l)
		case <-s.stopCh:
			return
		}
	}
}

func (s *Swarm) broadcastHeartbeat(l zerolog.Logger) {
	hb := types.Heartbeat{NodeID: s.cfg.Self, Lamport: s.cfg.Clock.Now()}
	metrics.LamportClock.Set(float64(hb.Lamport))
	known := s.cfg.Trees.KnownStreams()
	metrics.StreamsTotal.Set(float64(len(known)))
	for _, stream := range known {
		if stream.Node != s.cfg.Self {
			continue // only advertise streams this node owns
		}
		root, err := s.cfg.Trees.Snapshot(stream)
		if err != nil || root == "" {
			continue
		}
		hb.Roots = append(hb.Roots, types.StreamRoot{Stream: stream, Root: root})
	}

	peers := s.connectedPeers()
	metrics.PeersTotal.Set(float64(len(s.Peers())))
	metrics.PeersConnectedTotal.Set(float64(len(peers)))

	for _, p := range peers {
		sent := time.Now()
		if err := p.sendFrame(s.cfg.SwarmKey, kindHeartbeat, hb); err != nil {
			continue
		}
		p.observeRTT(time.Since(sent))
	}
	metrics.GossipRoundsTotal.Inc()
}

// handleHeartbeat folds a peer's Lamport value into the local clock
// and pulls any stream roots this node doesn't already have.
func (s *Swarm) handleHeartbeat(p *Peer, hb types.Heartbeat) {
	l := log.WithComponent("swarm")
	s.cfg.Clock.Observe(hb.Lamport)

	for _, sr := range hb.Roots {
		current, ok := s.cfg.Trees.RootOf(sr.Stream)
		if ok && current == sr.Root {
			continue
		}
		if err := s.pullAndApply(p, sr.Stream, sr.Root); err != nil {
			l.Debug().Err(err).Str("stream", sr.Stream.String()).Str("peer", string(p.NodeID)).
				Msg("failed to pull remote root")
		}
	}
}

// pullAndApply fetches every block reachable from rootCID that this
// node doesn't already have, from peer, then imports the tree.
func (s *Swarm) pullAndApply(peer *Peer, stream types.StreamId, rootCID string) error {
	if err := s.pullDAG(peer, rootCID); err != nil {
		return err
	}
	n, err := s.cfg.Trees.ApplyRemoteRoot(stream, rootCID)
	if err != nil {
		return err
	}
	log.WithComponent("swarm").Info().
		Str("stream", stream.String()).Int("events", n).Msg("imported remote events")
	return nil
}

func (s *Swarm) pullDAG(peer *Peer, rootCID string) error {
	seen := map[string]bool{}
	return s.pullBlock(peer, rootCID, seen)
}

func (s *Swarm) pullBlock(peer *Peer, cidStr string, seen map[string]bool) error {
	if seen[cidStr] {
		return nil
	}
	seen[cidStr] = true

	c, err := blockstore.ParseCID(cidStr)
	if err != nil {
		return err
	}
	data, err := s.bs.Get(c)
	if err != nil {
		if _, ok := s.Fetch(peer, cidStr, fetchTimeout); !ok {
			return nil // tolerate partial graphs: skip what we can't reach
		}
		data, err = s.bs.Get(c)
		if err != nil {
			return nil
		}
	}

	children, err := s.links(data)
	if err != nil || len(children) == 0 {
		return nil
	}
	for _, child := range children {
		if err := s.pullBlock(peer, child.String(), seen); err != nil {
			return err
		}
	}
	return nil
}
