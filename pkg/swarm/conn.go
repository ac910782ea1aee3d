package swarm

import (
	"fmt"
	"net"
	"time"

	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/types"
)

// handshake exchanges hello frames over a freshly-opened conn and
// returns the remote node's identity and dial-back address.
func (s *Swarm) handshake(conn net.Conn) (types.NodeId, string, error) {
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})

	if err := writeFrame(conn, s.cfg.SwarmKey, kindHello, hello{
		NodeID:     s.cfg.Self,
		ListenAddr: s.cfg.ListenAddr,
	}); err != nil {
		return "", "", fmt.Errorf("failed to send hello: %w", err)
	}

	k, payload, err := readFrame(conn, s.cfg.SwarmKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to read hello: %w", err)
	}
	if k != kindHello {
		return "", "", fmt.Errorf("expected hello frame, got kind %d", k)
	}
	var h hello
	if err := decodePayload(payload, &h); err != nil {
		return "", "", err
	}
	return h.NodeID, h.ListenAddr, nil
}

// dial connects to a discovered or previously-known peer, performs
// the handshake, and starts its read loop. It is safe to call
// concurrently for different peers; the swarm's peer map dedupes.
func (s *Swarm) dial(id types.NodeId, addr string) {
	l := log.WithComponent("swarm")
	p := s.peerFor(id, addr)
	p.setState(StateDialing)

	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		l.Debug().Err(err).Str("peer", string(id)).Str("addr", addr).Msg("dial failed")
		s.scheduleRedial(p)
		return
	}

	remoteID, _, err := s.handshake(conn)
	if err != nil {
		_ = conn.Close()
		l.Debug().Err(err).Str("addr", addr).Msg("handshake failed")
		s.scheduleRedial(p)
		return
	}
	if remoteID != id {
		// addr answered as a different node than discovery expected;
		// trust the handshake, not the discovery hint.
		p = s.peerFor(remoteID, addr)
	}

	p.markConnected(conn)
	l.Info().Str("peer", string(remoteID)).Str("addr", addr).Msg("peer connected")
	go s.readLoop(p)
}

// acceptLoop accepts inbound peer connections on the swarm's listener.
func (s *Swarm) acceptLoop() {
	l := log.WithComponent("swarm")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				l.Error().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.acceptOne(conn)
	}
}

func (s *Swarm) acceptOne(conn net.Conn) {
	l := log.WithComponent("swarm")
	remoteID, remoteAddr, err := s.handshake(conn)
	if err != nil {
		l.Debug().Err(err).Msg("inbound handshake failed")
		_ = conn.Close()
		return
	}
	p := s.peerFor(remoteID, remoteAddr)
	p.markConnected(conn)
	l.Info().Str("peer", string(remoteID)).Msg("accepted inbound peer connection")
	go s.readLoop(p)
}

// scheduleRedial parks p in backoff and retries after its current
// backoff interval, unless the swarm is stopping.
func (s *Swarm) scheduleRedial(p *Peer) {
	wait := p.markFailed()
	go func() {
		select {
		case <-time.After(wait):
		case <-s.stopCh:
			return
		}
		s.dial(p.NodeID, p.Addr)
	}()
}

// readLoop pulls frames off a connected peer until it disconnects or
// the swarm stops, dispatching each to the relevant handler.
func (s *Swarm) readLoop(p *Peer) {
	l := log.WithComponent("swarm")
	conn := p.Connection()
	if conn == nil {
		return
	}
	defer func() {
		p.setState(StateIdle)
	}()

	for {
		k, payload, err := readFrame(conn, s.cfg.SwarmKey)
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
			}
			l.Debug().Err(err).Str("peer", string(p.NodeID)).Msg("peer connection closed")
			s.scheduleRedial(p)
			return
		}

		switch k {
		case kindHeartbeat:
			var hb types.Heartbeat
			if err := decodePayload(payload, &hb); err != nil {
				l.Warn().Err(err).Msg("malformed heartbeat")
				continue
			}
			s.handleHeartbeat(p, hb)
		case kindWantList:
			var wl types.WantList
			if err := decodePayload(payload, &wl); err != nil {
				l.Warn().Err(err).Msg("malformed want-list")
				continue
			}
			s.handleWantList(p, wl)
		case kindBlockResponse:
			var br types.BlockResponse
			if err := decodePayload(payload, &br); err != nil {
				l.Warn().Err(err).Msg("malformed block response")
				continue
			}
			s.handleBlockResponse(p, br)
		default:
			l.Warn().Uint8("kind", uint8(k)).Msg("unknown frame kind")
		}
	}
}
