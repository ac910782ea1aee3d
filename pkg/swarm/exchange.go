package swarm

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cuemby/actyx/pkg/blockstore"
	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/metrics"
	"github.com/cuemby/actyx/pkg/types"
)

// exchange is the bitswap-like block transfer half of the swarm: it
// answers want-lists against the local block store and tracks this
// node's own outstanding wants so arriving blocks can wake whoever
// asked for them.
type exchange struct {
	bs *blockstore.Store

	mu      sync.Mutex
	waiters map[string][]chan struct{}

	limiter *rate.Limiter
}

func newExchange(bs *blockstore.Store) *exchange {
	return &exchange{
		bs:      bs,
		waiters: make(map[string][]chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(50), 100), // frames/sec, generous burst
	}
}

// want registers interest in cidStr and returns a channel closed once
// a BlockResponse for it arrives (found or not found). A block that
// reaches the store by any other path does not close it.
func (e *exchange) want(cidStr string) <-chan struct{} {
	ch := make(chan struct{})
	e.mu.Lock()
	e.waiters[cidStr] = append(e.waiters[cidStr], ch)
	e.mu.Unlock()
	return ch
}

func (e *exchange) satisfy(cidStr string) {
	e.mu.Lock()
	waiters := e.waiters[cidStr]
	delete(e.waiters, cidStr)
	e.mu.Unlock()
	for _, ch := range waiters {
		close(ch)
	}
}

// Fetch asks peer for cidStr and blocks until it is either satisfied
// or timeout elapses.
func (s *Swarm) Fetch(peer *Peer, cidStr string, timeout time.Duration) ([]byte, bool) {
	if peer.Connection() == nil {
		return nil, false
	}
	if !s.exch.limiter.Allow() {
		return nil, false
	}
	if !peer.reserveWant(int32(s.cfg.MaxOutstandingWants)) {
		return nil, false
	}
	defer peer.releaseWant()

	ready := s.exch.want(cidStr)
	if err := peer.sendFrame(s.cfg.SwarmKey, kindWantList, types.WantList{
		From:  s.cfg.Self,
		Wants: []string{cidStr},
	}); err != nil {
		return nil, false
	}
	metrics.WantsSentTotal.Inc()

	select {
	case <-ready:
	case <-time.After(timeout):
		return nil, false
	}

	c, err := blockstore.ParseCID(cidStr)
	if err != nil {
		return nil, false
	}
	data, err := s.bs.Get(c)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Swarm) handleWantList(p *Peer, wl types.WantList) {
	l := log.WithComponent("swarm")
	if p.Connection() == nil {
		return
	}
	for _, cidStr := range wl.Wants {
		if !s.exch.limiter.Allow() {
			continue
		}
		resp := types.BlockResponse{CID: cidStr}
		c, err := blockstore.ParseCID(cidStr)
		if err != nil {
			resp.NotFound = true
		} else if data, err := s.bs.Get(c); err != nil {
			resp.NotFound = true
		} else {
			resp.Bytes = data
		}
		if err := p.sendFrame(s.cfg.SwarmKey, kindBlockResponse, resp); err != nil {
			l.Debug().Err(err).Str("peer", string(p.NodeID)).Msg("failed to answer want-list")
			return
		}
	}
}

func (s *Swarm) handleBlockResponse(p *Peer, br types.BlockResponse) {
	l := log.WithComponent("swarm")
	defer s.exch.satisfy(br.CID)
	if br.NotFound || len(br.Bytes) == 0 {
		return
	}
	if _, err := s.bs.Put(br.Bytes); err != nil {
		l.Warn().Err(err).Str("peer", string(p.NodeID)).Msg("failed to store received block")
	}
}
