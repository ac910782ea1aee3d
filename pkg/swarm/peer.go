package swarm

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/ewma"

	"github.com/cuemby/actyx/pkg/types"
)

// State is a peer connection's position in its lifecycle.
type State int

const (
	StateDiscovered State = iota
	StateDialing
	StateConnected
	StateIdle
	StateFailed
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateDialing:
		return "dialing"
	case StateConnected:
		return "connected"
	case StateIdle:
		return "idle"
	case StateFailed:
		return "failed"
	case StateBackoff:
		return "backoff"
	default:
		return "unknown"
	}
}

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
)

// Peer tracks everything the swarm knows about one remote node:
// where to reach it, its connection lifecycle, and round-trip
// latency smoothed with an EWMA. The reconnect backoff doubles per
// failure and does not depend on the RTT estimate.
type Peer struct {
	NodeID  types.NodeId
	Addr    string

	mu          sync.Mutex
	state       State
	conn        net.Conn
	rtt         ewma.MovingAverage
	backoff     time.Duration
	failures    int
	lastContact time.Time

	writeMu sync.Mutex // serializes frame writes; a net.Conn write isn't a single atomic operation

	outstanding atomic.Int32 // wants sent to this peer awaiting a response
}

// reserveWant claims one of max outstanding want slots for this peer,
// reporting false if the peer is already at its cap.
func (p *Peer) reserveWant(max int32) bool {
	if max <= 0 {
		p.outstanding.Add(1)
		return true
	}
	for {
		cur := p.outstanding.Load()
		if cur >= max {
			return false
		}
		if p.outstanding.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// releaseWant frees a slot reserved by reserveWant.
func (p *Peer) releaseWant() {
	p.outstanding.Add(-1)
}

// newPeer creates a Peer in the Discovered state for a node seen at
// addr but not yet dialed.
func newPeer(id types.NodeId, addr string) *Peer {
	return &Peer{
		NodeID:  id,
		Addr:    addr,
		state:   StateDiscovered,
		rtt:     ewma.NewMovingAverage(),
		backoff: initialBackoff,
	}
}

func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Peer) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// markConnected records a freshly-dialed or freshly-accepted
// connection and resets the failure/backoff bookkeeping.
func (p *Peer) markConnected(conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn = conn
	p.state = StateConnected
	p.failures = 0
	p.backoff = initialBackoff
	p.lastContact = time.Now()
}

// markFailed records a dial or I/O failure, bumps the failure count,
// and doubles the backoff (capped at maxBackoff).
func (p *Peer) markFailed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
	p.state = StateBackoff
	p.failures++
	wait := p.backoff
	p.backoff *= 2
	if p.backoff > maxBackoff {
		p.backoff = maxBackoff
	}
	return wait
}

// observeRTT folds a fresh latency sample into the peer's moving
// average; broadcastHeartbeat passes the time one heartbeat frame
// took to write to the connection.
func (p *Peer) observeRTT(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rtt.Add(float64(d.Microseconds()))
	p.lastContact = time.Now()
}

// RTT returns the current smoothed round-trip estimate.
func (p *Peer) RTT() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Duration(p.rtt.Value()) * time.Microsecond
}

// Connection returns the peer's current connection, or nil if not
// connected.
func (p *Peer) Connection() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// LastContact returns the last time this peer successfully sent or
// received a frame.
func (p *Peer) LastContact() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastContact
}

// Failures returns the current consecutive-failure count.
func (p *Peer) Failures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}
