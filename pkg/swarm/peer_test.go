package swarm

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerStartsDiscovered(t *testing.T) {
	p := newPeer("node-b", "127.0.0.1:9000")
	assert.Equal(t, StateDiscovered, p.State())
}

func TestPeerMarkConnectedResetsBackoff(t *testing.T) {
	p := newPeer("node-b", "127.0.0.1:9000")
	p.backoff = 10 * time.Second
	p.failures = 3

	c1, c2 := net.Pipe()
	defer c2.Close()
	p.markConnected(c1)

	assert.Equal(t, StateConnected, p.State())
	assert.Equal(t, 0, p.Failures())
	assert.Equal(t, initialBackoff, p.backoff)
	assert.NotNil(t, p.Connection())
}

func TestPeerMarkFailedDoublesBackoffUpToMax(t *testing.T) {
	p := newPeer("node-b", "127.0.0.1:9000")
	wait1 := p.markFailed()
	assert.Equal(t, initialBackoff, wait1)
	assert.Equal(t, StateBackoff, p.State())
	assert.Equal(t, 1, p.Failures())

	wait2 := p.markFailed()
	assert.Equal(t, initialBackoff*2, wait2)

	p.backoff = maxBackoff * 4
	wait3 := p.markFailed()
	assert.LessOrEqual(t, wait3, maxBackoff*4)
	assert.LessOrEqual(t, p.backoff, maxBackoff)
}

func TestPeerMarkFailedClosesConnection(t *testing.T) {
	p := newPeer("node-b", "127.0.0.1:9000")
	c1, c2 := net.Pipe()
	defer c2.Close()
	p.markConnected(c1)
	p.markFailed()
	assert.Nil(t, p.Connection())
}

func TestPeerRTTTracksObservations(t *testing.T) {
	p := newPeer("node-b", "127.0.0.1:9000")
	require.Equal(t, time.Duration(0), p.RTT())
	p.observeRTT(10 * time.Millisecond)
	assert.Greater(t, p.RTT(), time.Duration(0))
}
