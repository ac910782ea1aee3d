package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/actyx/pkg/crypto"
	"github.com/cuemby/actyx/pkg/types"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		DataDir:           dir,
		Passphrase:        "test-passphrase",
		ListenAddr:        "127.0.0.1:0",
		DiscoveryBindAddr: "127.0.0.1:0",
		SwarmKeyPath:      filepath.Join(dir, "swarm.key"),
		PackInterval:      20 * time.Millisecond,
		ShutdownTimeout:   time.Second,
	}
}

func TestNewCreatesIdentityAndSwarmKeyOnFirstRun(t *testing.T) {
	cfg := testConfig(t)

	n, err := New(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, n.NodeID())
	t.Cleanup(func() { _ = n.bs.Close() })

	_, err = crypto.LoadSwarmKeyFile(cfg.SwarmKeyPath)
	require.NoError(t, err)
}

func TestNewReloadsSameIdentityOnRestart(t *testing.T) {
	cfg := testConfig(t)

	n1, err := New(cfg)
	require.NoError(t, err)
	id1 := n1.NodeID()
	require.NoError(t, n1.bs.Close())

	n2, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n2.bs.Close() })

	assert.Equal(t, id1, n2.NodeID())
}

func TestNewRehydratesStreamsFromPriorRun(t *testing.T) {
	cfg := testConfig(t)

	n1, err := New(cfg)
	require.NoError(t, err)
	_, err = n1.Trees().Emit(1, types.NewTagSet("x"), []byte("hello"))
	require.NoError(t, err)
	// force the alias to become durable; it otherwise only persists
	// once a full leaf seals
	_, err = n1.Trees().Snapshot(types.StreamId{Node: n1.NodeID(), Stream: 1})
	require.NoError(t, err)
	require.NoError(t, n1.bs.Close())

	n2, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = n2.bs.Close() })

	streams := n2.Trees().KnownStreams()
	require.Len(t, streams, 1)
	assert.Equal(t, n2.NodeID(), streams[0].Node)
}

func TestStartStopBringsSwarmUpAndDownCleanly(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, n.Start())
	require.NoError(t, n.Stop())
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig(t)
	n, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
