package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/actyx/pkg/health"
	"github.com/cuemby/actyx/pkg/log"
)

// Start opens the swarm listener and begins the heartbeat, discovery,
// and periodic retention-pack loops. Storage is already live after
// New; Start is the step that makes the node reachable from the rest
// of the swarm.
func (n *Node) Start() error {
	checkBootstrapReachability(n.cfg.Bootstrap)

	if err := n.swarm.Start(); err != nil {
		return fmt.Errorf("failed to start swarm: %w", err)
	}

	n.packStopCh = make(chan struct{})
	n.packDone = make(chan struct{})
	go n.packLoop()

	return nil
}

// checkBootstrapReachability TCP-dials every configured bootstrap
// address up front and logs which ones answered. It never blocks
// startup or fails it: an unreachable bootstrap peer is normal (it
// may come up later, or discovery may find this node from the other
// side) and the swarm's own dial/backoff loop is what actually
// retries. This is purely an early diagnostic for the operator.
func checkBootstrapReachability(addrs []string) {
	if len(addrs) == 0 {
		return
	}
	l := log.WithComponent("node")

	var wg sync.WaitGroup
	for _, addr := range addrs {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			checker := health.NewTCPChecker(addr)
			result := checker.Check(context.Background())
			if result.Healthy {
				l.Info().Str("bootstrap", addr).Msg("bootstrap peer reachable")
			} else {
				l.Warn().Str("bootstrap", addr).Str("reason", result.Message).Msg("bootstrap peer not reachable yet")
			}
		}(addr)
	}
	wg.Wait()
}

func (n *Node) packLoop() {
	defer close(n.packDone)
	ticker := time.NewTicker(n.cfg.PackInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.trees.PackAll()
		case <-n.packStopCh:
			return
		}
	}
}

// Stop tears the node down in the reverse order Start brought it up:
// the pack loop first, then the swarm, then the block store. The pack
// loop and the swarm are each given up to cfg.ShutdownTimeout to
// finish before Stop moves on and logs that it did not confirm a
// clean drain. Before the swarm stops, every known stream's pending
// leaf is sealed so its events are in the block store; closing the
// block store is the last step.
func (n *Node) Stop() error {
	l := log.WithComponent("node")

	if n.packStopCh != nil {
		close(n.packStopCh)
		waitWithTimeout(l, "pack loop", n.packDone, n.cfg.ShutdownTimeout)
	}

	for _, s := range n.trees.KnownStreams() {
		if _, err := n.trees.Snapshot(s); err != nil {
			l.Error().Err(err).Str("stream", s.String()).Msg("failed to seal pending events")
		}
	}

	swarmDone := make(chan struct{})
	go func() {
		defer close(swarmDone)
		if err := n.swarm.Stop(); err != nil {
			l.Error().Err(err).Msg("swarm stop returned an error")
		}
	}()
	waitWithTimeout(l, "swarm", swarmDone, n.cfg.ShutdownTimeout)

	if err := n.bs.Close(); err != nil {
		return fmt.Errorf("failed to close block store: %w", err)
	}
	return nil
}

func waitWithTimeout(l zerolog.Logger, name string, done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
		l.Warn().Msg(name + " did not drain before shutdown timeout")
	}
}

// Run starts the node and blocks until ctx is cancelled or the
// process receives SIGINT/SIGTERM, then stops it. A panic in Run's
// own goroutine (during Start, the wait, or Stop) is recovered,
// logged, and converted into a non-zero process exit rather than a
// half-torn-down node; a panic in one of the background goroutines
// Start launches is not recovered here and ends the process through
// the Go runtime. Keystore and block-store writes are durable when
// they return; a stream's root is persisted each time its pending
// leaf seals, and Stop seals every pending leaf before closing the
// block store. Events still pending when the process exits without
// Stop are not persisted. After that, an external supervisor
// restarts the process.
func (n *Node) Run(ctx context.Context) (err error) {
	l := log.WithComponent("node")

	defer func() {
		if r := recover(); r != nil {
			l.Error().Interface("panic", r).Msg("node run loop panicked, shutting down")
			_ = n.Stop()
			os.Exit(1)
		}
	}()

	if err := n.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		l.Info().Msg("context cancelled, shutting down")
	case sig := <-sigCh:
		l.Info().Str("signal", sig.String()).Msg("received signal, shutting down")
	}

	return n.Stop()
}
