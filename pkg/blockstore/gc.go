package blockstore

import (
	"database/sql"
	"fmt"

	"github.com/ipfs/go-cid"

	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/metrics"
)

// runGC performs one mark-and-sweep pass, deduplicated with
// singleflight so an opportunistic trigger racing the timer only runs
// one sweep.
func (s *Store) runGC() {
	_, _, _ = s.gcGroup.Do("gc", func() (interface{}, error) {
		return nil, s.GC()
	})
}

// GC reclaims every block not reachable from an alias or a pin.
// Mark holds a read-lock on aliases/pins so concurrent root updates
// can't be swept out from under an in-flight import.
func (s *Store) GC() error {
	l := log.WithComponent("blockstore")
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.GCDuration)

	s.aliasMu.RLock()
	defer s.aliasMu.RUnlock()

	roots, err := s.gcRoots()
	if err != nil {
		return err
	}

	live, err := s.markLocked(roots)
	if err != nil {
		return err
	}

	removed, err := s.sweep(live)
	if err != nil {
		return err
	}
	if removed > 0 {
		metrics.BlocksGarbageCollectedTotal.Add(float64(removed))
		l.Debug().Int("removed", removed).Int("roots", len(roots)).Msg("gc sweep complete")
	}

	if total, err := s.countBlocks(); err == nil {
		metrics.BlocksTotal.Set(float64(total))
	}
	return nil
}

func (s *Store) countBlocks() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("gc: failed to count blocks: %w", err)
	}
	return n, nil
}

func (s *Store) gcRoots() ([]cid.Cid, error) {
	var roots []cid.Cid
	rows, err := s.db.Query(`SELECT cid FROM aliases`)
	if err != nil {
		return nil, fmt.Errorf("gc: failed to list aliases: %w", err)
	}
	roots, err = scanCIDRows(rows, roots)
	if err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT cid FROM pins`)
	if err != nil {
		return nil, fmt.Errorf("gc: failed to list pins: %w", err)
	}
	roots, err = scanCIDRows(rows, roots)
	if err != nil {
		return nil, err
	}
	return roots, nil
}

func scanCIDRows(rows *sql.Rows, into []cid.Cid) ([]cid.Cid, error) {
	defer rows.Close()
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return into, fmt.Errorf("gc: failed to scan root: %w", err)
		}
		c, err := ParseCID(s)
		if err != nil {
			return into, err
		}
		into = append(into, c)
	}
	return into, rows.Err()
}

// markLocked walks the reachability graph from roots using the
// configured LinkExtractor, returning the set of live CIDs.
func (s *Store) markLocked(roots []cid.Cid) (map[string]struct{}, error) {
	live := make(map[string]struct{}, len(roots))
	queue := append([]cid.Cid(nil), roots...)

	for len(queue) > 0 {
		c := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		key := c.String()
		if _, seen := live[key]; seen {
			continue
		}
		live[key] = struct{}{}

		if s.cfg.Links == nil {
			continue
		}
		data, err := s.Get(c)
		if err != nil {
			// missing or quarantined children are simply not
			// marked further; sweep will leave the gap alone
			// since the block is already gone or quarantined.
			continue
		}
		children, err := s.cfg.Links(data)
		if err != nil {
			return nil, fmt.Errorf("gc: failed to extract links from %s: %w", c, err)
		}
		queue = append(queue, children...)
	}
	return live, nil
}

func (s *Store) sweep(live map[string]struct{}) (int, error) {
	rows, err := s.db.Query(`SELECT cid FROM blocks`)
	if err != nil {
		return 0, fmt.Errorf("gc: failed to list blocks: %w", err)
	}
	var all []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			rows.Close()
			return 0, fmt.Errorf("gc: failed to scan block: %w", err)
		}
		all = append(all, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var removed int
	for _, c := range all {
		if _, ok := live[c]; ok {
			continue
		}
		if _, err := s.db.Exec(`DELETE FROM blocks WHERE cid = ?`, c); err != nil {
			return removed, fmt.Errorf("gc: failed to delete %s: %w", c, err)
		}
		s.cache.Remove(c)
		removed++
	}
	return removed, nil
}
