package blockstore

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ipfs/go-cid"
	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"

	"github.com/cuemby/actyx/pkg/log"
	"github.com/cuemby/actyx/pkg/types"
)

// LinkExtractor pulls the child CIDs referenced inside a block's
// payload. The store itself treats blocks as opaque bytes; it asks the owning layer (pkg/banyan, which knows the leaf
// and branch encodings) to resolve links whenever GC needs to walk the
// reachability graph from an alias or pin.
type LinkExtractor func(data []byte) ([]cid.Cid, error)

// Config configures a Store.
type Config struct {
	// DataDir is the node data directory; the database file is
	// created at DataDir/blocks.db.
	DataDir string
	// CacheSize is the number of blocks (their raw stored bytes)
	// kept in the in-process LRU.
	CacheSize int
	// GCInterval is how often a timer-triggered GC sweep runs, in
	// addition to the opportunistic sweep after GCWriteThreshold
	// writes).
	GCInterval time.Duration
	// GCWriteThreshold is the number of writes since the last GC
	// that triggers an opportunistic sweep.
	GCWriteThreshold int
	// Links resolves a block's child references for GC mark. A nil
	// Links treats every block as a leaf (no children) — correct
	// for stores that only ever hold flat blocks.
	Links LinkExtractor
}

func (c Config) withDefaults() Config {
	if c.CacheSize <= 0 {
		c.CacheSize = 4096
	}
	if c.GCInterval <= 0 {
		c.GCInterval = 5 * time.Minute
	}
	if c.GCWriteThreshold <= 0 {
		c.GCWriteThreshold = 1000
	}
	return c
}

// Store is a content-addressed block store; GC keeps a block while it
// is reachable from an alias or a pin.
type Store struct {
	cfg Config
	db  *sql.DB

	cache *lru.Cache[string, []byte]

	mu            sync.RWMutex // guards writesSinceGC
	writesSinceGC int

	aliasMu sync.RWMutex // held for read during GC mark; taken for write on alias/pin change

	subMu sync.Mutex
	subs  []chan cid.Cid

	gcGroup singleflight.Group

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore opens (creating if absent) the block database at
// cfg.DataDir and starts its background GC timer.
func NewStore(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()

	dbPath := filepath.Join(cfg.DataDir, "blocks.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open block store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers ourselves

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}

	cache, err := lru.New[string, []byte](cfg.CacheSize)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create block cache: %w", err)
	}

	s := &Store{
		cfg:    cfg,
		db:     db,
		cache:  cache,
		stopCh: make(chan struct{}),
	}

	gen, err := s.Generation()
	if err != nil {
		db.Close()
		return nil, err
	}
	if gen < 0 {
		// Fresh store: stamp it with the generation this binary
		// writes, so a later binary upgrade can tell whether a
		// migration is needed before it touches the data.
		if err := s.SetGeneration(CurrentGeneration); err != nil {
			db.Close()
			return nil, err
		}
	}

	go s.gcLoop()
	return s, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			cid TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			size INTEGER NOT NULL,
			quarantined INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS aliases (
			name TEXT PRIMARY KEY,
			cid TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS pins (
			cid TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize block store schema: %w", err)
		}
	}
	return nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.db.Close()
}

// CurrentGeneration is the protocol generation this binary reads and
// writes. Generation 0 means no tree header on leaf/branch blocks;
// bumping it requires a migration (cmd/actyx-migrate) and a change
// here.
const CurrentGeneration = 0

const generationKey = "generation"

// Generation returns the protocol generation this store was last
// stamped with, or -1 if it has never been stamped (a brand new
// store, before NewStore's first-run stamp).
func (s *Store) Generation() (int, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, generationKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	var gen int
	if _, err := fmt.Sscanf(raw, "%d", &gen); err != nil {
		return 0, fmt.Errorf("failed to parse generation %q: %w", raw, err)
	}
	return gen, nil
}

// SetGeneration stamps the store with gen.
func (s *Store) SetGeneration(gen int) error {
	_, err := s.db.Exec(
		`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		generationKey, fmt.Sprintf("%d", gen),
	)
	if err != nil {
		return fmt.Errorf("failed to write generation: %w", err)
	}
	return nil
}

// Put stores data and returns its CID. Re-putting an existing block
// is a no-op beyond the existence check (idempotent writes).
func (s *Store) Put(data []byte) (cid.Cid, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return cid.Undef, err
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO blocks (cid, data, size, quarantined) VALUES (?, ?, ?, 0)`,
		c.String(), data, len(data),
	)
	if err != nil {
		return cid.Undef, &types.StorageError{Op: "put", Err: err}
	}

	n, _ := res.RowsAffected()
	s.cache.Add(c.String(), data)

	if n > 0 {
		s.notify(c)
		s.mu.Lock()
		s.writesSinceGC++
		due := s.writesSinceGC >= s.cfg.GCWriteThreshold
		if due {
			s.writesSinceGC = 0
		}
		s.mu.Unlock()
		if due {
			go s.runGC()
		}
	}
	return c, nil
}

// Get returns the block for c, or ErrMissing if it is absent.
// Corruption detected on read (hash mismatch) quarantines the block
// and returns a StorageError with Corruption set.
func (s *Store) Get(c cid.Cid) ([]byte, error) {
	if data, ok := s.cache.Get(c.String()); ok {
		return data, nil
	}

	var data []byte
	var quarantined int
	row := s.db.QueryRow(`SELECT data, quarantined FROM blocks WHERE cid = ?`, c.String())
	if err := row.Scan(&data, &quarantined); err != nil {
		if err == sql.ErrNoRows {
			return nil, types.ErrMissing
		}
		return nil, &types.StorageError{Op: "get", Err: err}
	}
	if quarantined != 0 {
		return nil, types.ErrMissing
	}

	ok, err := VerifyCID(c, data)
	if err != nil {
		return nil, &types.StorageError{Op: "get", Err: err}
	}
	if !ok {
		s.quarantine(c)
		return nil, &types.StorageError{Op: "get", Err: fmt.Errorf("cid mismatch for %s", c), Corruption: true}
	}

	s.cache.Add(c.String(), data)
	return data, nil
}

// Has reports whether c is present and not quarantined, without
// fetching or verifying its payload.
func (s *Store) Has(c cid.Cid) (bool, error) {
	if _, ok := s.cache.Get(c.String()); ok {
		return true, nil
	}
	var quarantined int
	row := s.db.QueryRow(`SELECT quarantined FROM blocks WHERE cid = ?`, c.String())
	if err := row.Scan(&quarantined); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, &types.StorageError{Op: "has", Err: err}
	}
	return quarantined == 0, nil
}

func (s *Store) quarantine(c cid.Cid) {
	s.cache.Remove(c.String())
	_, err := s.db.Exec(`UPDATE blocks SET quarantined = 1 WHERE cid = ?`, c.String())
	if err != nil {
		log.WithComponent("blockstore").Error().Err(err).Str("cid", c.String()).Msg("failed to quarantine corrupted block")
	}
}

// Alias points name at c, durably and atomically. Passing a nil c
// removes the alias. One alias exists per stream.
func (s *Store) Alias(name string, c *cid.Cid) error {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return &types.StorageError{Op: "alias", Err: err}
	}
	defer tx.Rollback()

	if c == nil {
		if _, err := tx.Exec(`DELETE FROM aliases WHERE name = ?`, name); err != nil {
			return &types.StorageError{Op: "alias", Err: err}
		}
	} else {
		if _, err := tx.Exec(
			`INSERT INTO aliases (name, cid) VALUES (?, ?)
			 ON CONFLICT(name) DO UPDATE SET cid = excluded.cid`,
			name, c.String(),
		); err != nil {
			return &types.StorageError{Op: "alias", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &types.StorageError{Op: "alias", Err: err}
	}
	if c != nil {
		s.notify(*c)
	}
	return nil
}

// ListAliases returns every alias name starting with prefix, for a
// layer above the store to rehydrate its in-memory state from what
// was durably aliased before a restart.
func (s *Store) ListAliases(prefix string) ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM aliases WHERE name LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, &types.StorageError{Op: "list-aliases", Err: err}
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, &types.StorageError{Op: "list-aliases", Err: err}
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, &types.StorageError{Op: "list-aliases", Err: err}
	}
	return names, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// ResolveAlias returns the CID name currently points at.
func (s *Store) ResolveAlias(name string) (cid.Cid, bool, error) {
	var cs string
	row := s.db.QueryRow(`SELECT cid FROM aliases WHERE name = ?`, name)
	if err := row.Scan(&cs); err != nil {
		if err == sql.ErrNoRows {
			return cid.Undef, false, nil
		}
		return cid.Undef, false, &types.StorageError{Op: "resolve-alias", Err: err}
	}
	c, err := ParseCID(cs)
	if err != nil {
		return cid.Undef, false, err
	}
	return c, true, nil
}

// Pin marks c (and everything reachable from it) as retained
// regardless of alias state.
func (s *Store) Pin(c cid.Cid) error {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	_, err := s.db.Exec(`INSERT OR IGNORE INTO pins (cid) VALUES (?)`, c.String())
	if err != nil {
		return &types.StorageError{Op: "pin", Err: err}
	}
	return nil
}

// Unpin releases a previous Pin. It does not itself delete anything;
// the next GC sweep reclaims blocks no longer reachable.
func (s *Store) Unpin(c cid.Cid) error {
	s.aliasMu.Lock()
	defer s.aliasMu.Unlock()
	_, err := s.db.Exec(`DELETE FROM pins WHERE cid = ?`, c.String())
	if err != nil {
		return &types.StorageError{Op: "unpin", Err: err}
	}
	return nil
}

// Subscribe returns a channel receiving every CID newly written via
// Put or newly pointed to by Alias, for the swarm layer's bitswap
// "newly-arrived block" notifications.
func (s *Store) Subscribe() <-chan cid.Cid {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	ch := make(chan cid.Cid, 64)
	s.subs = append(s.subs, ch)
	return ch
}

func (s *Store) notify(c cid.Cid) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(s.cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runGC()
		}
	}
}
