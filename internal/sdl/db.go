package sdl

import (
	"fmt"
	"strings"
	"sync"
)

// DB is a read-only-after-init map of (name, version) -> Descriptor,
// plus a by-name index of the latest version. The server parses every
// .sdl file under the data root into one DB at startup; after that it is
// only ever read concurrently by protocol workers.
type DB struct {
	mu      sync.RWMutex
	byName  map[string]map[int]*Descriptor
	latest  map[string]*Descriptor
}

// NewDB returns an empty descriptor database.
func NewDB() *DB {
	return &DB{
		byName: make(map[string]map[int]*Descriptor),
		latest: make(map[string]*Descriptor),
	}
}

// Register adds d to the database, keeping the by-name latest-version
// index up to date. Registering the same (name, version) twice replaces
// the earlier definition.
func (db *DB) Register(d *Descriptor) {
	db.mu.Lock()
	defer db.mu.Unlock()

	key := strings.ToLower(d.Name)
	versions, ok := db.byName[key]
	if !ok {
		versions = make(map[int]*Descriptor)
		db.byName[key] = versions
	}
	versions[d.Version] = d

	if cur, ok := db.latest[key]; !ok || d.Version >= cur.Version {
		db.latest[key] = d
	}
}

// LoadSource parses src (the contents of one .sdl file) and registers
// every descriptor it contains.
func (db *DB) LoadSource(src string) error {
	descs, err := ParseDescriptors(src)
	if err != nil {
		return fmt.Errorf("parsing sdl source: %w", err)
	}
	for _, d := range descs {
		db.Register(d)
	}
	return nil
}

// Get returns the exact (name, version) descriptor, if registered.
func (db *DB) Get(name string, version int) (*Descriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	versions, ok := db.byName[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	d, ok := versions[version]
	return d, ok
}

// Latest returns the highest-versioned descriptor registered under name.
func (db *DB) Latest(name string) (*Descriptor, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	d, ok := db.latest[strings.ToLower(name)]
	return d, ok
}
