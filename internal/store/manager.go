package store

import (
	"fmt"
	"path/filepath"
	"sync"
)

// DBName is the database file inside an evees directory.
const DBName = "evees.db"

// shared tracks one open handle per database path with a reference count.
type shared struct {
	db   *DB
	refs int
}

var (
	managerMu sync.Mutex
	handles   = make(map[string]*shared)
)

// GetSharedDB returns a shared database connection for the given evees directory.
// bbolt holds an exclusive file lock, so the local remote and the proposal
// registry must share one handle. The handle closes when the last reference
// is released.
func GetSharedDB(eveesDir string) (*SharedDB, error) {
	managerMu.Lock()
	defer managerMu.Unlock()

	dbPath := filepath.Join(eveesDir, DBName)

	h, ok := handles[dbPath]
	if !ok {
		db, err := Open(dbPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		h = &shared{db: db}
		handles[dbPath] = h
	}
	h.refs++

	return &SharedDB{path: dbPath, DB: h.db}, nil
}

// SharedDB wraps a database connection with reference counting.
type SharedDB struct {
	path   string
	closed bool
	*DB
}

// Close decrements the reference count and closes the underlying database
// when no more references exist. Closing twice is a no-op.
func (sdb *SharedDB) Close() error {
	managerMu.Lock()
	defer managerMu.Unlock()

	if sdb.closed {
		return nil
	}
	sdb.closed = true

	h, ok := handles[sdb.path]
	if !ok {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(handles, sdb.path)
	return h.db.Close()
}
