package remote

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/javanhut/evees/internal/cas"
	"github.com/javanhut/evees/internal/evees"
	"github.com/javanhut/evees/internal/store"
)

// BoltRemote is the local remote of an evees directory: details live in the
// shared bbolt database and objects in a compressed file store next to it.
type BoltRemote struct {
	*Base
	db    *store.SharedDB
	files *cas.FileStore
}

// ObjectsDir is the file store directory inside an evees directory.
const ObjectsDir = "objects"

// OpenBoltRemote opens the local remote rooted at eveesDir.
func OpenBoltRemote(id, userID, eveesDir string, cfg cas.CidConfig) (*BoltRemote, error) {
	db, err := store.GetSharedDB(eveesDir)
	if err != nil {
		return nil, err
	}
	files, err := cas.NewFileStore(filepath.Join(eveesDir, ObjectsDir), cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	r := &BoltRemote{db: db, files: files}
	r.Base = newBase(id, userID, files, boltBackend{db: db.DB})
	return r, nil
}

// DB exposes the shared database handle, e.g. for the proposal registry.
func (r *BoltRemote) DB() *store.DB { return r.db.DB }

// Close releases the file store and the database reference.
func (r *BoltRemote) Close() error {
	ferr := r.files.Close()
	if err := r.db.Close(); err != nil {
		return err
	}
	return ferr
}

type boltBackend struct {
	db *store.DB
}

func (b boltBackend) ping(ctx context.Context) error {
	if b.db == nil {
		return errors.New("database not open")
	}
	return nil
}

func (b boltBackend) getDetails(ctx context.Context, id string) (evees.PerspectiveDetails, error) {
	var d evees.PerspectiveDetails
	err := b.db.GetJSON(store.BucketDetails, id, &d)
	if errors.Is(err, store.ErrKeyNotFound) {
		return d, errNoEntry
	}
	if err != nil {
		return d, fmt.Errorf("details %s: %w", id, err)
	}
	return d, nil
}

func (b boltBackend) putDetails(ctx context.Context, id string, d evees.PerspectiveDetails) error {
	return b.db.PutJSON(store.BucketDetails, id, d)
}

func (b boltBackend) getOwner(ctx context.Context, id string) (string, error) {
	owner, err := b.db.GetString(store.BucketOwners, id)
	if errors.Is(err, store.ErrKeyNotFound) {
		return "", errNoEntry
	}
	return owner, err
}

func (b boltBackend) setOwner(ctx context.Context, id, owner string) error {
	return b.db.PutString(store.BucketOwners, id, owner)
}

func (b boltBackend) addToContext(ctx context.Context, tag, id string) error {
	return b.db.SetPut(store.BucketContexts, tag, id, "1")
}

func (b boltBackend) removeFromContext(ctx context.Context, tag, id string) error {
	return b.db.SetRemove(store.BucketContexts, tag, id)
}

func (b boltBackend) contextMembers(ctx context.Context, tag string) ([]string, error) {
	members, err := b.db.SetMembers(store.BucketContexts, tag)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}
