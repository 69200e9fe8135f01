// Package store wraps the bbolt database that backs the local remote and the
// council proposal registry.
package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"
)

// Buckets
var (
	BucketDetails     = []byte("details")      // perspective id -> details json
	BucketContexts    = []byte("contexts")     // context -> {perspective id}
	BucketOwners      = []byte("owners")       // perspective id -> owner
	BucketProposals   = []byte("proposals")    // proposal id -> proposal json
	BucketProposalsTo = []byte("proposals-to") // perspective id -> {proposal id}
	BucketVotes       = []byte("votes")        // proposal id -> {member -> vote}
	BucketConfig      = []byte("config")       // repository configuration
)

var allBuckets = [][]byte{
	BucketDetails,
	BucketContexts,
	BucketOwners,
	BucketProposals,
	BucketProposalsTo,
	BucketVotes,
	BucketConfig,
}

// ErrKeyNotFound is returned by lookups of absent keys.
var ErrKeyNotFound = errors.New("key not found")

type DB struct{ *bbolt.DB }

func Open(path string) (*DB, error) {
	db, err := bbolt.Open(path, 0666, nil)
	if err != nil {
		return nil, err
	}
	// Ensure buckets exist
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			if _, e := tx.CreateBucketIfNotExists(b); e != nil {
				return e
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func (db *DB) Close() error { return db.DB.Close() }

// PutJSON stores v as json under bucket/key.
func (db *DB) PutJSON(bucket []byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

// GetJSON decodes bucket/key into v. Absent keys yield ErrKeyNotFound.
func (db *DB) GetJSON(bucket []byte, key string, v any) error {
	return db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrKeyNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

// PutString stores a plain string value.
func (db *DB) PutString(bucket []byte, key, value string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(key), []byte(value))
	})
}

// GetString retrieves a plain string value.
func (db *DB) GetString(bucket []byte, key string) (string, error) {
	var value string
	err := db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucket).Get([]byte(key))
		if v == nil {
			return fmt.Errorf("%s/%s: %w", bucket, key, ErrKeyNotFound)
		}
		value = string(v)
		return nil
	})
	return value, err
}

// Delete removes bucket/key. Deleting an absent key is not an error.
func (db *DB) Delete(bucket []byte, key string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// SetPut records member -> value in the nested set bucket/set.
func (db *DB) SetPut(bucket []byte, set, member, value string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(bucket).CreateBucketIfNotExists([]byte(set))
		if err != nil {
			return err
		}
		return b.Put([]byte(member), []byte(value))
	})
}

// SetRemove drops member from the nested set bucket/set.
func (db *DB) SetRemove(bucket []byte, set, member string) error {
	return db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket).Bucket([]byte(set))
		if b == nil {
			return nil
		}
		return b.Delete([]byte(member))
	})
}

// SetMembers returns member -> value for the nested set bucket/set.
func (db *DB) SetMembers(bucket []byte, set string) (map[string]string, error) {
	members := make(map[string]string)
	err := db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket).Bucket([]byte(set))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			members[string(k)] = string(v)
			return nil
		})
	})
	return members, err
}

// UpdateBucket runs fn against the named bucket inside one write transaction.
func (db *DB) UpdateBucket(bucket []byte, fn func(b *bbolt.Bucket) error) error {
	return db.Update(func(tx *bbolt.Tx) error {
		return fn(tx.Bucket(bucket))
	})
}

// PutConfig stores a configuration key-value pair.
func (db *DB) PutConfig(key, value string) error {
	return db.PutString(BucketConfig, key, value)
}

// GetConfig retrieves a configuration value by key.
func (db *DB) GetConfig(key string) (string, error) {
	return db.GetString(BucketConfig, key)
}
