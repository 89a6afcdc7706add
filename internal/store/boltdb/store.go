// Package boltdb provides a store.Store that keeps data in a single file.
package boltdb

import (
	"context"
	"time"

	bolt "go.etcd.io/bbolt"

	"code.teamsync.org/golang/internal/store"
)

const (
	connectTimeout = 5 * time.Second
	bucketName     = "authstore"
)

type boltStore struct {
	dbpath string
}

// New returns a store.Store implementation that persists values in a single
// file boltdb database. It errors if the database schema can not be created.
func New(dbpath string) (store.Store, error) {
	bs := boltStore{dbpath: dbpath}

	db, err := bolt.Open(dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return wrapError(err, "failed %s bucket creation", bucketName) // nil if err is nil
	})
	if nil != err {
		return nil, wrapError(err, "failed db initialization")
	}

	return bs, nil
}

// Save stores value under keyPath.
// It errors if the database can not be written.
func (self boltStore) Save(_ context.Context, keyPath []string, value []byte) error {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	err = db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if nil == bucket {
			return newError("missing %s bucket", bucketName)
		}
		return bucket.Put([]byte(store.JoinPath(keyPath)), value)
	})

	return wrapError(err, "failed db.Update") // nil if err is nil
}

// Load returns the value stored under keyPath.
// It errors with store.ErrNotFound if the key path has no value.
func (self boltStore) Load(_ context.Context, keyPath []string) ([]byte, error) {
	db, err := bolt.Open(self.dbpath, 0600, &bolt.Options{Timeout: connectTimeout})
	if nil != err {
		return nil, wrapError(err, "failed connecting to database")
	}
	defer db.Close()

	var value []byte
	err = db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if nil == bucket {
			return newError("missing %s bucket", bucketName)
		}
		data := bucket.Get([]byte(store.JoinPath(keyPath)))
		if nil == data {
			return wrapError(store.ErrNotFound, "no value under key %q", store.JoinPath(keyPath))
		}
		value = make([]byte, len(data))
		copy(value, data)
		return nil
	})
	if nil != err {
		return nil, err
	}

	return value, nil
}

var _ store.Store = boltStore{}
