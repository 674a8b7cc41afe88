package channels

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/praetor-io/watchtower/pkg/alerts"
)

var bucketPending = []byte("pending_alerts")

// Spool is a bbolt-backed holding pen for alerts whose dispatch failed.
// Entries survive restarts and are retried ahead of new alerts.
type Spool struct {
	db *bolt.DB
}

// NewSpool opens (or creates) the spool database in dataDir.
func NewSpool(dataDir, handlerName string) (*Spool, error) {
	dbPath := filepath.Join(dataDir, handlerName+"_spool.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening spool database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketPending)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating spool bucket: %w", err)
	}
	return &Spool{db: db}, nil
}

// Close closes the database.
func (s *Spool) Close() error {
	return s.db.Close()
}

// Put stores one alert under a fresh id.
func (s *Spool) Put(alert alerts.Alert) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("encoding spooled alert: %w", err)
		}
		return tx.Bucket(bucketPending).Put([]byte(uuid.NewString()), data)
	})
}

// Pending returns every spooled alert keyed by spool id.
func (s *Spool) Pending() (map[string]alerts.Alert, error) {
	out := map[string]alerts.Alert{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).ForEach(func(k, v []byte) error {
			var alert alerts.Alert
			if err := json.Unmarshal(v, &alert); err != nil {
				return fmt.Errorf("decoding spooled alert %s: %w", k, err)
			}
			out[string(k)] = alert
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one spooled alert after successful dispatch.
func (s *Spool) Delete(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPending).Delete([]byte(id))
	})
}
