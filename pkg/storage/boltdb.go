package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetd/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketStatuses = []byte("statuses")
	bucketReports  = []byte("reports")
)

// keyTime is RFC3339 with fixed-width nanoseconds so keys sort by date
const keyTime = "2006-01-02T15:04:05.000000000Z07:00"

// BoltStore implements Store interface using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store in dataDir
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "fleetd.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketStatuses, bucketReports} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Status operations
func (s *BoltStore) PutStatus(update *types.StatusUpdate) error {
	if update.Hostname == "" {
		return fmt.Errorf("status without hostname")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStatuses)
		data, err := json.Marshal(update)
		if err != nil {
			return err
		}
		return b.Put([]byte(update.Hostname), data)
	})
}

func (s *BoltStore) GetStatus(hostname string) (*types.StatusUpdate, error) {
	var update types.StatusUpdate
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStatuses).Get([]byte(hostname))
		if data == nil {
			return fmt.Errorf("status of %s: %w", hostname, ErrNotFound)
		}
		return json.Unmarshal(data, &update)
	})
	if err != nil {
		return nil, err
	}
	return &update, nil
}

// ListStatuses returns the latest status of every host, ordered by hostname
func (s *BoltStore) ListStatuses() ([]types.StatusUpdate, error) {
	var updates []types.StatusUpdate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStatuses).ForEach(func(k, v []byte) error {
			var update types.StatusUpdate
			if err := json.Unmarshal(v, &update); err != nil {
				return err
			}
			updates = append(updates, update)
			return nil
		})
	})
	return updates, err
}

// Report operations

func reportPrefix(hostname string) []byte {
	return []byte(hostname + "/")
}

func reportKey(r *types.Report) []byte {
	return append(reportPrefix(r.Hostname), r.Date.UTC().Format(keyTime)...)
}

func (s *BoltStore) PutReport(report *types.Report) error {
	if report.Hostname == "" {
		return fmt.Errorf("report without hostname")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		data, err := json.Marshal(report)
		if err != nil {
			return err
		}
		return b.Put(reportKey(report), data)
	})
}

// ListReports returns up to limit reports of hostname, newest first.
// A limit of zero or less returns all of them.
func (s *BoltStore) ListReports(hostname string, limit int) ([]types.Report, error) {
	var reports []types.Report
	err := s.db.View(func(tx *bolt.Tx) error {
		keys := hostKeys(tx.Bucket(bucketReports), hostname)
		b := tx.Bucket(bucketReports)
		for i := len(keys) - 1; i >= 0; i-- {
			if limit > 0 && len(reports) == limit {
				break
			}
			var r types.Report
			if err := json.Unmarshal(b.Get(keys[i]), &r); err != nil {
				return err
			}
			reports = append(reports, r)
		}
		return nil
	})
	return reports, err
}

// PruneReports deletes all but the newest keep reports of hostname and
// returns how many were removed
func (s *BoltStore) PruneReports(hostname string, keep int) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketReports)
		keys := hostKeys(b, hostname)
		for i := 0; i < len(keys)-keep; i++ {
			if err := b.Delete(keys[i]); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	return removed, err
}

// hostKeys returns the report keys of hostname, oldest first. Keys are
// copied since they are only valid for the life of the transaction.
func hostKeys(b *bolt.Bucket, hostname string) [][]byte {
	prefix := reportPrefix(hostname)
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	return keys
}
