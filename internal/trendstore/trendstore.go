// Package trendstore archives flow trend windows in a bolt database so the
// trend mode can show them after monitoring stopped.
package trendstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/boltdb/bolt"

	"sharkline/internal/models"
)

const bucketName = "flow-trend"

var errNotOpen = errors.New("trendstore: not open")

// Archive stores one sample list per interface.
type Archive struct {
	db *bolt.DB
}

// Open opens or creates the archive at path.
func Open(path string) (*Archive, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("trendstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("trendstore: create bucket: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close closes the database.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Save merges samples into the interface's history. A second already
// present is overwritten.
func (a *Archive) Save(iface string, samples []models.FlowSample) error {
	if a.db == nil {
		return errNotOpen
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		merged := make(map[int64]int64)
		if data := b.Get([]byte(iface)); data != nil {
			var old []models.FlowSample
			if err := json.Unmarshal(data, &old); err != nil {
				return fmt.Errorf("trendstore: decode %s: %w", iface, err)
			}
			for _, s := range old {
				merged[s.Second] = s.Bytes
			}
		}
		for _, s := range samples {
			merged[s.Second] = s.Bytes
		}
		data, err := json.Marshal(sorted(merged))
		if err != nil {
			return err
		}
		return b.Put([]byte(iface), data)
	})
}

// Load returns the interface's samples ordered by second.
func (a *Archive) Load(iface string) ([]models.FlowSample, error) {
	if a.db == nil {
		return nil, errNotOpen
	}
	var out []models.FlowSample
	err := a.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(iface))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &out)
	})
	if err != nil {
		return nil, fmt.Errorf("trendstore: load %s: %w", iface, err)
	}
	return out, nil
}

// Interfaces lists the archived interface names in key order.
func (a *Archive) Interfaces() ([]string, error) {
	if a.db == nil {
		return nil, errNotOpen
	}
	var names []string
	err := a.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(bucketName)).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			names = append(names, string(k))
		}
		return nil
	})
	return names, err
}

func sorted(m map[int64]int64) []models.FlowSample {
	out := make([]models.FlowSample, 0, len(m))
	for sec, n := range m {
		out = append(out, models.FlowSample{Second: sec, Bytes: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Second < out[j].Second })
	return out
}
