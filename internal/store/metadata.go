// Package store holds the one piece of bookkeeping this port still keeps in
// BoltDB: the external-ID -> (segment, docNum) reverse index used by
// Index.markObsolete for an O(1) "does this ID already exist, and where"
// lookup instead of scanning every segment's term dictionary on every write.
// Segment membership and commit history live in internal/manifest instead,
// per SPEC_FULL.md's binding resolution on the teacher's original
// bolt-backed metadata store.
package store

import (
	"encoding/json"
	"path/filepath"

	"github.com/boltdb/bolt"
)

var bucketDocIDs = []byte("docids")

// DocMapping records where an external document ID currently lives.
type DocMapping struct {
	SegmentID string `json:"s"`
	DocNum    uint64 `json:"d"`
}

// Metadata is the doc-ID reverse index, persisted with BoltDB the way the
// teacher's internal/store package does for all of its metadata.
type Metadata struct {
	db *bolt.DB
}

// NewMetadata opens or creates the reverse-index database under dir.
func NewMetadata(dir string) (*Metadata, error) {
	dbPath := filepath.Join(dir, "docids.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDocIDs)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Metadata{db: db}, nil
}

// GetDocMapping returns the segment name and docNum an external ID was last
// indexed into, if any.
func (m *Metadata) GetDocMapping(externalID string) (segmentID string, docNum uint64, found bool, err error) {
	var mapping DocMapping
	err = m.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocIDs)
		data := b.Get([]byte(externalID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &mapping)
	})
	return mapping.SegmentID, mapping.DocNum, found, err
}

// SetDocMapping records the segment/docNum an external ID now lives at,
// overwriting any prior mapping.
func (m *Metadata) SetDocMapping(externalID, segmentID string, docNum uint64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocIDs)
		data, err := json.Marshal(DocMapping{SegmentID: segmentID, DocNum: docNum})
		if err != nil {
			return err
		}
		return b.Put([]byte(externalID), data)
	})
}

// DeleteDocMapping removes an external ID's reverse-index entry, used when a
// document is permanently removed rather than updated.
func (m *Metadata) DeleteDocMapping(externalID string) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDocIDs)
		return b.Delete([]byte(externalID))
	})
}

func (m *Metadata) Close() error {
	return m.db.Close()
}
