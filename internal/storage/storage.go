// Package storage persists campaigns, dispatch jobs and transport settings in BoltDB.
//
// Each campaign lives in its own nested bucket so that a tracking event
// rewrites only the campaign header and the one recipient it touches:
//
//	campaigns/<id>/meta              campaign header with maintained counters
//	campaigns/<id>/recipients/<pos>  recipient record, pos is big-endian uint64
//	campaigns/<id>/recipient_ids/<rid> -> <pos>
//	owners/<userID>\x00<created><id> -> <id>
//	jobs/<id>                        dispatch job record
//	settings/smtp                    active transport settings
//	contacts/<userID>\x00<listName>\x00<email> -> contact
package storage

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

var (
	bucketCampaigns = []byte("campaigns")
	bucketOwners    = []byte("owners")
	bucketJobs      = []byte("jobs")
	bucketSettings  = []byte("settings")
	bucketContacts  = []byte("contacts")

	bucketRecipients   = []byte("recipients")
	bucketRecipientIDs = []byte("recipient_ids")

	keyMeta = []byte("meta")
	keySMTP = []byte("smtp")
)

// BoltStorage is the campaign store backed by BoltDB
type BoltStorage struct {
	db   *bolt.DB
	path string
}

// NewBoltStorage opens or creates the database at path
func NewBoltStorage(path string) (*BoltStorage, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCampaigns, bucketOwners, bucketJobs, bucketSettings, bucketContacts} {
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

	return &BoltStorage{db: db, path: path}, nil
}

// Close closes the database
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// DB returns the underlying BoltDB handle
func (s *BoltStorage) DB() *bolt.DB {
	return s.db
}

// Path returns the database file path
func (s *BoltStorage) Path() string {
	return s.path
}

// campaignBucket returns the nested bucket of a campaign or nil
func campaignBucket(tx *bolt.Tx, id string) *bolt.Bucket {
	if id == "" {
		return nil
	}
	return tx.Bucket(bucketCampaigns).Bucket([]byte(id))
}

// readMeta decodes the campaign header. Recipients are not loaded.
func readMeta(cb *bolt.Bucket) (*campaign.Campaign, error) {
	data := cb.Get(keyMeta)
	if data == nil {
		return nil, fmt.Errorf("campaign header missing")
	}
	var c campaign.Campaign
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal campaign: %w", err)
	}
	c.Recipients = nil
	return &c, nil
}

// writeMeta stores the campaign header without its recipients
func writeMeta(cb *bolt.Bucket, c *campaign.Campaign) error {
	header := *c
	header.Recipients = nil
	data, err := json.Marshal(&header)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign: %w", err)
	}
	if err := cb.Put(keyMeta, data); err != nil {
		return fmt.Errorf("failed to store campaign: %w", err)
	}
	return nil
}

// readRecipientAt decodes the recipient stored at position pos
func readRecipientAt(cb *bolt.Bucket, pos int) (*campaign.Recipient, error) {
	data := cb.Bucket(bucketRecipients).Get(positionKey(pos))
	if data == nil {
		return nil, campaign.ErrRecipientNotFound
	}
	var r campaign.Recipient
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal recipient: %w", err)
	}
	return &r, nil
}

// writeRecipientAt stores the recipient at position pos
func writeRecipientAt(cb *bolt.Bucket, pos int, r *campaign.Recipient) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal recipient: %w", err)
	}
	if err := cb.Bucket(bucketRecipients).Put(positionKey(pos), data); err != nil {
		return fmt.Errorf("failed to store recipient: %w", err)
	}
	return nil
}

// recipientPosition resolves a recipient id to its list position
func recipientPosition(cb *bolt.Bucket, id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	v := cb.Bucket(bucketRecipientIDs).Get([]byte(id))
	if v == nil {
		return 0, false
	}
	return int(binary.BigEndian.Uint64(v)), true
}

// recipientCount returns the number of recipients. Positions are dense so
// the last key determines the count.
func recipientCount(cb *bolt.Bucket) int {
	k, _ := cb.Bucket(bucketRecipients).Cursor().Last()
	if k == nil {
		return 0
	}
	return int(binary.BigEndian.Uint64(k)) + 1
}

// readRecipients decodes all recipients in list order
func readRecipients(cb *bolt.Bucket) ([]campaign.Recipient, error) {
	recipients := make([]campaign.Recipient, 0, recipientCount(cb))
	err := cb.Bucket(bucketRecipients).ForEach(func(k, v []byte) error {
		var r campaign.Recipient
		if err := json.Unmarshal(v, &r); err != nil {
			return fmt.Errorf("failed to unmarshal recipient: %w", err)
		}
		recipients = append(recipients, r)
		return nil
	})
	return recipients, err
}

// replaceRecipients drops the stored recipient list and writes a new one
func replaceRecipients(cb *bolt.Bucket, recipients []campaign.Recipient) error {
	for _, name := range [][]byte{bucketRecipients, bucketRecipientIDs} {
		if cb.Bucket(name) != nil {
			if err := cb.DeleteBucket(name); err != nil {
				return fmt.Errorf("failed to drop %s: %w", name, err)
			}
		}
		if _, err := cb.CreateBucket(name); err != nil {
			return fmt.Errorf("failed to create %s: %w", name, err)
		}
	}

	ids := cb.Bucket(bucketRecipientIDs)
	for i := range recipients {
		r := &recipients[i]
		if ids.Get([]byte(r.ID)) != nil {
			return campaign.NewValidationError("recipients", fmt.Sprintf("duplicate recipient id %s", r.ID))
		}
		if err := writeRecipientAt(cb, i, r); err != nil {
			return err
		}
		if err := ids.Put([]byte(r.ID), positionKey(i)); err != nil {
			return fmt.Errorf("failed to index recipient: %w", err)
		}
	}
	return nil
}

// positionKey encodes a list position as a sortable key
func positionKey(pos int) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(pos))
	return key
}

// ownerIndexKey builds the owner index key, ordered by creation time
func ownerIndexKey(userID string, created time.Time, id string) []byte {
	key := make([]byte, 0, len(userID)+1+8+len(id))
	key = append(key, userID...)
	key = append(key, 0)
	key = binary.BigEndian.AppendUint64(key, uint64(created.UnixNano()))
	return append(key, id...)
}

// ownerPrefix returns the owner index prefix for userID
func ownerPrefix(userID string) []byte {
	return append([]byte(userID), 0)
}
