package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

// SMTPSettings returns the active transport settings, or nil if none were saved
func (s *BoltStorage) SMTPSettings(ctx context.Context) (*campaign.SMTPSettings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var settings *campaign.SMTPSettings
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketSettings).Get(keySMTP)
		if data == nil {
			return nil
		}
		var v campaign.SMTPSettings
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("failed to unmarshal smtp settings: %w", err)
		}
		settings = &v
		return nil
	})
	return settings, err
}

// SaveSMTPSettings replaces the active transport settings. An empty password
// keeps the stored one.
func (s *BoltStorage) SaveSMTPSettings(ctx context.Context, settings *campaign.SMTPSettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSettings)
		v := *settings
		if v.Pass == "" {
			if data := b.Get(keySMTP); data != nil {
				var prev campaign.SMTPSettings
				if err := json.Unmarshal(data, &prev); err == nil {
					v.Pass = prev.Pass
				}
			}
		}
		if v.Port == 0 {
			v.Port = campaign.DefaultSMTPPort
		}
		v.UpdatedAt = time.Now().UTC()

		data, err := encode(&v)
		if err != nil {
			return err
		}
		if err := b.Put(keySMTP, data); err != nil {
			return fmt.Errorf("failed to store smtp settings: %w", err)
		}
		settings.UpdatedAt = v.UpdatedAt
		settings.Port = v.Port
		return nil
	})
}

// PutContact stores or replaces a contact keyed by owner, list and address
func (s *BoltStorage) PutContact(ctx context.Context, c *campaign.Contact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Status == "" {
		c.Status = campaign.ContactValid
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := encode(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketContacts).Put(contactKey(c.UserID, c.ListName, c.Email), data)
	})
}

// ListContacts returns the contacts of a user's list in address order
func (s *BoltStorage) ListContacts(ctx context.Context, userID, listName string) ([]*campaign.Contact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var contacts []*campaign.Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := contactKey(userID, listName, "")
		c := tx.Bucket(bucketContacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var contact campaign.Contact
			if err := json.Unmarshal(v, &contact); err != nil {
				continue
			}
			contacts = append(contacts, &contact)
		}
		return nil
	})
	return contacts, err
}

func contactKey(userID, listName, email string) []byte {
	return []byte(userID + "\x00" + listName + "\x00" + strings.ToLower(email))
}
