package storage

import (
	"context"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

// RecipientRef identifies a recipient by id, or by list position when the id
// does not resolve. Version pins a positional reference to the recipient list
// it was rendered from; zero means unpinned.
type RecipientRef struct {
	ID      string
	Index   int
	Version int
}

// ByID returns a reference that resolves only by id
func ByID(id string) RecipientRef {
	return RecipientRef{ID: id, Index: -1}
}

// resolve finds the list position of the referenced recipient
func (ref RecipientRef) resolve(cb *bolt.Bucket, c *campaign.Campaign) (int, error) {
	if pos, ok := recipientPosition(cb, ref.ID); ok {
		return pos, nil
	}
	if ref.Index < 0 {
		return 0, campaign.ErrRecipientNotFound
	}
	if ref.Version != 0 && ref.Version != c.RecipientsVersion {
		return 0, campaign.ErrRecipientNotFound
	}
	if ref.Index >= recipientCount(cb) {
		return 0, campaign.ErrRecipientNotFound
	}
	return ref.Index, nil
}

// RecordOpen marks the recipient opened on its first open and maintains the
// campaign openedCount in the same transaction. Returns whether state changed.
func (s *BoltStorage) RecordOpen(ctx context.Context, id, recipientID string, proxy campaign.ProxyType, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		c, err := readMeta(cb)
		if err != nil {
			return err
		}
		pos, err := ByID(recipientID).resolve(cb, c)
		if err != nil {
			return err
		}
		r, err := readRecipientAt(cb, pos)
		if err != nil {
			return err
		}

		if !r.MarkOpened(at.UTC(), proxy) {
			return nil
		}
		changed = true
		c.OpenedCount++
		if err := writeRecipientAt(cb, pos, r); err != nil {
			return err
		}
		return writeMeta(cb, c)
	})
	return changed, err
}

// RecordClick marks the referenced recipient opened and clicked, appends url
// to its clicked links and maintains both counters in one transaction.
func (s *BoltStorage) RecordClick(ctx context.Context, id string, ref RecipientRef, url string, at time.Time) (*campaign.Recipient, campaign.ClickChange, error) {
	var change campaign.ClickChange
	if err := ctx.Err(); err != nil {
		return nil, change, err
	}

	var recipient *campaign.Recipient
	err := s.db.Update(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		c, err := readMeta(cb)
		if err != nil {
			return err
		}
		pos, err := ref.resolve(cb, c)
		if err != nil {
			return err
		}
		r, err := readRecipientAt(cb, pos)
		if err != nil {
			return err
		}
		recipient = r

		change = r.MarkClicked(at.UTC(), url)
		if !change.Changed() {
			return nil
		}
		if change.Opened {
			c.OpenedCount++
		}
		if change.Clicked {
			c.ClickedCount++
		}
		if err := writeRecipientAt(cb, pos, r); err != nil {
			return err
		}
		return writeMeta(cb, c)
	})
	if err != nil {
		return nil, campaign.ClickChange{}, err
	}
	return recipient, change, nil
}

// MarkOpenedByEmail records a direct open for the recipient with the given
// address in a campaign owned by userID. Returns the recipient and whether
// state changed.
func (s *BoltStorage) MarkOpenedByEmail(ctx context.Context, id, userID, email string, at time.Time) (*campaign.Recipient, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var recipient *campaign.Recipient
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		c, err := readMeta(cb)
		if err != nil {
			return err
		}
		if !c.Owned(userID) {
			return campaign.ErrForbidden
		}

		email = strings.TrimSpace(email)
		total := recipientCount(cb)
		for pos := 0; pos < total; pos++ {
			r, err := readRecipientAt(cb, pos)
			if err != nil {
				return err
			}
			if !strings.EqualFold(r.Email, email) {
				continue
			}
			recipient = r
			if !r.MarkOpened(at.UTC(), campaign.ProxyNone) {
				return nil
			}
			changed = true
			c.OpenedCount++
			if err := writeRecipientAt(cb, pos, r); err != nil {
				return err
			}
			return writeMeta(cb, c)
		}
		return campaign.ErrRecipientNotFound
	})
	if err != nil {
		return nil, false, err
	}
	return recipient, changed, nil
}
