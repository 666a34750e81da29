package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

// Patch carries the editable fields of a campaign. Nil fields are left unchanged.
type Patch struct {
	Name        *string
	Subject     *string
	Body        *string
	Recipients  []campaign.Recipient
	ScheduledAt *time.Time
	// ClearSchedule removes a pending schedule
	ClearSchedule bool
}

// Empty reports whether the patch changes nothing
func (p *Patch) Empty() bool {
	return p.Name == nil && p.Subject == nil && p.Body == nil && p.Recipients == nil &&
		p.ScheduledAt == nil && !p.ClearSchedule
}

// Create stores a new campaign with its recipients
func (s *BoltStorage) Create(ctx context.Context, c *campaign.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)
		if campaigns.Bucket([]byte(c.ID)) != nil {
			return fmt.Errorf("campaign %s already exists", c.ID)
		}
		cb, err := campaigns.CreateBucket([]byte(c.ID))
		if err != nil {
			return fmt.Errorf("failed to create campaign bucket: %w", err)
		}

		if err := replaceRecipients(cb, c.Recipients); err != nil {
			return err
		}
		c.Recount()
		if err := writeMeta(cb, c); err != nil {
			return err
		}

		return tx.Bucket(bucketOwners).Put(ownerIndexKey(c.UserID, c.CreatedAt, c.ID), []byte(c.ID))
	})
}

// Get retrieves a campaign with all its recipients
func (s *BoltStorage) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		var err error
		c, err = readMeta(cb)
		if err != nil {
			return err
		}
		c.Recipients, err = readRecipients(cb)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetOwned retrieves a campaign and checks that userID owns it
func (s *BoltStorage) GetOwned(ctx context.Context, id, userID string) (*campaign.Campaign, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !c.Owned(userID) {
		return nil, campaign.ErrForbidden
	}
	return c, nil
}

// Meta retrieves the campaign header without recipients
func (s *BoltStorage) Meta(ctx context.Context, id string) (*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var c *campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		var err error
		c, err = readMeta(cb)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// RecipientAt returns the recipient at list position pos together with the
// campaign header, read in one transaction.
func (s *BoltStorage) RecipientAt(ctx context.Context, id string, pos int) (*campaign.Campaign, *campaign.Recipient, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var c *campaign.Campaign
	var r *campaign.Recipient
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		var err error
		if c, err = readMeta(cb); err != nil {
			return err
		}
		if pos < 0 {
			return campaign.ErrRecipientNotFound
		}
		r, err = readRecipientAt(cb, pos)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r, nil
}

// RecipientCount returns the number of recipients of a campaign
func (s *BoltStorage) RecipientCount(ctx context.Context, id string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var n int
	err := s.db.View(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, id)
		if cb == nil {
			return campaign.ErrNotFound
		}
		n = recipientCount(cb)
		return nil
	})
	return n, err
}

// ListByOwner returns the campaign headers of userID, newest first
func (s *BoltStorage) ListByOwner(ctx context.Context, userID string) ([]*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*campaign.Campaign
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := ownerPrefix(userID)
		c := tx.Bucket(bucketOwners).Cursor()

		var ids [][]byte
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			ids = append(ids, v)
		}

		for i := len(ids) - 1; i >= 0; i-- {
			cb := campaignBucket(tx, string(ids[i]))
			if cb == nil {
				continue
			}
			meta, err := readMeta(cb)
			if err != nil {
				return err
			}
			result = append(result, meta)
		}
		return nil
	})
	return result, err
}

// ListDue returns scheduled campaigns whose schedule time has passed
func (s *BoltStorage) ListDue(ctx context.Context, now time.Time) ([]*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var result []*campaign.Campaign
	err := s.forEachMeta(func(_ *bolt.Bucket, c *campaign.Campaign) error {
		if c.Status == campaign.StatusScheduled && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			result = append(result, c)
		}
		return nil
	})
	return result, err
}

// CountByStatus returns the number of campaigns per status
func (s *BoltStorage) CountByStatus(ctx context.Context) (map[campaign.Status]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[campaign.Status]int)
	err := s.forEachMeta(func(_ *bolt.Bucket, c *campaign.Campaign) error {
		counts[c.Status]++
		return nil
	})
	return counts, err
}

// forEachMeta calls fn for every campaign header in a read transaction
func (s *BoltStorage) forEachMeta(fn func(cb *bolt.Bucket, c *campaign.Campaign) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)
		return campaigns.ForEachBucket(func(k []byte) error {
			cb := campaigns.Bucket(k)
			meta, err := readMeta(cb)
			if err != nil {
				return err
			}
			return fn(cb, meta)
		})
	})
}

// Update applies patch to a campaign owned by userID. Edits are rejected
// while the campaign is sending. Editing a campaign whose send lifecycle has
// ended resets it to draft and clears all delivery and engagement state.
func (s *BoltStorage) Update(ctx context.Context, id, userID string, patch Patch) (*campaign.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var updated *campaign.Campaign
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
		if c.Status == campaign.StatusSending {
			return &campaign.StateConflictError{Op: "edit", Status: c.Status}
		}

		if c.Recipients, err = readRecipients(cb); err != nil {
			return err
		}
		if patch.Empty() {
			updated = c
			return nil
		}

		rearmed := c.Status.Terminal()
		if rearmed {
			c.Reset()
		}

		if patch.Name != nil {
			c.Name = *patch.Name
		}
		if patch.Subject != nil {
			c.Subject = *patch.Subject
		}
		if patch.Body != nil {
			c.Body = *patch.Body
		}
		if patch.ClearSchedule {
			c.ScheduledAt = nil
			if c.Status == campaign.StatusScheduled {
				c.Status = campaign.StatusDraft
			}
		}
		if patch.ScheduledAt != nil {
			at := patch.ScheduledAt.UTC()
			c.ScheduledAt = &at
			c.Status = campaign.StatusScheduled
		}
		if patch.Recipients != nil {
			c.Recipients = patch.Recipients
			c.RecipientsVersion++
		}

		if rearmed || patch.Recipients != nil {
			if err := replaceRecipients(cb, c.Recipients); err != nil {
				return err
			}
		}
		c.Recount()
		c.UpdatedAt = time.Now().UTC()
		if err := writeMeta(cb, c); err != nil {
			return err
		}

		// The finished job record belongs to the previous lifecycle
		if rearmed {
			if err := tx.Bucket(bucketJobs).Delete([]byte(id)); err != nil {
				return fmt.Errorf("failed to drop job record: %w", err)
			}
		}

		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a campaign owned by userID. Sending campaigns cannot be deleted.
func (s *BoltStorage) Delete(ctx context.Context, id, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
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
		if c.Status == campaign.StatusSending {
			return &campaign.StateConflictError{Op: "delete", Status: c.Status}
		}

		if err := tx.Bucket(bucketCampaigns).DeleteBucket([]byte(id)); err != nil {
			return fmt.Errorf("failed to delete campaign: %w", err)
		}
		if err := tx.Bucket(bucketOwners).Delete(ownerIndexKey(c.UserID, c.CreatedAt, c.ID)); err != nil {
			return fmt.Errorf("failed to delete owner index: %w", err)
		}
		return tx.Bucket(bucketJobs).Delete([]byte(id))
	})
}

// Reconcile recomputes the maintained counters of every campaign from its
// recipients and rewrites headers that drifted. Returns the number fixed.
func (s *BoltStorage) Reconcile(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	fixed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		campaigns := tx.Bucket(bucketCampaigns)

		var ids [][]byte
		if err := campaigns.ForEachBucket(func(k []byte) error {
			ids = append(ids, append([]byte(nil), k...))
			return nil
		}); err != nil {
			return err
		}

		for _, id := range ids {
			cb := campaigns.Bucket(id)
			c, err := readMeta(cb)
			if err != nil {
				return err
			}
			sent, opened, clicked := c.SentCount, c.OpenedCount, c.ClickedCount
			if c.Recipients, err = readRecipients(cb); err != nil {
				return err
			}
			c.Recount()
			if c.SentCount == sent && c.OpenedCount == opened && c.ClickedCount == clicked {
				continue
			}
			fixed++
			if err := writeMeta(cb, c); err != nil {
				return err
			}
		}
		return nil
	})
	return fixed, err
}

// encode marshals v for a top-level record
func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}
