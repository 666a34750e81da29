package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

// BeginSend atomically validates the send preconditions, moves the campaign
// to sending and records a fresh dispatch job. Delivery records of a previous
// lifecycle are cleared so that sentCount restarts from zero.
func (s *BoltStorage) BeginSend(ctx context.Context, id, userID string) (*campaign.DispatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var job *campaign.DispatchJob
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
		total := recipientCount(cb)
		if total == 0 {
			return campaign.ErrNoRecipients
		}
		if c.Status == campaign.StatusSending {
			return &campaign.StateConflictError{Op: "send", Status: c.Status}
		}

		if c.SentCount > 0 {
			if err := clearDeliveries(cb, total); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		c.Status = campaign.StatusSending
		c.SentCount = 0
		c.UpdatedAt = now
		if err := writeMeta(cb, c); err != nil {
			return err
		}

		job = &campaign.DispatchJob{
			CampaignID: id,
			UserID:     c.UserID,
			Total:      total,
			Status:     campaign.JobRunning,
			StartedAt:  now,
			UpdatedAt:  now,
		}
		return putJob(tx, job)
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// clearDeliveries removes the sentAt mark of every recipient
func clearDeliveries(cb *bolt.Bucket, total int) error {
	for pos := 0; pos < total; pos++ {
		r, err := readRecipientAt(cb, pos)
		if err != nil {
			return err
		}
		if r.SentAt == nil {
			continue
		}
		r.SentAt = nil
		if err := writeRecipientAt(cb, pos, r); err != nil {
			return err
		}
	}
	return nil
}

// RecordDelivery marks the recipient at pos as delivered, increments the
// campaign sentCount and advances the job cursor past pos.
func (s *BoltStorage) RecordDelivery(ctx context.Context, id string, pos int, at time.Time) error {
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
		r, err := readRecipientAt(cb, pos)
		if err != nil {
			return err
		}

		if r.SentAt == nil {
			at = at.UTC()
			r.SentAt = &at
			if err := writeRecipientAt(cb, pos, r); err != nil {
				return err
			}
			c.SentCount++
			c.UpdatedAt = time.Now().UTC()
			if err := writeMeta(cb, c); err != nil {
				return err
			}
		}

		return advanceJob(tx, id, pos, func(job *campaign.DispatchJob) {
			job.Sent++
		})
	})
}

// RecordFailure advances the job cursor past pos and remembers the error
func (s *BoltStorage) RecordFailure(ctx context.Context, id string, pos int, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return advanceJob(tx, id, pos, func(job *campaign.DispatchJob) {
			job.Failed++
			job.LastError = reason
		})
	})
}

// advanceJob moves the job cursor past pos and applies fn
func advanceJob(tx *bolt.Tx, id string, pos int, fn func(job *campaign.DispatchJob)) error {
	job, err := getJob(tx, id)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("no dispatch job for campaign %s", id)
	}
	if pos+1 > job.NextIndex {
		job.NextIndex = pos + 1
	}
	fn(job)
	job.UpdatedAt = time.Now().UTC()
	return putJob(tx, job)
}

// FinishSend marks the campaign sent and its job completed, regardless of
// how many deliveries succeeded.
func (s *BoltStorage) FinishSend(ctx context.Context, id string) error {
	return s.endSend(ctx, id, campaign.StatusSent, campaign.JobCompleted, "")
}

// InterruptSend marks the campaign failed and its job interrupted
func (s *BoltStorage) InterruptSend(ctx context.Context, id, reason string) error {
	return s.endSend(ctx, id, campaign.StatusFailed, campaign.JobInterrupted, reason)
}

func (s *BoltStorage) endSend(ctx context.Context, id string, status campaign.Status, jobStatus campaign.JobStatus, reason string) error {
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

		now := time.Now().UTC()
		c.Status = status
		c.UpdatedAt = now
		if err := writeMeta(cb, c); err != nil {
			return err
		}

		job, err := getJob(tx, id)
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		job.Status = jobStatus
		job.UpdatedAt = now
		job.FinishedAt = &now
		if reason != "" {
			job.LastError = reason
		}
		return putJob(tx, job)
	})
}

// GetJob returns the dispatch job of a campaign, or nil if none exists
func (s *BoltStorage) GetJob(ctx context.Context, id string) (*campaign.DispatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var job *campaign.DispatchJob
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		job, err = getJob(tx, id)
		return err
	})
	return job, err
}

// ListJobs returns dispatch jobs, optionally filtered by status
func (s *BoltStorage) ListJobs(ctx context.Context, status campaign.JobStatus) ([]*campaign.DispatchJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var jobs []*campaign.DispatchJob
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketJobs).ForEach(func(k, v []byte) error {
			var job campaign.DispatchJob
			if err := json.Unmarshal(v, &job); err != nil {
				return nil // Skip invalid records
			}
			if status != "" && job.Status != status {
				return nil
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	return jobs, err
}

func getJob(tx *bolt.Tx, id string) (*campaign.DispatchJob, error) {
	data := tx.Bucket(bucketJobs).Get([]byte(id))
	if data == nil {
		return nil, nil
	}
	var job campaign.DispatchJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func putJob(tx *bolt.Tx, job *campaign.DispatchJob) error {
	data, err := encode(job)
	if err != nil {
		return err
	}
	if err := tx.Bucket(bucketJobs).Put([]byte(job.CampaignID), data); err != nil {
		return fmt.Errorf("failed to store job: %w", err)
	}
	return nil
}
