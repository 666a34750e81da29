package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/foxzi/beacon/internal/campaign"
)

func newTestStorage(t *testing.T) *BoltStorage {
	t.Helper()
	s, err := NewBoltStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewBoltStorage() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestCampaign(t *testing.T, s *BoltStorage, userID string, emails ...string) *campaign.Campaign {
	t.Helper()
	recipients := make([]campaign.Recipient, len(emails))
	for i, e := range emails {
		recipients[i] = campaign.NewRecipient(e, "", "")
	}
	c := campaign.New(userID, "", "Hello", "Hi {{firstName}}", recipients, nil)
	if err := s.Create(context.Background(), c); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return c
}

// assertCounts checks the maintained counters against the recipient flags
func assertCounts(t *testing.T, s *BoltStorage, id string) *campaign.Campaign {
	t.Helper()
	c, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	opened, clicked, sent := 0, 0, 0
	for _, r := range c.Recipients {
		if r.Clicked && !r.Opened {
			t.Errorf("recipient %s clicked but not opened", r.Email)
		}
		if r.Opened {
			opened++
		}
		if r.Clicked {
			clicked++
		}
		if r.SentAt != nil {
			sent++
		}
	}
	if c.OpenedCount != opened {
		t.Errorf("OpenedCount = %d, want %d", c.OpenedCount, opened)
	}
	if c.ClickedCount != clicked {
		t.Errorf("ClickedCount = %d, want %d", c.ClickedCount, clicked)
	}
	if c.SentCount != sent {
		t.Errorf("SentCount = %d, want %d", c.SentCount, sent)
	}
	return c
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")

	got, err := s.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Subject != "Hello" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hello")
	}
	if len(got.Recipients) != 2 {
		t.Fatalf("len(Recipients) = %d, want 2", len(got.Recipients))
	}
	if got.Recipients[1].Email != "b@example.com" {
		t.Errorf("Recipients[1].Email = %q, want b@example.com", got.Recipients[1].Email)
	}
	if got.RecipientsVersion != 1 {
		t.Errorf("RecipientsVersion = %d, want 1", got.RecipientsVersion)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetOwned(ctx, c.ID, "u2"); !errors.Is(err, campaign.ErrForbidden) {
		t.Errorf("GetOwned(other user) error = %v, want ErrForbidden", err)
	}

	n, err := s.RecipientCount(ctx, c.ID)
	if err != nil || n != 2 {
		t.Errorf("RecipientCount() = %d, %v, want 2", n, err)
	}
}

func TestListByOwnerNewestFirst(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := newTestCampaign(t, s, "u1", "a@example.com")
	time.Sleep(time.Millisecond)
	second := newTestCampaign(t, s, "u1", "b@example.com")
	newTestCampaign(t, s, "u2", "c@example.com")

	list, err := s.ListByOwner(ctx, "u1")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, second.ID, first.ID)
	}
}

func TestUpdateResetsTerminalCampaign(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")
	if _, err := s.BeginSend(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("BeginSend() error = %v", err)
	}
	if err := s.RecordDelivery(ctx, c.ID, 0, time.Now()); err != nil {
		t.Fatalf("RecordDelivery() error = %v", err)
	}
	if err := s.FinishSend(ctx, c.ID); err != nil {
		t.Fatalf("FinishSend() error = %v", err)
	}
	if _, err := s.RecordOpen(ctx, c.ID, c.Recipients[0].ID, campaign.ProxyNone, time.Now()); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}
	if _, _, err := s.RecordClick(ctx, c.ID, ByID(c.Recipients[1].ID), "https://example.com", time.Now()); err != nil {
		t.Fatalf("RecordClick() error = %v", err)
	}

	body := "New body"
	updated, err := s.Update(ctx, c.ID, "u1", Patch{Body: &body})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != campaign.StatusDraft {
		t.Errorf("Status = %q, want %q", updated.Status, campaign.StatusDraft)
	}
	if updated.Body != body {
		t.Errorf("Body = %q, want %q", updated.Body, body)
	}

	got := assertCounts(t, s, c.ID)
	if got.SentCount != 0 || got.OpenedCount != 0 || got.ClickedCount != 0 {
		t.Errorf("counts = %d/%d/%d, want 0/0/0", got.SentCount, got.OpenedCount, got.ClickedCount)
	}
	for _, r := range got.Recipients {
		if r.Opened || r.Clicked {
			t.Errorf("recipient %s still flagged", r.Email)
		}
	}

	job, err := s.GetJob(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetJob() error = %v", err)
	}
	if job != nil {
		t.Errorf("GetJob() = %+v, want nil after reset", job)
	}
}

func TestUpdateRejectedWhileSending(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com")
	if _, err := s.BeginSend(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("BeginSend() error = %v", err)
	}

	subject := "changed"
	_, err := s.Update(ctx, c.ID, "u1", Patch{Subject: &subject})
	if !errors.Is(err, campaign.ErrStateConflict) {
		t.Errorf("Update() error = %v, want ErrStateConflict", err)
	}
	if err := s.Delete(ctx, c.ID, "u1"); !errors.Is(err, campaign.ErrStateConflict) {
		t.Errorf("Delete() error = %v, want ErrStateConflict", err)
	}
}

func TestUpdateReplacesRecipients(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")
	updated, err := s.Update(ctx, c.ID, "u1", Patch{
		Recipients: []campaign.Recipient{campaign.NewRecipient("z@example.com", "", "")},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.RecipientsVersion != 2 {
		t.Errorf("RecipientsVersion = %d, want 2", updated.RecipientsVersion)
	}

	got, _ := s.Get(ctx, c.ID)
	if len(got.Recipients) != 1 || got.Recipients[0].Email != "z@example.com" {
		t.Errorf("Recipients = %+v", got.Recipients)
	}
	if _, err := s.RecordOpen(ctx, c.ID, c.Recipients[0].ID, campaign.ProxyNone, time.Now()); !errors.Is(err, campaign.ErrRecipientNotFound) {
		t.Errorf("RecordOpen(old id) error = %v, want ErrRecipientNotFound", err)
	}
}

func TestBeginSendPreconditions(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	empty := newTestCampaign(t, s, "u1")
	full := newTestCampaign(t, s, "u1", "a@example.com")

	tests := []struct {
		name    string
		id      string
		user    string
		wantErr error
	}{
		{"missing", "nope", "u1", campaign.ErrNotFound},
		{"not owner", full.ID, "u2", campaign.ErrForbidden},
		{"no recipients", empty.ID, "u1", campaign.ErrNoRecipients},
		{"ok", full.ID, "u1", nil},
		{"already sending", full.ID, "u1", campaign.ErrStateConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := s.BeginSend(ctx, tt.id, tt.user)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("BeginSend() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("BeginSend() error = %v", err)
			}
			if job.Total != 1 || job.NextIndex != 0 || job.Status != campaign.JobRunning {
				t.Errorf("job = %+v", job)
			}
			meta, _ := s.Meta(ctx, tt.id)
			if meta.Status != campaign.StatusSending {
				t.Errorf("Status = %q, want sending", meta.Status)
			}
		})
	}
}

func TestDeliveryProgress(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com", "c@example.com")
	if _, err := s.BeginSend(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("BeginSend() error = %v", err)
	}

	if err := s.RecordDelivery(ctx, c.ID, 0, time.Now()); err != nil {
		t.Fatalf("RecordDelivery() error = %v", err)
	}
	if err := s.RecordFailure(ctx, c.ID, 1, "connection refused"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if err := s.RecordDelivery(ctx, c.ID, 2, time.Now()); err != nil {
		t.Fatalf("RecordDelivery() error = %v", err)
	}

	job, _ := s.GetJob(ctx, c.ID)
	if job.NextIndex != 3 || job.Sent != 2 || job.Failed != 1 {
		t.Errorf("job = %+v, want next=3 sent=2 failed=1", job)
	}
	if job.LastError != "connection refused" {
		t.Errorf("LastError = %q", job.LastError)
	}

	if err := s.FinishSend(ctx, c.ID); err != nil {
		t.Fatalf("FinishSend() error = %v", err)
	}
	got := assertCounts(t, s, c.ID)
	if got.SentCount != 2 {
		t.Errorf("SentCount = %d, want 2", got.SentCount)
	}
	if got.Status != campaign.StatusSent {
		t.Errorf("Status = %q, want sent", got.Status)
	}
	if got.Recipients[1].SentAt != nil {
		t.Error("failed recipient has a delivery record")
	}

	// A repeated send restarts the counter
	if _, err := s.BeginSend(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("second BeginSend() error = %v", err)
	}
	got = assertCounts(t, s, c.ID)
	if got.SentCount != 0 {
		t.Errorf("SentCount after restart = %d, want 0", got.SentCount)
	}
}

func TestInterruptSend(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com")
	if _, err := s.BeginSend(ctx, c.ID, "u1"); err != nil {
		t.Fatalf("BeginSend() error = %v", err)
	}
	if err := s.InterruptSend(ctx, c.ID, "process restarted"); err != nil {
		t.Fatalf("InterruptSend() error = %v", err)
	}

	meta, _ := s.Meta(ctx, c.ID)
	if meta.Status != campaign.StatusFailed {
		t.Errorf("Status = %q, want failed", meta.Status)
	}
	jobs, err := s.ListJobs(ctx, campaign.JobInterrupted)
	if err != nil {
		t.Fatalf("ListJobs() error = %v", err)
	}
	if len(jobs) != 1 || jobs[0].LastError != "process restarted" {
		t.Errorf("ListJobs() = %+v", jobs)
	}
}

func TestRecordOpenIdempotent(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")
	rid := c.Recipients[0].ID
	first := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	changed, err := s.RecordOpen(ctx, c.ID, rid, campaign.ProxyGoogleImageProxy, first)
	if err != nil || !changed {
		t.Fatalf("RecordOpen() = %v, %v, want true, nil", changed, err)
	}
	changed, err = s.RecordOpen(ctx, c.ID, rid, campaign.ProxyNone, first.Add(time.Hour))
	if err != nil || changed {
		t.Fatalf("second RecordOpen() = %v, %v, want false, nil", changed, err)
	}

	got := assertCounts(t, s, c.ID)
	if got.OpenedCount != 1 {
		t.Errorf("OpenedCount = %d, want 1", got.OpenedCount)
	}
	r := got.Recipients[0]
	if !r.OpenedAt.Equal(first) {
		t.Errorf("OpenedAt = %v, want %v", r.OpenedAt, first)
	}
	if r.ProxyType != campaign.ProxyGoogleImageProxy || r.TrackingMethod != campaign.TrackingProxy {
		t.Errorf("proxy = %q method = %q", r.ProxyType, r.TrackingMethod)
	}

	if _, err := s.RecordOpen(ctx, c.ID, "missing", campaign.ProxyNone, first); !errors.Is(err, campaign.ErrRecipientNotFound) {
		t.Errorf("RecordOpen(missing) error = %v, want ErrRecipientNotFound", err)
	}
	if _, err := s.RecordOpen(ctx, "missing", rid, campaign.ProxyNone, first); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("RecordOpen(missing campaign) error = %v, want ErrNotFound", err)
	}
}

func TestRecordClickResolution(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com", "c@example.com")

	tests := []struct {
		name      string
		ref       RecipientRef
		wantEmail string
		wantErr   error
	}{
		{"by id", ByID(c.Recipients[0].ID), "a@example.com", nil},
		{"index fallback", RecipientRef{ID: "broken", Index: 1}, "b@example.com", nil},
		{"index with matching version", RecipientRef{Index: 2, Version: 1}, "c@example.com", nil},
		{"index with stale version", RecipientRef{Index: 2, Version: 7}, "", campaign.ErrRecipientNotFound},
		{"index out of bounds", RecipientRef{Index: 3}, "", campaign.ErrRecipientNotFound},
		{"no id no index", RecipientRef{Index: -1}, "", campaign.ErrRecipientNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, err := s.RecordClick(ctx, c.ID, tt.ref, "https://example.com/x", time.Now())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("RecordClick() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RecordClick() error = %v", err)
			}
			if r.Email != tt.wantEmail {
				t.Errorf("resolved %q, want %q", r.Email, tt.wantEmail)
			}
		})
	}

	assertCounts(t, s, c.ID)
}

func TestRecordClickIndexMatchesID(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	a := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")
	b := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	byID, _, err := s.RecordClick(ctx, a.ID, ByID(a.Recipients[1].ID), "https://example.com", at)
	if err != nil {
		t.Fatalf("RecordClick(id) error = %v", err)
	}
	byIdx, _, err := s.RecordClick(ctx, b.ID, RecipientRef{Index: 1}, "https://example.com", at)
	if err != nil {
		t.Fatalf("RecordClick(idx) error = %v", err)
	}

	if byID.Email != byIdx.Email || byID.Opened != byIdx.Opened || byID.Clicked != byIdx.Clicked ||
		len(byID.ClickedLinks) != len(byIdx.ClickedLinks) {
		t.Errorf("id lookup %+v differs from index lookup %+v", byID, byIdx)
	}
}

func TestRecordClickMaintainsCounters(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com")
	ref := ByID(c.Recipients[0].ID)

	_, change, err := s.RecordClick(ctx, c.ID, ref, "https://example.com/1", time.Now())
	if err != nil {
		t.Fatalf("RecordClick() error = %v", err)
	}
	if !change.Opened || !change.Clicked {
		t.Errorf("change = %+v, want opened and clicked", change)
	}

	_, change, _ = s.RecordClick(ctx, c.ID, ref, "https://example.com/2", time.Now())
	if change.Opened || change.Clicked || !change.LinkAdded {
		t.Errorf("change = %+v, want link only", change)
	}
	_, change, _ = s.RecordClick(ctx, c.ID, ref, "https://example.com/2", time.Now())
	if change.Changed() {
		t.Errorf("duplicate click changed state: %+v", change)
	}

	got := assertCounts(t, s, c.ID)
	if got.OpenedCount != 1 || got.ClickedCount != 1 {
		t.Errorf("counts = %d/%d, want 1/1", got.OpenedCount, got.ClickedCount)
	}
	if links := got.Recipients[0].ClickedLinks; len(links) != 2 {
		t.Errorf("ClickedLinks = %v", links)
	}
}

func TestConcurrentTrackingKeepsCounts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	emails := make([]string, 50)
	for i := range emails {
		emails[i] = fmt.Sprintf("user%d@example.com", i)
	}
	c := newTestCampaign(t, s, "u1", emails...)

	var wg sync.WaitGroup
	for i, r := range c.Recipients {
		wg.Add(2)
		go func(id string) {
			defer wg.Done()
			s.RecordOpen(ctx, c.ID, id, campaign.ProxyNone, time.Now())
		}(r.ID)
		go func(id string, n int) {
			defer wg.Done()
			if n%2 == 0 {
				s.RecordClick(ctx, c.ID, ByID(id), "https://example.com", time.Now())
			}
		}(r.ID, i)
	}
	wg.Wait()

	got := assertCounts(t, s, c.ID)
	if got.OpenedCount != 50 || got.ClickedCount != 25 {
		t.Errorf("counts = %d/%d, want 50/25", got.OpenedCount, got.ClickedCount)
	}
}

func TestMarkOpenedByEmail(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "B@Example.com")

	r, changed, err := s.MarkOpenedByEmail(ctx, c.ID, "u1", "b@example.com", time.Now())
	if err != nil || !changed {
		t.Fatalf("MarkOpenedByEmail() = %v, %v", changed, err)
	}
	if r.TrackingMethod != campaign.TrackingPixel {
		t.Errorf("TrackingMethod = %q, want pixel", r.TrackingMethod)
	}
	if _, _, err := s.MarkOpenedByEmail(ctx, c.ID, "u2", "a@example.com", time.Now()); !errors.Is(err, campaign.ErrForbidden) {
		t.Errorf("other owner error = %v, want ErrForbidden", err)
	}
	if _, _, err := s.MarkOpenedByEmail(ctx, c.ID, "u1", "x@example.com", time.Now()); !errors.Is(err, campaign.ErrRecipientNotFound) {
		t.Errorf("unknown email error = %v, want ErrRecipientNotFound", err)
	}
	assertCounts(t, s, c.ID)
}

func TestReconcile(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	c := newTestCampaign(t, s, "u1", "a@example.com", "b@example.com")
	if _, err := s.RecordOpen(ctx, c.ID, c.Recipients[0].ID, campaign.ProxyNone, time.Now()); err != nil {
		t.Fatalf("RecordOpen() error = %v", err)
	}

	// Corrupt the maintained counter directly
	err := s.DB().Update(func(tx *bolt.Tx) error {
		cb := campaignBucket(tx, c.ID)
		meta, err := readMeta(cb)
		if err != nil {
			return err
		}
		meta.OpenedCount = 5
		return writeMeta(cb, meta)
	})
	if err != nil {
		t.Fatalf("corrupt counter: %v", err)
	}

	fixed, err := s.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if fixed != 1 {
		t.Errorf("Reconcile() fixed = %d, want 1", fixed)
	}
	assertCounts(t, s, c.ID)

	fixed, _ = s.Reconcile(ctx)
	if fixed != 0 {
		t.Errorf("second Reconcile() fixed = %d, want 0", fixed)
	}
}

func TestListDueAndCountByStatus(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	due := campaign.New("u1", "", "s", "b", []campaign.Recipient{campaign.NewRecipient("a@example.com", "", "")}, &past)
	later := campaign.New("u1", "", "s", "b", nil, &future)
	for _, c := range []*campaign.Campaign{due, later} {
		if err := s.Create(ctx, c); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
	newTestCampaign(t, s, "u1", "b@example.com")

	list, err := s.ListDue(ctx, time.Now())
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	if len(list) != 1 || list[0].ID != due.ID {
		t.Errorf("ListDue() = %+v, want only %s", list, due.ID)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("CountByStatus() error = %v", err)
	}
	if counts[campaign.StatusScheduled] != 2 || counts[campaign.StatusDraft] != 1 {
		t.Errorf("CountByStatus() = %v", counts)
	}
}

func TestSMTPSettings(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	got, err := s.SMTPSettings(ctx)
	if err != nil || got != nil {
		t.Fatalf("SMTPSettings() = %+v, %v, want nil, nil", got, err)
	}

	if err := s.SaveSMTPSettings(ctx, &campaign.SMTPSettings{Host: "smtp.example.com", User: "me", Pass: "secret"}); err != nil {
		t.Fatalf("SaveSMTPSettings() error = %v", err)
	}
	if err := s.SaveSMTPSettings(ctx, &campaign.SMTPSettings{Host: "smtp2.example.com", User: "me", SenderName: "Team"}); err != nil {
		t.Fatalf("SaveSMTPSettings() error = %v", err)
	}

	got, err = s.SMTPSettings(ctx)
	if err != nil {
		t.Fatalf("SMTPSettings() error = %v", err)
	}
	if got.Host != "smtp2.example.com" {
		t.Errorf("Host = %q, want latest", got.Host)
	}
	if got.Pass != "secret" {
		t.Errorf("Pass = %q, want kept password", got.Pass)
	}
	if got.Port != campaign.DefaultSMTPPort {
		t.Errorf("Port = %d, want %d", got.Port, campaign.DefaultSMTPPort)
	}
}

func TestContacts(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	contacts := []*campaign.Contact{
		{UserID: "u1", ListName: "news", Email: "b@example.com"},
		{UserID: "u1", ListName: "news", Email: "a@example.com", Status: campaign.ContactBounced},
		{UserID: "u1", ListName: "other", Email: "c@example.com"},
		{UserID: "u2", ListName: "news", Email: "d@example.com"},
	}
	for _, c := range contacts {
		if err := s.PutContact(ctx, c); err != nil {
			t.Fatalf("PutContact() error = %v", err)
		}
	}

	list, err := s.ListContacts(ctx, "u1", "news")
	if err != nil {
		t.Fatalf("ListContacts() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].Email != "a@example.com" || list[0].Status != campaign.ContactBounced {
		t.Errorf("list[0] = %+v", list[0])
	}
	if list[1].Status != campaign.ContactValid {
		t.Errorf("default status = %q, want valid", list[1].Status)
	}
}
