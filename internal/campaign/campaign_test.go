package campaign

import (
	"errors"
	"testing"
	"time"
)

func TestDeriveFirstName(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"john.doe@example.com", "John"},
		{"jane_smith99@example.com", "Jane"},
		{"42-bob@example.com", "Bob"},
		{"alice@example.com", "Alice"},
		{"123@example.com", ""},
		{"._-@example.com", ""},
		{"élodie.martin@example.com", "Élodie"},
	}

	for _, tt := range tests {
		t.Run(tt.email, func(t *testing.T) {
			if got := DeriveFirstName(tt.email); got != tt.want {
				t.Errorf("DeriveFirstName(%q) = %q, want %q", tt.email, got, tt.want)
			}
		})
	}
}

func TestNewRecipient(t *testing.T) {
	tests := []struct {
		name      string
		email     string
		first     string
		last      string
		wantFirst string
		wantLast  string
	}{
		{"derived", "mary.jones@example.com", "", "", "Mary", ""},
		{"explicit", "x@example.com", "Ann", "Lee", "Ann", "Lee"},
		{"fallback", "007@example.com", "", "", "Friend", ""},
		{"last only", "bob@example.com", "", "Stone", "Friend", "Stone"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRecipient(tt.email, tt.first, tt.last)
			if r.ID == "" {
				t.Error("ID is empty")
			}
			if r.FirstName != tt.wantFirst {
				t.Errorf("FirstName = %q, want %q", r.FirstName, tt.wantFirst)
			}
			if r.LastName != tt.wantLast {
				t.Errorf("LastName = %q, want %q", r.LastName, tt.wantLast)
			}
			if r.ProxyType != ProxyNone {
				t.Errorf("ProxyType = %q, want %q", r.ProxyType, ProxyNone)
			}
		})
	}
}

func TestMarkOpenedOnce(t *testing.T) {
	r := NewRecipient("a@example.com", "", "")
	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	if !r.MarkOpened(first, ProxyAppleMail) {
		t.Fatal("first MarkOpened returned false")
	}
	if r.TrackingMethod != TrackingProxy {
		t.Errorf("TrackingMethod = %q, want %q", r.TrackingMethod, TrackingProxy)
	}

	if r.MarkOpened(first.Add(time.Hour), ProxyNone) {
		t.Error("second MarkOpened returned true")
	}
	if !r.OpenedAt.Equal(first) {
		t.Errorf("OpenedAt = %v, want %v", r.OpenedAt, first)
	}
	if r.ProxyType != ProxyAppleMail {
		t.Errorf("ProxyType = %q, want %q", r.ProxyType, ProxyAppleMail)
	}
}

func TestMarkClickedImpliesOpen(t *testing.T) {
	r := NewRecipient("a@example.com", "", "")
	now := time.Now()

	change := r.MarkClicked(now, "https://example.com/a")
	if !change.Opened || !change.Clicked || !change.LinkAdded {
		t.Errorf("change = %+v, want all true", change)
	}
	if !r.Opened || r.OpenedAt == nil {
		t.Error("click did not mark recipient opened")
	}
	if r.TrackingMethod != TrackingPixel {
		t.Errorf("TrackingMethod = %q, want %q", r.TrackingMethod, TrackingPixel)
	}

	change = r.MarkClicked(now.Add(time.Minute), "https://example.com/a")
	if change.Changed() {
		t.Errorf("repeated click changed state: %+v", change)
	}

	change = r.MarkClicked(now.Add(time.Minute), "https://example.com/b")
	if change.Opened || change.Clicked || !change.LinkAdded {
		t.Errorf("change = %+v, want only LinkAdded", change)
	}
	if len(r.ClickedLinks) != 2 || r.ClickedLinks[0] != "https://example.com/a" {
		t.Errorf("ClickedLinks = %v", r.ClickedLinks)
	}
	if !r.ClickedAt.Equal(now) {
		t.Errorf("ClickedAt = %v, want %v", r.ClickedAt, now)
	}
}

func TestResetAndRecount(t *testing.T) {
	c := New("u1", "", "Hi", "Body", []Recipient{
		NewRecipient("a@example.com", "", ""),
		NewRecipient("b@example.com", "", ""),
		NewRecipient("c@example.com", "", ""),
	}, nil)

	now := time.Now()
	c.Recipients[0].SentAt = &now
	c.Recipients[1].SentAt = &now
	c.Recipients[0].MarkOpened(now, ProxyNone)
	c.Recipients[1].MarkClicked(now, "https://example.com")
	c.Status = StatusSent
	c.Recount()

	if c.SentCount != 2 || c.OpenedCount != 2 || c.ClickedCount != 1 {
		t.Fatalf("counts = %d/%d/%d, want 2/2/1", c.SentCount, c.OpenedCount, c.ClickedCount)
	}

	c.Reset()
	if c.Status != StatusDraft {
		t.Errorf("Status = %q, want %q", c.Status, StatusDraft)
	}
	if c.SentCount != 0 || c.OpenedCount != 0 || c.ClickedCount != 0 {
		t.Errorf("counts not zeroed: %d/%d/%d", c.SentCount, c.OpenedCount, c.ClickedCount)
	}
	for _, r := range c.Recipients {
		if r.Opened || r.Clicked || r.OpenedAt != nil || r.SentAt != nil || len(r.ClickedLinks) != 0 {
			t.Errorf("recipient %s not reset: %+v", r.Email, r)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusDraft, false},
		{StatusScheduled, false},
		{StatusSending, false},
		{StatusSent, true},
		{StatusCompleted, true},
		{StatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestErrorsUnwrap(t *testing.T) {
	if !errors.Is(NewValidationError("url", "is required"), ErrValidation) {
		t.Error("ValidationError does not unwrap to ErrValidation")
	}
	err := &StateConflictError{Op: "send", Status: StatusSending}
	if !errors.Is(err, ErrStateConflict) {
		t.Error("StateConflictError does not unwrap to ErrStateConflict")
	}
	if err.Error() != "cannot send campaign in status sending" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestSMTPSettingsValidate(t *testing.T) {
	tests := []struct {
		name      string
		settings  SMTPSettings
		wantField string
	}{
		{"valid", SMTPSettings{Host: "smtp.example.com", Port: 587, User: "mailer"}, ""},
		{"ip host", SMTPSettings{Host: "10.0.0.5", User: "mailer"}, ""},
		{"missing host", SMTPSettings{User: "mailer"}, "smtpHost"},
		{"missing user", SMTPSettings{Host: "smtp.example.com"}, "user"},
		{"bad port", SMTPSettings{Host: "smtp.example.com", Port: 70000, User: "mailer"}, "smtpPort"},
		{"bad reply-to", SMTPSettings{Host: "smtp.example.com", User: "mailer", ReplyTo: "nobody"}, "replyTo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.settings.Validate()
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
			if !errors.Is(err, ErrValidation) {
				t.Error("error should wrap ErrValidation")
			}
		})
	}
}
