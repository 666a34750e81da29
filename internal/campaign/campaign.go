// Package campaign defines the campaign and recipient model shared by the
// store, the dispatcher and the engagement tracker.
package campaign

import (
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status represents campaign lifecycle status
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusScheduled, StatusSending, StatusSent, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a send lifecycle has ended in status s.
// Content edits in a terminal status re-arm the campaign for a fresh send.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusCompleted || s == StatusFailed
}

// TrackingMethod records how the first open of a recipient was observed
type TrackingMethod string

const (
	TrackingUnset TrackingMethod = ""
	TrackingPixel TrackingMethod = "pixel"
	TrackingProxy TrackingMethod = "proxy"
)

// ProxyType identifies the privacy proxy that fetched an open beacon
type ProxyType string

const (
	ProxyNone             ProxyType = "none"
	ProxyAppleMail        ProxyType = "appleMail"
	ProxyGoogleImageProxy ProxyType = "googleImageProxy"
)

// IsProxy reports whether p names an actual proxy
func (p ProxyType) IsProxy() bool {
	return p != "" && p != ProxyNone
}

// DefaultFirstName is used when no first name can be derived from the address
const DefaultFirstName = "Friend"

// Recipient is a single addressee of a campaign
type Recipient struct {
	ID             string         `json:"id"`
	Email          string         `json:"email"`
	FirstName      string         `json:"firstName"`
	LastName       string         `json:"lastName"`
	Opened         bool           `json:"opened"`
	OpenedAt       *time.Time     `json:"openedAt,omitempty"`
	Clicked        bool           `json:"clicked"`
	ClickedAt      *time.Time     `json:"clickedAt,omitempty"`
	ClickedLinks   []string       `json:"clickedLinks"`
	TrackingMethod TrackingMethod `json:"trackingMethod,omitempty"`
	ProxyType      ProxyType      `json:"proxyType"`
	SentAt         *time.Time     `json:"sentAt,omitempty"`
}

// Campaign is a named bulk mailing owned by a user
type Campaign struct {
	ID                string      `json:"id"`
	UserID            string      `json:"userId"`
	Name              string      `json:"name,omitempty"`
	Subject           string      `json:"subject"`
	Body              string      `json:"body"`
	Status            Status      `json:"status"`
	ScheduledAt       *time.Time  `json:"scheduledAt,omitempty"`
	Recipients        []Recipient `json:"recipients"`
	RecipientsVersion int         `json:"recipientsVersion"`
	SentCount         int         `json:"sentCount"`
	OpenedCount       int         `json:"openedCount"`
	ClickedCount      int         `json:"clickedCount"`
	CreatedAt         time.Time   `json:"createdAt"`
	UpdatedAt         time.Time   `json:"updatedAt"`
}

// New creates a draft campaign, or a scheduled one when scheduledAt is set
func New(userID, name, subject, body string, recipients []Recipient, scheduledAt *time.Time) *Campaign {
	now := time.Now().UTC()
	status := StatusDraft
	if scheduledAt != nil {
		status = StatusScheduled
	}
	if recipients == nil {
		recipients = []Recipient{}
	}
	return &Campaign{
		ID:                uuid.New().String(),
		UserID:            userID,
		Name:              name,
		Subject:           subject,
		Body:              body,
		Status:            status,
		ScheduledAt:       scheduledAt,
		Recipients:        recipients,
		RecipientsVersion: 1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// NewRecipient creates a recipient with a fresh id. Names are derived from
// the address when both are empty.
func NewRecipient(email, firstName, lastName string) Recipient {
	email = strings.TrimSpace(email)
	firstName = strings.TrimSpace(firstName)
	lastName = strings.TrimSpace(lastName)
	if firstName == "" && lastName == "" {
		firstName = DeriveFirstName(email)
	}
	if firstName == "" {
		firstName = DefaultFirstName
	}
	return Recipient{
		ID:           uuid.New().String(),
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		ClickedLinks: []string{},
		ProxyType:    ProxyNone,
	}
}

var localPartSeparators = regexp.MustCompile(`[0-9._-]+`)

// DeriveFirstName guesses a first name from the local part of an address:
// digits, dots, underscores and dashes split it into words and the first
// word is capitalized. Returns empty string if nothing is left.
func DeriveFirstName(email string) string {
	local := email
	if at := strings.Index(email, "@"); at >= 0 {
		local = email[:at]
	}
	words := strings.Fields(localPartSeparators.ReplaceAllString(local, " "))
	if len(words) == 0 {
		return ""
	}
	first := []rune(words[0])
	return strings.ToUpper(string(first[:1])) + string(first[1:])
}

// MarkOpened records the first open. Returns false if already opened.
func (r *Recipient) MarkOpened(at time.Time, proxy ProxyType) bool {
	if r.Opened {
		return false
	}
	if proxy == "" {
		proxy = ProxyNone
	}
	r.Opened = true
	r.OpenedAt = &at
	r.ProxyType = proxy
	if proxy.IsProxy() {
		r.TrackingMethod = TrackingProxy
	} else {
		r.TrackingMethod = TrackingPixel
	}
	return true
}

// ClickChange describes which fields a click mutated
type ClickChange struct {
	Opened    bool
	Clicked   bool
	LinkAdded bool
}

// Changed reports whether any field was mutated
func (c ClickChange) Changed() bool {
	return c.Opened || c.Clicked || c.LinkAdded
}

// MarkClicked records a click on url. A click implies an open, so an
// unopened recipient is marked opened first.
func (r *Recipient) MarkClicked(at time.Time, url string) ClickChange {
	var change ClickChange
	change.Opened = r.MarkOpened(at, r.ProxyType)
	if !r.Clicked {
		r.Clicked = true
		r.ClickedAt = &at
		change.Clicked = true
	}
	if url != "" && !r.HasClickedLink(url) {
		r.ClickedLinks = append(r.ClickedLinks, url)
		change.LinkAdded = true
	}
	return change
}

// HasClickedLink reports whether url is already in the clicked set
func (r *Recipient) HasClickedLink(url string) bool {
	for _, l := range r.ClickedLinks {
		if l == url {
			return true
		}
	}
	return false
}

// ResetEngagement clears delivery and engagement state
func (r *Recipient) ResetEngagement() {
	r.Opened = false
	r.OpenedAt = nil
	r.Clicked = false
	r.ClickedAt = nil
	r.ClickedLinks = []string{}
	r.TrackingMethod = TrackingUnset
	r.ProxyType = ProxyNone
	r.SentAt = nil
}

// Recount recomputes the derived counters from the recipients
func (c *Campaign) Recount() {
	c.SentCount, c.OpenedCount, c.ClickedCount = 0, 0, 0
	for i := range c.Recipients {
		r := &c.Recipients[i]
		if r.SentAt != nil {
			c.SentCount++
		}
		if r.Opened {
			c.OpenedCount++
		}
		if r.Clicked {
			c.ClickedCount++
		}
	}
}

// Reset re-arms the campaign for a fresh send
func (c *Campaign) Reset() {
	c.Status = StatusDraft
	for i := range c.Recipients {
		c.Recipients[i].ResetEngagement()
	}
	c.SentCount, c.OpenedCount, c.ClickedCount = 0, 0, 0
}

// Owned reports whether userID owns the campaign
func (c *Campaign) Owned(userID string) bool {
	return c.UserID == userID
}

// FindRecipient returns the position of the recipient with the given id, or -1
func (c *Campaign) FindRecipient(id string) int {
	for i := range c.Recipients {
		if c.Recipients[i].ID == id {
			return i
		}
	}
	return -1
}
