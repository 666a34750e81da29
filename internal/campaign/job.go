package campaign

import "time"

// JobStatus represents dispatch job status
type JobStatus string

const (
	JobRunning     JobStatus = "running"
	JobCompleted   JobStatus = "completed"
	JobInterrupted JobStatus = "interrupted"
)

// DispatchJob is the persisted cursor of a send loop. A job left in running
// state after a restart marks an interrupted send.
type DispatchJob struct {
	CampaignID string     `json:"campaign_id"`
	UserID     string     `json:"user_id"`
	NextIndex  int        `json:"next_index"`
	Total      int        `json:"total"`
	Sent       int        `json:"sent"`
	Failed     int        `json:"failed"`
	Status     JobStatus  `json:"status"`
	LastError  string     `json:"last_error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Remaining returns the number of recipients not yet attempted
func (j *DispatchJob) Remaining() int {
	if j.NextIndex >= j.Total {
		return 0
	}
	return j.Total - j.NextIndex
}

// SMTPSettings holds the outbound mail provider credentials.
// The most recently saved settings are the active ones.
type SMTPSettings struct {
	Host       string    `json:"smtpHost" validate:"required,hostname|ip"`
	Port       int       `json:"smtpPort" validate:"omitempty,min=1,max=65535"`
	Secure     bool      `json:"secure"`
	User       string    `json:"user" validate:"required"`
	Pass       string    `json:"pass,omitempty"`
	SenderName string    `json:"senderName,omitempty" validate:"max=128"`
	ReplyTo    string    `json:"replyTo,omitempty" validate:"omitempty,email"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// DefaultSMTPPort is used when settings carry no port
const DefaultSMTPPort = 587

// Configured reports whether the settings can be used to send
func (s *SMTPSettings) Configured() bool {
	return s != nil && s.Host != "" && s.User != ""
}

// ContactStatus represents deliverability of a contact
type ContactStatus string

const (
	ContactValid        ContactStatus = "valid"
	ContactBounced      ContactStatus = "bounced"
	ContactUnsubscribed ContactStatus = "unsubscribed"
)

// Contact is an entry of a user's contact list. Campaigns take a snapshot
// of valid contacts at creation time.
type Contact struct {
	ID        string        `json:"id"`
	UserID    string        `json:"userId"`
	ListName  string        `json:"listName"`
	Email     string        `json:"email"`
	FirstName string        `json:"firstName,omitempty"`
	LastName  string        `json:"lastName,omitempty"`
	Status    ContactStatus `json:"status"`
}
