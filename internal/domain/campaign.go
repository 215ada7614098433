package domain

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignRunning   CampaignStatus = "running"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

const (
	DefaultMinDelayMs = 2000
	DefaultMaxDelayMs = 5000
)

type Campaign struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Status          CampaignStatus `json:"status"`
	Template        string         `json:"template"`
	TotalRecipients int            `json:"totalRecipients"`
	ProcessedCount  int            `json:"processedCount"`
	SuccessCount    int            `json:"successCount"`
	FailedCount     int            `json:"failedCount"`
	MinDelayMs      int            `json:"minDelay"`
	MaxDelayMs      int            `json:"maxDelay"`
	EnableTyping    bool           `json:"enableTyping"`
	SenderIDs       []string       `json:"senderIds,omitempty"`
	ScheduledStart  *time.Time     `json:"scheduledStart,omitempty"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

type ContactStatus string

const (
	ContactPending   ContactStatus = "pending"
	ContactQueued    ContactStatus = "queued"
	ContactSent      ContactStatus = "sent"
	ContactDelivered ContactStatus = "delivered"
	ContactRead      ContactStatus = "read"
	ContactFailed    ContactStatus = "failed"
)

// Terminal reports whether the dispatch worker is done with a contact in this status.
func (s ContactStatus) Terminal() bool {
	switch s {
	case ContactSent, ContactDelivered, ContactRead, ContactFailed:
		return true
	}
	return false
}

type CampaignContact struct {
	ID               string            `json:"id"`
	CampaignID       string            `json:"campaignId"`
	PhoneNumber      string            `json:"phoneNumber"`
	Variables        map[string]string `json:"variables"`
	Status           ContactStatus     `json:"status"`
	AssignedSenderID string            `json:"assignedSenderId,omitempty"`
	AttemptCount     int               `json:"attemptCount"`
	LastAttempt      *time.Time        `json:"lastAttempt,omitempty"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	QueuedAt         *time.Time        `json:"queuedAt,omitempty"`
	SentAt           *time.Time        `json:"sentAt,omitempty"`
	DeliveredAt      *time.Time        `json:"deliveredAt,omitempty"`
	ReadAt           *time.Time        `json:"readAt,omitempty"`
	FailedAt         *time.Time        `json:"failedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}

type ContactInput struct {
	PhoneNumber string            `json:"phoneNumber"`
	Variables   map[string]string `json:"variables,omitempty"`
}

type CampaignOptions struct {
	MinDelayMs     int        `json:"minDelay,omitempty"`
	MaxDelayMs     int        `json:"maxDelay,omitempty"`
	SenderIDs      []string   `json:"senderIds,omitempty"`
	EnableTyping   *bool      `json:"enableTyping,omitempty"`
	ScheduledStart *time.Time `json:"scheduledStart,omitempty"`
}

type CreateCampaignRequest struct {
	Name     string          `json:"name"`
	Template string          `json:"template"`
	Contacts []ContactInput  `json:"contacts"`
	Options  CampaignOptions `json:"options"`
}

func (r CreateCampaignRequest) Validate() error {
	if r.Name == "" || r.Template == "" || r.Contacts == nil {
		return ErrMissingFields
	}
	if r.Options.MinDelayMs < 0 || r.Options.MaxDelayMs < 0 {
		return ErrInvalidDelay
	}
	if r.Options.MinDelayMs > 0 && r.Options.MaxDelayMs > 0 && r.Options.MinDelayMs > r.Options.MaxDelayMs {
		return ErrInvalidDelay
	}
	return nil
}

type CampaignStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Queued      int     `json:"queued"`
	Sent        int     `json:"sent"`
	Delivered   int     `json:"delivered"`
	Read        int     `json:"read"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"successRate"`
}

// Processed counts contacts that reached a terminal status.
func (s CampaignStats) Processed() int { return s.Sent + s.Delivered + s.Read + s.Failed }

// Succeeded counts contacts the message reached.
func (s CampaignStats) Succeeded() int { return s.Sent + s.Delivered + s.Read }

// Outstanding counts contacts still waiting for a dispatch.
func (s CampaignStats) Outstanding() int { return s.Pending + s.Queued }

// ComputeStats tallies contact statuses into campaign stats.
func ComputeStats(contacts []CampaignContact) CampaignStats {
	st := CampaignStats{Total: len(contacts)}
	for _, c := range contacts {
		switch c.Status {
		case ContactPending:
			st.Pending++
		case ContactQueued:
			st.Queued++
		case ContactSent:
			st.Sent++
		case ContactDelivered:
			st.Delivered++
		case ContactRead:
			st.Read++
		case ContactFailed:
			st.Failed++
		}
	}
	if done := st.Processed(); done > 0 {
		st.SuccessRate = float64(st.Succeeded()) / float64(done) * 100
	}
	return st
}

// MessageLog is an append-only audit record of one send attempt.
type MessageLog struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaignId,omitempty"`
	ContactID    string     `json:"contactId,omitempty"`
	PhoneNumber  string     `json:"phoneNumber"`
	SenderID     string     `json:"senderId"`
	Message      string     `json:"message"`
	Status       string     `json:"status"`
	ProviderID   string     `json:"providerMessageId,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	SentAt       *time.Time `json:"sentAt,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
}
