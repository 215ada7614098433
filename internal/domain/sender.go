package domain

import "time"

type SenderStatus string

const (
	SenderConnected    SenderStatus = "connected"
	SenderDisconnected SenderStatus = "disconnected"
	SenderBanned       SenderStatus = "banned"
	SenderPaused       SenderStatus = "paused"
)

func (s SenderStatus) Valid() bool {
	switch s {
	case SenderConnected, SenderDisconnected, SenderBanned, SenderPaused:
		return true
	}
	return false
}

const (
	DefaultQuotaPerMinute = 20
	DefaultQuotaPerHour   = 500
	DefaultQuotaPerDay    = 5000

	MaxHealthScore = 100
)

// Sender is one authenticated outbound identity.
type Sender struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	PhoneNumber string       `json:"phoneNumber"`
	Status      SenderStatus `json:"status"`

	QuotaPerMinute int `json:"quotaPerMinute"`
	QuotaPerHour   int `json:"quotaPerHour"`
	QuotaPerDay    int `json:"quotaPerDay"`

	SentThisMinute  int       `json:"sentThisMinute"`
	SentThisHour    int       `json:"sentThisHour"`
	SentThisDay     int       `json:"sentThisDay"`
	LastResetMinute time.Time `json:"lastResetMinute"`
	LastResetHour   time.Time `json:"lastResetHour"`
	LastResetDay    time.Time `json:"lastResetDay"`

	HealthScore         int        `json:"healthScore"`
	FailureCount        int        `json:"failureCount"`
	SuccessCount        int        `json:"successCount"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastFailure         *time.Time `json:"lastFailure,omitempty"`
	LastUsed            *time.Time `json:"lastUsed,omitempty"`
	LastConnected       *time.Time `json:"lastConnected,omitempty"`

	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type CreateSenderRequest struct {
	Name           string `json:"name"`
	PhoneNumber    string `json:"phoneNumber"`
	QuotaPerMinute int    `json:"quotaPerMinute,omitempty"`
	QuotaPerHour   int    `json:"quotaPerHour,omitempty"`
	QuotaPerDay    int    `json:"quotaPerDay,omitempty"`
}

func (r CreateSenderRequest) Validate() error {
	if r.Name == "" || r.PhoneNumber == "" {
		return ErrMissingFields
	}
	return nil
}

type QuotaUsage struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type SenderStats struct {
	TotalSent   int     `json:"totalSent"`
	SuccessRate float64 `json:"successRate"`
	HealthScore int     `json:"healthScore"`
	QuotaUsage  struct {
		Minute QuotaUsage `json:"minute"`
		Hour   QuotaUsage `json:"hour"`
		Day    QuotaUsage `json:"day"`
	} `json:"quotaUsage"`
}
