package domain

import "time"

// MaxBroadcastGroupSize is the protocol limit on broadcast recipients per group.
const MaxBroadcastGroupSize = 256

type BroadcastList struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	SenderID     string           `json:"senderId"`
	TotalMembers int              `json:"totalMembers"`
	Groups       []BroadcastGroup `json:"groups"`
	CreatedAt    time.Time        `json:"createdAt"`
}

type BroadcastGroup struct {
	ID              string    `json:"id"`
	BroadcastListID string    `json:"broadcastListId"`
	BroadcastJID    string    `json:"broadcastJid"`
	Position        int       `json:"position"`
	Members         []string  `json:"members"`
	MemberCount     int       `json:"memberCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

type CreateBroadcastRequest struct {
	SenderID string   `json:"senderId"`
	Name     string   `json:"name"`
	Numbers  []string `json:"numbers"`
}

func (r CreateBroadcastRequest) Validate() error {
	if r.SenderID == "" || r.Name == "" || len(r.Numbers) == 0 {
		return ErrMissingFields
	}
	return nil
}

type BroadcastCreateResponse struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	GroupCount   int              `json:"groupCount"`
	TotalMembers int              `json:"totalMembers"`
	Groups       []BroadcastGroup `json:"groups"`
}

type BroadcastSendResponse struct {
	GroupsSent      int           `json:"groupsSent"`
	TotalRecipients int           `json:"totalRecipients"`
	Sent            int           `json:"sent"`
	Failed          int           `json:"failed"`
	Errors          []string      `json:"errors"`
	Duration        time.Duration `json:"durationNs"`
}

type BulkSendRequest struct {
	SenderID string   `json:"senderId"`
	Numbers  []string `json:"numbers"`
	Message  string   `json:"message"`
}

func (r BulkSendRequest) Validate() error {
	if r.SenderID == "" || len(r.Numbers) == 0 {
		return ErrMissingFields
	}
	return nil
}

type SendItemStatus string

const (
	ItemSuccess SendItemStatus = "success"
	ItemFailed  SendItemStatus = "failed"
)

type SendItemResult struct {
	Number string         `json:"number"`
	Status SendItemStatus `json:"status"`
	Error  string         `json:"error,omitempty"`
}

type BulkSendResponse struct {
	Sent     int              `json:"sent"`
	Failed   int              `json:"failed"`
	Results  []SendItemResult `json:"results"`
	Duration time.Duration    `json:"durationNs"`
}

type BlocklistReason string

const (
	BlockOptOut BlocklistReason = "opt_out"
	BlockSpam   BlocklistReason = "spam"
	BlockManual BlocklistReason = "manual"
)

func (r BlocklistReason) Valid() bool {
	switch r {
	case BlockOptOut, BlockSpam, BlockManual:
		return true
	}
	return false
}

type BlocklistEntry struct {
	ID          string          `json:"id"`
	PhoneNumber string          `json:"phoneNumber"`
	Reason      BlocklistReason `json:"reason"`
	Notes       string          `json:"notes,omitempty"`
	AddedAt     time.Time       `json:"addedAt"`
}
