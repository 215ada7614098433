// Package store holds the persistence contract shared by the pg and memory
// implementations.
package store

import (
	"chatdispatch/internal/domain"
)

// SenderMutation edits a sender in place. It runs while the record is locked
// and must not call back into the store.
type SenderMutation func(s *domain.Sender) error

// CampaignMutation edits a campaign in place under the record lock.
type CampaignMutation func(c *domain.Campaign) error

// ContactMutation edits a campaign contact in place under the record lock.
type ContactMutation func(c *domain.CampaignContact) error

// ErrSkip returned from a mutation leaves the record untouched without failing the call.
var ErrSkip = skipErr{}

type skipErr struct{}

func (skipErr) Error() string { return "mutation skipped" }
