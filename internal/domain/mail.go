package domain

import "time"

// MailStatus is the lifecycle of one delivery attempt.
type MailStatus string

const (
	MailPending  MailStatus = "pending"
	MailDeferred MailStatus = "deferred"
	MailSent     MailStatus = "sent"
	MailFailed   MailStatus = "failed"
)

// Mail is the delivery record for one dispatch attempt. TimeSend is set
// once, when the transport accepted the message. IsOpen never reverts.
type Mail struct {
	ID         string     `json:"id" db:"id"`
	AttemptKey string     `json:"attempt_key" db:"attempt_key"`
	ContactID  string     `json:"contact_id" db:"contact_id"`
	CampaignID *string    `json:"campaign_id" db:"campaign_id"`
	Status     MailStatus `json:"status" db:"status"`
	TimeSend   *time.Time `json:"time_send" db:"time_send"`
	IsOpen     bool       `json:"is_open" db:"is_open"`
	OpenedAt   *time.Time `json:"opened_at" db:"opened_at"`
	Error      string     `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" db:"updated_at"`
}

// IsSent reports whether the transport already accepted this message.
func (m *Mail) IsSent() bool {
	return m.TimeSend != nil
}

// RollingCounts are the send totals over the ledger's reporting windows.
type RollingCounts struct {
	Day   int `json:"day_count"`
	Month int `json:"month_count"`
}
