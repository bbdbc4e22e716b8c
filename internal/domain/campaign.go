package domain

import (
	"time"
)

// Campaign is one HTML message addressed to a set of contacts. Started
// only ever moves from false to true; the fan-out runs once.
type Campaign struct {
	ID           string     `json:"id" db:"id"`
	Name         string     `json:"name" db:"name"`
	Subject      string     `json:"subject" db:"subject"`
	SenderName   string     `json:"sender_name" db:"sender_name"`
	HTMLTemplate string     `json:"html_template" db:"html_template"`
	Started      bool       `json:"started" db:"started"`
	StartedAt    *time.Time `json:"started_at" db:"started_at"`
	ContactCount int        `json:"contact_count" db:"contact_count"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// CampaignStats is the reporting view of a campaign's delivery records.
type CampaignStats struct {
	CampaignID string       `json:"campaign_id"`
	Progress   MailProgress `json:"progress"`
	OpenRate   float64      `json:"open_rate"`
	SendRate   float64      `json:"send_rate"`
}

// MailProgress counts delivery records by status.
type MailProgress struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Deferred int `json:"deferred"`
	Sent     int `json:"sent"`
	Failed   int `json:"failed"`
	Opened   int `json:"opened"`
}

// Rates returns opened/total and sent/total. Both are zero when the
// campaign has no delivery records yet.
func (p MailProgress) Rates() (openRate, sendRate float64) {
	if p.Total == 0 {
		return 0, 0
	}
	return float64(p.Opened) / float64(p.Total), float64(p.Sent) / float64(p.Total)
}
