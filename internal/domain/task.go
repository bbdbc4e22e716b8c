package domain

import "time"

// DispatchTask is the queued unit of work: send one message to one
// contact. It is serialized into the task queue as JSON, so every field
// must survive a round trip.
type DispatchTask struct {
	ID string `json:"id"`

	// Exactly one of ContactID and ContactEmail is required; ContactID wins.
	ContactID    string `json:"contact_id,omitempty"`
	ContactEmail string `json:"contact_email,omitempty"`

	CampaignID   *string `json:"campaign_id,omitempty"`
	Subject      string  `json:"subject"`
	SenderName   string  `json:"sender_name"`
	HTMLTemplate string  `json:"html_template"`

	// RenderContext is merged over the contact's meta.
	RenderContext map[string]interface{} `json:"render_context,omitempty"`

	WithUnsubscribe bool `json:"with_unsubscribe"`
	WithPixel       bool `json:"with_pixel"`

	// MailID is filled in once the delivery record exists so a deferred
	// task does not create a second record when it runs again.
	MailID string `json:"mail_id,omitempty"`

	// Deferrals counts quota deferrals.
	Deferrals  int       `json:"deferrals"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
