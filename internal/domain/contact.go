package domain

import "time"

// ContactStatus tracks whether a contact still accepts mail.
type ContactStatus string

const (
	ContactActive       ContactStatus = "active"
	ContactUnsubscribed ContactStatus = "unsubscribed"
)

// Contact is a recipient. Meta is free-form and doubles as the template
// render context for every message sent to the contact.
type Contact struct {
	ID        string                 `json:"id" db:"id"`
	Email     string                 `json:"email" db:"email"`
	Meta      map[string]interface{} `json:"meta" db:"meta"`
	Status    ContactStatus          `json:"status" db:"status"`
	CreatedAt time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt time.Time              `json:"updated_at" db:"updated_at"`
}

// IsUnsubscribed reports whether the contact opted out.
func (c *Contact) IsUnsubscribed() bool {
	return c.Status == ContactUnsubscribed
}

// RenderContext returns the template variables for this contact. The
// contact's email is always available as "email".
func (c *Contact) RenderContext() map[string]interface{} {
	ctx := make(map[string]interface{}, len(c.Meta)+1)
	for k, v := range c.Meta {
		ctx[k] = v
	}
	if _, ok := ctx["email"]; !ok {
		ctx["email"] = c.Email
	}
	return ctx
}
