// Package contact manages recipients: validated bulk creation, edits, and
// the one-way opt-out used by unsubscribe links.
package contact
