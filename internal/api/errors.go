package api

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/tinymail/internal/pkg/httputil"
	"github.com/ignite/tinymail/internal/queue"
	"github.com/ignite/tinymail/internal/service/campaign"
	"github.com/ignite/tinymail/internal/service/contact"
	"github.com/ignite/tinymail/internal/service/ledger"
)

// respondError maps service errors onto HTTP statuses. Anything not
// recognized is logged and answered with a generic 500 so store details
// never reach the client.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, contact.ErrNotFound),
		errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, queue.ErrNotFound):
		httputil.NotFound(w, err.Error())
	case errors.Is(err, campaign.ErrAlreadyStarted):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, contact.ErrDuplicateEmail):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, contact.ErrInvalidEmail),
		errors.Is(err, campaign.ErrInvalid):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

// validID reports whether id can name a stored row. Malformed ids get the
// same 404 as unknown ones.
func validID(w http.ResponseWriter, id, what string) bool {
	if _, err := uuid.Parse(id); err != nil {
		httputil.NotFound(w, what+" not found")
		return false
	}
	return true
}
