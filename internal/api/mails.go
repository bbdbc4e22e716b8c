package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/pkg/httputil"
	"github.com/ignite/tinymail/internal/service/ledger"
)

// welcomeTemplate is the body used when a one-off mail carries none.
const welcomeTemplate = `<html>
    <body>
        <div style="font-size: 14px;">
            <p>
                Hello,<br><br>
                Welcome to Tinymail.<br><br>
                The Tinymail team.
            </p>
        </div>
    </body>
</html>`

// ScheduleMailRequest is a one-off send to a single contact.
type ScheduleMailRequest struct {
	ContactID    string                 `json:"contact_id" validate:"required_without=Email"`
	Email        string                 `json:"email" validate:"required_without=ContactID"`
	Subject      string                 `json:"subject" validate:"required,max=998"`
	SenderName   string                 `json:"sender_name" validate:"max=255"`
	HTMLTemplate string                 `json:"html_template"`
	RenderVars   map[string]interface{} `json:"render_context"`
	TimeToSend   *time.Time             `json:"time_to_send"`

	// Tracking defaults to on; set false to send a bare message.
	WithUnsubscribe *bool `json:"with_unsubscribe"`
	WithPixel       *bool `json:"with_pixel"`
}

// ScheduleMail queues a dispatch task, immediately or at time_to_send.
// The delivery record is created when the task runs.
//
//	POST /api/mails -> 202 {"task_id": "...", "run_at": "..."}
func (h *Handlers) ScheduleMail(w http.ResponseWriter, r *http.Request) {
	var req ScheduleMailRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	// unknown recipients are a client error, not a failed task
	if req.ContactID != "" {
		if _, err := uuid.Parse(req.ContactID); err != nil {
			httputil.BadRequest(w, "contact_id must be a uuid")
			return
		}
		if _, err := h.contacts.Get(r.Context(), req.ContactID); err != nil {
			respondError(w, err)
			return
		}
	} else if _, err := h.contacts.GetByEmail(r.Context(), req.Email); err != nil {
		respondError(w, err)
		return
	}

	now := h.now()
	task := &domain.DispatchTask{
		ID:              uuid.New().String(),
		ContactID:       req.ContactID,
		ContactEmail:    req.Email,
		Subject:         req.Subject,
		SenderName:      req.SenderName,
		HTMLTemplate:    req.HTMLTemplate,
		RenderContext:   req.RenderVars,
		WithUnsubscribe: req.WithUnsubscribe == nil || *req.WithUnsubscribe,
		WithPixel:       req.WithPixel == nil || *req.WithPixel,
		EnqueuedAt:      now,
	}
	if task.HTMLTemplate == "" {
		task.HTMLTemplate = welcomeTemplate
	}
	runAt := now
	if req.TimeToSend != nil && req.TimeToSend.After(now) {
		runAt = *req.TimeToSend
	}

	if err := h.tasks.Enqueue(r.Context(), task, runAt); err != nil {
		respondError(w, err)
		return
	}
	httputil.Accepted(w, map[string]interface{}{"ok": true, "task_id": task.ID, "run_at": runAt.UTC()})
}

// ListMails returns delivery records.
//
//	GET /api/mails?contact_id=&campaign_id=&status=&page=&limit=&offset=
func (h *Handlers) ListMails(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	q := r.URL.Query()
	f := ledger.ListFilter{
		ContactID:  q.Get("contact_id"),
		CampaignID: q.Get("campaign_id"),
		Status:     q.Get("status"),
		Limit:      p.Limit,
		Offset:     p.Offset,
	}
	for _, id := range []string{f.ContactID, f.CampaignID} {
		if _, err := uuid.Parse(id); id != "" && err != nil {
			httputil.BadRequest(w, "invalid id filter")
			return
		}
	}
	items, total, err := h.mails.List(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(items, p, total))
}

func (h *Handlers) GetMail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "mail") {
		return
	}
	m, err := h.mails.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, m)
}

func (h *Handlers) DeleteMail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "mail") {
		return
	}
	if err := h.mails.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"ok": true})
}
