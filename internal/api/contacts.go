package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/tinymail/internal/pkg/httputil"
	"github.com/ignite/tinymail/internal/service/contact"
)

// ListContacts returns a page of contacts.
//
//	GET /api/contacts?status=&search=&page=&limit=&offset=
func (h *Handlers) ListContacts(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	q := r.URL.Query()
	items, total, err := h.contacts.List(r.Context(), contact.ListFilter{
		Status: q.Get("status"),
		Search: q.Get("search"),
		Limit:  p.Limit,
		Offset: p.Offset,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(items, p, total))
}

// CreateContacts stores a batch of contacts. Invalid and duplicate
// addresses come back in rejected_emails; the rest are created.
//
//	POST /api/contacts  [{"email": "...", "meta": {...}}, ...]
func (h *Handlers) CreateContacts(w http.ResponseWriter, r *http.Request) {
	var inputs []contact.CreateInput
	if !httputil.Decode(w, r, &inputs) {
		return
	}
	res, err := h.contacts.Create(r.Context(), inputs)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, res)
}

func (h *Handlers) GetContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "contact") {
		return
	}
	c, err := h.contacts.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) UpdateContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "contact") {
		return
	}
	var u contact.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.contacts.Update(r.Context(), id, u)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) DeleteContact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "contact") {
		return
	}
	if err := h.contacts.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"ok": true})
}
