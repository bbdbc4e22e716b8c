package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/tinymail/internal/pkg/httputil"
	"github.com/ignite/tinymail/internal/service/campaign"
)

// ListCampaigns returns a page of campaigns.
//
//	GET /api/campaigns?started=&search=&page=&limit=&offset=
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	p := ParsePagination(r)
	f := campaign.ListFilter{Search: r.URL.Query().Get("search"), Limit: p.Limit, Offset: p.Offset}
	if v := r.URL.Query().Get("started"); v != "" {
		started, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "started must be a boolean")
			return
		}
		f.Started = &started
	}
	items, total, err := h.campaigns.List(r.Context(), f)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, NewPaginatedResponse(items, p, total))
}

func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var in campaign.CreateInput
	if !httputil.Decode(w, r, &in) {
		return
	}
	c, err := h.campaigns.Create(r.Context(), in)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.Created(w, c)
}

func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "campaign") {
		return
	}
	c, err := h.campaigns.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "campaign") {
		return
	}
	var u campaign.UpdateFields
	if !httputil.Decode(w, r, &u) {
		return
	}
	c, err := h.campaigns.Update(r.Context(), id, u)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, c)
}

func (h *Handlers) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "campaign") {
		return
	}
	if err := h.campaigns.Delete(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, map[string]bool{"ok": true})
}

// StartCampaign fans the campaign out to its contacts.
//
//	POST /api/campaigns/{id}/start -> 200, 404 unknown, 409 already started
func (h *Handlers) StartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "campaign") {
		return
	}
	res, err := h.campaigns.Start(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, struct {
		OK bool `json:"ok"`
		*campaign.StartResult
	}{OK: true, StartResult: res})
}

// CampaignStats reports delivery progress with open and send rates.
//
//	GET /api/campaigns/{id}/stats
func (h *Handlers) CampaignStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !validID(w, id, "campaign") {
		return
	}
	st, err := h.campaigns.Stats(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	httputil.OK(w, st)
}
