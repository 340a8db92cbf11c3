package search

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/leadwatch/leadwatch/pkg/config"
	"github.com/leadwatch/leadwatch/pkg/event"
	"github.com/leadwatch/leadwatch/pkg/fetch"
	"github.com/leadwatch/leadwatch/pkg/httpx"
)

// Handler exposes the search engine over HTTP.
type Handler struct {
	searcher *Searcher
}

// NewHandler creates a search handler.
func NewHandler(searcher *Searcher) *Handler {
	return &Handler{searcher: searcher}
}

// searchRequest is the wire form of a search filter.
type searchRequest struct {
	UID       *int64   `json:"uid,omitempty"`
	EpochID   *int64   `json:"epoch_id,omitempty"`
	LeadIdent string   `json:"lead_ident,omitempty"`
	ActorKeys []string `json:"actor_keys,omitempty"`
	Before    int64    `json:"before,omitempty"` // unix nanoseconds cursor
	Limit     int      `json:"limit,omitempty"`
	Raw       bool     `json:"raw,omitempty"`
}

// HandleSearch handles POST /v1/leads/search.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	f := Filter{
		UID:       req.UID,
		EpochID:   req.EpochID,
		LeadIdent: req.LeadIdent,
		ActorKeys: req.ActorKeys,
		Limit:     req.Limit,
		Raw:       req.Raw,
	}
	if req.Before > 0 {
		f.Before = time.Unix(0, req.Before)
	}

	resp, err := h.searcher.Search(r.Context(), f)
	if err != nil {
		respondSearchError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// HandleLatest handles GET /v1/leads/latest?limit=N.
func (h *Handler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	limit := config.LatestDefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			httpx.RespondErrorString(w, http.StatusBadRequest, httpx.CodeBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	resp, err := h.searcher.Latest(r.Context(), limit)
	if err != nil {
		respondSearchError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, resp)
}

// journeyResponse wraps the full event trail of one content key.
type journeyResponse struct {
	ContentKey string        `json:"content_key"`
	Events     []event.Event `json:"events"`
	Count      int           `json:"count"`
}

// HandleJourney handles GET /v1/leads/{key}/journey: every event for the
// content key in ascending time order, for audit/detail display.
func (h *Handler) HandleJourney(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if key == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, httpx.CodeBadRequest, "content key is required")
		return
	}

	events, err := h.searcher.Journey(r.Context(), key)
	if err != nil {
		respondSearchError(w, err)
		return
	}

	httpx.RespondJSON(w, http.StatusOK, journeyResponse{
		ContentKey: key,
		Events:     events,
		Count:      len(events),
	})
}

// HandleFetchCounters handles GET /v1/stats/fetch: batch-progress counters.
func (h *Handler) HandleFetchCounters(w http.ResponseWriter, r *http.Request) {
	httpx.RespondJSON(w, http.StatusOK, h.searcher.fetcher.Counters())
}

// respondSearchError maps engine errors onto the HTTP taxonomy: filter
// problems are the caller's (400-class), store failures are ours (500-class).
func respondSearchError(w http.ResponseWriter, err error) {
	var storeErr *fetch.StoreError
	switch {
	case errors.Is(err, ErrInvalidFilter):
		httpx.RespondError(w, http.StatusBadRequest, httpx.CodeInvalidFilter, err)
	case errors.As(err, &storeErr):
		httpx.RespondError(w, http.StatusBadGateway, httpx.CodeStoreError, err)
	default:
		httpx.RespondError(w, http.StatusInternalServerError, httpx.CodeInternal, err)
	}
}
