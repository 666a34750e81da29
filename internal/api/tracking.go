package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/tracking"
)

// TestOpenRequest is the request body for POST /campaigns/test-open/{campaignId}
type TestOpenRequest struct {
	Email string `json:"email" validate:"required"`
}

// TestOpenResponse is the response for POST /campaigns/test-open/{campaignId}
type TestOpenResponse struct {
	Msg        string `json:"msg"`
	Email      string `json:"email"`
	Opened     bool   `json:"opened"`
	TotalOpens int    `json:"totalOpens"`
}

// handleTrackOpen handles GET /campaigns/track/open/{campaignId}/{recipientId}.
// The pixel is served whatever the outcome so mail clients never show a
// broken image.
func (s *Server) handleTrackOpen(w http.ResponseWriter, r *http.Request) {
	campaignID := chi.URLParam(r, "campaignId")
	recipientID := chi.URLParam(r, "recipientId")

	if _, err := s.tracker.RecordOpen(r.Context(), campaignID, recipientID, r.UserAgent()); err != nil {
		s.logger.Debug("open not recorded",
			"campaign_id", campaignID,
			"recipient_id", recipientID,
			"error", err,
		)
	}

	pixel := tracking.Pixel()
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(pixel)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixel)
}

// handleTrackClick handles GET /campaigns/track/click/{campaignId}/{recipientId}
func (s *Server) handleTrackClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	click := tracking.Click{
		CampaignID:  chi.URLParam(r, "campaignId"),
		RecipientID: chi.URLParam(r, "recipientId"),
		Index:       -1,
		URL:         q.Get("url"),
	}
	if idx, err := strconv.Atoi(q.Get("idx")); err == nil && idx >= 0 {
		click.Index = idx
	}
	if v, err := strconv.Atoi(q.Get("v")); err == nil && v > 0 {
		click.Version = v
	}

	target, err := s.tracker.RecordClick(r.Context(), click)
	if err != nil {
		var status int
		var msg string
		switch {
		case errors.Is(err, tracking.ErrURLRequired):
			status, msg = http.StatusBadRequest, "Missing target URL"
		case errors.Is(err, campaign.ErrValidation):
			status, msg = http.StatusBadRequest, "Invalid target URL"
		case errors.Is(err, campaign.ErrRecipientNotFound):
			status, msg = http.StatusNotFound, "Recipient not found"
		case errors.Is(err, campaign.ErrNotFound):
			status, msg = http.StatusNotFound, "Campaign not found"
		default:
			status, msg = http.StatusInternalServerError, "Server error"
			s.logger.Error("click tracking failed", "campaign_id", click.CampaignID, "error", err)
		}
		http.Error(w, msg, status)
		return
	}

	// Location carries the decoded link as written so relative links are not
	// resolved against the tracking path
	w.Header().Set("Location", target)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusFound)
}

// handleTestOpen handles POST /campaigns/test-open/{campaignId}
func (s *Server) handleTestOpen(w http.ResponseWriter, r *http.Request) {
	var req TestOpenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := campaign.Validate(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	campaignID := chi.URLParam(r, "campaignId")
	recipient, err := s.tracker.RecordTestOpen(r.Context(), campaignID, UserIDFromContext(r.Context()), req.Email)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := TestOpenResponse{
		Msg:    "Open tracked successfully",
		Email:  recipient.Email,
		Opened: recipient.Opened,
	}
	if c, err := s.store.Meta(r.Context(), campaignID); err == nil {
		resp.TotalOpens = c.OpenedCount
	}
	s.sendJSON(w, http.StatusOK, resp)
}
