package api

import (
	"bytes"
	"errors"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/foxzi/beacon/internal/analytics"
	"github.com/foxzi/beacon/internal/campaign"
	"github.com/foxzi/beacon/internal/smtp"
	"github.com/foxzi/beacon/internal/storage"
)

// maxBodyBytes bounds request bodies; campaign bodies and recipient lists
// can be large
const maxBodyBytes = 10 << 20

// RecipientInput is a recipient given either as a bare address or as an
// object with names
type RecipientInput struct {
	Email     string `json:"email" validate:"required,email"`
	FirstName string `json:"firstName" validate:"max=128"`
	LastName  string `json:"lastName" validate:"max=128"`
}

// UnmarshalJSON accepts "addr@example.com" as well as {"email": ...}
func (in *RecipientInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var email string
		if err := json.Unmarshal(data, &email); err != nil {
			return err
		}
		*in = RecipientInput{Email: email}
		return nil
	}
	type plain RecipientInput
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*in = RecipientInput(p)
	return nil
}

// CreateCampaignRequest is the request body for POST /campaigns
type CreateCampaignRequest struct {
	Name        string           `json:"name" validate:"max=256"`
	Subject     string           `json:"subject" validate:"required,max=998"`
	Body        string           `json:"body" validate:"required"`
	Recipients  []RecipientInput `json:"recipients" validate:"dive"`
	ListName    string           `json:"listName" validate:"max=256"`
	ScheduledAt *time.Time       `json:"scheduledAt"`
}

// OptionalTime distinguishes an absent field from an explicit null
type OptionalTime struct {
	Set   bool
	Value *time.Time
}

// UnmarshalJSON is only called when the field is present
func (o *OptionalTime) UnmarshalJSON(data []byte) error {
	o.Set = true
	if string(bytes.TrimSpace(data)) == "null" {
		o.Value = nil
		return nil
	}
	var t time.Time
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	o.Value = &t
	return nil
}

// UpdateCampaignRequest is the request body for PUT /campaigns/{id}.
// Absent fields are left unchanged; "scheduledAt": null clears the schedule.
type UpdateCampaignRequest struct {
	Name        *string          `json:"name" validate:"omitnil,max=256"`
	Subject     *string          `json:"subject" validate:"omitnil,min=1,max=998"`
	Body        *string          `json:"body" validate:"omitnil,min=1"`
	Recipients  []RecipientInput `json:"recipients" validate:"omitempty,dive"`
	ScheduledAt OptionalTime     `json:"scheduledAt"`
}

// SendResponse is the response for POST /campaigns/{id}/send
type SendResponse struct {
	Msg             string `json:"msg"`
	CampaignID      string `json:"campaignId"`
	TotalRecipients int    `json:"totalRecipients"`
}

// MessageResponse is a response carrying only a message
type MessageResponse struct {
	Msg string `json:"msg"`
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	ActiveSends int    `json:"activeSends"`
	Goroutines  int    `json:"goroutines"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     s.version,
		Uptime:      time.Since(s.startTime).Round(time.Second).String(),
		ActiveSends: s.dispatcher.Active(),
		Goroutines:  runtime.NumGoroutine(),
	})
}

// handleCreateCampaign handles POST /campaigns
func (s *Server) handleCreateCampaign(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req CreateCampaignRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := campaign.Validate(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	var recipients []campaign.Recipient
	switch {
	case len(req.Recipients) > 0:
		recipients = newRecipients(req.Recipients)
	case req.ListName != "":
		contacts, err := s.store.ListContacts(r.Context(), userID, req.ListName)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		for _, c := range contacts {
			if c.Status != campaign.ContactValid {
				continue
			}
			recipients = append(recipients, campaign.NewRecipient(c.Email, c.FirstName, c.LastName))
		}
		if len(recipients) == 0 {
			s.writeError(w, r, campaign.NewValidationError("", "No contacts found for this list"))
			return
		}
	default:
		s.writeError(w, r, campaign.NewValidationError("", "Please provide either recipients[] or a listName"))
		return
	}

	var scheduledAt *time.Time
	if req.ScheduledAt != nil {
		at := req.ScheduledAt.UTC()
		scheduledAt = &at
	}

	c := campaign.New(userID, req.Name, req.Subject, req.Body, recipients, scheduledAt)
	if err := s.store.Create(r.Context(), c); err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.Info("campaign created",
		"campaign_id", c.ID,
		"user_id", userID,
		"recipients", len(c.Recipients),
		"status", c.Status,
	)
	s.sendJSON(w, http.StatusCreated, c)
}

// handleListCampaigns handles GET /campaigns
func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.ListByOwner(r.Context(), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if list == nil {
		list = []*campaign.Campaign{}
	}
	s.sendJSON(w, http.StatusOK, list)
}

// handleGetCampaign handles GET /campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetOwned(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleUpdateCampaign handles PUT /campaigns/{id}
func (s *Server) handleUpdateCampaign(w http.ResponseWriter, r *http.Request) {
	var req UpdateCampaignRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := campaign.Validate(&req); err != nil {
		s.writeError(w, r, err)
		return
	}

	patch := storage.Patch{
		Name:    req.Name,
		Subject: req.Subject,
		Body:    req.Body,
	}
	if req.Recipients != nil {
		patch.Recipients = newRecipients(req.Recipients)
	}
	if req.ScheduledAt.Set {
		if req.ScheduledAt.Value == nil {
			patch.ClearSchedule = true
		} else {
			patch.ScheduledAt = req.ScheduledAt.Value
		}
	}

	c, err := s.store.Update(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.Delete(r.Context(), id, UserIDFromContext(r.Context())); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("campaign deleted", "campaign_id", id)
	s.sendJSON(w, http.StatusOK, MessageResponse{Msg: "Campaign deleted successfully"})
}

// handleSendCampaign handles POST /campaigns/{id}/send. Delivery continues
// in the background after the response.
func (s *Server) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	ack, err := s.dispatcher.Send(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, SendResponse{
		Msg:             "Campaign sending started",
		CampaignID:      ack.CampaignID,
		TotalRecipients: ack.TotalRecipients,
	})
}

// handleAnalytics handles GET /campaigns/{id}/analytics
func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.GetOwned(r.Context(), chi.URLParam(r, "id"), UserIDFromContext(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, analytics.Estimate(c))
}

func newRecipients(in []RecipientInput) []campaign.Recipient {
	out := make([]campaign.Recipient, 0, len(in))
	for _, r := range in {
		out = append(out, campaign.NewRecipient(strings.TrimSpace(r.Email), r.FirstName, r.LastName))
	}
	return out
}

// decode reads a JSON request body into v. It writes a 400 and returns false
// when the body cannot be parsed.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, MessageResponse{Msg: message})
}

// writeError maps a domain error to its HTTP status
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	s.sendError(w, status, msg)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, campaign.ErrNotFound), errors.Is(err, campaign.ErrForbidden):
		// Campaigns of other users are indistinguishable from missing ones
		return http.StatusNotFound, "Campaign not found"
	case errors.Is(err, campaign.ErrRecipientNotFound):
		return http.StatusNotFound, "Recipient not found"
	case errors.Is(err, campaign.ErrNoRecipients):
		return http.StatusBadRequest, "No recipients to send to"
	case errors.Is(err, campaign.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, campaign.ErrStateConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, smtp.ErrConfigurationMissing):
		return http.StatusServiceUnavailable, "Email settings are not configured"
	default:
		return http.StatusInternalServerError, "Server error"
	}
}
