package api

import (
	"net/http"

	"github.com/foxzi/beacon/internal/campaign"
)

// maskedPassword replaces the stored password in responses
const maskedPassword = "********"

// handleGetSettings handles GET /email-settings. Responds with null when no
// settings were saved yet.
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.SMTPSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, masked(settings))
}

// handleSaveSettings handles POST /email-settings. The saved settings
// replace the active ones; an empty password keeps the stored one.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var req campaign.SMTPSettings
	if !s.decode(w, r, &req) {
		return
	}
	// A masked password echoed back from GET keeps the stored one
	if req.Pass == maskedPassword {
		req.Pass = ""
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.store.SaveSMTPSettings(r.Context(), &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("email settings updated",
		"user_id", UserIDFromContext(r.Context()),
		"smtp_host", req.Host,
		"smtp_port", req.Port,
	)

	saved, err := s.store.SMTPSettings(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, masked(saved))
}

func masked(settings *campaign.SMTPSettings) *campaign.SMTPSettings {
	if settings == nil {
		return nil
	}
	out := *settings
	if out.Pass != "" {
		out.Pass = maskedPassword
	}
	return &out
}
