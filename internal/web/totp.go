package web

import (
	"net/http"

	"selfray/internal/auth"
)

// Second-factor enrollment is a two-step handshake: setup parks a fresh
// secret under totp_secret_pending, and only a successful verify
// promotes it to totp_secret and flips totp_enabled. An abandoned setup
// therefore never locks the admin out.

func (s *Server) handleTotpStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"enabled": s.totpRequired()})
}

func (s *Server) handleTotpSetup(w http.ResponseWriter, r *http.Request) {
	username, err := s.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	secret, url, err := auth.GenerateTOTPSecret("SelfRay-UI", username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "secret generation failed")
		return
	}
	if err := s.store.SetSetting("totp_secret_pending", secret); err != nil {
		writeError(w, http.StatusInternalServerError, "settings write failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secret": secret, "qr_url": url})
}

func (s *Server) handleTotpVerify(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}
	secret, err := s.store.GetSetting("totp_secret_pending", "")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings read failed")
		return
	}
	if secret == "" {
		writeError(w, http.StatusBadRequest, "no pending 2FA setup")
		return
	}
	if !auth.ValidateTOTP(payload.Code, secret) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "Invalid code"})
		return
	}
	for key, value := range map[string]string{
		"totp_secret":         secret,
		"totp_enabled":        "true",
		"totp_secret_pending": "",
	} {
		if err := s.store.SetSetting(key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "settings write failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTotpDisable(w http.ResponseWriter, r *http.Request) {
	for _, key := range []string{"totp_enabled", "totp_secret", "totp_secret_pending"} {
		if err := s.store.SetSetting(key, ""); err != nil {
			writeError(w, http.StatusInternalServerError, "settings write failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
