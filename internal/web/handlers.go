package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"selfray/internal/auth"
	"selfray/internal/notify"
	"selfray/internal/xray"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	running, pid := s.engine.Status()
	resp := map[string]any{
		"xray_running":   running,
		"xray_installed": s.engine.Installed(),
		"uptime":         systemUptime(),
		"server_ip":      requestHost(r),
	}
	if running {
		resp["pid"] = pid
	} else {
		resp["pid"] = nil
	}
	writeJSON(w, http.StatusOK, resp)
}

func systemUptime() int64 {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) == 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0
	}
	return int64(seconds)
}

func (s *Server) handleXrayStart(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Start(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": err == nil})
}

func (s *Server) handleXrayStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleXrayRestart(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Restart(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": err == nil})
}

func (s *Server) handleXrayConfig(w http.ResponseWriter, r *http.Request) {
	data, err := s.engine.CurrentConfig()
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func (s *Server) handleXrayLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.engine.RecentLogs()
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

// handleXrayLogsStream follows engine output as server-sent events,
// replaying the buffered tail first. The stream ends when the client
// disconnects.
func (s *Server) handleXrayLogsStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for line := range s.engine.StreamLogs(r.Context(), true) {
		fmt.Fprintf(w, "data: %s\n\n", line)
		flusher.Flush()
	}
}

func (s *Server) handleXrayVersion(w http.ResponseWriter, r *http.Request) {
	version, err := s.engine.Version(r.Context())
	if errors.Is(err, xray.ErrBinaryMissing) {
		writeJSON(w, http.StatusOK, map[string]any{"installed": false})
		return
	}
	if err != nil {
		version = "unknown"
	}
	writeJSON(w, http.StatusOK, map[string]any{"installed": true, "version": version})
}

func (s *Server) handleGenerateRealityKeys(w http.ResponseWriter, r *http.Request) {
	private, public, err := s.engine.GenerateRealityKeys(r.Context())
	if errors.Is(err, xray.ErrBinaryMissing) {
		writeError(w, http.StatusBadRequest, "install xray first")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "key generation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"private_key": private, "public_key": public})
}

var settingDefaults = map[string]string{
	"panel_port":           "8443",
	"panel_host":           "0.0.0.0",
	"xray_api_port":        "10085",
	"xray_log_level":       "warning",
	"block_bittorrent":     "true",
	"custom_dns":           "",
	"custom_routing_rules": "",
	"custom_outbounds":     "",
	"sub_profile_title":    "SelfRay-UI",
	"server_address":       "",
	"tg_bot_token":         "",
	"tg_chat_id":           "",
	"tg_notify_login":      "true",
}

// boolean-valued settings, exposed as JSON booleans.
var boolSettings = map[string]bool{"block_bittorrent": true, "tg_notify_login": true}

// integer-valued settings, exposed as JSON numbers.
var intSettings = map[string]bool{"panel_port": true, "xray_api_port": true}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any, len(settingDefaults))
	for key, fallback := range settingDefaults {
		value, err := s.store.GetSetting(key, fallback)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "settings read failed")
			return
		}
		switch {
		case boolSettings[key]:
			out[key] = value == "true"
		case intSettings[key]:
			n, err := strconv.Atoi(value)
			if err != nil {
				n, _ = strconv.Atoi(fallback)
			}
			out[key] = n
		default:
			out[key] = value
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// Settings the synthesized engine config depends on. Writing any of
// these restarts the engine; panel and telegram keys do not.
var engineSettings = map[string]bool{
	"xray_api_port":        true,
	"xray_log_level":       true,
	"block_bittorrent":     true,
	"custom_dns":           true,
	"custom_routing_rules": true,
	"custom_outbounds":     true,
}

// handleUpdateSettings applies a partial update: only keys present in the
// payload change, and only known keys are accepted. Nothing is written
// until the whole payload validates.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var payload map[string]json.RawMessage
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	values := make(map[string]string, len(payload))
	for key, raw := range payload {
		if _, known := settingDefaults[key]; !known {
			writeError(w, http.StatusBadRequest, "unknown setting "+key)
			return
		}
		var value string
		switch {
		case boolSettings[key]:
			var b bool
			if err := json.Unmarshal(raw, &b); err != nil {
				writeError(w, http.StatusBadRequest, "setting "+key+" must be a boolean")
				return
			}
			value = strconv.FormatBool(b)
		case intSettings[key]:
			var n int
			if err := json.Unmarshal(raw, &n); err != nil {
				writeError(w, http.StatusBadRequest, "setting "+key+" must be a number")
				return
			}
			value = strconv.Itoa(n)
		default:
			if err := json.Unmarshal(raw, &value); err != nil {
				writeError(w, http.StatusBadRequest, "setting "+key+" must be a string")
				return
			}
		}
		values[key] = value
	}

	touchedEngine := false
	for key, value := range values {
		if err := s.store.SetSetting(key, value); err != nil {
			writeError(w, http.StatusInternalServerError, "settings write failed")
			return
		}
		if engineSettings[key] {
			touchedEngine = true
		}
	}
	if touchedEngine {
		s.restartEngine(r.Context())
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	username, err := s.sessionUser(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	admin, err := s.store.GetAdmin(username)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unknown user")
		return
	}
	ok, err := auth.VerifyPassword(payload.OldPassword, admin.PasswordHash)
	if err != nil || !ok {
		writeError(w, http.StatusBadRequest, "Wrong old password")
		return
	}
	if len(payload.NewPassword) < 4 {
		writeError(w, http.StatusBadRequest, "new password too short")
		return
	}
	hash, err := auth.HashPassword(payload.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "hashing failed")
		return
	}
	if err := s.store.UpdateAdminPassword(username, hash); err != nil {
		writeError(w, http.StatusInternalServerError, "update failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleTelegramTest(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		writeError(w, http.StatusBadRequest, "telegram not configured")
		return
	}
	err := s.notifier.Notify(r.Context(), "✅ SelfRay test notification")
	if errors.Is(err, notify.ErrNotConfigured) {
		writeError(w, http.StatusBadRequest, "telegram not configured")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, "delivery failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTelegramReset wipes the bot credentials. The bot itself keeps
// running until the next process restart; the notifier re-reads the
// settings on every send and goes quiet immediately.
func (s *Server) handleTelegramReset(w http.ResponseWriter, r *http.Request) {
	for _, key := range []string{"tg_bot_token", "tg_chat_id"} {
		if err := s.store.SetSetting(key, ""); err != nil {
			writeError(w, http.StatusInternalServerError, "reset failed")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleBackup dumps the full durable state as one JSON document.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	inbounds, err := s.store.ListInbounds()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "backup failed")
		return
	}

	type inboundDump struct {
		Inbound any `json:"inbound"`
		Clients any `json:"clients"`
	}
	dump := make([]inboundDump, 0, len(inbounds))
	for _, inb := range inbounds {
		clients, err := s.store.ListClients(inb.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "backup failed")
			return
		}
		dump = append(dump, inboundDump{Inbound: inb, Clients: clients})
	}

	settings := make(map[string]string, len(settingDefaults))
	for key, fallback := range settingDefaults {
		if key == "tg_bot_token" || key == "server_address" {
			// Secrets and host identity stay out of portable backups.
			continue
		}
		value, err := s.store.GetSetting(key, fallback)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "backup failed")
			return
		}
		settings[key] = value
	}

	w.Header().Set("Content-Disposition", `attachment; filename="selfray-backup.json"`)
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings, "inbounds": dump})
}
