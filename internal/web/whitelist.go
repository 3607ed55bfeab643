package web

import (
	_ "embed"
	"encoding/json"
	"net/http"
	"strings"
)

// Domestic services that must bypass the proxy for RU-hosted clients.
//
//go:embed whitelist-ru.txt
var whitelistRaw string

func whitelistDomains() []string {
	var domains []string
	for _, line := range strings.Split(whitelistRaw, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			domains = append(domains, line)
		}
	}
	return domains
}

func (s *Server) handleGetWhitelist(w http.ResponseWriter, r *http.Request) {
	domains := whitelistDomains()
	writeJSON(w, http.StatusOK, map[string]any{"domains": domains, "count": len(domains)})
}

// handleApplyWhitelist rewrites custom_routing_rules with one direct-route
// rule covering the whole whitelist and restarts the engine. Any manually
// entered custom rules are replaced.
func (s *Server) handleApplyWhitelist(w http.ResponseWriter, r *http.Request) {
	domains := whitelistDomains()
	matchers := make([]string, 0, len(domains))
	for _, d := range domains {
		matchers = append(matchers, "full:"+d)
	}
	rules, err := json.Marshal([]map[string]any{{
		"type":        "field",
		"domain":      matchers,
		"outboundTag": "direct",
	}})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "rule encoding failed")
		return
	}
	if err := s.store.SetSetting("custom_routing_rules", string(rules)); err != nil {
		writeError(w, http.StatusInternalServerError, "settings write failed")
		return
	}
	s.restartEngine(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(domains)})
}
