package xray

import (
	"encoding/json"
	"fmt"

	"selfray/internal/models"
	"selfray/internal/storage"
	"selfray/internal/util"
)

// Settings is the synthesis-relevant slice of the settings table, loaded
// fresh for every synthesis so config edits take effect on the next restart.
type Settings struct {
	APIPort            int
	LogLevel           string
	BlockBittorrent    bool
	CustomRoutingRules string
	CustomDNS          string
	CustomOutbounds    string
}

func LoadSettings(store storage.Store) (Settings, error) {
	var set Settings
	var err error

	apiPort, err := store.GetSetting("xray_api_port", "10085")
	if err != nil {
		return set, err
	}
	if _, err := fmt.Sscanf(apiPort, "%d", &set.APIPort); err != nil {
		set.APIPort = 10085
	}

	if set.LogLevel, err = store.GetSetting("xray_log_level", "warning"); err != nil {
		return set, err
	}
	blockBT, err := store.GetSetting("block_bittorrent", "true")
	if err != nil {
		return set, err
	}
	set.BlockBittorrent = blockBT == "true"

	if set.CustomRoutingRules, err = store.GetSetting("custom_routing_rules", ""); err != nil {
		return set, err
	}
	if set.CustomDNS, err = store.GetSetting("custom_dns", ""); err != nil {
		return set, err
	}
	if set.CustomOutbounds, err = store.GetSetting("custom_outbounds", ""); err != nil {
		return set, err
	}
	return set, nil
}

// BlobError reports a malformed stored JSON blob, caught here at the
// synthesis boundary instead of being passed through to the engine.
type BlobError struct {
	Tag   string
	Field string
	Err   error
}

func (e *BlobError) Error() string {
	return fmt.Sprintf("inbound %s: malformed %s blob: %v", e.Tag, e.Field, e.Err)
}

func (e *BlobError) Unwrap() error { return e.Err }

// Synthesize maps the relational model into the engine's configuration
// document. Pure: no I/O, no mutation of its inputs; identical inputs yield
// structurally identical documents. Only enabled inbounds are considered,
// and for each only its enabled clients are embedded. Writing the document
// to disk is the supervisor's job.
func Synthesize(set Settings, inbounds []models.Inbound, clients map[int64][]models.Client) (map[string]any, error) {
	engineInbounds := make([]any, 0, len(inbounds))
	for _, inb := range inbounds {
		if !inb.Enabled {
			continue
		}
		one, err := synthesizeInbound(inb, clients[inb.ID])
		if err != nil {
			return nil, err
		}
		engineInbounds = append(engineInbounds, one)
	}

	rules := []any{
		map[string]any{"type": "field", "inboundTag": []any{"api-in"}, "outboundTag": "api"},
	}
	if set.BlockBittorrent {
		rules = append(rules, map[string]any{
			"type": "field", "protocol": []any{"bittorrent"}, "outboundTag": "blocked",
		})
	}
	if set.CustomRoutingRules != "" {
		// Operator-supplied extras are best effort: parse failures skip
		// the whole list, never fail synthesis.
		var extra []any
		if err := util.ParseLenient(set.CustomRoutingRules, &extra); err == nil {
			rules = append(rules, extra...)
		}
	}

	apiInbound := map[string]any{
		"tag":      "api-in",
		"listen":   "127.0.0.1",
		"port":     set.APIPort,
		"protocol": "dokodemo-door",
		"settings": map[string]any{"address": "127.0.0.1"},
	}

	outbounds := []any{
		map[string]any{"tag": "direct", "protocol": "freedom"},
		map[string]any{"tag": "blocked", "protocol": "blackhole"},
	}
	baselineTags := map[string]struct{}{"direct": {}, "blocked": {}}
	if set.CustomOutbounds != "" {
		var extra []map[string]any
		if err := util.ParseLenient(set.CustomOutbounds, &extra); err == nil {
			for _, ob := range extra {
				tag, _ := ob["tag"].(string)
				if _, taken := baselineTags[tag]; taken {
					continue
				}
				outbounds = append(outbounds, ob)
			}
		}
	}

	doc := map[string]any{
		"log":   map[string]any{"loglevel": set.LogLevel},
		"api":   map[string]any{"tag": "api", "services": []any{"StatsService"}},
		"stats": map[string]any{},
		"policy": map[string]any{
			"system": map[string]any{"statsInboundUplink": true, "statsInboundDownlink": true},
		},
		"inbounds":  append([]any{apiInbound}, engineInbounds...),
		"outbounds": outbounds,
		"routing":   map[string]any{"rules": rules},
	}

	if set.CustomDNS != "" {
		dns := map[string]any{}
		if err := util.ParseLenient(set.CustomDNS, &dns); err != nil {
			dns = map[string]any{"servers": []any{"1.1.1.1", "8.8.8.8"}}
		}
		if len(dns) > 0 {
			doc["dns"] = dns
		}
	}

	return doc, nil
}

func synthesizeInbound(inb models.Inbound, all []models.Client) (map[string]any, error) {
	settings := map[string]any{}
	if err := json.Unmarshal([]byte(inb.Settings), &settings); err != nil {
		return nil, &BlobError{Tag: inb.Tag, Field: "settings", Err: err}
	}
	stream := map[string]any{}
	if err := json.Unmarshal([]byte(inb.StreamSettings), &stream); err != nil {
		return nil, &BlobError{Tag: inb.Tag, Field: "stream_settings", Err: err}
	}

	sniffing := map[string]any{
		"enabled":      true,
		"destOverride": []any{"http", "tls", "quic"},
	}
	if inb.Sniffing != "" {
		sniffing = map[string]any{}
		if err := json.Unmarshal([]byte(inb.Sniffing), &sniffing); err != nil {
			return nil, &BlobError{Tag: inb.Tag, Field: "sniffing", Err: err}
		}
	}

	switch inb.Protocol {
	case models.ProtocolVLESS, models.ProtocolVMess, models.ProtocolTrojan:
		list := make([]any, 0, len(all))
		for _, c := range all {
			if !c.Enabled {
				continue
			}
			list = append(list, projectClient(inb.Protocol, c))
		}
		settings["clients"] = list
	case models.ProtocolShadowsocks:
		// Single shared method+password inbound, no per-client list.
	default:
		return nil, &BlobError{Tag: inb.Tag, Field: "protocol", Err: fmt.Errorf("unknown protocol %q", inb.Protocol)}
	}

	doc := map[string]any{
		"tag":            inb.Tag,
		"listen":         inb.Listen,
		"port":           inb.Port,
		"protocol":       inb.Protocol,
		"settings":       settings,
		"streamSettings": stream,
		"sniffing":       sniffing,
	}

	// Port allocation only matters when a strategy is set; an empty or
	// strategy-less blob stays out of the engine document.
	if inb.Allocate != "" && inb.Allocate != "{}" {
		allocate := map[string]any{}
		if err := json.Unmarshal([]byte(inb.Allocate), &allocate); err != nil {
			return nil, &BlobError{Tag: inb.Tag, Field: "allocate", Err: err}
		}
		if strategy, ok := allocate["strategy"].(string); ok && strategy != "" {
			doc["allocate"] = allocate
		}
	}

	return doc, nil
}

// projectClient is the fixed per-protocol credential projection. Lifecycle
// fields (expiry, quota, counters) never leak into the engine document.
func projectClient(protocol string, c models.Client) map[string]any {
	switch protocol {
	case models.ProtocolVLESS:
		return map[string]any{"id": c.UUID, "email": c.Email, "flow": c.Flow}
	case models.ProtocolVMess:
		return map[string]any{"id": c.UUID, "email": c.Email, "alterId": 0}
	case models.ProtocolTrojan:
		return map[string]any{"password": c.UUID, "email": c.Email}
	}
	return nil
}
