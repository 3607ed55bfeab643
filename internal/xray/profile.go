package xray

import (
	"fmt"
	"strings"

	"selfray/internal/auth"
	"selfray/internal/models"
)

// InboundForm is the typed creation/edit form an operator submits. The
// builders below shape it into the settings/stream/sniffing blobs stored
// per inbound.
type InboundForm struct {
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Listen   string `json:"listen"`
	Remark   string `json:"remark"`

	Network  string `json:"network"`
	Security string `json:"security"`

	TLSServerName    string `json:"tls_server_name"`
	TLSCertFile      string `json:"tls_cert_file"`
	TLSKeyFile       string `json:"tls_key_file"`
	TLSALPN          string `json:"tls_alpn"`
	TLSFingerprint   string `json:"tls_fingerprint"`
	TLSAllowInsecure bool   `json:"tls_allow_insecure"`

	RealityDest        string `json:"reality_dest"`
	RealityServerNames string `json:"reality_server_names"`
	RealityPrivateKey  string `json:"reality_private_key"`
	RealityPublicKey   string `json:"reality_public_key"`
	RealityShortIDs    string `json:"reality_short_ids"`
	RealitySpiderX     string `json:"reality_spider_x"`
	RealityFingerprint string `json:"reality_fingerprint"`

	Flow            string `json:"flow"`
	VLESSDecryption string `json:"vless_decryption"`

	TrojanFallbackAddr string `json:"trojan_fallback_addr"`
	TrojanFallbackPort int    `json:"trojan_fallback_port"`

	SSMethod   string `json:"ss_method"`
	SSPassword string `json:"ss_password"`
	SSNetwork  string `json:"ss_network"`

	TCPHeaderType        string `json:"tcp_header_type"`
	TCPHeaderRequestPath string `json:"tcp_header_request_path"`
	TCPHeaderRequestHost string `json:"tcp_header_request_host"`

	WSPath string `json:"ws_path"`
	WSHost string `json:"ws_host"`

	GRPCServiceName string `json:"grpc_service_name"`
	GRPCMultiMode   bool   `json:"grpc_multi_mode"`

	H2Path string `json:"h2_path"`
	H2Host string `json:"h2_host"`

	HTTPUpgradePath string `json:"httpupgrade_path"`
	HTTPUpgradeHost string `json:"httpupgrade_host"`

	XHTTPPath string `json:"xhttp_path"`
	XHTTPHost string `json:"xhttp_host"`
	XHTTPMode string `json:"xhttp_mode"`

	SniffingEnabled      bool   `json:"sniffing_enabled"`
	SniffingDestOverride string `json:"sniffing_dest_override"`
	SniffingRouteOnly    bool   `json:"sniffing_route_only"`

	ClientName string `json:"client_name"`
	Country    string `json:"country"`
}

// ValidationError is a malformed operator input, reported before any write.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (f *InboundForm) Validate() error {
	if !models.KnownProtocol(f.Protocol) {
		return &ValidationError{Field: "protocol", Reason: fmt.Sprintf("unsupported protocol %q", f.Protocol)}
	}
	if f.Port < 1 || f.Port > 65535 {
		return &ValidationError{Field: "port", Reason: "must be 1-65535"}
	}
	return nil
}

// NewTag derives the unique inbound tag: protocol-port-random suffix.
// Uniqueness is enforced by the store's tag constraint.
func NewTag(protocol string, port int) string {
	return fmt.Sprintf("%s-%d-%s", protocol, port, auth.RandomToken(3))
}

func (f *InboundForm) BuildProtocolSettings() map[string]any {
	switch f.Protocol {
	case models.ProtocolVLESS:
		s := map[string]any{
			"clients":    []any{},
			"decryption": orDefault(f.VLESSDecryption, "none"),
		}
		if f.Security == "reality" && f.Flow != "" {
			s["flow"] = f.Flow
		}
		return s
	case models.ProtocolVMess:
		return map[string]any{"clients": []any{}}
	case models.ProtocolTrojan:
		s := map[string]any{"clients": []any{}}
		if f.TrojanFallbackAddr != "" {
			port := f.TrojanFallbackPort
			if port == 0 {
				port = 80
			}
			s["fallbacks"] = []any{map[string]any{"addr": f.TrojanFallbackAddr, "port": port}}
		}
		return s
	case models.ProtocolShadowsocks:
		password := f.SSPassword
		if password == "" {
			password = auth.RandomSecret(16)
		}
		return map[string]any{
			"method":   orDefault(f.SSMethod, "chacha20-ietf-poly1305"),
			"password": password,
			"network":  orDefault(f.SSNetwork, "tcp,udp"),
		}
	}
	return map[string]any{}
}

// BuildStreamSettings shapes the transport and security blob. Reality keys
// must already be resolved by the caller (generated through the engine
// binary when the form leaves them empty).
func (f *InboundForm) BuildStreamSettings() map[string]any {
	stream := map[string]any{
		"network":  orDefault(f.Network, "tcp"),
		"security": orDefault(f.Security, "none"),
	}

	switch f.Network {
	case "", "tcp":
		tcp := map[string]any{
			"header": map[string]any{"type": orDefault(f.TCPHeaderType, "none")},
		}
		if f.TCPHeaderType == "http" {
			hosts := []any{}
			if f.TCPHeaderRequestHost != "" {
				hosts = append(hosts, f.TCPHeaderRequestHost)
			}
			tcp["header"].(map[string]any)["request"] = map[string]any{
				"path":    []any{orDefault(f.TCPHeaderRequestPath, "/")},
				"headers": map[string]any{"Host": hosts},
			}
		}
		stream["tcpSettings"] = tcp
	case "ws":
		ws := map[string]any{"path": orDefault(f.WSPath, "/ws")}
		if f.WSHost != "" {
			ws["headers"] = map[string]any{"Host": f.WSHost}
		}
		stream["wsSettings"] = ws
	case "grpc":
		stream["grpcSettings"] = map[string]any{
			"serviceName": orDefault(f.GRPCServiceName, "grpc"),
			"multiMode":   f.GRPCMultiMode,
		}
	case "h2":
		h2 := map[string]any{"path": orDefault(f.H2Path, "/")}
		if f.H2Host != "" {
			h2["host"] = []any{f.H2Host}
		}
		stream["httpSettings"] = h2
	case "httpupgrade":
		hu := map[string]any{"path": orDefault(f.HTTPUpgradePath, "/")}
		if f.HTTPUpgradeHost != "" {
			hu["host"] = f.HTTPUpgradeHost
		}
		stream["httpupgradeSettings"] = hu
	case "xhttp":
		xh := map[string]any{
			"path": orDefault(f.XHTTPPath, "/"),
			"mode": orDefault(f.XHTTPMode, "auto"),
		}
		if f.XHTTPHost != "" {
			xh["host"] = f.XHTTPHost
		}
		stream["xhttpSettings"] = xh
	}

	switch f.Security {
	case "tls":
		tls := map[string]any{
			"serverName":    f.TLSServerName,
			"alpn":          splitCSV(orDefault(f.TLSALPN, "h2,http/1.1")),
			"fingerprint":   orDefault(f.TLSFingerprint, "chrome"),
			"allowInsecure": f.TLSAllowInsecure,
		}
		if f.TLSCertFile != "" && f.TLSKeyFile != "" {
			tls["certificates"] = []any{
				map[string]any{"certificateFile": f.TLSCertFile, "keyFile": f.TLSKeyFile},
			}
		}
		stream["tlsSettings"] = tls
	case "reality":
		shortIDs := splitCSV(f.RealityShortIDs)
		if len(shortIDs) == 0 {
			shortIDs = []any{auth.RandomToken(4)}
		}
		stream["realitySettings"] = map[string]any{
			"show":        false,
			"dest":        orDefault(f.RealityDest, "google.com:443"),
			"xver":        0,
			"serverNames": splitCSV(orDefault(f.RealityServerNames, "google.com")),
			"privateKey":  f.RealityPrivateKey,
			"shortIds":    shortIDs,
			"publicKey":   f.RealityPublicKey,
			"fingerprint": orDefault(f.RealityFingerprint, "chrome"),
		}
		if f.RealitySpiderX != "" {
			stream["realitySettings"].(map[string]any)["spiderX"] = f.RealitySpiderX
		}
	}

	return stream
}

func (f *InboundForm) BuildSniffing() map[string]any {
	sniffing := map[string]any{"enabled": f.SniffingEnabled}
	override := splitCSV(orDefault(f.SniffingDestOverride, "http,tls,quic"))
	if len(override) > 0 {
		sniffing["destOverride"] = override
	}
	if f.SniffingRouteOnly {
		sniffing["routeOnly"] = true
	}
	return sniffing
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func splitCSV(raw string) []any {
	out := []any{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
