// Package sharelink renders client import links in the URI grammars the
// common proxy apps understand. Rendering reads durable state only and
// never touches the engine.
package sharelink

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"selfray/internal/models"
)

// Render produces the import link for one client of one inbound. host is
// the externally reachable address the caller resolved; the inbound's
// listen address is never used here.
func Render(inb models.Inbound, c models.Client, host string) (string, error) {
	stream := map[string]any{}
	if inb.StreamSettings != "" {
		if err := json.Unmarshal([]byte(inb.StreamSettings), &stream); err != nil {
			return "", fmt.Errorf("inbound %s: malformed stream_settings blob: %w", inb.Tag, err)
		}
	}
	settings := map[string]any{}
	if inb.Settings != "" {
		if err := json.Unmarshal([]byte(inb.Settings), &settings); err != nil {
			return "", fmt.Errorf("inbound %s: malformed settings blob: %w", inb.Tag, err)
		}
	}

	remark := c.Email
	if inb.Remark != "" {
		remark = inb.Remark + " | " + c.Email
	}
	remark = url.PathEscape(remark)

	network := stringAt(stream, "network", "tcp")
	security := stringAt(stream, "security", "none")

	switch inb.Protocol {
	case models.ProtocolVLESS:
		params := []string{"type=" + network, "security=" + security}
		if c.Flow != "" {
			params = append(params, "flow="+c.Flow)
		}
		switch security {
		case "reality":
			params = append(params, realityParams(stream)...)
		case "tls":
			params = append(params, tlsParams(stream)...)
		}
		params = append(params, transportParams(network, stream)...)
		return fmt.Sprintf("vless://%s@%s:%d?%s#%s", c.UUID, host, inb.Port, strings.Join(params, "&"), remark), nil

	case models.ProtocolVMess:
		return vmessLink(inb, c, stream, host, network, security)

	case models.ProtocolTrojan:
		params := []string{"type=" + network, "security=" + security}
		switch security {
		case "tls":
			params = append(params, tlsParams(stream)...)
		case "reality":
			params = append(params, realityParams(stream)...)
		}
		params = append(params, transportParams(network, stream)...)
		return fmt.Sprintf("trojan://%s@%s:%d?%s#%s", c.UUID, host, inb.Port, strings.Join(params, "&"), remark), nil

	case models.ProtocolShadowsocks:
		method := stringAt(settings, "method", "chacha20-ietf-poly1305")
		password := stringAt(settings, "password", c.UUID)
		userinfo := base64.StdEncoding.EncodeToString([]byte(method + ":" + password))
		return fmt.Sprintf("ss://%s@%s:%d#%s", userinfo, host, inb.Port, remark), nil
	}

	return "", fmt.Errorf("inbound %s: unknown protocol %q", inb.Tag, inb.Protocol)
}

func vmessLink(inb models.Inbound, c models.Client, stream map[string]any, host, network, security string) (string, error) {
	tls := ""
	if security != "none" {
		tls = security
	}
	obj := map[string]string{
		"v": "2", "ps": c.Email, "add": host, "port": fmt.Sprintf("%d", inb.Port),
		"id": c.UUID, "aid": "0", "net": network, "type": "none",
		"host": "", "path": "", "tls": tls,
	}

	switch network {
	case "ws":
		ws := mapAt(stream, "wsSettings")
		obj["path"] = stringAt(ws, "path", "/ws")
		obj["host"] = stringAt(mapAt(ws, "headers"), "Host", "")
	case "grpc":
		obj["path"] = stringAt(mapAt(stream, "grpcSettings"), "serviceName", "")
		obj["type"] = "gun"
	case "h2":
		h2 := mapAt(stream, "httpSettings")
		obj["path"] = stringAt(h2, "path", "/")
		obj["host"] = strings.Join(stringsAt(h2, "host"), ",")
	case "tcp":
		header := mapAt(mapAt(stream, "tcpSettings"), "header")
		if stringAt(header, "type", "") == "http" {
			req := mapAt(header, "request")
			obj["type"] = "http"
			paths := stringsAt(req, "path")
			if len(paths) == 0 {
				paths = []string{"/"}
			}
			obj["path"] = strings.Join(paths, ",")
			obj["host"] = strings.Join(stringsAt(mapAt(req, "headers"), "Host"), ",")
		}
	}

	if security == "tls" {
		ts := mapAt(stream, "tlsSettings")
		obj["sni"] = stringAt(ts, "serverName", "")
		obj["fp"] = stringAt(ts, "fingerprint", "")
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(data), nil
}

func realityParams(stream map[string]any) []string {
	rs := mapAt(stream, "realitySettings")
	params := []string{"pbk=" + stringAt(rs, "publicKey", "")}
	if ids := stringsAt(rs, "shortIds"); len(ids) > 0 {
		params = append(params, "sid="+ids[0])
	}
	if names := stringsAt(rs, "serverNames"); len(names) > 0 {
		params = append(params, "sni="+names[0])
	}
	params = append(params, "fp="+stringAt(rs, "fingerprint", "chrome"))
	if spx := stringAt(rs, "spiderX", ""); spx != "" {
		params = append(params, "spx="+url.QueryEscape(spx))
	}
	return params
}

func tlsParams(stream map[string]any) []string {
	ts := mapAt(stream, "tlsSettings")
	var params []string
	if sni := stringAt(ts, "serverName", ""); sni != "" {
		params = append(params, "sni="+sni)
	}
	if fp := stringAt(ts, "fingerprint", ""); fp != "" {
		params = append(params, "fp="+fp)
	}
	if alpn := stringsAt(ts, "alpn"); len(alpn) > 0 {
		params = append(params, "alpn="+url.QueryEscape(strings.Join(alpn, ",")))
	}
	return params
}

func transportParams(network string, stream map[string]any) []string {
	var params []string
	switch network {
	case "ws":
		ws := mapAt(stream, "wsSettings")
		if path := stringAt(ws, "path", ""); path != "" {
			params = append(params, "path="+url.QueryEscape(path))
		}
		if h := stringAt(mapAt(ws, "headers"), "Host", ""); h != "" {
			params = append(params, "host="+h)
		}
	case "grpc":
		gs := mapAt(stream, "grpcSettings")
		if name := stringAt(gs, "serviceName", ""); name != "" {
			params = append(params, "serviceName="+name)
		}
		if multi, _ := gs["multiMode"].(bool); multi {
			params = append(params, "mode=multi")
		}
	case "h2":
		h2 := mapAt(stream, "httpSettings")
		if path := stringAt(h2, "path", ""); path != "" {
			params = append(params, "path="+url.QueryEscape(path))
		}
		if hosts := stringsAt(h2, "host"); len(hosts) > 0 {
			params = append(params, "host="+hosts[0])
		}
	case "httpupgrade":
		hu := mapAt(stream, "httpupgradeSettings")
		if path := stringAt(hu, "path", ""); path != "" {
			params = append(params, "path="+url.QueryEscape(path))
		}
		if h := stringAt(hu, "host", ""); h != "" {
			params = append(params, "host="+h)
		}
	case "tcp":
		header := mapAt(mapAt(stream, "tcpSettings"), "header")
		if stringAt(header, "type", "") == "http" {
			params = append(params, "headerType=http")
		}
	}
	return params
}

func mapAt(m map[string]any, key string) map[string]any {
	child, _ := m[key].(map[string]any)
	return child
}

func stringAt(m map[string]any, key, fallback string) string {
	if v, ok := m[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func stringsAt(m map[string]any, key string) []string {
	raw, _ := m[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
