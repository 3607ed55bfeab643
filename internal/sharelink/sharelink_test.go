package sharelink

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"selfray/internal/models"
)

func TestRenderVlessReality(t *testing.T) {
	inb := models.Inbound{
		Tag: "vless-443-abc", Protocol: "vless", Port: 443, Remark: "Frankfurt",
		Settings: `{"clients":[],"decryption":"none"}`,
		StreamSettings: `{
			"network":"tcp","security":"reality",
			"realitySettings":{"publicKey":"PUB","shortIds":["aa11"],"serverNames":["google.com"],"fingerprint":"chrome"}
		}`,
	}
	c := models.Client{ID: "tok", Email: "alice", UUID: "uuid-1", Flow: "xtls-rprx-vision"}

	link, err := Render(inb, c, "1.2.3.4")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("not a valid URI: %v", err)
	}
	if u.Scheme != "vless" || u.User.Username() != "uuid-1" || u.Host != "1.2.3.4:443" {
		t.Fatalf("wrong authority: %s", link)
	}
	q := u.Query()
	for key, want := range map[string]string{
		"type": "tcp", "security": "reality", "flow": "xtls-rprx-vision",
		"pbk": "PUB", "sid": "aa11", "sni": "google.com", "fp": "chrome",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("param %s = %q, want %q", key, got, want)
		}
	}
	if u.Fragment != "Frankfurt | alice" {
		t.Errorf("remark = %q", u.Fragment)
	}
}

func TestRenderVmessWebSocket(t *testing.T) {
	inb := models.Inbound{
		Tag: "vmess-8080-x", Protocol: "vmess", Port: 8080,
		Settings:       `{"clients":[]}`,
		StreamSettings: `{"network":"ws","security":"none","wsSettings":{"path":"/chat","headers":{"Host":"cdn.example.com"}}}`,
	}
	c := models.Client{Email: "bob", UUID: "uuid-2"}

	link, err := Render(inb, c, "example.com")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.HasPrefix(link, "vmess://") {
		t.Fatalf("wrong scheme: %s", link)
	}

	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(link, "vmess://"))
	if err != nil {
		t.Fatalf("payload not base64: %v", err)
	}
	var obj map[string]string
	if err := json.Unmarshal(payload, &obj); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	for key, want := range map[string]string{
		"v": "2", "ps": "bob", "add": "example.com", "port": "8080",
		"id": "uuid-2", "aid": "0", "net": "ws", "path": "/chat",
		"host": "cdn.example.com", "tls": "",
	} {
		if obj[key] != want {
			t.Errorf("field %s = %q, want %q", key, obj[key], want)
		}
	}
}

func TestRenderTrojanTLS(t *testing.T) {
	inb := models.Inbound{
		Tag: "trojan-443-y", Protocol: "trojan", Port: 443,
		Settings:       `{"clients":[]}`,
		StreamSettings: `{"network":"tcp","security":"tls","tlsSettings":{"serverName":"example.com","fingerprint":"chrome","alpn":["h2","http/1.1"]}}`,
	}
	c := models.Client{Email: "carol", UUID: "pw-3"}

	link, err := Render(inb, c, "example.com")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("not a valid URI: %v", err)
	}
	if u.Scheme != "trojan" || u.User.Username() != "pw-3" {
		t.Fatalf("wrong authority: %s", link)
	}
	q := u.Query()
	if q.Get("sni") != "example.com" || q.Get("security") != "tls" {
		t.Fatalf("missing tls params: %s", link)
	}
	if q.Get("alpn") != "h2,http/1.1" {
		t.Fatalf("alpn = %q", q.Get("alpn"))
	}
	if u.Fragment != "carol" {
		t.Fatalf("remark = %q", u.Fragment)
	}
}

func TestRenderShadowsocks(t *testing.T) {
	inb := models.Inbound{
		Tag: "shadowsocks-8388-z", Protocol: "shadowsocks", Port: 8388,
		Settings:       `{"method":"chacha20-ietf-poly1305","password":"secret"}`,
		StreamSettings: `{"network":"tcp","security":"none"}`,
	}
	c := models.Client{Email: "dave", UUID: "unused"}

	link, err := Render(inb, c, "1.2.3.4")
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	userinfo := strings.TrimPrefix(strings.Split(link, "@")[0], "ss://")
	decoded, err := base64.StdEncoding.DecodeString(userinfo)
	if err != nil {
		t.Fatalf("userinfo not base64: %v", err)
	}
	if string(decoded) != "chacha20-ietf-poly1305:secret" {
		t.Fatalf("userinfo = %q", decoded)
	}
	if !strings.HasSuffix(link, "@1.2.3.4:8388#dave") {
		t.Fatalf("wrong tail: %s", link)
	}
}

func TestRenderMalformedBlob(t *testing.T) {
	inb := models.Inbound{Tag: "vless-1-q", Protocol: "vless", Port: 1, StreamSettings: `{broken`}
	if _, err := Render(inb, models.Client{}, "h"); err == nil {
		t.Fatal("expected error for malformed stream settings")
	}
}
