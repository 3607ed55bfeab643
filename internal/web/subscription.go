package web

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"selfray/internal/sharelink"
	"selfray/internal/storage"
)

// App user agents that expect a raw base64 payload instead of a page.
var subscriptionAgents = []string{
	"v2rayn", "hiddify", "nekobox", "nekoray", "clash", "surge",
	"shadowrocket", "streisand", "v2rayng", "sing-box", "stash", "quantumult",
}

func isSubscriptionApp(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, marker := range subscriptionAgents {
		if strings.Contains(ua, marker) {
			return true
		}
	}
	return false
}

// handleSubscription serves a client's import link by its share token.
// Proxy apps get a base64 payload with usage headers; browsers get a page
// with a QR code and copy actions.
func (s *Server) handleSubscription(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	client, err := s.store.GetClient(token)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	inb, err := s.store.GetInbound(client.InboundID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	host := requestHost(r)
	link, err := sharelink.Render(inb, client, host)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "link rendering failed")
		return
	}

	if isSubscriptionApp(r.UserAgent()) {
		title, _ := s.store.GetSetting("sub_profile_title", "SelfRay-UI")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", client.Email))
		w.Header().Set("Profile-Title", base64.StdEncoding.EncodeToString([]byte(title)))
		w.Header().Set("Subscription-Userinfo", fmt.Sprintf(
			"upload=%d; download=%d; total=%d", client.Upload, client.Download, client.TrafficLimit))
		w.Header().Set("Profile-Update-Interval", "12")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(base64.StdEncoding.EncodeToString([]byte(link))))
		return
	}

	expiry := "Unlimited"
	if client.ExpiryTime > 0 {
		expiry = time.UnixMilli(client.ExpiryTime).Format("2006-01-02 15:04")
	}
	limit := "Unlimited"
	if client.TrafficLimit > 0 {
		limit = fmt.Sprintf("%.1f GB", float64(client.TrafficLimit)/(1<<30))
	}
	used := fmt.Sprintf("%.2f GB", float64(client.TotalUsage())/(1<<30))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	subscriptionPage.Execute(w, subscriptionPageData{
		Name:     client.Email,
		Protocol: strings.ToUpper(inb.Protocol),
		Link:     link,
		SubURL:   fmt.Sprintf("http://%s/sub/%s", host, token),
		Expiry:   expiry,
		Limit:    limit,
		Used:     used,
	})
}

type subscriptionPageData struct {
	Name     string
	Protocol string
	Link     string
	SubURL   string
	Expiry   string
	Limit    string
	Used     string
}

var subscriptionPage = template.Must(template.New("sub").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>SelfRay - {{.Name}}</title>
<script src="https://cdn.jsdelivr.net/npm/qrcodejs@1.0.0/qrcode.min.js"></script>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:'Segoe UI',system-ui,sans-serif;background:#08080d;color:#e0e0e0;min-height:100vh;display:flex;align-items:center;justify-content:center;padding:20px}
.box{background:rgba(16,16,26,.9);border:1px solid rgba(40,40,70,.5);border-radius:16px;padding:32px;max-width:440px;width:100%}
h1{font-size:20px;background:linear-gradient(135deg,#00c8ff,#7b2fff);-webkit-background-clip:text;-webkit-text-fill-color:transparent;margin-bottom:4px}
.sub{color:#667;font-size:12px;margin-bottom:20px}
.stats{display:grid;grid-template-columns:1fr 1fr 1fr;gap:10px;margin-bottom:20px}
.st{background:rgba(8,8,15,.8);border:1px solid rgba(40,40,70,.4);border-radius:10px;padding:10px;text-align:center}
.st .lb{font-size:10px;color:#667;text-transform:uppercase}.st .vl{font-size:13px;font-weight:600;margin-top:2px}
.qr-wrap{display:flex;justify-content:center;margin:16px 0}
.link-box{background:rgba(8,8,15,.8);border:1px solid rgba(40,40,70,.4);border-radius:8px;padding:10px;word-break:break-all;font-family:monospace;font-size:10px;margin:12px 0;max-height:80px;overflow:auto;color:#888}
.btn{display:block;width:100%;padding:12px;border:none;border-radius:10px;font-size:13px;font-weight:600;cursor:pointer;margin-bottom:8px;text-align:center;text-decoration:none}
.btn-p{background:linear-gradient(135deg,#00c8ff,#7b2fff);color:#fff}
.btn-o{background:transparent;border:1px solid rgba(40,40,70,.5);color:#e0e0e0}
.apps{display:grid;grid-template-columns:1fr 1fr;gap:6px;margin-top:12px}
.apps a{font-size:11px;padding:8px;border-radius:8px;background:rgba(8,8,15,.6);border:1px solid rgba(40,40,70,.3);color:#aaa;text-align:center;text-decoration:none}
.footer{text-align:center;margin-top:16px;font-size:10px;color:#445}
</style></head><body>
<div class="box">
<h1>{{.Name}}</h1>
<div class="sub">{{.Protocol}} subscription via SelfRay</div>
<div class="stats">
<div class="st"><div class="lb">Expires</div><div class="vl">{{.Expiry}}</div></div>
<div class="st"><div class="lb">Limit</div><div class="vl">{{.Limit}}</div></div>
<div class="st"><div class="lb">Used</div><div class="vl">{{.Used}}</div></div>
</div>
<div class="qr-wrap"><div id="qr"></div></div>
<div class="link-box">{{.Link}}</div>
<button class="btn btn-p" onclick="cp({{.Link}})">Copy Connection Link</button>
<button class="btn btn-o" onclick="cp({{.SubURL}})">Copy Subscription URL</button>
<div class="apps">
<a href="v2rayn://install-sub?url={{.SubURL}}&name={{.Name}}">v2rayN</a>
<a href="hiddify://install-config?url={{.SubURL}}&name={{.Name}}">Hiddify</a>
<a href="clash://install-config?url={{.SubURL}}">Clash / Streisand</a>
<a href="nekobox://subscribe?url={{.SubURL}}&name={{.Name}}">NekoBox</a>
</div>
<div class="footer">Powered by SelfRay</div>
</div>
<script>
new QRCode(document.getElementById("qr"),{text:{{.Link}},width:180,height:180});
function cp(t){navigator.clipboard.writeText(t)}
</script>
</body></html>`))
