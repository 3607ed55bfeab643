package web

import (
	"html/template"
	"net/http"
)

func renderLoginPage(w http.ResponseWriter, errorMsg string, totpRequired bool) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	loginPage.Execute(w, map[string]any{"Error": errorMsg, "TotpRequired": totpRequired})
}

var loginPage = template.Must(template.New("login").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>SelfRay - Login</title>
<style>
*{margin:0;padding:0;box-sizing:border-box}
body{font-family:'Segoe UI',system-ui,sans-serif;background:#08080d;color:#e0e0e0;min-height:100vh;display:flex;align-items:center;justify-content:center}
.box{background:rgba(16,16,26,.9);border:1px solid rgba(40,40,70,.5);border-radius:16px;padding:32px;width:340px}
h1{font-size:22px;background:linear-gradient(135deg,#00c8ff,#7b2fff);-webkit-background-clip:text;-webkit-text-fill-color:transparent;margin-bottom:20px;text-align:center}
input{width:100%;padding:12px;margin-bottom:12px;border-radius:10px;border:1px solid rgba(40,40,70,.5);background:rgba(8,8,15,.8);color:#e0e0e0;font-size:13px}
button{width:100%;padding:12px;border:none;border-radius:10px;font-size:13px;font-weight:600;cursor:pointer;background:linear-gradient(135deg,#00c8ff,#7b2fff);color:#fff}
.err{color:#ff4d6d;font-size:12px;margin-bottom:12px;text-align:center}
</style></head><body>
<form class="box" method="post" action="/login">
<h1>SelfRay</h1>
{{if .Error}}<div class="err">{{.Error}}</div>{{end}}
<input name="username" placeholder="Username" autocomplete="username" required>
<input name="password" type="password" placeholder="Password" autocomplete="current-password" required>
{{if .TotpRequired}}<input name="totp_code" placeholder="2FA code" autocomplete="one-time-code" inputmode="numeric">{{end}}
<button type="submit">Sign In</button>
</form>
</body></html>`))

func (s *Server) handlePanel(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	panelPage.Execute(w, nil)
}

var panelPage = template.Must(template.New("panel").Parse(`<!DOCTYPE html>
<html><head><meta charset="UTF-8"><meta name="viewport" content="width=device-width,initial-scale=1">
<title>SelfRay - Panel</title>
<style>
body{font-family:'Segoe UI',system-ui,sans-serif;background:#08080d;color:#e0e0e0;padding:24px}
h1{font-size:20px;background:linear-gradient(135deg,#00c8ff,#7b2fff);-webkit-background-clip:text;-webkit-text-fill-color:transparent}
a{color:#00c8ff}
pre{background:rgba(16,16,26,.9);border:1px solid rgba(40,40,70,.5);border-radius:10px;padding:16px;font-size:12px;overflow:auto}
</style></head><body>
<h1>SelfRay</h1>
<p>The management API lives under <code>/api</code>. <a href="/logout">Logout</a></p>
<pre id="status">loading...</pre>
<script>
fetch('/api/status').then(r=>r.json()).then(d=>{document.getElementById('status').textContent=JSON.stringify(d,null,2)})
</script>
</body></html>`))
