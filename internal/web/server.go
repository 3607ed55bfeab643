// Package web is the panel's HTTP surface: session auth, the management
// API and the public subscription endpoint.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"selfray/internal/notify"
	"selfray/internal/storage"
)

// Engine is the supervisor surface the handlers drive.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	Restart(ctx context.Context) error
	Status() (running bool, pid int)
	Installed() bool
	Version(ctx context.Context) (string, error)
	GenerateRealityKeys(ctx context.Context) (privateKey, publicKey string, err error)
	CurrentConfig() ([]byte, error)
	RecentLogs() []string
	StreamLogs(ctx context.Context, includeBuffer bool) <-chan string
}

type Server struct {
	store    storage.Store
	engine   Engine
	notifier *notify.Telegram
	log      *slog.Logger

	sessionSecret []byte
	loginLimiter  *loginLimiter
}

func NewServer(store storage.Store, engine Engine, notifier *notify.Telegram) (*Server, error) {
	secret, err := sessionSecret(store)
	if err != nil {
		return nil, err
	}
	return &Server{
		store:         store,
		engine:        engine,
		notifier:      notifier,
		log:           slog.Default().With("component", "web"),
		sessionSecret: secret,
		loginLimiter:  newLoginLimiter(),
	}, nil
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleRoot)
	r.Get("/login", s.handleLoginPage)
	r.Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)
	r.Get("/sub/{token}", s.handleSubscription)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Get("/panel", s.handlePanel)

		r.Route("/api", func(r chi.Router) {
			r.Get("/status", s.handleStatus)

			r.Post("/xray/start", s.handleXrayStart)
			r.Post("/xray/stop", s.handleXrayStop)
			r.Post("/xray/restart", s.handleXrayRestart)
			r.Get("/xray/config", s.handleXrayConfig)
			r.Get("/xray/logs", s.handleXrayLogs)
			r.Get("/xray/logs/stream", s.handleXrayLogsStream)
			r.Get("/xray/version", s.handleXrayVersion)
			r.Post("/generate-reality-keys", s.handleGenerateRealityKeys)

			r.Get("/settings", s.handleGetSettings)
			r.Post("/settings", s.handleUpdateSettings)
			r.Post("/change-password", s.handleChangePassword)
			r.Get("/totp/status", s.handleTotpStatus)
			r.Post("/totp/setup", s.handleTotpSetup)
			r.Post("/totp/verify", s.handleTotpVerify)
			r.Post("/totp/disable", s.handleTotpDisable)
			r.Post("/telegram/test", s.handleTelegramTest)
			r.Post("/telegram/reset", s.handleTelegramReset)
			r.Get("/backup", s.handleBackup)
			r.Get("/whitelist", s.handleGetWhitelist)
			r.Post("/apply-whitelist", s.handleApplyWhitelist)

			r.Get("/inbounds", s.handleListInbounds)
			r.Post("/inbounds", s.handleCreateInbound)
			r.Get("/inbounds/{id}", s.handleGetInbound)
			r.Put("/inbounds/{id}", s.handleEditInbound)
			r.Put("/inbounds/{id}/toggle", s.handleToggleInbound)
			r.Delete("/inbounds/{id}", s.handleDeleteInbound)
			r.Post("/inbounds/{id}/clients", s.handleAddClient)

			r.Put("/clients/{id}", s.handleUpdateClient)
			r.Delete("/clients/{id}", s.handleDeleteClient)
			r.Post("/clients/{id}/reset-traffic", s.handleResetClientTraffic)
			r.Get("/clients/{id}/link", s.handleClientLink)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"detail": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// restartEngine pushes committed state into the engine. The data change
// already succeeded, so a restart failure is logged and not surfaced.
func (s *Server) restartEngine(ctx context.Context) {
	if err := s.engine.Restart(ctx); err != nil {
		s.log.Error("engine restart after mutation failed", "error", err)
	}
}

// requestHost is the externally visible address links are rendered
// against. Bind addresses are never usable in a link, so those fall back
// to the outbound-socket address of this host.
func requestHost(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	switch strings.ToLower(host) {
	case "", "0.0.0.0", "127.0.0.1", "localhost":
		if ip := outboundIP(); ip != "" {
			return ip
		}
		return "YOUR_SERVER_IP"
	}
	return host
}

// outboundIP discovers the local address the default route would use.
// The datagram is never sent; connect only binds the socket.
func outboundIP() string {
	conn, err := net.DialTimeout("udp", "8.8.8.8:80", 2*time.Second)
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}

func remoteIP(r *http.Request) string {
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
