package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"selfray/internal/auth"
	"selfray/internal/storage"
)

const (
	sessionCookie   = "selfray_session"
	sessionLifetime = 24 * time.Hour
)

// sessionSecret loads the persisted JWT signing key, minting one on first
// run so sessions survive panel restarts.
func sessionSecret(store storage.Store) ([]byte, error) {
	secret, err := store.GetSetting("session_secret", "")
	if err != nil {
		return nil, err
	}
	if secret == "" {
		secret = auth.RandomSecret(32)
		if err := store.SetSetting("session_secret", secret); err != nil {
			return nil, err
		}
	}
	return []byte(secret), nil
}

func (s *Server) issueSession(w http.ResponseWriter, username string) error {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(sessionLifetime)),
	})
	signed, err := token.SignedString(s.sessionSecret)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(sessionLifetime.Seconds()),
	})
	return nil
}

func (s *Server) sessionUser(r *http.Request) (string, error) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return "", err
	}
	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(cookie.Value, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.sessionSecret, nil
	})
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.sessionUser(r); err != nil {
			if r.URL.Path == "/panel" {
				http.Redirect(w, r, "/login", http.StatusFound)
				return
			}
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// loginLimiter throttles credential guessing per remote IP.
type loginLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newLoginLimiter() *loginLimiter {
	return &loginLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *loginLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(2*time.Second), 5)
		l.limiters[ip] = limiter
	}
	return limiter.Allow()
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sessionUser(r); err == nil {
		http.Redirect(w, r, "/panel", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	renderLoginPage(w, "", s.totpRequired())
}

// totpRequired reports whether logins need a second factor. The check is
// explicit about the unconfigured case: the feature is off until both
// the flag and a verified secret are stored.
func (s *Server) totpRequired() bool {
	enabled, err := s.store.GetSetting("totp_enabled", "false")
	if err != nil || enabled != "true" {
		return false
	}
	secret, err := s.store.GetSetting("totp_secret", "")
	return err == nil && secret != ""
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)
	if !s.loginLimiter.allow(ip) {
		writeError(w, http.StatusTooManyRequests, "too many login attempts")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "malformed form")
		return
	}
	username := r.PostFormValue("username")
	password := r.PostFormValue("password")

	admin, err := s.store.GetAdmin(username)
	ok := false
	if err == nil {
		ok, err = auth.VerifyPassword(password, admin.PasswordHash)
	}
	if err != nil || !ok {
		s.log.Warn("login rejected", "username", username, "ip", ip)
		if s.notifier != nil {
			go s.notifier.NotifyLogin(context.Background(), username, ip, false)
		}
		renderLoginPage(w, "Wrong login or password", s.totpRequired())
		return
	}

	if s.totpRequired() {
		secret, err := s.store.GetSetting("totp_secret", "")
		if err != nil {
			writeError(w, http.StatusInternalServerError, "settings read failed")
			return
		}
		if !auth.ValidateTOTP(r.PostFormValue("totp_code"), secret) {
			s.log.Warn("login rejected", "username", username, "ip", ip, "reason", "bad 2fa code")
			if s.notifier != nil {
				go s.notifier.NotifyLogin(context.Background(), username, ip, false)
			}
			renderLoginPage(w, "Invalid 2FA code", true)
			return
		}
	}

	if err := s.issueSession(w, username); err != nil {
		writeError(w, http.StatusInternalServerError, "session issue failed")
		return
	}
	s.log.Info("login accepted", "username", username, "ip", ip)
	if s.notifier != nil {
		go s.notifier.NotifyLogin(context.Background(), username, ip, true)
	}
	http.Redirect(w, r, "/panel", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name: sessionCookie, Value: "", Path: "/", HttpOnly: true, MaxAge: -1,
	})
	http.Redirect(w, r, "/login", http.StatusFound)
}
