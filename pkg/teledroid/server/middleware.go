package server

import (
	"bufio"
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/raedthawaba/teledroid/pkg/teledroid/store"
)

// compareTokens performs timing-safe comparison by hashing both inputs
// with SHA-256 before ConstantTimeCompare to prevent length leakage.
func compareTokens(a, b string) bool {
	ha := sha256.Sum256([]byte(a))
	hb := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ha[:], hb[:]) == 1
}

// bearerToken extracts the token from an Authorization: Bearer header.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		return ""
	}
	return strings.TrimPrefix(auth, "Bearer ")
}

// adminOnly requires the configured admin token. When no token is
// configured the route is open (loopback deployments).
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			token := bearerToken(r)
			if token == "" {
				s.writeError(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}
			if !compareTokens(token, s.cfg.AdminToken) {
				s.writeError(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// deviceHandler receives the authenticated device resolved by deviceOnly.
type deviceHandler func(w http.ResponseWriter, r *http.Request, device *store.Device)

// deviceOnly requires X-Device-ID plus a valid device token and hands
// the resolved device row to the handler.
func (s *Server) deviceOnly(next deviceHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deviceID := r.Header.Get("X-Device-ID")
		if deviceID == "" {
			s.writeError(w, "missing X-Device-ID header", http.StatusUnauthorized)
			return
		}
		token := bearerToken(r)
		if token == "" {
			s.writeError(w, "missing Authorization header", http.StatusUnauthorized)
			return
		}
		userID, err := s.tokens.VerifyToken(deviceID, token)
		if err != nil {
			s.writeError(w, "invalid device token", http.StatusUnauthorized)
			return
		}
		device, err := s.store.FindDeviceByDeviceID(deviceID)
		if err != nil {
			s.writeError(w, "unknown device", http.StatusUnauthorized)
			return
		}
		if device.UserID != userID {
			s.writeError(w, "device token mismatch", http.StatusUnauthorized)
			return
		}
		next(w, r, device)
	})
}

// requestLogging logs each request with method, path, status, and latency.
func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}

// securityHeaders adds standard security headers to all responses.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack passes through so the websocket upgrade keeps working behind
// the logging wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}
