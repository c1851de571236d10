// Package security handles JWT session cookies, CSRF double-submit
// tokens, and CORS for the HTTP API surface in front of the live
// fan-out and cluster-snapshot endpoints.
package security

import (
	"crypto/rand"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
)

var (
	jwtSecret         []byte
	jwtSecretFromCLI  string
	jwtSecretFilePath string
)

// ConfigureJWT sets a CLI-provided secret or a persistent file path for JWT
// secret management. If secret is non-empty it is used directly; otherwise
// the secret is loaded from (or generated into) file.
func ConfigureJWT(secret, file string) {
	jwtSecretFromCLI = strings.TrimSpace(secret)
	jwtSecretFilePath = strings.TrimSpace(file)
	jwtSecret = nil
}

// InitAuth loads the JWT secret from CLI configuration or a persistent
// file, generating and persisting one if neither exists, so sessions
// survive restarts.
func InitAuth() {
	if len(jwtSecret) != 0 {
		return
	}
	if sec := strings.TrimSpace(jwtSecretFromCLI); sec != "" {
		jwtSecret = []byte(sec)
		return
	}
	path := strings.TrimSpace(jwtSecretFilePath)
	if path == "" {
		path = filepath.Join(".", "data", "jwt.secret")
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	if b, err := os.ReadFile(path); err == nil && len(strings.TrimSpace(string(b))) > 0 {
		jwtSecret = []byte(strings.TrimSpace(string(b)))
		return
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err == nil {
		secHex := hexEncode(buf)
		_ = os.WriteFile(path, []byte(secHex), 0o600)
		jwtSecret = []byte(secHex)
		return
	}
	jwtSecret = []byte("soar-dev-secret")
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}

type claims struct {
	jwt.RegisteredClaims
}

func signJWT(sub string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Issuer:    "soar",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(jwtSecret)
}

func validateJWT(tok string) (exp time.Time, ok bool) {
	parsed, err := jwt.ParseWithClaims(tok, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return time.Time{}, false
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.ExpiresAt == nil {
		return time.Time{}, ok
	}
	return c.ExpiresAt.Time, true
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hexEncode(b)
}

const (
	jwtCookieName  = "soar_jwt"
	csrfCookieName = "soar_csrf"
	sessionTTL     = 30 * 24 * time.Hour
)

// EnsureAuthCookies sets the JWT and CSRF cookies when missing, and
// refreshes the JWT when it is invalid or close to expiry.
func EnsureAuthCookies(w http.ResponseWriter, r *http.Request) {
	if len(jwtSecret) == 0 {
		InitAuth()
	}
	needNew := true
	if ck, err := r.Cookie(jwtCookieName); err == nil && ck != nil && ck.Value != "" {
		if exp, ok := validateJWT(ck.Value); ok {
			needNew = time.Until(exp) < 72*time.Hour
		}
	}
	if needNew {
		uid := randomHex(16)
		if tok, err := signJWT(uid, sessionTTL); err == nil {
			secure := isSecureRequest(r)
			http.SetCookie(w, &http.Cookie{
				Name: jwtCookieName, Value: tok, Path: "/", HttpOnly: true,
				SameSite: http.SameSiteLaxMode, Secure: secure, MaxAge: int(sessionTTL / time.Second),
			})
		}
	}
	if _, err := r.Cookie(csrfCookieName); err != nil {
		token := randomHex(16)
		secure := isSecureRequest(r)
		http.SetCookie(w, &http.Cookie{
			Name: csrfCookieName, Value: token, Path: "/", HttpOnly: false,
			SameSite: http.SameSiteLaxMode, Secure: secure, MaxAge: int(sessionTTL / time.Second),
		})
	}
}

// ValidateJWTFromRequest reports whether the session cookie is present and
// valid. Its only caller is SecurityMiddleware; the live fan-out WebSocket
// upgrade, mounted outside that middleware, does not check the session.
func ValidateJWTFromRequest(r *http.Request) bool {
	if len(jwtSecret) == 0 {
		InitAuth()
	}
	ck, err := r.Cookie(jwtCookieName)
	if err != nil || ck == nil || ck.Value == "" {
		return false
	}
	_, ok := validateJWT(ck.Value)
	return ok
}

// GetCSRFFromRequest returns the CSRF cookie value (empty if absent).
func GetCSRFFromRequest(r *http.Request) string {
	ck, err := r.Cookie(csrfCookieName)
	if err != nil || ck == nil {
		return ""
	}
	return ck.Value
}

// CORS builds the go-chi/cors middleware for the API subrouter, reflecting
// the request origin (the UI and the map client may be served from
// several hosts during development).
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowOriginFunc:  func(r *http.Request, origin string) bool { return true },
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "X-CSRF-Token", "Authorization"},
		AllowCredentials: true,
	})
}

// SecurityMiddleware ensures auth cookies are set and enforces CSRF+JWT on
// API routes. CORS itself is handled by the separate CORS() middleware so
// it composes cleanly with chi's router.
func SecurityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(jwtSecret) == 0 {
			InitAuth()
		}
		EnsureAuthCookies(w, r)

		if strings.HasPrefix(r.URL.Path, "/api/") && r.URL.Path != "/metrics" {
			csrfHeader := r.Header.Get("X-CSRF-Token")
			csrfCookie := GetCSRFFromRequest(r)
			if csrfHeader == "" || csrfCookie == "" || csrfHeader != csrfCookie {
				log.Printf("csrf_denied path=%s", r.URL.Path)
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			if !ValidateJWTFromRequest(r) {
				log.Printf("jwt_denied path=%s", r.URL.Path)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// isSecureRequest reports whether the request is effectively HTTPS,
// including behind a reverse proxy (nginx/Envoy/Traefik).
func isSecureRequest(r *http.Request) bool {
	if r == nil {
		return false
	}
	if r.TLS != nil {
		return true
	}
	if fwd := r.Header.Get("Forwarded"); fwd != "" && strings.Contains(strings.ToLower(fwd), "proto=https") {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Ssl"), "on") {
		return true
	}
	return false
}
