package server

import (
	"context"
	"net"
	"net/http"
	"strings"

	"trustroom/internal/engine/access"
	"trustroom/internal/identity"
)

const (
	headerSystemKey  = "x-system-key"
	headerGuestToken = "x-guest-token"
	sessionCookie    = "mh_token"
)

type credentialsKey struct{}

// credentialsFromRequest collects the raw credentials of a request. Nothing
// is verified here.
func credentialsFromRequest(r *http.Request) access.Credentials {
	creds := access.Credentials{
		SystemKey: strings.TrimSpace(r.Header.Get(headerSystemKey)),
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
	}
	if tok, ok := identity.BearerToken(r.Header.Get("Authorization")); ok {
		creds.Bearer = tok
	} else if c, err := r.Cookie(sessionCookie); err == nil && c.Value != "" {
		creds.Bearer = c.Value
	}
	creds.GuestToken = strings.TrimSpace(r.Header.Get(headerGuestToken))
	if creds.GuestToken == "" {
		creds.GuestToken = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return creds
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if real := strings.TrimSpace(r.Header.Get("X-Real-IP")); real != "" {
		return real
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func withCredentials(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), credentialsKey{}, credentialsFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func credentialsFrom(ctx context.Context) access.Credentials {
	creds, _ := ctx.Value(credentialsKey{}).(access.Credentials)
	return creds
}
