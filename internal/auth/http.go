// ABOUTME: HTTP middleware for bearer-token authentication and loopback restriction
// ABOUTME: Extracts the token from the Authorization header and adds AuthContext to the request

package auth

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// The scheme is matched case-insensitively.
func extractBearerToken(authHeader string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// HTTPAuthMiddleware rejects requests without a valid bearer token with 401.
// Successful requests carry an AuthContext.
func HTTPAuthMiddleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				logger.Info("rejected request", "path", r.URL.Path, "reason", ReasonMissingToken)
				writeUnauthorized(w, ReasonMissingToken)
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				reason := ReasonOf(err)
				logger.Info("rejected request", "path", r.URL.Path, "reason", reason, "error", err)
				writeUnauthorized(w, reason)
				return
			}

			logger.Info("authenticated", "jti", claims.ID)
			authCtx := &AuthContext{TokenID: claims.ID, Issuer: claims.Issuer}
			if claims.IssuedAt != nil {
				authCtx.IssuedAt = claims.IssuedAt.Time
			}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// LoopbackOnlyMiddleware rejects requests whose peer is not a loopback address.
func LoopbackOnlyMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !isLoopback(r.RemoteAddr) {
				logger.Warn("rejected non-loopback request", "client", r.RemoteAddr, "path", r.URL.Path)
				writeJSONError(w, http.StatusForbidden, "loopback clients only")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeUnauthorized(w http.ResponseWriter, reason Reason) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeJSONError(w, http.StatusUnauthorized, "unauthorized: "+string(reason))
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
