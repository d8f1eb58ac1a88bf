package webd

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"

	ghandlers "github.com/gorilla/handlers"
)

// tokenAuthenticationMiddleware checks for a valid token in the Authorization
// header ("Bearer <token>") or the api_token query parameter.
// If the configured token variable is empty, it allows all requests.
func (s *WebDaemon) tokenAuthenticationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		validToken := os.Getenv(s.Config.TokenEnv)
		if validToken == "" {
			s.logger.Warn("No token set, allowing all requests", "env", s.Config.TokenEnv)
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
		if token == "" {
			token = r.URL.Query().Get("api_token")
		}

		if token != validToken {
			s.logger.Warn("Invalid token",
				"method", r.Method, "url", r.URL.Path,
				"remote-addr", r.RemoteAddr, "user-agent", r.UserAgent())
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func contentTypeMiddlewareFunc(contentType string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", contentType)
			next.ServeHTTP(w, r)
		})
	}
}

// writeLog logs one request, Common Log Format fields as slog attributes.
func writeLog(_ io.Writer, params ghandlers.LogFormatterParams) {
	req := params.Request
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		host = req.RemoteAddr
	}
	for _, v := range req.Header.Values("X-Forwarded-For") {
		host += "->" + v
	}
	uri := req.RequestURI
	if uri == "" {
		uri = params.URL.RequestURI()
	}
	slog.Info("HTTP",
		"host", host,
		"method", req.Method,
		"uri", uri,
		"proto", req.Proto,
		"status", params.StatusCode,
		"size", params.Size)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return ghandlers.CustomLoggingHandler(io.Discard, next, writeLog)
}
