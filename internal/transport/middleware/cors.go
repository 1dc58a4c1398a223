package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/heartmarshall/fedrecords/internal/config"
)

// CORS lets browser clients on the configured origins call the node. The
// request id header is exposed so a page can correlate its calls with the
// node's logs. Preflight requests are answered without reaching next.
func CORS(cfg config.CORSConfig) Middleware {
	wildcard, origins := parseOrigins(cfg.AllowedOrigins)
	maxAge := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			if origin := r.Header.Get("Origin"); origin != "" && (wildcard || origins[origin]) {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Expose-Headers", RequestIDHeader)
				if cfg.AllowCredentials {
					h.Set("Access-Control-Allow-Credentials", "true")
				}
			}

			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Methods", cfg.AllowedMethods)
			h.Set("Access-Control-Allow-Headers", cfg.AllowedHeaders)
			h.Set("Access-Control-Max-Age", maxAge)
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func parseOrigins(list string) (wildcard bool, set map[string]bool) {
	set = make(map[string]bool)
	for _, o := range strings.Split(list, ",") {
		switch o = strings.TrimSpace(o); o {
		case "":
		case "*":
			wildcard = true
		default:
			set[o] = true
		}
	}
	return wildcard, set
}
