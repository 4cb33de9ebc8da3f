package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/dnswatch/internal/api/response"
)

// Pinger is any backing service that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealthHandler returns GET /api/v1/health. Nil pingers are reported
// as "disabled" and never degrade the result.
func NewHealthHandler(services map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(services))
		degraded := false
		for name, p := range services {
			switch {
			case p == nil:
				checks[name] = "disabled"
			case p.Ping(r.Context()) != nil:
				checks[name] = "degraded"
				degraded = true
			default:
				checks[name] = "ok"
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
