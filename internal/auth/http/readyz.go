package http

import (
	"net/http"
	"time"

	"github.com/planfold/planfold/internal/auth/store"
	"github.com/planfold/planfold/pkg/httpx"
	"github.com/planfold/planfold/pkg/jwtx"
)

type healthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}

type readyzResponse struct {
	healthResponse
	Checks healthChecks `json:"checks"`
}

// ReadyzHandler is the readiness probe: checks database connectivity and
// that the token signer holds a usable key.
func ReadyzHandler(
	startTime time.Time,
	version string,
	st store.Store,
	signer *jwtx.EdDSASigner,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := healthChecks{
			Database: "ok",
			Signer:   "ok",
		}
		overallStatus := "ok"
		statusCode := http.StatusOK

		if err := st.Ping(r.Context()); err != nil {
			checks.Database = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		if err := signer.Validate(); err != nil {
			checks.Signer = "error: " + err.Error()
			overallStatus = "degraded"
			statusCode = http.StatusServiceUnavailable
		}

		httpx.WriteJSON(w, statusCode, readyzResponse{
			healthResponse: healthResponse{
				Status:  overallStatus,
				Uptime:  time.Since(startTime).String(),
				Version: version,
			},
			Checks: checks,
		})
	}
}
