package daemon

import (
	"net/http"
	"os"
	"time"
)

var daemonStarted = time.Now()

// Health reports relay daemon liveness. Unauthenticated, so supervisors and
// the CLI can probe the daemon before pairing with an API key.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"version":        a.Version,
		"pid":            os.Getpid(),
		"uptime_seconds": int64(time.Since(daemonStarted).Seconds()),
	})
}
