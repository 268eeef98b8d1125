package jobs

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// NewHTTPNudge returns a fire-and-forget nudge that POSTs to a worker's kick
// endpoint so a freshly enqueued job is picked up before the next poll tick.
// Errors are logged and ignored: a worker that is down simply processes the
// job on its next poll. An empty url yields a no-op.
func NewHTTPNudge(url string, log zerolog.Logger) func() {
	if url == "" {
		return func() {}
	}
	client := &http.Client{Timeout: 2 * time.Second}
	return func() {
		go func() {
			resp, err := client.Post(url, "application/json", nil)
			if err != nil {
				log.Debug().Err(err).Str("url", url).Msg("worker nudge failed")
				return
			}
			resp.Body.Close()
		}()
	}
}
