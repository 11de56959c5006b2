package prom

import (
	"io"
	"net/http"

	"github.com/dbpoll/dbpoll"
)

// Handler returns an http.HandlerFunc for GET /metrics.
func Handler(c *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		expo, err := c.Text()
		if err != nil {
			dbpoll.Debug("%s", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, expo)
	}
}
