// Package endpoints serves the Twitter-server style admin endpoints shared by our HTTP servers.
package endpoints

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/admission/common/stats"
)

const (
	HealthPath  = "/health"
	MetricsPath = "/admin/metrics.json"
)

// RegisterAdmin adds the health and metrics endpoints to router, and a help page
// listing them along with extraPaths for any path nothing else handles.
func RegisterAdmin(router *mux.Router, stat stats.StatsReceiver, extraPaths ...string) {
	router.HandleFunc(HealthPath, healthHandler)
	router.Handle(MetricsPath, StatsHandler(stat))
	paths := append(append([]string{}, extraPaths...), HealthPath, MetricsPath)
	router.NotFoundHandler = helpHandler(paths)
}

// StatsHandler renders stat as JSON, indented when the request has ?pretty=true.
func StatsHandler(stat stats.StatsReceiver) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		pretty := r.URL.Query().Get("pretty") == "true"
		if _, err := w.Write(stat.Render(pretty)); err != nil {
			log.WithFields(log.Fields{"err": err}).Debug("Writing stats response")
		}
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func helpHandler(paths []string) http.Handler {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = "'" + p + "'"
	}
	msg := "Common paths: " + strings.Join(quoted, ", ")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, msg, http.StatusNotImplemented)
	})
}
