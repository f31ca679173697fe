package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"teamdesk/pkg/api/handlers"
	"teamdesk/pkg/identity"
)

// Deps carries the wiring the API layer needs from the application.
type Deps struct {
	Resolver     *identity.Resolver
	GroupID      string
	GroupName    string
	StreamWindow int
	MaxSendBytes int64
}

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "teamdesk_http_request_duration_seconds",
	Help:    "HTTP request latency by route and status.",
	Buckets: prometheus.DefBuckets,
}, []string{"route", "method", "status"})

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestDuration.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}

// NewRouter builds the versioned API router.
func NewRouter(d Deps) *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	v1 := r.PathPrefix("/v1").Subrouter()
	handlers.Register(v1, handlers.Deps{
		Resolver:     d.Resolver,
		GroupID:      d.GroupID,
		GroupName:    d.GroupName,
		StreamWindow: d.StreamWindow,
	})
	v1.HandleFunc("/ws", wsHandler(d)).Methods(http.MethodGet)
	return r
}
