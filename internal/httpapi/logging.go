package httpapi

import (
	"expvar"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

var (
	requestsTotal  = expvar.NewInt("requests_total")
	requestsErrors = expvar.NewInt("requests_errors_total")
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware emits one line per request and keeps the expvar
// counters current. Clinic and request identifiers are logged only
// when the caller sent them, so shared-display polling stays quiet.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		writer := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(writer, r)

		requestsTotal.Add(1)
		if writer.status >= http.StatusBadRequest {
			requestsErrors.Add(1)
		}

		var line strings.Builder
		fmt.Fprintf(&line, "request method=%s path=%s status=%d duration_ms=%d",
			r.Method, r.URL.Path, writer.status, time.Since(start).Milliseconds())
		if clinicID := firstUUID(r.Header.Get("X-Clinic-ID")); clinicID != "" {
			fmt.Fprintf(&line, " clinic=%s", clinicID)
		}
		if requestID := firstUUID(r.Header.Get("X-Request-ID")); requestID != "" {
			fmt.Fprintf(&line, " request_id=%s", requestID)
		}
		log.Print(line.String())
	})
}
