package apiserver

import (
	"net/http"
	"strings"
	"time"
)

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// observe logs each request with its status and latency. A handler panic is
// answered with a 500 if nothing was written yet.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("Handler for %s %s panicked: %v", r.Method, r.URL.Path, p)
				if rec.status == 0 {
					writeJSON(rec, http.StatusInternalServerError, map[string]string{
						"error":   "INTERNAL",
						"message": "internal server error",
					})
				}
			}
			if rec.status >= http.StatusInternalServerError {
				s.logger.Warn("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
				return
			}
			s.logger.Debug("%s %s -> %d (%s)", r.Method, r.URL.Path, rec.status, time.Since(start))
		}()
		next.ServeHTTP(rec, r)
	})
}

// allow restricts handler to the given methods. GET implies HEAD.
// Rejected requests get a 405 with an Allow header listing what is accepted.
func (s *Server) allow(handler http.HandlerFunc, methods ...string) http.HandlerFunc {
	accepted := make(map[string]bool, len(methods)+1)
	for _, m := range methods {
		accepted[m] = true
		if m == http.MethodGet {
			accepted[http.MethodHead] = true
		}
	}
	allowHeader := strings.Join(methods, ", ")
	if accepted[http.MethodHead] && !strings.Contains(allowHeader, http.MethodHead) {
		allowHeader += ", " + http.MethodHead
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if !accepted[r.Method] {
			w.Header().Set("Allow", allowHeader)
			s.handleMethodNotAllowed(w, r)
			return
		}
		handler(w, r)
	}
}
