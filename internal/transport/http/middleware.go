package httptransport

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// responseTap records what the handler wrote so the access log can report
// status and size after the fact.
type responseTap struct {
	http.ResponseWriter
	status int
	size   int
}

func (t *responseTap) WriteHeader(code int) {
	if t.status == 0 {
		t.status = code
	}
	t.ResponseWriter.WriteHeader(code)
}

func (t *responseTap) Write(b []byte) (int, error) {
	if t.status == 0 {
		t.status = http.StatusOK
	}
	n, err := t.ResponseWriter.Write(b)
	t.size += n
	return n, err
}

// RequestLogger emits one access-log line per request, tagged with the id
// that chi's RequestID middleware stored in the context.
func RequestLogger(next http.Handler) http.Handler {
	fn := func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tap := &responseTap{ResponseWriter: w}

		next.ServeHTTP(tap, r)

		log.Printf("[http] req_id=%s method=%s path=%s status=%d bytes=%d duration_ms=%d",
			middleware.GetReqID(r.Context()), r.Method, r.URL.Path,
			tap.status, tap.size, time.Since(start).Milliseconds())
	}
	return http.HandlerFunc(fn)
}
