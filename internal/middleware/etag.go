package middleware

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"net/http"
)

// etagResponseWriter captures the response body to generate an ETag.
type etagResponseWriter struct {
	http.ResponseWriter
	buf    *bytes.Buffer
	status int
}

func (w *etagResponseWriter) WriteHeader(status int) {
	w.status = status
}

func (w *etagResponseWriter) Write(b []byte) (int, error) {
	return w.buf.Write(b)
}

// ETag adds content-based ETags and answers If-None-Match with 304. Meant
// for the tile routes, where a pan back to a previously viewed area can
// revalidate instead of re-downloading payloads. Cache-Control is left to
// the handler, which knows the layer's TTL.
func ETag(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		etw := &etagResponseWriter{
			ResponseWriter: w,
			buf:            &bytes.Buffer{},
			status:         http.StatusOK,
		}

		next.ServeHTTP(etw, r)

		if etw.status != http.StatusOK || r.Method != http.MethodGet {
			w.WriteHeader(etw.status)
			w.Write(etw.buf.Bytes())
			return
		}

		hash := sha256.Sum256(etw.buf.Bytes())
		etag := fmt.Sprintf(`"%x"`, hash[:16])
		w.Header().Set("ETag", etag)

		if match := r.Header.Get("If-None-Match"); match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.WriteHeader(etw.status)
		w.Write(etw.buf.Bytes())
	})
}
