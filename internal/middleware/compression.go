package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

// compressWriter wraps the response and compresses the body unless the
// handler already set a Content-Encoding of its own, in which case bytes
// pass through untouched.
type compressWriter struct {
	http.ResponseWriter
	cw          io.Writer
	encoding    string
	wroteHeader bool
	passthrough bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	if w.Header().Get("Content-Encoding") != "" {
		w.passthrough = true
	} else {
		w.Header().Set("Content-Encoding", w.encoding)
		w.Header().Del("Content-Length")
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	return w.cw.Write(b)
}

var gzPool = sync.Pool{
	New: func() interface{} {
		return gzip.NewWriter(io.Discard)
	},
}

var brPool = sync.Pool{
	New: func() interface{} {
		return brotli.NewWriter(io.Discard)
	},
}

// Compress negotiates response compression, preferring brotli over gzip.
// Tile payloads are protobuf-encoded and compress well; payloads the
// generator already compressed carry their own Content-Encoding and are not
// re-compressed.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		accept := r.Header.Get("Accept-Encoding")

		switch {
		case strings.Contains(accept, "br"):
			br := brPool.Get().(*brotli.Writer)
			defer brPool.Put(br)
			br.Reset(w)

			cw := &compressWriter{ResponseWriter: w, cw: br, encoding: "br"}
			next.ServeHTTP(cw, r)
			if !cw.passthrough {
				br.Close()
			}
		case strings.Contains(accept, "gzip"):
			gz := gzPool.Get().(*gzip.Writer)
			defer gzPool.Put(gz)
			gz.Reset(w)

			cw := &compressWriter{ResponseWriter: w, cw: gz, encoding: "gzip"}
			next.ServeHTTP(cw, r)
			if !cw.passthrough {
				gz.Close()
			}
		default:
			next.ServeHTTP(w, r)
		}
	})
}
