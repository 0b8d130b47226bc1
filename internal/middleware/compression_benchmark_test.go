package middleware

import (
	"bytes"
	"encoding/binary"
	"net/http"
	"net/http/httptest"
	"testing"
)

// syntheticTile builds a payload with the shape of encoded vector geometry:
// runs of small varint-like deltas with repeating attribute keys. Real tiles
// compress to roughly a quarter of their raw size; this approximates that.
func syntheticTile(features int) []byte {
	var buf bytes.Buffer
	keys := []string{"name", "class", "admin_level", "population"}
	tmp := make([]byte, binary.MaxVarintLen32)
	for i := 0; i < features; i++ {
		buf.WriteByte(0x12) // field tag
		for _, k := range keys {
			buf.WriteString(k)
			n := binary.PutUvarint(tmp, uint64(i%128))
			buf.Write(tmp[:n])
		}
		// Geometry commands: short delta runs.
		for j := 0; j < 16; j++ {
			n := binary.PutUvarint(tmp, uint64((i+j)%64))
			buf.Write(tmp[:n])
		}
	}
	return buf.Bytes()
}

// TestCompressionRatio verifies both codecs reach the expected reduction on
// tile-shaped payloads.
func TestCompressionRatio(t *testing.T) {
	payload := syntheticTile(2000)
	uncompressedSize := len(payload)

	tests := []struct {
		name                string
		acceptEncoding      string
		expectedEncoding    string
		maxCompressionRatio float64 // compressed/uncompressed ceiling
	}{
		{"gzip compression", "gzip", "gzip", 0.35},
		{"brotli compression", "br", "br", 0.30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
				w.WriteHeader(http.StatusOK)
				w.Write(payload)
			}))

			req := httptest.NewRequest(http.MethodGet, "/tiles/political/4/8/5", nil)
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d", rr.Code)
			}
			if ce := rr.Header().Get("Content-Encoding"); ce != tt.expectedEncoding {
				t.Fatalf("expected Content-Encoding: %s, got %s", tt.expectedEncoding, ce)
			}

			compressedSize := rr.Body.Len()
			ratio := float64(compressedSize) / float64(uncompressedSize)
			t.Logf("%s: %d -> %d bytes (%.1f%% reduction)",
				tt.expectedEncoding, uncompressedSize, compressedSize, (1-ratio)*100)

			if ratio > tt.maxCompressionRatio {
				t.Errorf("compression ratio %.2f exceeds ceiling %.2f", ratio, tt.maxCompressionRatio)
			}

			if body := decodeBody(t, tt.expectedEncoding, rr.Body); !bytes.Equal(body, payload) {
				t.Error("decompressed body doesn't match original payload")
			}
		})
	}
}

func benchmarkCompression(b *testing.B, encoding string) {
	payload := syntheticTile(10000)
	handler := Compress(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.mapbox-vector-tile")
		w.Write(payload)
	}))

	b.SetBytes(int64(len(payload)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/tiles/political/4/8/5", nil)
		req.Header.Set("Accept-Encoding", encoding)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
	}
}

func BenchmarkGzipCompression(b *testing.B) {
	benchmarkCompression(b, "gzip")
}

func BenchmarkBrotliCompression(b *testing.B) {
	benchmarkCompression(b, "br")
}
