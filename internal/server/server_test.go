package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/atlasmesh/tileserve/internal/config"
)

func testConfig(generatorURL string) *config.Config {
	return &config.Config{
		HTTPAddr:        "127.0.0.1:0",
		CacheBackend:    "memory",
		CacheMaxSizeMB:  16,
		CacheMaxEntries: 1000,
		CacheDefaultTTL: time.Hour,

		GeneratorBackend:    "http",
		GeneratorURL:        generatorURL,
		GeneratorTimeout:    5 * time.Second,
		GeneratorMaxRetries: 1,

		PregenConcurrency: 2,
		PregenRPS:         100,
		PregenBurstSize:   10,

		CollectorInterval: time.Minute,
		CORSAllowedOrigins: []string{
			"http://localhost:5173",
		},
	}
}

func TestNewAndShutdown(t *testing.T) {
	s, err := New(context.Background(), testConfig("http://localhost:9"))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown cache backend", func(c *config.Config) { c.CacheBackend = "memcached" }},
		{"unknown generator backend", func(c *config.Config) { c.GeneratorBackend = "grpc" }},
		{"missing generator url", func(c *config.Config) { c.GeneratorURL = "" }},
		{"bad pregen schedule", func(c *config.Config) { c.PregenSchedule = "@every 5x" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost:9")
			tt.mutate(cfg)
			if _, err := New(context.Background(), cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestServeTileThroughFullStack(t *testing.T) {
	payload := []byte("full-stack-tile")
	generator := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write(payload)
	}))
	defer generator.Close()

	s, err := New(context.Background(), testConfig(generator.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	rr := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/tiles/political/4/8/5", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if rr.Body.String() != string(payload) {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if status := rr.Header().Get("X-Cache-Status"); status != "MISS_GENERATED" {
		t.Errorf("expected MISS_GENERATED, got %q", status)
	}

	rr = httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rr, httptest.NewRequest("GET", "/tiles/political/4/8/5", nil))
	if status := rr.Header().Get("X-Cache-Status"); status != "HIT" {
		t.Errorf("expected HIT, got %q", status)
	}
}
