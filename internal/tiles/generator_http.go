package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atlasmesh/tileserve/internal/httpx"
)

// HTTPGenerator renders tiles by calling a remote tile generator service:
// GET {base}/render/{layer}/{z}/{x}/{y}[?category=...]. A 204 or empty 200
// body means the tile has no features.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
	policy  httpx.RetryPolicy
}

var _ Generator = (*HTTPGenerator)(nil)

// NewHTTPGenerator creates a generator client for the given base URL.
func NewHTTPGenerator(baseURL string, timeout time.Duration, policy httpx.RetryPolicy) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		policy:  policy,
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, coord Coord) ([]byte, error) {
	start := time.Now()
	payload, err := g.generate(ctx, coord)
	observeGeneration("http", start, payload, err)
	return payload, err
}

func (g *HTTPGenerator) generate(ctx context.Context, coord Coord) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/render/%s/%d/%d/%d", g.baseURL, url.PathEscape(coord.Layer), coord.Z, coord.X, coord.Y)
	if coord.Category != "" {
		endpoint += "?category=" + url.QueryEscape(coord.Category)
	}

	resp, err := httpx.DoWithRetry(ctx, g.client, g.policy, func() (*http.Request, error) {
		return http.NewRequest("GET", endpoint, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneratorUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return nil, nil
	case resp.StatusCode == http.StatusOK:
		payload, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: reading response: %v", ErrGeneratorUnavailable, err)
		}
		return payload, nil
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", ErrGeneratorUnavailable, resp.StatusCode)
	}
}
