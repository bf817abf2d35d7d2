// Package geocode resolves device coordinates to human-readable
// addresses through a debounced, priority-aware queue so the dashboard
// can label vehicles without flooding the reverse-geocoding provider.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Resolver reverse-geocodes a coordinate pair. An empty string with a
// nil error means the provider had no answer; both cases leave the
// previous cached address in place.
type Resolver interface {
	Resolve(ctx context.Context, lat, lng float64) (string, error)
}

// ResolverFunc adapts a plain function to the Resolver interface.
type ResolverFunc func(ctx context.Context, lat, lng float64) (string, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	return f(ctx, lat, lng)
}

// NominatimResolver resolves addresses against a Nominatim-compatible
// reverse geocoding endpoint.
type NominatimResolver struct {
	BaseURL   string
	UserAgent string
	client    *http.Client
}

// NewNominatimResolver creates a resolver for the given base URL
// (e.g. https://nominatim.openstreetmap.org).
func NewNominatimResolver(baseURL, userAgent string) *NominatimResolver {
	return &NominatimResolver{
		BaseURL:   baseURL,
		UserAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Resolve fetches the display name for a coordinate pair.
func (r *NominatimResolver) Resolve(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", fmt.Sprintf("%.6f", lat))
	q.Set("lon", fmt.Sprintf("%.6f", lng))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.BaseURL+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", r.UserAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode request failed: %s", resp.Status)
	}

	var body struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	return body.DisplayName, nil
}
