package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"media-index/internal/database"
	"media-index/internal/logging"
)

const (
	defaultBaseURL = "https://nominatim.openstreetmap.org"
	userAgent      = "media-index/1.0"
	maxAttempts    = 3
)

// NominatimClient talks to a Nominatim reverse-geocoding endpoint.
type NominatimClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewNominatim returns a client for baseURL, or the public
// OpenStreetMap instance when baseURL is empty.
func NewNominatim(baseURL string) *NominatimClient {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &NominatimClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// nominatimResponse is the subset of the jsonv2 reverse response we
// care about.
type nominatimResponse struct {
	DisplayName string            `json:"display_name"`
	Address     map[string]string `json:"address"`
}

// Address keys tried for the place name, most specific first.
var nameKeys = []string{
	"amenity", "building", "tourism", "leisure",
	"suburb", "neighbourhood", "hamlet", "village", "town", "city",
}

// Address keys tried for the city field.
var cityKeys = []string{"city", "town", "village", "hamlet", "municipality"}

// ReverseGeocode resolves coordinates through the Nominatim API.
// Rate-limited and server-error responses are retried with backoff.
func (c *NominatimClient) ReverseGeocode(ctx context.Context, lat, lon float64) (*database.Location, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("zoom", "18")
	q.Set("addressdetails", "1")
	reqURL := c.baseURL + "/reverse?" + q.Encode()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			backoff := time.Duration(attempt-1) * time.Second
			logging.Debug("retrying reverse geocode in %v (attempt %d/%d)", backoff, attempt, maxAttempts)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		loc, retry, err := c.doRequest(ctx, reqURL)
		if err == nil {
			return loc, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (c *NominatimClient) doRequest(ctx context.Context, reqURL string) (*database.Location, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, false, err
	}
	// Nominatim's usage policy requires an identifying User-Agent.
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusOK:
		// Fall through to decode.
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	default:
		return nil, false, fmt.Errorf("nominatim returned status %d", resp.StatusCode)
	}

	var body nominatimResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, fmt.Errorf("failed to decode nominatim response: %w", err)
	}

	return locationFromAddress(body), false, nil
}

// locationFromAddress picks the most specific usable fields out of a
// Nominatim address block.
func locationFromAddress(body nominatimResponse) *database.Location {
	loc := &database.Location{}
	for _, k := range nameKeys {
		if v := body.Address[k]; v != "" {
			loc.Name = v
			break
		}
	}
	for _, k := range cityKeys {
		if v := body.Address[k]; v != "" {
			loc.City = v
			break
		}
	}
	loc.Country = body.Address["country"]
	if loc.Name == "" {
		loc.Name = loc.City
	}
	return loc
}
