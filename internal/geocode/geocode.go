// Package geocode resolves free-text addresses to coordinates through a
// Nominatim-compatible HTTP endpoint. Callers use it opportunistically: a
// failed lookup leaves the location unresolved and never blocks the write.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/carpool/internal/models"
)

// Resolver turns an address into coordinates.
type Resolver interface {
	Lookup(ctx context.Context, address string) (models.Coord, error)
}

type Client struct {
	Endpoint string
	HTTP     *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, HTTP: &http.Client{Timeout: 2 * time.Second}}
}

// Lookup queries /search?format=json&limit=1&q=<address> and returns the
// first hit.
func (c *Client) Lookup(ctx context.Context, address string) (models.Coord, error) {
	u := fmt.Sprintf("%s/search?format=json&limit=1&q=%s", c.Endpoint, url.QueryEscape(address))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return models.Coord{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return models.Coord{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Coord{}, fmt.Errorf("geocode: unexpected status %d", resp.StatusCode)
	}
	var hits []struct {
		Lat string `json:"lat"`
		Lon string `json:"lon"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return models.Coord{}, err
	}
	if len(hits) == 0 {
		return models.Coord{}, fmt.Errorf("geocode: no result for %q", address)
	}
	lat, err := strconv.ParseFloat(hits[0].Lat, 64)
	if err != nil {
		return models.Coord{}, err
	}
	lon, err := strconv.ParseFloat(hits[0].Lon, 64)
	if err != nil {
		return models.Coord{}, err
	}
	return models.Coord{Lat: lat, Lon: lon}, nil
}

// NopResolver always reports the address as unresolvable.
type NopResolver struct{}

func (NopResolver) Lookup(ctx context.Context, address string) (models.Coord, error) {
	return models.Coord{}, fmt.Errorf("geocoding not configured")
}
