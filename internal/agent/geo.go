package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

const (
	defaultLookupURL     = "https://ipapi.co/json/"
	defaultIPLookupURL   = "https://api.ipify.org?format=json"
	defaultGeoByIPFormat = "https://ipapi.co/%s/json/"
)

// Location is the best-effort result of the IP/geolocation pipeline. Every
// field is always populated; failures degrade to the placeholder values.
type Location struct {
	IP        string
	Country   string
	City      string
	Region    string
	Latitude  float64
	Longitude float64
	Timezone  string
}

func unknownLocation() Location {
	return Location{
		IP:       "unknown",
		Country:  "Unknown",
		City:     "Unknown",
		Region:   "Unknown",
		Timezone: "UTC",
	}
}

// Locator resolves the agent's public IP and coarse location. Lookups are
// opportunistic: any failure yields placeholders, never an error.
type Locator struct {
	client        *http.Client
	lookupURL     string
	ipLookupURL   string
	geoByIPFormat string
}

func NewLocator(client *http.Client, lookupURL, ipLookupURL, geoByIPFormat string) *Locator {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if lookupURL == "" {
		lookupURL = defaultLookupURL
	}
	if ipLookupURL == "" {
		ipLookupURL = defaultIPLookupURL
	}
	if geoByIPFormat == "" {
		geoByIPFormat = defaultGeoByIPFormat
	}
	return &Locator{
		client:        client,
		lookupURL:     lookupURL,
		ipLookupURL:   ipLookupURL,
		geoByIPFormat: geoByIPFormat,
	}
}

type geoResponse struct {
	IP          string  `json:"ip"`
	CountryName string  `json:"country_name"`
	Country     string  `json:"country"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Timezone    string  `json:"timezone"`
}

type ipResponse struct {
	IP string `json:"ip"`
}

// Lookup tries the combined endpoint first, then falls back to an IP-only
// lookup chained into a per-IP geo lookup. Each stage is independently
// fallible; the worst case is a fully-unknown record.
func (l *Locator) Lookup(ctx context.Context) Location {
	if loc, err := l.lookupCombined(ctx); err == nil {
		return loc
	} else {
		log.Printf("geo lookup failed: %v", err)
	}

	ip, err := l.lookupIP(ctx)
	if err != nil {
		log.Printf("ip lookup failed: %v", err)
		return unknownLocation()
	}
	loc, err := l.lookupByIP(ctx, ip)
	if err != nil {
		log.Printf("geo-by-ip lookup failed: %v", err)
		loc = unknownLocation()
		loc.IP = ip
	}
	return loc
}

func (l *Locator) lookupCombined(ctx context.Context) (Location, error) {
	var resp geoResponse
	if err := l.getJSON(ctx, l.lookupURL, &resp); err != nil {
		return Location{}, err
	}
	if resp.IP == "" {
		return Location{}, fmt.Errorf("lookup response missing ip")
	}
	return locationFromResponse(resp), nil
}

func (l *Locator) lookupIP(ctx context.Context) (string, error) {
	var resp ipResponse
	if err := l.getJSON(ctx, l.ipLookupURL, &resp); err != nil {
		return "", err
	}
	if resp.IP == "" {
		return "", fmt.Errorf("ip response missing ip")
	}
	return resp.IP, nil
}

func (l *Locator) lookupByIP(ctx context.Context, ip string) (Location, error) {
	var resp geoResponse
	if err := l.getJSON(ctx, fmt.Sprintf(l.geoByIPFormat, ip), &resp); err != nil {
		return Location{}, err
	}
	resp.IP = ip
	return locationFromResponse(resp), nil
}

func locationFromResponse(resp geoResponse) Location {
	loc := unknownLocation()
	loc.IP = resp.IP
	if resp.CountryName != "" {
		loc.Country = resp.CountryName
	} else if resp.Country != "" {
		loc.Country = resp.Country
	}
	if resp.City != "" {
		loc.City = resp.City
	}
	if resp.Region != "" {
		loc.Region = resp.Region
	}
	loc.Latitude = resp.Latitude
	loc.Longitude = resp.Longitude
	if resp.Timezone != "" {
		loc.Timezone = resp.Timezone
	}
	return loc
}

func (l *Locator) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned %d", endpoint, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
