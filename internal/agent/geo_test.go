package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func jsonServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestLookupCombinedEndpoint(t *testing.T) {
	combined := jsonServer(t, http.StatusOK,
		`{"ip":"203.0.113.7","country_name":"Germany","city":"Berlin","region":"BE","latitude":52.52,"longitude":13.4,"timezone":"Europe/Berlin"}`)
	locator := NewLocator(nil, combined.URL, "", "")

	loc := locator.Lookup(context.Background())
	if loc.IP != "203.0.113.7" || loc.Country != "Germany" || loc.City != "Berlin" {
		t.Errorf("unexpected location %+v", loc)
	}
	if loc.Timezone != "Europe/Berlin" {
		t.Errorf("unexpected timezone %q", loc.Timezone)
	}
}

func TestLookupFallsBackToIPChain(t *testing.T) {
	broken := jsonServer(t, http.StatusServiceUnavailable, `{}`)
	ipOnly := jsonServer(t, http.StatusOK, `{"ip":"198.51.100.4"}`)
	// geoByIPFormat needs a %s; the handler ignores the path anyway.
	byIP := jsonServer(t, http.StatusOK, `{"country":"France","city":"Paris","latitude":48.85,"longitude":2.35,"timezone":"Europe/Paris"}`)

	locator := NewLocator(nil, broken.URL, ipOnly.URL, byIP.URL+"/%s")

	loc := locator.Lookup(context.Background())
	if loc.IP != "198.51.100.4" {
		t.Errorf("expected IP from fallback lookup, got %q", loc.IP)
	}
	if loc.Country != "France" || loc.City != "Paris" {
		t.Errorf("unexpected location %+v", loc)
	}
}

func TestLookupPartialFailureKeepsIP(t *testing.T) {
	broken := jsonServer(t, http.StatusInternalServerError, `{}`)
	ipOnly := jsonServer(t, http.StatusOK, `{"ip":"198.51.100.4"}`)

	locator := NewLocator(nil, broken.URL, ipOnly.URL, broken.URL+"/%s")

	loc := locator.Lookup(context.Background())
	if loc.IP != "198.51.100.4" {
		t.Errorf("IP from the working stage should survive, got %q", loc.IP)
	}
	if loc.Country != "Unknown" || loc.Timezone != "UTC" {
		t.Errorf("failed geo stage should leave placeholders, got %+v", loc)
	}
}

func TestLookupTotalFailureYieldsPlaceholders(t *testing.T) {
	broken := jsonServer(t, http.StatusBadGateway, `oops`)
	locator := NewLocator(nil, broken.URL, broken.URL, broken.URL+"/%s")

	loc := locator.Lookup(context.Background())
	want := unknownLocation()
	if loc != want {
		t.Errorf("expected placeholders %+v, got %+v", want, loc)
	}
}

func TestCountryNamePrecedence(t *testing.T) {
	loc := locationFromResponse(geoResponse{IP: "1.2.3.4", CountryName: "Germany", Country: "DE"})
	if loc.Country != "Germany" {
		t.Errorf("country_name should win over country, got %q", loc.Country)
	}

	loc = locationFromResponse(geoResponse{IP: "1.2.3.4", Country: "DE"})
	if loc.Country != "DE" {
		t.Errorf("country code should be used when the name is absent, got %q", loc.Country)
	}
}
